// snmpagentd is an SNMP v1/v2c agent.
//
// It answers Get, GetNext, GetBulk and Set requests by dispatching each
// varbind to the MIB agent registered for its subtree.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/psaab/snmpagentd/pkg/config"
	"github.com/psaab/snmpagentd/pkg/daemon"
	"github.com/psaab/snmpagentd/pkg/logging"
)

func main() {
	fs := config.Flags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "snmpagentd: %v\n", err)
		os.Exit(2)
	}

	path, _ := fs.GetString("config")
	cfg, err := config.Load(path, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "snmpagentd: %v\n", err)
		os.Exit(1)
	}

	logHandler, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "snmpagentd: %v\n", err)
		os.Exit(1)
	}
	defer logHandler.Close()

	ctx := context.Background()
	d, err := daemon.New(ctx, cfg, daemon.Options{})
	if err != nil {
		slog.Error("startup failed", "err", err)
		logHandler.Close()
		os.Exit(1)
	}
	if err := d.Run(ctx); err != nil {
		slog.Error("snmpagentd exited", "err", err)
		logHandler.Close()
		os.Exit(1)
	}
}
