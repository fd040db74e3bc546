// Package daemon implements the snmpagentd daemon lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/psaab/snmpagentd/pkg/acl"
	"github.com/psaab/snmpagentd/pkg/agent"
	"github.com/psaab/snmpagentd/pkg/api"
	"github.com/psaab/snmpagentd/pkg/config"
	"github.com/psaab/snmpagentd/pkg/dispatch"
	"github.com/psaab/snmpagentd/pkg/grpcapi"
	"github.com/psaab/snmpagentd/pkg/logging"
	"github.com/psaab/snmpagentd/pkg/mib"
	"github.com/psaab/snmpagentd/pkg/mibstore"
	"github.com/psaab/snmpagentd/pkg/server"
	"github.com/psaab/snmpagentd/pkg/snmp"
	"github.com/psaab/snmpagentd/pkg/stats"
	"github.com/psaab/snmpagentd/pkg/trap"
)

// Options configures the daemon beyond the configuration file.
type Options struct {
	// IfSource overrides the interfaces table source. Nil reads the
	// kernel's links over netlink.
	IfSource mib.IfSource
}

// Daemon is the main snmpagentd daemon.
type Daemon struct {
	cfg  *config.Config
	opts Options

	stats      *stats.Set
	acl        *acl.Store
	registry   *agent.Registry
	system     *mib.System
	store      *mibstore.Store
	traps      *trap.Sender
	rejects    *logging.RejectAggregator
	dispatcher *dispatch.Dispatcher
	server     *server.Server
	api        *api.Server
	grpc       *grpcapi.Server
}

// New builds every component from cfg. The returned daemon owns the MIB
// store, which Run closes on return.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Daemon, error) {
	d := &Daemon{
		cfg:      cfg,
		opts:     opts,
		stats:    stats.New(),
		registry: agent.NewRegistry(),
		rejects:  logging.NewRejectAggregator(0, 0),
	}

	if err := d.setupACL(); err != nil {
		return nil, err
	}

	var objectID snmp.OID
	if cfg.SNMP.ObjectID != "" {
		oid, err := snmp.ParseOID(cfg.SNMP.ObjectID)
		if err != nil {
			return nil, fmt.Errorf("daemon: snmp.object_id: %w", err)
		}
		objectID = oid
	}
	d.system = mib.NewSystem(mib.SystemConfig{
		Description: cfg.SNMP.Description,
		ObjectID:    objectID,
		Contact:     cfg.SNMP.Contact,
		Name:        cfg.SNMP.Name,
		Location:    cfg.SNMP.Location,
	})

	d.traps = trap.New(trap.Config{
		Targets: d.acl,
		Stats:   d.stats,
		Start:   d.system.Start(),
		Rate:    rate.Limit(cfg.Traps.Rate),
		Burst:   cfg.Traps.Burst,
		Timeout: cfg.Traps.Timeout,
	})

	disp, err := dispatch.New(dispatch.Config{
		Registry:        d.registry,
		Codec:           snmp.NewCodec(),
		ACL:             d.acl,
		Stats:           d.stats,
		Traps:           d.traps,
		Rejects:         d.rejects,
		AuthRespEnabled: cfg.SNMP.AuthenticationResponse,
		AuthTrapEnabled: cfg.SNMP.AuthenticationTraps,
		MaxRepetitions:  cfg.MaxRepetitions,
		MaxSize:         cfg.MaxSize,
	})
	if err != nil {
		return nil, err
	}
	d.dispatcher = disp

	if err := d.registerAgents(ctx); err != nil {
		d.close()
		return nil, err
	}

	d.server = server.New(server.Config{
		Listen:    cfg.Listen,
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	}, d.dispatcher, d.stats)

	if cfg.Metrics.Listen != "" {
		apiCfg := api.Config{
			Addr:     cfg.Metrics.Listen,
			Auth:     api.NewAuthConfig(cfg.Metrics.Users, cfg.Metrics.APIKeys, d.rejects),
			Registry: d.registry,
			Stats:    d.stats,
			Start:    d.system.Start(),
		}
		if cfg.ACLFile != "" {
			apiCfg.ACL = d.acl
		}
		d.api = api.NewServer(apiCfg)
	}
	if cfg.GRPC.Listen != "" {
		d.grpc = grpcapi.NewServer(cfg.GRPC.Listen)
	}
	return d, nil
}

func (d *Daemon) setupACL() error {
	if d.cfg.ACLFile != "" {
		store, err := acl.NewStore(d.cfg.ACLFile)
		if err != nil {
			return fmt.Errorf("daemon: %w", err)
		}
		d.acl = store
		slog.Info("access control loaded", "file", d.cfg.ACLFile)
		return nil
	}

	a, err := acl.New(d.cfg.SNMP.ACL())
	if err != nil {
		return fmt.Errorf("daemon: snmp communities: %w", err)
	}
	if len(d.cfg.SNMP.Communities) == 0 {
		slog.Warn("no SNMP communities configured, every request will be rejected")
	}
	d.acl = acl.NewStaticStore(a)
	return nil
}

// registerAgents registers the built-in MIB agents, then the MIB store.
func (d *Daemon) registerAgents(ctx context.Context) error {
	type builtin struct {
		name    string
		enabled bool
		root    snmp.OID
		handler func() agent.Handler
	}
	builtins := []builtin{
		{"system", d.cfg.Agents.System, mib.SystemRoot, func() agent.Handler { return d.system }},
		{"interfaces", d.cfg.Agents.Interfaces, mib.InterfacesRoot, func() agent.Handler {
			source := d.opts.IfSource
			if source == nil {
				source = mib.NetlinkSource
			}
			return mib.NewInterfaces(source)
		}},
		{"snmp", d.cfg.Agents.SNMP, mib.SNMPRoot, func() agent.Handler {
			return mib.NewSNMPGroup(d.stats, d.dispatcher)
		}},
	}
	for _, b := range builtins {
		if !b.enabled {
			continue
		}
		if _, err := d.registry.Register(b.name, b.root, b.handler()); err != nil {
			return fmt.Errorf("daemon: %w", err)
		}
	}

	if !d.cfg.MIBStore.Enabled {
		return nil
	}
	root, err := snmp.ParseOID(d.cfg.MIBStore.Root)
	if err != nil {
		return fmt.Errorf("daemon: mibstore.root: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.cfg.MIBStore.Path), 0755); err != nil {
		return fmt.Errorf("daemon: mibstore: %w", err)
	}
	store, err := mibstore.Open(ctx, mibstore.Config{
		Path:        d.cfg.MIBStore.Path,
		Root:        root,
		AllowCreate: d.cfg.MIBStore.AllowCreate,
	})
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	d.store = store
	if _, err := d.registry.Register("mibstore", root, store); err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	return nil
}

// Ready is closed once the SNMP socket is bound.
func (d *Daemon) Ready() <-chan struct{} {
	return d.server.Ready()
}

// Addr returns the bound SNMP address, or nil before Ready.
func (d *Daemon) Addr() net.Addr {
	return d.server.Addr()
}

// Registry returns the agent registry, for agents registered at runtime.
func (d *Daemon) Registry() *agent.Registry {
	return d.registry
}

// Run serves until ctx is done or SIGINT/SIGTERM arrives.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("starting snmpagentd",
		"listen", d.cfg.Listen,
		"agents", d.registry.Snapshot().Len(),
		"pid", os.Getpid())
	defer d.close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.server.Start(gctx) })
	g.Go(func() error { return d.acl.Watch(gctx) })
	g.Go(func() error { return d.rejects.Run(gctx) })
	if d.api != nil {
		g.Go(func() error { return d.api.Run(gctx) })
	}
	if d.grpc != nil {
		g.Go(func() error { return d.grpc.Run(gctx) })
	}
	g.Go(func() error {
		select {
		case <-d.server.Ready():
		case <-gctx.Done():
			return nil
		}
		if d.grpc != nil {
			d.grpc.SetServing(true)
		}
		if err := d.traps.ColdStart(gctx); err != nil {
			slog.Warn("coldStart trap failed", "err", err)
		}
		return nil
	})

	<-gctx.Done()
	if ctx.Err() != nil {
		slog.Info("shutting down")
	}
	d.server.Stop()

	err := g.Wait()
	d.logFinalStats()
	slog.Info("shutdown complete")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Daemon) close() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			slog.Warn("failed to close MIB store", "err", err)
		}
		d.store = nil
	}
}

// logFinalStats logs the nonzero protocol counters before shutdown.
func (d *Daemon) logFinalStats() {
	var attrs []any
	for _, c := range stats.All() {
		if v := d.stats.Value(c); v != 0 {
			attrs = append(attrs, c.String(), v)
		}
	}
	if len(attrs) > 0 {
		slog.Info("final statistics", attrs...)
	}
}
