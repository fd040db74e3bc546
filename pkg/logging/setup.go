package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// SyslogTarget is a remote collector.
type SyslogTarget struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Severity string `mapstructure:"severity"` // error, warning, notice, info, debug; empty sends all
	Facility string `mapstructure:"facility"` // default daemon
}

// Config selects the process log format and destinations.
type Config struct {
	Level  string         `mapstructure:"level"`  // debug, info, warn, error
	Format string         `mapstructure:"format"` // text or json
	File   FileConfig     `mapstructure:"file"`   // stderr when File.Path is empty
	Syslog []SyslogTarget `mapstructure:"syslog"`
}

// ParseLevel converts a level name to an slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if name == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("logging: bad level %q", name)
	}
	return level, nil
}

// New builds the process handler writing to w and dials the syslog
// targets. The caller closes the handler on shutdown.
func New(cfg Config, w io.Writer) (*SyslogSlogHandler, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var base slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		base = slog.NewTextHandler(w, opts)
	case "json":
		base = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	h := NewSyslogSlogHandler(base)
	var clients []*SyslogClient
	for _, t := range cfg.Syslog {
		port := t.Port
		if port == 0 {
			port = 514
		}
		c, err := NewSyslogClient(t.Host, port)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("logging: %w", err)
		}
		c.MinSeverity = ParseSeverity(t.Severity)
		c.Facility = ParseFacility(t.Facility)
		clients = append(clients, c)
	}
	h.SetClients(clients)
	return h, nil
}

// Setup builds the handler for stderr, or the configured log file, and
// installs it as the default logger.
func Setup(cfg Config) (*SyslogSlogHandler, error) {
	var w io.Writer = os.Stderr
	var file *FileWriter
	if cfg.File.Path != "" {
		fw, err := NewFileWriter(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		w, file = fw, fw
	}
	h, err := New(cfg, w)
	if err != nil {
		if file != nil {
			file.Close()
		}
		return nil, err
	}
	if file != nil {
		h.closer = file
	}
	slog.SetDefault(slog.New(h))
	return h, nil
}
