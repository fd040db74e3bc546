package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// clientSet is shared by a handler and every handler derived from it, so
// SetClients also reaches loggers built with With.
type clientSet struct {
	mu      sync.RWMutex
	clients []*SyslogClient
}

func (s *clientSet) load() []*SyslogClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients
}

// SyslogSlogHandler is an slog.Handler that forwards log records to remote
// syslog collectors in addition to a wrapped base handler (stderr). Each
// client applies its own severity filter, independent of the base level.
type SyslogSlogHandler struct {
	base   slog.Handler
	set    *clientSet
	attrs  []slog.Attr
	groups []string

	closer io.Closer // log file owned by the root handler
}

// NewSyslogSlogHandler wraps a base slog.Handler with syslog forwarding.
func NewSyslogSlogHandler(base slog.Handler) *SyslogSlogHandler {
	return &SyslogSlogHandler{base: base, set: &clientSet{}}
}

// SetClients replaces the set of syslog clients. Old clients are closed.
func (h *SyslogSlogHandler) SetClients(clients []*SyslogClient) {
	h.set.mu.Lock()
	old := h.set.clients
	h.set.clients = clients
	h.set.mu.Unlock()

	for _, c := range old {
		c.Close()
	}
}

// Close closes all syslog clients and the log file.
func (h *SyslogSlogHandler) Close() {
	h.SetClients(nil)
	if h.closer != nil {
		h.closer.Close()
	}
}

// Enabled implements slog.Handler. A record is handled when the base
// handler or any syslog client wants it.
func (h *SyslogSlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.base.Enabled(ctx, level) {
		return true
	}
	severity := slogLevelToSyslog(level)
	for _, c := range h.set.load() {
		if c.MinSeverity != 0 && severity <= c.MinSeverity {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler.
func (h *SyslogSlogHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.base.Enabled(ctx, r.Level) {
		err = h.base.Handle(ctx, r)
	}

	clients := h.set.load()
	if len(clients) == 0 {
		return err
	}
	severity := slogLevelToSyslog(r.Level)
	var msg string
	for _, c := range clients {
		if !c.ShouldSend(severity) {
			continue
		}
		if msg == "" {
			msg = formatRecord(r, h.attrs, h.groups)
		}
		c.Send(severity, msg)
	}
	return err
}

// WithAttrs implements slog.Handler.
func (h *SyslogSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SyslogSlogHandler{
		base:   h.base.WithAttrs(attrs),
		set:    h.set,
		attrs:  append(append([]slog.Attr{}, h.attrs...), attrs...),
		groups: h.groups,
	}
}

// WithGroup implements slog.Handler.
func (h *SyslogSlogHandler) WithGroup(name string) slog.Handler {
	return &SyslogSlogHandler{
		base:   h.base.WithGroup(name),
		set:    h.set,
		attrs:  h.attrs,
		groups: append(append([]string{}, h.groups...), name),
	}
}

// slogLevelToSyslog maps slog levels to syslog severity values.
func slogLevelToSyslog(level slog.Level) int {
	switch {
	case level >= slog.LevelError:
		return SyslogError
	case level >= slog.LevelWarn:
		return SyslogWarning
	case level >= slog.LevelInfo:
		return SyslogInfo
	default:
		return SyslogDebug
	}
}

// formatRecord produces a compact text representation of a log record.
func formatRecord(r slog.Record, preAttrs []slog.Attr, groups []string) string {
	var b strings.Builder
	b.WriteString(r.Message)

	for _, a := range preAttrs {
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if len(groups) > 0 {
			key = strings.Join(groups, ".") + "." + key
		}
		fmt.Fprintf(&b, " %s=%s", key, a.Value.String())
		return true
	})

	return b.String()
}
