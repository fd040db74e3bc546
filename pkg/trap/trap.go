// Package trap emits SNMPv2c notifications.
package trap

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/gosnmp/gosnmp"
	"golang.org/x/time/rate"

	"github.com/psaab/snmpagentd/pkg/acl"
	"github.com/psaab/snmpagentd/pkg/snmp"
	"github.com/psaab/snmpagentd/pkg/stats"
)

// Standard notification OIDs (SNMPv2-MIB).
var (
	SysUpTimeOID             = snmp.MustParseOID("1.3.6.1.2.1.1.3.0")
	SnmpTrapOID              = snmp.MustParseOID("1.3.6.1.6.3.1.1.4.1.0")
	ColdStartOID             = snmp.MustParseOID("1.3.6.1.6.3.1.1.5.1")
	AuthenticationFailureOID = snmp.MustParseOID("1.3.6.1.6.3.1.1.5.5")
)

// Targets supplies the current trap destinations.
type Targets interface {
	TrapTargets() []acl.TrapTarget
}

// Config configures a Sender.
type Config struct {
	Targets Targets
	Stats   interface{ Inc(stats.Counter) }
	// Start is the agent start time, reported as sysUpTime.
	Start time.Time
	// Rate and Burst bound how many notifications are sent. A zero Rate
	// means unlimited.
	Rate  rate.Limit
	Burst int
	// Timeout bounds connecting to and writing to one destination.
	Timeout time.Duration
}

// Sender sends notifications to every configured destination.
type Sender struct {
	cfg     Config
	limiter *rate.Limiter
}

// New creates a Sender.
func New(cfg Config) *Sender {
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	s := &Sender{cfg: cfg, limiter: rate.NewLimiter(rate.Inf, 0)}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(cfg.Rate, burst)
	}
	return s
}

// AuthenticationFailure reports a request from source rejected by the ACL
// for the given community. The rejection is logged; send errors too.
func (s *Sender) AuthenticationFailure(ctx context.Context, source netip.AddrPort, community string) {
	log := slog.With("source", source, "community", community)
	log.Info("SNMP authentication failure")
	if err := s.Send(ctx, AuthenticationFailureOID); err != nil {
		log.Warn("failed to send authenticationFailure trap", "err", err)
	}
}

// ColdStart announces that the agent has started.
func (s *Sender) ColdStart(ctx context.Context) error {
	return s.Send(ctx, ColdStartOID)
}

// Send emits the notification trapOID with extra varbinds to every
// destination. Notifications beyond the rate limit are dropped silently.
func (s *Sender) Send(ctx context.Context, trapOID snmp.OID, extra ...snmp.VarBind) error {
	if s.cfg.Targets == nil {
		return nil
	}
	targets := s.cfg.Targets.TrapTargets()
	if len(targets) == 0 {
		return nil
	}
	if !s.limiter.Allow() {
		slog.Debug("trap rate limit reached, dropping", "trap", trapOID.String())
		return nil
	}

	vars := make([]gosnmp.SnmpPDU, 0, len(extra)+2)
	vars = append(vars,
		gosnmp.SnmpPDU{Name: "." + SysUpTimeOID.String(), Type: gosnmp.TimeTicks, Value: snmp.Uptime(s.cfg.Start)},
		gosnmp.SnmpPDU{Name: "." + SnmpTrapOID.String(), Type: gosnmp.ObjectIdentifier, Value: "." + trapOID.String()},
	)
	for _, vb := range extra {
		v, err := snmp.ToGoSNMP(vb)
		if err != nil {
			return fmt.Errorf("trap: %s: %w", vb.OID, err)
		}
		vars = append(vars, v)
	}

	var firstErr error
	for _, t := range targets {
		if err := s.sendOne(ctx, t, vars); err != nil {
			slog.Debug("trap send failed", "target", t.Addr, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if s.cfg.Stats != nil {
			s.cfg.Stats.Inc(stats.OutTraps)
		}
	}
	return firstErr
}

func (s *Sender) sendOne(ctx context.Context, t acl.TrapTarget, vars []gosnmp.SnmpPDU) error {
	g := &gosnmp.GoSNMP{
		Target:    t.Addr.Addr().String(),
		Port:      t.Addr.Port(),
		Community: t.Community,
		Version:   gosnmp.Version2c,
		Timeout:   s.cfg.Timeout,
		Retries:   0,
		Context:   ctx,
	}
	if err := g.Connect(); err != nil {
		return fmt.Errorf("trap: connect %s: %w", t.Addr, err)
	}
	defer g.Conn.Close()

	if _, err := g.SendTrap(gosnmp.SnmpTrap{Variables: vars}); err != nil {
		return fmt.Errorf("trap: send %s: %w", t.Addr, err)
	}
	return nil
}
