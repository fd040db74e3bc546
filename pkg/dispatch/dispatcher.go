// Package dispatch implements the request-dispatch engine of the agent:
// access control, splitting a request across the registered MIB agents,
// executing it, merging the partial answers and fitting the result into
// the transport's message size.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"

	"github.com/psaab/snmpagentd/pkg/agent"
	"github.com/psaab/snmpagentd/pkg/logging"
	"github.com/psaab/snmpagentd/pkg/snmp"
	"github.com/psaab/snmpagentd/pkg/stats"
)

// DefaultMaxSize is the response size limit used when Config.MaxSize is
// unset: a UDP payload in one Ethernet frame.
const DefaultMaxSize = 1472

// DefaultMaxRepetitions caps GetBulk max-repetitions when
// Config.MaxRepetitions is zero.
const DefaultMaxRepetitions = 100

// Directory is the OID-ownership index consulted while splitting.
type Directory interface {
	Agents() []*agent.Registration
	OwnerOf(oid snmp.OID) *agent.Registration
}

// Registry supplies a stable view of the registered agents per request.
type Registry interface {
	Snapshot() *agent.Snapshot
}

// ACL decides which managers may perform which operations.
type ACL interface {
	CheckPermission(addr netip.Addr, community string, kind snmp.Kind) bool
	CheckCommunity(community string) bool
}

// Stats is the counter sink.
type Stats interface {
	Inc(c stats.Counter)
	Add(c stats.Counter, n int)
}

// TrapSender emits notifications on behalf of the dispatcher.
type TrapSender interface {
	AuthenticationFailure(ctx context.Context, source netip.AddrPort, community string)
}

// RejectObserver is told about every request refused by the ACL.
type RejectObserver interface {
	Rejected(source netip.AddrPort, community string)
}

// Config configures a Dispatcher.
type Config struct {
	Registry Registry   // required
	Codec    snmp.Codec // required
	ACL      ACL        // nil accepts every request
	Stats    Stats      // nil discards counts
	Traps    TrapSender // nil disables traps

	// Rejects, when set, observes every ACL rejection.
	Rejects RejectObserver

	// AuthRespEnabled answers rejected requests with an error response
	// instead of dropping them.
	AuthRespEnabled bool
	// AuthTrapEnabled emits an authenticationFailure trap for rejected
	// requests.
	AuthTrapEnabled bool
	// MaxRepetitions caps GetBulk max-repetitions. Zero selects
	// DefaultMaxRepetitions.
	MaxRepetitions int
	// MaxSize is the largest response message Process will produce.
	MaxSize int
}

// Dispatcher answers decoded requests. It is safe for concurrent use.
type Dispatcher struct {
	cfg       Config
	stats     Stats
	authTraps atomic.Bool
}

// New validates cfg and returns a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, errors.New("dispatch: registry is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("dispatch: codec is required")
	}
	if cfg.MaxRepetitions < 0 {
		return nil, fmt.Errorf("dispatch: negative max-repetitions %d", cfg.MaxRepetitions)
	}
	if cfg.MaxRepetitions == 0 {
		cfg.MaxRepetitions = DefaultMaxRepetitions
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	d := &Dispatcher{cfg: cfg, stats: cfg.Stats}
	if d.stats == nil {
		d.stats = discard{}
	}
	d.authTraps.Store(cfg.AuthTrapEnabled)
	return d, nil
}

// Process handles one datagram received from source and returns the
// encoded response, or nil when nothing should be sent.
func (d *Dispatcher) Process(ctx context.Context, data []byte, source netip.AddrPort) []byte {
	d.stats.Inc(stats.InPkts)

	req, err := d.cfg.Codec.Decode(data)
	if err != nil {
		if errors.Is(err, snmp.ErrBadVersion) {
			d.stats.Inc(stats.InBadVersions)
		} else {
			d.stats.Inc(stats.InASNParseErrs)
		}
		logging.FromContext(ctx).Debug("dropping undecodable message", "source", source, "err", err)
		return nil
	}
	req.Source = source

	resp := d.Handle(ctx, req)
	if resp == nil {
		return nil
	}
	out, ok := d.Encode(ctx, req, resp, d.cfg.MaxSize)
	if !ok {
		return nil
	}
	return out
}

// Handle answers req. A nil result means no response is sent.
func (d *Dispatcher) Handle(ctx context.Context, req *snmp.PDU) *snmp.PDU {
	log := logging.FromContext(ctx)

	if !req.Kind.Dispatchable() {
		d.stats.Inc(stats.InBadTypes)
		log.Debug("ignoring PDU", "kind", req.Kind, "source", req.Source)
		return nil
	}

	community := string(req.Community)
	if !d.authorized(req.Source.Addr(), community, req.Kind) {
		return d.reject(ctx, req, community)
	}
	d.countRequest(req)

	snap := d.cfg.Registry.Snapshot()
	if snap.Len() == 0 {
		return noAgentResponse(req)
	}

	t := split(req, snap, d.cfg.MaxRepetitions, slotLimit(d.cfg.MaxSize))
	if f := execute(ctx, t); f != nil {
		log.Debug("request failed",
			"kind", req.Kind, "agent", f.agent.Name,
			"status", f.status, "index", f.index)
		return newErrorResponse(req, f.status, f.index)
	}

	resp := merge(req, t)
	if resp.ErrorStatus == snmp.NoError {
		switch req.Kind {
		case snmp.KindSet:
			d.stats.Add(stats.InTotalSetVars, len(req.VarBinds))
		default:
			d.stats.Add(stats.InTotalReqVars, len(resp.VarBinds))
		}
	}
	return resp
}

// AuthTrapEnabled reports whether rejected requests raise an
// authenticationFailure trap.
func (d *Dispatcher) AuthTrapEnabled() bool {
	return d.authTraps.Load()
}

// SetAuthTrapEnabled changes AuthTrapEnabled at runtime (snmpEnableAuthenTraps).
func (d *Dispatcher) SetAuthTrapEnabled(enabled bool) {
	d.authTraps.Store(enabled)
}

func (d *Dispatcher) authorized(addr netip.Addr, community string, kind snmp.Kind) bool {
	return d.cfg.ACL == nil || d.cfg.ACL.CheckPermission(addr, community, kind)
}

// reject handles a request refused by the ACL.
func (d *Dispatcher) reject(ctx context.Context, req *snmp.PDU, community string) *snmp.PDU {
	d.stats.Inc(stats.InBadCommunityUses)
	if !d.cfg.ACL.CheckCommunity(community) {
		d.stats.Inc(stats.InBadCommunityNames)
	}
	logging.FromContext(ctx).Debug("request rejected by ACL",
		"source", req.Source, "kind", req.Kind)
	if d.cfg.Rejects != nil {
		d.cfg.Rejects.Rejected(req.Source, community)
	}

	if d.authTraps.Load() && d.cfg.Traps != nil {
		d.cfg.Traps.AuthenticationFailure(ctx, req.Source, community)
	}
	if !d.cfg.AuthRespEnabled {
		return nil
	}
	return newErrorResponse(req, snmp.AuthorizationError, 0)
}

func (d *Dispatcher) countRequest(req *snmp.PDU) {
	switch req.Kind {
	case snmp.KindGet:
		d.stats.Inc(stats.InGetRequests)
	case snmp.KindGetNext:
		d.stats.Inc(stats.InGetNexts)
	case snmp.KindSet:
		d.stats.Inc(stats.InSetRequests)
	case snmp.KindGetBulk:
		d.stats.Inc(stats.InGetBulks)
	}
}

// noAgentResponse answers a request when no agent is registered.
func noAgentResponse(req *snmp.PDU) *snmp.PDU {
	if req.Version == snmp.Version1 {
		return newErrorResponse(req, snmp.NoSuchName, 1)
	}
	switch req.Kind {
	case snmp.KindSet:
		return newErrorResponse(req, snmp.NoAccess, 1)
	case snmp.KindGet:
		return newResponse(req, fillValues(req, snmp.NoSuchObject))
	default:
		return newResponse(req, fillValues(req, snmp.EndOfMibView))
	}
}

type discard struct{}

func (discard) Inc(stats.Counter)      {}
func (discard) Add(stats.Counter, int) {}
