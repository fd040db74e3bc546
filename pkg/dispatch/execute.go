package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/psaab/snmpagentd/pkg/agent"
	"github.com/psaab/snmpagentd/pkg/logging"
	"github.com/psaab/snmpagentd/pkg/snmp"
)

// noIndex marks a failure that cannot be attributed to one entry.
const noIndex = -1

// failure is the outcome of a failed request. index is 1-based in the
// request varbind list.
type failure struct {
	agent  *agent.Registration
	status snmp.ErrorStatus
	index  int
}

type phaseFunc func(context.Context, *agent.Request) error

// execute runs every SubRequest of t in order. For Set, CheckSet must
// succeed on all of them before CommitSet is called on any. The first
// failure stops execution.
func execute(ctx context.Context, t *table) *failure {
	if t.kind == snmp.KindSet {
		for _, s := range t.subs {
			if !run(ctx, s, "check", s.Agent.Handler.CheckSet) {
				return s.failure()
			}
		}
		// A failed commit leaves earlier commits applied; handlers have no
		// undo phase.
		for _, s := range t.subs {
			if !run(ctx, s, "commit", s.Agent.Handler.CommitSet) {
				return s.failure()
			}
		}
		return nil
	}

	for _, s := range t.subs {
		var fn phaseFunc
		switch t.kind {
		case snmp.KindGet:
			fn = s.Agent.Handler.Get
		case snmp.KindGetNext:
			fn = s.Agent.Handler.GetNext
		case snmp.KindGetBulk:
			fn = s.Agent.Handler.GetBulk
		default:
			return &failure{agent: s.Agent, status: snmp.GenErr, index: 1}
		}
		if !run(ctx, s, t.kind.String(), fn) {
			return s.failure()
		}
	}
	return nil
}

// run invokes fn and records its outcome in s. It reports success.
func run(ctx context.Context, s *SubRequest, phase string, fn phaseFunc) bool {
	err := invoke(ctx, s.Request, fn)
	if err == nil {
		return true
	}

	log := logging.FromContext(ctx)
	var se *snmp.StatusError
	if errors.As(err, &se) {
		if se.Status == snmp.NoError {
			return true
		}
		s.ErrorStatus, s.ErrorIndex = se.Status, se.Index
		log.Debug("MIB agent reported error",
			"agent", s.Agent.Name, "phase", phase,
			"status", se.Status, "index", se.Index)
		return false
	}

	log.Warn("MIB agent failed", "agent", s.Agent.Name, "phase", phase, "err", err)
	s.ErrorStatus, s.ErrorIndex = snmp.GenErr, noIndex
	return false
}

func invoke(ctx context.Context, req *agent.Request, fn phaseFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, req)
}

func (s *SubRequest) failure() *failure {
	return &failure{agent: s.Agent, status: s.ErrorStatus, index: s.globalIndex()}
}

// globalIndex translates the local error index to a 1-based position in
// the request varbind list.
func (s *SubRequest) globalIndex() int {
	entries := s.Request.Entries
	if s.ErrorIndex == noIndex || len(entries) == 0 {
		return 1
	}
	i := s.ErrorIndex
	if i < 0 || i >= len(entries) {
		i = 0
	}
	return entries[i].Source + 1
}
