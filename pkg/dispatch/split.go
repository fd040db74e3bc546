package dispatch

import (
	"github.com/psaab/snmpagentd/pkg/agent"
	"github.com/psaab/snmpagentd/pkg/snmp"
)

type agentEntry = agent.Entry

// SubRequest is the share of one request handled by one agent. It lives
// only for the duration of the request.
type SubRequest struct {
	Agent   *agent.Registration
	Request *agent.Request

	// Set by the executor. ErrorIndex is relative to Request.Entries.
	ErrorStatus snmp.ErrorStatus
	ErrorIndex  int
}

// table maps each involved agent to its SubRequest. subs is in
// registration order, with the orphan handler last.
type table struct {
	kind snmp.Kind
	subs []*SubRequest
	plan bulkPlan
}

// split partitions req across the agents in dir. Get and Set varbinds are
// routed to their owner; GetNext and GetBulk are replicated to every agent.
// repCap and slotCap bound the GetBulk plan, see planBulk.
func split(req *snmp.PDU, dir Directory, repCap, slotCap int) *table {
	agents := dir.Agents()
	t := &table{kind: req.Kind}

	switch req.Kind {
	case snmp.KindGetNext:
		for _, a := range agents {
			t.subs = append(t.subs, newSubRequest(a, req, identityEntries(req.VarBinds), bulkPlan{}))
		}
		return t

	case snmp.KindGetBulk:
		t.plan = planBulk(len(req.VarBinds), req.NonRepeaters, req.MaxRepetitions, repCap, slotCap)
		for _, a := range agents {
			t.subs = append(t.subs, newSubRequest(a, req, t.plan.entries(req.VarBinds), t.plan))
		}
		return t
	}

	// Single agent owning everything: identity mapping.
	if len(agents) == 1 && ownsAll(agents[0], req.VarBinds) {
		t.subs = []*SubRequest{newSubRequest(agents[0], req, identityEntries(req.VarBinds), bulkPlan{})}
		return t
	}

	byAgent := make(map[*agent.Registration]*SubRequest, len(agents)+1)
	for i, vb := range req.VarBinds {
		owner := dir.OwnerOf(vb.OID)
		if owner == nil {
			owner = orphanAgent
		}
		s, ok := byAgent[owner]
		if !ok {
			s = newSubRequest(owner, req, nil, bulkPlan{})
			byAgent[owner] = s
		}
		s.Request.Entries = append(s.Request.Entries, agent.Entry{Index: i, Source: i, VarBind: vb})
	}
	for _, a := range agents {
		if s, ok := byAgent[a]; ok {
			t.subs = append(t.subs, s)
		}
	}
	if s, ok := byAgent[orphanAgent]; ok {
		t.subs = append(t.subs, s)
	}
	return t
}

func newSubRequest(reg *agent.Registration, req *snmp.PDU, entries []agent.Entry, p bulkPlan) *SubRequest {
	return &SubRequest{
		Agent: reg,
		Request: &agent.Request{
			Kind:           req.Kind,
			Version:        req.Version,
			Community:      string(req.Community),
			Source:         req.Source,
			RequestID:      req.RequestID,
			VarBinds:       req.VarBinds,
			NonRepeaters:   p.n,
			MaxRepetitions: p.m,
			Entries:        entries,
		},
	}
}

func identityEntries(vbs []snmp.VarBind) []agent.Entry {
	out := make([]agent.Entry, len(vbs))
	for i, vb := range vbs {
		out[i] = agent.Entry{Index: i, Source: i, VarBind: vb}
	}
	return out
}

func ownsAll(reg *agent.Registration, vbs []snmp.VarBind) bool {
	for _, vb := range vbs {
		if !vb.OID.HasPrefix(reg.Root) {
			return false
		}
	}
	return true
}
