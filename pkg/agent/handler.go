// Package agent defines the capability a MIB agent exposes to the request
// dispatcher and the registry that maps OID subtrees to agents.
package agent

import (
	"context"
	"net/netip"

	"github.com/psaab/snmpagentd/pkg/snmp"
)

// Entry is one varbind handed to an agent. Index is the slot in the answer
// the entry fills; Source is the position in the request varbind list the
// slot answers. They differ only for GetBulk.
type Entry struct {
	Index   int
	Source  int
	VarBind snmp.VarBind
}

// Request is the share of one PDU given to a single agent. Handlers write
// their answers into Entries[i].VarBind and must not retain the Request
// after returning.
type Request struct {
	Kind      snmp.Kind
	Version   snmp.Version
	Community string
	Source    netip.AddrPort
	RequestID int32

	// VarBinds is the complete request varbind list. Read-only.
	VarBinds []snmp.VarBind

	// Effective GetBulk parameters. Entries then holds
	// NonRepeaters + MaxRepetitions*(len(VarBinds)-NonRepeaters) slots,
	// Entries[k].Index == k.
	NonRepeaters   int
	MaxRepetitions int

	Entries []Entry
}

// Handler is implemented by every registered MIB agent. A handler reports
// an SNMP error by returning *snmp.StatusError whose Index is relative to
// req.Entries; any other error is treated as genErr.
//
// A Set is performed in two phases: CheckSet is called on every agent
// involved, and only when all of them accept is CommitSet called.
type Handler interface {
	Get(ctx context.Context, req *Request) error
	GetNext(ctx context.Context, req *Request) error
	GetBulk(ctx context.Context, req *Request) error
	CheckSet(ctx context.Context, req *Request) error
	CommitSet(ctx context.Context, req *Request) error
}

// Walker answers exact and next lookups within one subtree.
type Walker interface {
	// Lookup returns the value of oid, or noSuchObject/noSuchInstance.
	Lookup(oid snmp.OID) snmp.Value
	// Next returns the first varbind whose OID is strictly greater than
	// oid, or false when there is none.
	Next(oid snmp.OID) (snmp.VarBind, bool)
}

// FillGet answers a Get request from w.
func FillGet(req *Request, w Walker) {
	for i := range req.Entries {
		e := &req.Entries[i]
		e.VarBind.Value = w.Lookup(e.VarBind.OID)
	}
}

// FillNext answers a GetNext request from w. Entries without a successor
// keep their OID and get endOfMibView.
func FillNext(req *Request, w Walker) {
	for i := range req.Entries {
		e := &req.Entries[i]
		if vb, ok := w.Next(e.VarBind.OID); ok {
			e.VarBind = vb
		} else {
			e.VarBind.Value = snmp.EndOfMibView
		}
	}
}

// FillBulk answers a GetBulk request from w. Non-repeaters get one
// successor each; each repeater is walked up to MaxRepetitions times and
// stops at the end of w's view.
func FillBulk(req *Request, w Walker) {
	n := req.NonRepeaters
	r := len(req.VarBinds) - n
	for i := 0; i < n && i < len(req.Entries); i++ {
		e := &req.Entries[i]
		start := req.VarBinds[i].OID
		if vb, ok := w.Next(start); ok {
			e.VarBind = vb
		} else {
			e.VarBind = snmp.VarBind{OID: start, Value: snmp.EndOfMibView}
		}
	}
	for col := 0; col < r; col++ {
		cur := req.VarBinds[n+col].OID
		for rep := 0; rep < req.MaxRepetitions; rep++ {
			slot := n + rep*r + col
			if slot >= len(req.Entries) {
				break
			}
			vb, ok := w.Next(cur)
			if !ok {
				for ; rep < req.MaxRepetitions && n+rep*r+col < len(req.Entries); rep++ {
					req.Entries[n+rep*r+col].VarBind = snmp.VarBind{OID: cur, Value: snmp.EndOfMibView}
				}
				break
			}
			req.Entries[slot].VarBind = vb
			cur = vb.OID
		}
	}
}

// ReadOnly can be embedded by handlers that reject every Set.
type ReadOnly struct{}

// CheckSet rejects the first entry with notWritable.
func (ReadOnly) CheckSet(_ context.Context, req *Request) error {
	if len(req.Entries) == 0 {
		return nil
	}
	return snmp.NewStatusError(snmp.NotWritable, 0)
}

// CommitSet is never reached because CheckSet always fails.
func (ReadOnly) CommitSet(context.Context, *Request) error {
	return snmp.NewStatusError(snmp.CommitFailed, 0)
}
