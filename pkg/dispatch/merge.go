package dispatch

import (
	"github.com/psaab/snmpagentd/pkg/snmp"
)

// merge assembles the answer to req from the completed SubRequests of t.
// It does not modify t, so merging twice yields identical results.
func merge(req *snmp.PDU, t *table) *snmp.PDU {
	var vbs []snmp.VarBind
	switch req.Kind {
	case snmp.KindGetNext:
		vbs = make([]snmp.VarBind, len(req.VarBinds))
		for i, vb := range req.VarBinds {
			vbs[i] = bestNext(vb.OID, i, t.subs)
		}
	case snmp.KindGetBulk:
		vbs = mergeBulk(req, t.plan, t.subs)
		vbs = vbs[:t.plan.trimmedLen(vbs)]
	default:
		vbs = make([]snmp.VarBind, len(req.VarBinds))
		for i, vb := range req.VarBinds {
			vbs[i] = snmp.VarBind{OID: vb.OID, Value: snmp.NoSuchObject}
		}
		for _, s := range t.subs {
			for _, e := range s.Request.Entries {
				if e.Index >= 0 && e.Index < len(vbs) {
					vbs[e.Index] = e.VarBind
				}
			}
		}
	}

	// v1 has no exception values.
	if req.Version == snmp.Version1 {
		for i, vb := range vbs {
			if vb.Value.IsException() {
				return newErrorResponse(req, snmp.NoSuchName, i+1)
			}
		}
	}
	return newResponse(req, vbs)
}

// bestNext returns the smallest successor of start reported for slot by
// any SubRequest, or endOfMibView when none was found.
func bestNext(start snmp.OID, slot int, subs []*SubRequest) snmp.VarBind {
	best := snmp.VarBind{OID: start, Value: snmp.EndOfMibView}
	for _, s := range subs {
		if slot >= len(s.Request.Entries) {
			continue
		}
		vb := s.Request.Entries[slot].VarBind
		if vb.Value.IsException() || vb.OID.Compare(start) <= 0 {
			continue
		}
		if best.Value.IsEndOfMibView() || vb.OID.Compare(best.OID) < 0 {
			best = vb
		}
	}
	return best
}
