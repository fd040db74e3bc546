package dispatch

import (
	"github.com/psaab/snmpagentd/pkg/snmp"
)

func newResponse(req *snmp.PDU, vbs []snmp.VarBind) *snmp.PDU {
	return &snmp.PDU{
		Kind:      snmp.KindResponse,
		Version:   req.Version,
		Community: req.Community,
		RequestID: req.RequestID,
		VarBinds:  vbs,
		Source:    req.Source,
	}
}

// newErrorResponse echoes the request varbinds with status mapped to what
// the requester's version understands.
func newErrorResponse(req *snmp.PDU, status snmp.ErrorStatus, index int) *snmp.PDU {
	resp := newResponse(req, req.CloneVarBinds())
	resp.ErrorStatus = snmp.MapErrorStatus(status, req.Version, req.Kind)
	resp.ErrorIndex = index
	return resp
}

func newTooBigResponse(req *snmp.PDU) *snmp.PDU {
	resp := newResponse(req, nil)
	resp.ErrorStatus = snmp.TooBig
	return resp
}

// fillValues returns a copy of req's varbinds with every value set to v.
func fillValues(req *snmp.PDU, v snmp.Value) []snmp.VarBind {
	out := make([]snmp.VarBind, len(req.VarBinds))
	for i, vb := range req.VarBinds {
		out[i] = snmp.VarBind{OID: vb.OID, Value: v}
	}
	return out
}
