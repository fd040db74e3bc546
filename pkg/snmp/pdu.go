package snmp

import (
	"fmt"
	"net/netip"
)

// Version is the SNMP message version field.
type Version int

const (
	Version1  Version = 0
	Version2c Version = 1
)

func (v Version) String() string {
	switch v {
	case Version1:
		return "v1"
	case Version2c:
		return "v2c"
	}
	return fmt.Sprintf("version(%d)", int(v))
}

// Kind is the PDU type.
type Kind int

const (
	KindGet Kind = iota
	KindGetNext
	KindSet
	KindGetBulk
	KindTrap
	KindResponse
	KindInform
	KindV2Trap
	KindReport
)

var kindNames = map[Kind]string{
	KindGet:      "get",
	KindGetNext:  "getnext",
	KindSet:      "set",
	KindGetBulk:  "getbulk",
	KindTrap:     "trap",
	KindResponse: "response",
	KindInform:   "inform",
	KindV2Trap:   "v2trap",
	KindReport:   "report",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Dispatchable reports whether a request of this kind is answered by the
// agent.
func (k Kind) Dispatchable() bool {
	switch k {
	case KindGet, KindGetNext, KindSet, KindGetBulk:
		return true
	}
	return false
}

// Syntax is the BER tag of a value.
type Syntax byte

const (
	SyntaxInteger          Syntax = 0x02
	SyntaxOctetString      Syntax = 0x04
	SyntaxNull             Syntax = 0x05
	SyntaxObjectIdentifier Syntax = 0x06
	SyntaxIPAddress        Syntax = 0x40
	SyntaxCounter32        Syntax = 0x41
	SyntaxGauge32          Syntax = 0x42
	SyntaxTimeTicks        Syntax = 0x43
	SyntaxOpaque           Syntax = 0x44
	SyntaxCounter64        Syntax = 0x46

	// Implicit tags for exception values (context-specific, primitive).
	SyntaxNoSuchObject   Syntax = 0x80
	SyntaxNoSuchInstance Syntax = 0x81
	SyntaxEndOfMibView   Syntax = 0x82
)

// Value is a typed varbind value. Data holds:
//
//	Integer                      int
//	OctetString, Opaque          []byte
//	ObjectIdentifier             OID
//	IPAddress                    netip.Addr
//	Counter32, Gauge32, TimeTicks uint32
//	Counter64                    uint64
//	Null and exceptions          nil
type Value struct {
	Syntax Syntax
	Data   any
}

// Exception values. They are results, not errors.
var (
	Null           = Value{Syntax: SyntaxNull}
	NoSuchObject   = Value{Syntax: SyntaxNoSuchObject}
	NoSuchInstance = Value{Syntax: SyntaxNoSuchInstance}
	EndOfMibView   = Value{Syntax: SyntaxEndOfMibView}
)

func Integer(v int) Value          { return Value{Syntax: SyntaxInteger, Data: v} }
func OctetString(v []byte) Value   { return Value{Syntax: SyntaxOctetString, Data: v} }
func String(v string) Value        { return OctetString([]byte(v)) }
func ObjectIdentifier(v OID) Value { return Value{Syntax: SyntaxObjectIdentifier, Data: v} }
func IPAddress(v netip.Addr) Value { return Value{Syntax: SyntaxIPAddress, Data: v} }
func Counter32(v uint32) Value     { return Value{Syntax: SyntaxCounter32, Data: v} }
func Gauge32(v uint32) Value       { return Value{Syntax: SyntaxGauge32, Data: v} }
func TimeTicks(v uint32) Value     { return Value{Syntax: SyntaxTimeTicks, Data: v} }
func Counter64(v uint64) Value     { return Value{Syntax: SyntaxCounter64, Data: v} }

// IsException reports whether v is noSuchObject, noSuchInstance or
// endOfMibView.
func (v Value) IsException() bool {
	switch v.Syntax {
	case SyntaxNoSuchObject, SyntaxNoSuchInstance, SyntaxEndOfMibView:
		return true
	}
	return false
}

// IsEndOfMibView reports whether v is the endOfMibView exception.
func (v Value) IsEndOfMibView() bool { return v.Syntax == SyntaxEndOfMibView }

func (v Value) String() string {
	switch v.Syntax {
	case SyntaxNull:
		return "Null"
	case SyntaxNoSuchObject:
		return "noSuchObject"
	case SyntaxNoSuchInstance:
		return "noSuchInstance"
	case SyntaxEndOfMibView:
		return "endOfMibView"
	case SyntaxOctetString, SyntaxOpaque:
		if b, ok := v.Data.([]byte); ok {
			return fmt.Sprintf("%q", b)
		}
	}
	return fmt.Sprintf("%v", v.Data)
}

// VarBind is an OID/value pair.
type VarBind struct {
	OID   OID
	Value Value
}

func (vb VarBind) String() string {
	return vb.OID.String() + " = " + vb.Value.String()
}

// PDU is a decoded request or response. For GetBulk, NonRepeaters and
// MaxRepetitions replace ErrorStatus/ErrorIndex on the wire.
type PDU struct {
	Kind           Kind
	Version        Version
	Community      []byte
	RequestID      int32
	ErrorStatus    ErrorStatus
	ErrorIndex     int
	NonRepeaters   int
	MaxRepetitions int
	VarBinds       []VarBind
	Source         netip.AddrPort
}

// CloneVarBinds returns a shallow copy of the varbind list.
func (p *PDU) CloneVarBinds() []VarBind {
	if p.VarBinds == nil {
		return nil
	}
	return append([]VarBind(nil), p.VarBinds...)
}
