package snmp

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/netip"
	"sort"

	"github.com/gosnmp/gosnmp"
)

// Codec converts between wire bytes and PDUs.
type Codec interface {
	Decode(data []byte) (*PDU, error)
	// Encode returns a *TooBigError when the message would exceed maxSize.
	Encode(pdu *PDU, maxSize int) ([]byte, error)
}

// BERCodec is the v1/v2c community-based codec backed by gosnmp.
type BERCodec struct{}

// NewCodec returns the default codec.
func NewCodec() *BERCodec {
	return &BERCodec{}
}

var kindToPDUType = map[Kind]gosnmp.PDUType{
	KindGet:      gosnmp.GetRequest,
	KindGetNext:  gosnmp.GetNextRequest,
	KindResponse: gosnmp.GetResponse,
	KindSet:      gosnmp.SetRequest,
	KindTrap:     gosnmp.Trap,
	KindGetBulk:  gosnmp.GetBulkRequest,
	KindInform:   gosnmp.InformRequest,
	KindV2Trap:   gosnmp.SNMPv2Trap,
	KindReport:   gosnmp.Report,
}

var pduTypeToKind = func() map[gosnmp.PDUType]Kind {
	m := make(map[gosnmp.PDUType]Kind, len(kindToPDUType))
	for k, t := range kindToPDUType {
		m[t] = k
	}
	return m
}()

// Decode parses a v1 or v2c message. Messages with any other version field
// return an error wrapping ErrBadVersion.
func (c *BERCodec) Decode(data []byte) (*PDU, error) {
	version, err := peekVersion(data)
	if err != nil {
		return nil, fmt.Errorf("snmp: decode: %w", err)
	}
	if version != int(Version1) && version != int(Version2c) {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, version)
	}

	g := &gosnmp.GoSNMP{}
	packet, err := g.SnmpDecodePacket(data)
	if err != nil {
		return nil, fmt.Errorf("snmp: decode: %w", err)
	}

	kind, ok := pduTypeToKind[packet.PDUType]
	if !ok {
		return nil, fmt.Errorf("snmp: decode: unknown PDU type 0x%02x", byte(packet.PDUType))
	}

	pdu := &PDU{
		Kind:      kind,
		Version:   Version(version),
		Community: []byte(packet.Community),
		RequestID: int32(packet.RequestID),
	}
	if kind == KindGetBulk {
		pdu.NonRepeaters = int(packet.NonRepeaters)
		pdu.MaxRepetitions = int(packet.MaxRepetitions)
	} else {
		pdu.ErrorStatus = ErrorStatus(packet.Error)
		pdu.ErrorIndex = int(packet.ErrorIndex)
	}

	pdu.VarBinds = make([]VarBind, 0, len(packet.Variables))
	for _, v := range packet.Variables {
		vb, err := fromGoSNMP(v)
		if err != nil {
			return nil, fmt.Errorf("snmp: decode: %w", err)
		}
		pdu.VarBinds = append(pdu.VarBinds, vb)
	}
	return pdu, nil
}

// Encode marshals pdu. When the result exceeds maxSize the returned
// *TooBigError reports how many leading varbinds would have fit.
func (c *BERCodec) Encode(pdu *PDU, maxSize int) ([]byte, error) {
	packet, err := toPacket(pdu)
	if err != nil {
		return nil, err
	}
	all := packet.Variables

	out, err := packet.MarshalMsg()
	if err != nil {
		return nil, fmt.Errorf("snmp: encode: %w", err)
	}
	if len(out) <= maxSize {
		return out, nil
	}

	// Largest prefix that fits. Encoded size grows with the prefix length,
	// so a binary search over prefixes is exact.
	accepted := sort.Search(len(all)+1, func(n int) bool {
		packet.Variables = all[:n]
		b, err := packet.MarshalMsg()
		return err != nil || len(b) > maxSize
	}) - 1
	if accepted < 0 {
		accepted = 0
	}
	return nil, &TooBigError{Accepted: accepted, Size: len(out), Limit: maxSize}
}

func toPacket(pdu *PDU) (*gosnmp.SnmpPacket, error) {
	pduType, ok := kindToPDUType[pdu.Kind]
	if !ok {
		return nil, fmt.Errorf("snmp: encode: unsupported kind %s", pdu.Kind)
	}
	var version gosnmp.SnmpVersion
	switch pdu.Version {
	case Version1:
		version = gosnmp.Version1
	case Version2c:
		version = gosnmp.Version2c
	default:
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, int(pdu.Version))
	}

	packet := &gosnmp.SnmpPacket{
		Version:   version,
		Community: string(pdu.Community),
		PDUType:   pduType,
		RequestID: uint32(pdu.RequestID),
		Variables: make([]gosnmp.SnmpPDU, 0, len(pdu.VarBinds)),
	}
	if pdu.Kind == KindGetBulk {
		packet.NonRepeaters = clampUint8(pdu.NonRepeaters)
		packet.MaxRepetitions = uint32(max(pdu.MaxRepetitions, 0))
	} else {
		status, index := pdu.ErrorStatus, pdu.ErrorIndex
		// gosnmp carries the error index in one byte. An index it cannot
		// hold would name the wrong varbind, so report genErr instead.
		if index > math.MaxUint8 {
			slog.Warn("error index does not fit the message, sending genErr",
				"status", status, "index", index, "request_id", pdu.RequestID)
			status, index = GenErr, 0
		}
		packet.Error = gosnmp.SNMPError(status)
		packet.ErrorIndex = uint8(max(index, 0))
	}
	for _, vb := range pdu.VarBinds {
		v, err := ToGoSNMP(vb)
		if err != nil {
			return nil, fmt.Errorf("snmp: encode %s: %w", vb.OID, err)
		}
		packet.Variables = append(packet.Variables, v)
	}
	return packet, nil
}

func clampUint8(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}

// ToGoSNMP converts vb to its gosnmp form.
func ToGoSNMP(vb VarBind) (gosnmp.SnmpPDU, error) {
	out := gosnmp.SnmpPDU{
		Name: "." + vb.OID.String(),
		Type: gosnmp.Asn1BER(vb.Value.Syntax),
	}
	v := vb.Value
	switch v.Syntax {
	case SyntaxNull, SyntaxNoSuchObject, SyntaxNoSuchInstance, SyntaxEndOfMibView:
		out.Value = nil
	case SyntaxInteger:
		n, ok := v.Data.(int)
		if !ok {
			return out, fmt.Errorf("integer value has type %T", v.Data)
		}
		out.Value = n
	case SyntaxOctetString, SyntaxOpaque:
		b, ok := v.Data.([]byte)
		if !ok {
			return out, fmt.Errorf("octet string value has type %T", v.Data)
		}
		out.Value = b
	case SyntaxObjectIdentifier:
		oid, ok := v.Data.(OID)
		if !ok {
			return out, fmt.Errorf("object identifier value has type %T", v.Data)
		}
		out.Value = "." + oid.String()
	case SyntaxIPAddress:
		addr, ok := v.Data.(netip.Addr)
		if !ok || !addr.Is4() {
			return out, errors.New("ip address value is not an IPv4 netip.Addr")
		}
		b := addr.As4()
		out.Value = b[:]
	case SyntaxCounter32, SyntaxGauge32, SyntaxTimeTicks:
		n, ok := v.Data.(uint32)
		if !ok {
			return out, fmt.Errorf("32-bit unsigned value has type %T", v.Data)
		}
		out.Value = n
	case SyntaxCounter64:
		n, ok := v.Data.(uint64)
		if !ok {
			return out, fmt.Errorf("counter64 value has type %T", v.Data)
		}
		out.Value = n
	default:
		return out, fmt.Errorf("unsupported syntax 0x%02x", byte(v.Syntax))
	}
	return out, nil
}

func fromGoSNMP(v gosnmp.SnmpPDU) (VarBind, error) {
	oid, err := ParseOID(v.Name)
	if err != nil {
		return VarBind{}, err
	}
	vb := VarBind{OID: oid}
	switch v.Type {
	case gosnmp.Null, gosnmp.UnknownType:
		vb.Value = Null
	case gosnmp.NoSuchObject:
		vb.Value = NoSuchObject
	case gosnmp.NoSuchInstance:
		vb.Value = NoSuchInstance
	case gosnmp.EndOfMibView:
		vb.Value = EndOfMibView
	case gosnmp.Integer:
		n, ok := v.Value.(int)
		if !ok {
			return vb, fmt.Errorf("%s: integer decoded as %T", oid, v.Value)
		}
		vb.Value = Integer(n)
	case gosnmp.OctetString, gosnmp.Opaque, gosnmp.BitString:
		b, _ := v.Value.([]byte)
		vb.Value = Value{Syntax: Syntax(v.Type), Data: b}
		if v.Type == gosnmp.BitString {
			vb.Value.Syntax = SyntaxOctetString
		}
	case gosnmp.ObjectIdentifier:
		s, _ := v.Value.(string)
		target, err := ParseOID(s)
		if err != nil {
			return vb, err
		}
		vb.Value = ObjectIdentifier(target)
	case gosnmp.IPAddress:
		s, _ := v.Value.(string)
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return vb, fmt.Errorf("%s: %w", oid, err)
		}
		vb.Value = IPAddress(addr)
	case gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Uinteger32:
		n, err := toUint32(v.Value)
		if err != nil {
			return vb, fmt.Errorf("%s: %w", oid, err)
		}
		syntax := Syntax(v.Type)
		if v.Type == gosnmp.Uinteger32 {
			syntax = SyntaxGauge32
		}
		vb.Value = Value{Syntax: syntax, Data: n}
	case gosnmp.Counter64:
		n, ok := v.Value.(uint64)
		if !ok {
			return vb, fmt.Errorf("%s: counter64 decoded as %T", oid, v.Value)
		}
		vb.Value = Counter64(n)
	default:
		return vb, fmt.Errorf("%s: unsupported type %s", oid, v.Type)
	}
	return vb, nil
}

func toUint32(v any) (uint32, error) {
	switch n := v.(type) {
	case uint:
		return uint32(n), nil
	case uint32:
		return n, nil
	case uint64:
		return uint32(n), nil
	case int:
		return uint32(n), nil
	}
	return 0, fmt.Errorf("unsigned value decoded as %T", v)
}
