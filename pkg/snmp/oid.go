package snmp

import (
	"fmt"
	"strconv"
	"strings"
)

// OID is an SNMP object identifier.
type OID []uint32

// ParseOID parses a dotted OID such as "1.3.6.1.2.1.1.1.0". A leading dot
// is accepted.
func ParseOID(s string) (OID, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), ".")
	if s == "" {
		return nil, fmt.Errorf("snmp: empty OID")
	}
	parts := strings.Split(s, ".")
	oid := make(OID, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("snmp: bad OID %q: %w", s, err)
		}
		oid[i] = uint32(v)
	}
	return oid, nil
}

// MustParseOID is like ParseOID but panics on error. Intended for constants.
func MustParseOID(s string) OID {
	oid, err := ParseOID(s)
	if err != nil {
		panic(err)
	}
	return oid
}

// String returns the dotted form without a leading dot.
func (o OID) String() string {
	var b strings.Builder
	for i, v := range o {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	}
	return b.String()
}

// Compare compares two OIDs lexicographically.
// Returns -1 if o < other, 0 if equal, 1 if o > other.
func (o OID) Compare(other OID) int {
	minLen := len(o)
	if len(other) < minLen {
		minLen = len(other)
	}
	for i := 0; i < minLen; i++ {
		if o[i] < other[i] {
			return -1
		}
		if o[i] > other[i] {
			return 1
		}
	}
	if len(o) < len(other) {
		return -1
	}
	if len(o) > len(other) {
		return 1
	}
	return 0
}

// Equal returns true if two OIDs are identical.
func (o OID) Equal(other OID) bool {
	if len(o) != len(other) {
		return false
	}
	for i := range o {
		if o[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix checks if o starts with prefix.
func (o OID) HasPrefix(prefix OID) bool {
	if len(o) < len(prefix) {
		return false
	}
	for i := range prefix {
		if o[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Append returns a new OID with sub appended. The receiver is not modified.
func (o OID) Append(sub ...uint32) OID {
	out := make(OID, 0, len(o)+len(sub))
	out = append(out, o...)
	return append(out, sub...)
}

// Clone returns a copy of o.
func (o OID) Clone() OID {
	if o == nil {
		return nil
	}
	return append(OID(nil), o...)
}
