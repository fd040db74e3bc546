package snmp

import (
	"errors"
	"fmt"
)

// ErrorStatus is the error-status field of a response PDU.
type ErrorStatus int

// SNMP error codes (RFC 1157, RFC 3416).
const (
	NoError             ErrorStatus = 0
	TooBig              ErrorStatus = 1
	NoSuchName          ErrorStatus = 2
	BadValue            ErrorStatus = 3
	ReadOnly            ErrorStatus = 4
	GenErr              ErrorStatus = 5
	NoAccess            ErrorStatus = 6
	WrongType           ErrorStatus = 7
	WrongLength         ErrorStatus = 8
	WrongEncoding       ErrorStatus = 9
	WrongValue          ErrorStatus = 10
	NoCreation          ErrorStatus = 11
	InconsistentValue   ErrorStatus = 12
	ResourceUnavailable ErrorStatus = 13
	CommitFailed        ErrorStatus = 14
	UndoFailed          ErrorStatus = 15
	AuthorizationError  ErrorStatus = 16
	NotWritable         ErrorStatus = 17
	InconsistentName    ErrorStatus = 18
)

var statusNames = [...]string{
	"noError", "tooBig", "noSuchName", "badValue", "readOnly", "genErr",
	"noAccess", "wrongType", "wrongLength", "wrongEncoding", "wrongValue",
	"noCreation", "inconsistentValue", "resourceUnavailable", "commitFailed",
	"undoFailed", "authorizationError", "notWritable", "inconsistentName",
}

func (s ErrorStatus) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ErrBadVersion is returned by Decode for messages that are neither v1 nor
// v2c.
var ErrBadVersion = errors.New("snmp: unsupported version")

// StatusError is returned by MIB handlers to report an SNMP error for one
// of the entries they were given. Index is relative to the handler's entry
// list (0-based).
type StatusError struct {
	Status ErrorStatus
	Index  int
}

// NewStatusError returns a *StatusError for the entry at index.
func NewStatusError(status ErrorStatus, index int) *StatusError {
	return &StatusError{Status: status, Index: index}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("snmp: %s at entry %d", e.Status, e.Index)
}

// TooBigError is returned by Codec.Encode when the encoded message would
// exceed the size limit. Accepted is the number of varbinds that fit; zero
// means unknown.
type TooBigError struct {
	Accepted int
	Size     int
	Limit    int
}

func (e *TooBigError) Error() string {
	return fmt.Sprintf("snmp: message too big (%d > %d bytes, %d varbinds fit)", e.Size, e.Limit, e.Accepted)
}

// MapErrorStatus converts a status reported by a MIB handler into one the
// requesting manager understands. v1 managers only know the RFC 1157
// statuses (RFC 2576 section 4.3); v2c managers do not expect the v1-only
// readOnly/badValue/noSuchName from a Set.
func MapErrorStatus(status ErrorStatus, version Version, kind Kind) ErrorStatus {
	if status == NoError {
		return NoError
	}
	if version == Version1 {
		switch status {
		case TooBig, NoSuchName, BadValue, ReadOnly, GenErr:
			return status
		case WrongValue, WrongEncoding, WrongType, WrongLength, InconsistentValue:
			return BadValue
		case NoAccess, NotWritable, NoCreation, InconsistentName, AuthorizationError:
			return NoSuchName
		default:
			return GenErr
		}
	}
	switch status {
	case BadValue:
		return WrongValue
	case ReadOnly:
		return NotWritable
	case NoSuchName:
		if kind == KindSet {
			return NotWritable
		}
		return GenErr
	}
	if status > InconsistentName || status < NoError {
		return GenErr
	}
	return status
}
