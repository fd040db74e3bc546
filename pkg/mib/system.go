package mib

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/psaab/snmpagentd/pkg/agent"
	"github.com/psaab/snmpagentd/pkg/snmp"
)

// OID constants for the system MIB group (1.3.6.1.2.1.1).
var (
	SystemRoot = snmp.MustParseOID("1.3.6.1.2.1.1")

	oidSysDescr    = SystemRoot.Append(1)
	oidSysObjectID = SystemRoot.Append(2)
	oidSysUpTime   = SystemRoot.Append(3)
	oidSysContact  = SystemRoot.Append(4)
	oidSysName     = SystemRoot.Append(5)
	oidSysLocation = SystemRoot.Append(6)
	oidSysServices = SystemRoot.Append(7)

	// DefaultObjectID is reported as sysObjectID unless configured.
	DefaultObjectID = snmp.MustParseOID("1.3.6.1.4.1.99999.1")
)

// sysServices: internet (4) and end-to-end (8) layers.
const sysServices = 72

// maxDisplayString is the SIZE bound of DisplayString.
const maxDisplayString = 255

// SystemConfig holds the initial values of the system group. Empty
// fields get defaults from the host.
type SystemConfig struct {
	Description string
	ObjectID    snmp.OID
	Contact     string
	Name        string
	Location    string
}

// System serves the system group. sysContact, sysName and sysLocation are
// writable; the values live in memory.
type System struct {
	start    time.Time
	descr    string
	objectID snmp.OID

	mu       sync.RWMutex
	contact  string
	name     string
	location string
}

// NewSystem creates the system group agent.
func NewSystem(cfg SystemConfig) *System {
	s := &System{
		start:    time.Now(),
		descr:    cfg.Description,
		objectID: cfg.ObjectID,
		contact:  cfg.Contact,
		name:     cfg.Name,
		location: cfg.Location,
	}
	if s.descr == "" {
		s.descr = hostDescription()
	}
	if len(s.objectID) == 0 {
		s.objectID = DefaultObjectID
	}
	if s.name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		s.name = hostname
	}
	return s
}

// hostDescription builds sysDescr from uname.
func hostDescription() string {
	desc := "snmpagentd"
	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		sysname := strings.TrimRight(string(uts.Sysname[:]), "\x00")
		release := strings.TrimRight(string(uts.Release[:]), "\x00")
		machine := strings.TrimRight(string(uts.Machine[:]), "\x00")
		desc += " " + sysname + " " + release + " " + machine
	}
	return desc
}

// Root returns the subtree served by s.
func (s *System) Root() snmp.OID { return SystemRoot }

// Start returns the time sysUpTime counts from.
func (s *System) Start() time.Time { return s.start }

func (s *System) view() *view {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := &view{}
	v.add(oidSysDescr.Append(0), snmp.String(s.descr))
	v.add(oidSysObjectID.Append(0), snmp.ObjectIdentifier(s.objectID))
	v.add(oidSysUpTime.Append(0), snmp.TimeTicks(snmp.Uptime(s.start)))
	v.add(oidSysContact.Append(0), snmp.String(s.contact))
	v.add(oidSysName.Append(0), snmp.String(s.name))
	v.add(oidSysLocation.Append(0), snmp.String(s.location))
	v.add(oidSysServices.Append(0), snmp.Integer(sysServices))
	v.objects = []snmp.OID{
		oidSysDescr, oidSysObjectID, oidSysUpTime, oidSysContact,
		oidSysName, oidSysLocation, oidSysServices,
	}
	return v
}

func (s *System) Get(_ context.Context, req *agent.Request) error {
	agent.FillGet(req, s.view())
	return nil
}

func (s *System) GetNext(_ context.Context, req *agent.Request) error {
	agent.FillNext(req, s.view())
	return nil
}

func (s *System) GetBulk(_ context.Context, req *agent.Request) error {
	agent.FillBulk(req, s.view())
	return nil
}

// writableField returns the field an instance OID sets, or nil.
func (s *System) writableField(oid snmp.OID) *string {
	switch {
	case oid.Equal(oidSysContact.Append(0)):
		return &s.contact
	case oid.Equal(oidSysName.Append(0)):
		return &s.name
	case oid.Equal(oidSysLocation.Append(0)):
		return &s.location
	}
	return nil
}

func (s *System) CheckSet(_ context.Context, req *agent.Request) error {
	for i, e := range req.Entries {
		if s.writableField(e.VarBind.OID) == nil {
			for _, obj := range []snmp.OID{oidSysContact, oidSysName, oidSysLocation} {
				if e.VarBind.OID.HasPrefix(obj) {
					return snmp.NewStatusError(snmp.NoCreation, i)
				}
			}
			return snmp.NewStatusError(snmp.NotWritable, i)
		}
		if e.VarBind.Value.Syntax != snmp.SyntaxOctetString {
			return snmp.NewStatusError(snmp.WrongType, i)
		}
		b, _ := e.VarBind.Value.Data.([]byte)
		if len(b) > maxDisplayString {
			return snmp.NewStatusError(snmp.WrongLength, i)
		}
	}
	return nil
}

func (s *System) CommitSet(_ context.Context, req *agent.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range req.Entries {
		if f := s.writableField(e.VarBind.OID); f != nil {
			b, _ := e.VarBind.Value.Data.([]byte)
			*f = string(b)
		}
	}
	return nil
}
