package mib

import (
	"context"
	"fmt"
	"slices"

	"github.com/psaab/snmpagentd/pkg/agent"
	"github.com/psaab/snmpagentd/pkg/snmp"
)

// OID constants for the interfaces group (1.3.6.1.2.1.2).
var (
	InterfacesRoot = snmp.MustParseOID("1.3.6.1.2.1.2")

	oidIfNumber     = InterfacesRoot.Append(1)
	oidIfTableEntry = InterfacesRoot.Append(2, 1)
	ifTableColumns  = []uint32{1, 2, 3, 4, 5, 6, 7, 8, 10, 11, 13, 14, 16, 17, 19, 20}
)

// ifType values (IANAifType).
const (
	IfTypeOther            = 1
	IfTypeEthernet         = 6
	IfTypeSoftwareLoopback = 24
	IfTypePropVirtual      = 53
	IfTypeTunnel           = 131
	IfTypeL2VLAN           = 135
	IfTypeBridge           = 209
)

// ifAdminStatus / ifOperStatus values.
const (
	IfStatusUp        = 1
	IfStatusDown      = 2
	IfStatusUnknown   = 4
	IfStatusDormant   = 5
	IfStatusLowerDown = 7
)

// IfData represents a single network interface for the ifTable.
type IfData struct {
	IfIndex     int
	IfDescr     string
	IfType      int
	IfMtu       int
	IfSpeed     uint32 // bits per second
	PhysAddress []byte
	AdminStatus int
	OperStatus  int

	// Counter32 columns wrap at 2^32.
	InOctets     uint32
	InUcastPkts  uint32
	InDiscards   uint32
	InErrors     uint32
	OutOctets    uint32
	OutUcastPkts uint32
	OutDiscards  uint32
	OutErrors    uint32
}

func (d *IfData) column(col uint32) (snmp.Value, bool) {
	switch col {
	case 1:
		return snmp.Integer(d.IfIndex), true
	case 2:
		return snmp.String(d.IfDescr), true
	case 3:
		return snmp.Integer(d.IfType), true
	case 4:
		return snmp.Integer(d.IfMtu), true
	case 5:
		return snmp.Gauge32(d.IfSpeed), true
	case 6:
		return snmp.OctetString(d.PhysAddress), true
	case 7:
		return snmp.Integer(d.AdminStatus), true
	case 8:
		return snmp.Integer(d.OperStatus), true
	case 10:
		return snmp.Counter32(d.InOctets), true
	case 11:
		return snmp.Counter32(d.InUcastPkts), true
	case 13:
		return snmp.Counter32(d.InDiscards), true
	case 14:
		return snmp.Counter32(d.InErrors), true
	case 16:
		return snmp.Counter32(d.OutOctets), true
	case 17:
		return snmp.Counter32(d.OutUcastPkts), true
	case 19:
		return snmp.Counter32(d.OutDiscards), true
	case 20:
		return snmp.Counter32(d.OutErrors), true
	}
	return snmp.Value{}, false
}

// IfSource returns the current interfaces.
type IfSource func() ([]IfData, error)

// Interfaces serves ifNumber and the ifTable. It is read-only.
type Interfaces struct {
	agent.ReadOnly
	source IfSource
}

// NewInterfaces creates the interfaces group agent.
func NewInterfaces(source IfSource) *Interfaces {
	return &Interfaces{source: source}
}

// Root returns the subtree served by i.
func (i *Interfaces) Root() snmp.OID { return InterfacesRoot }

func (i *Interfaces) view() (*view, error) {
	ifaces, err := i.source()
	if err != nil {
		return nil, fmt.Errorf("interfaces: %w", err)
	}
	ifaces = slices.Clone(ifaces)
	slices.SortFunc(ifaces, func(a, b IfData) int { return a.IfIndex - b.IfIndex })

	v := &view{vbs: make([]snmp.VarBind, 0, 1+len(ifaces)*len(ifTableColumns))}
	v.add(oidIfNumber.Append(0), snmp.Integer(len(ifaces)))
	v.objects = append(v.objects, oidIfNumber)
	// Column-major order is already lexicographic.
	for _, col := range ifTableColumns {
		v.objects = append(v.objects, oidIfTableEntry.Append(col))
		for k := range ifaces {
			val, _ := ifaces[k].column(col)
			v.add(oidIfTableEntry.Append(col, uint32(ifaces[k].IfIndex)), val)
		}
	}
	return v, nil
}

func (i *Interfaces) Get(_ context.Context, req *agent.Request) error {
	v, err := i.view()
	if err != nil {
		return err
	}
	agent.FillGet(req, v)
	return nil
}

func (i *Interfaces) GetNext(_ context.Context, req *agent.Request) error {
	v, err := i.view()
	if err != nil {
		return err
	}
	agent.FillNext(req, v)
	return nil
}

func (i *Interfaces) GetBulk(_ context.Context, req *agent.Request) error {
	v, err := i.view()
	if err != nil {
		return err
	}
	agent.FillBulk(req, v)
	return nil
}
