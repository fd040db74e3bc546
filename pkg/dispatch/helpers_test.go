package dispatch

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/psaab/snmpagentd/pkg/agent"
	"github.com/psaab/snmpagentd/pkg/snmp"
	"github.com/psaab/snmpagentd/pkg/stats"
)

func oid(s string) snmp.OID { return snmp.MustParseOID(s) }

// mibAgent is a map-backed agent over a sorted varbind list.
type mibAgent struct {
	vbs []snmp.VarBind

	checkErr  error
	commitErr error
	readErr   error
	panicMsg  string

	calls   int
	checks  int
	commits int
	seen    [][]agent.Entry
}

func newMIBAgent(vbs ...snmp.VarBind) *mibAgent {
	return &mibAgent{vbs: vbs}
}

func (m *mibAgent) Lookup(o snmp.OID) snmp.Value {
	for _, vb := range m.vbs {
		if vb.OID.Equal(o) {
			return vb.Value
		}
	}
	return snmp.NoSuchObject
}

func (m *mibAgent) Next(o snmp.OID) (snmp.VarBind, bool) {
	for _, vb := range m.vbs {
		if vb.OID.Compare(o) > 0 {
			return vb, true
		}
	}
	return snmp.VarBind{}, false
}

func (m *mibAgent) read(req *agent.Request, fill func(*agent.Request, agent.Walker)) error {
	m.calls++
	m.seen = append(m.seen, append([]agent.Entry(nil), req.Entries...))
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.readErr != nil {
		return m.readErr
	}
	fill(req, m)
	return nil
}

func (m *mibAgent) Get(_ context.Context, req *agent.Request) error {
	return m.read(req, agent.FillGet)
}

func (m *mibAgent) GetNext(_ context.Context, req *agent.Request) error {
	return m.read(req, agent.FillNext)
}

func (m *mibAgent) GetBulk(_ context.Context, req *agent.Request) error {
	return m.read(req, agent.FillBulk)
}

func (m *mibAgent) CheckSet(_ context.Context, req *agent.Request) error {
	m.checks++
	m.seen = append(m.seen, append([]agent.Entry(nil), req.Entries...))
	return m.checkErr
}

func (m *mibAgent) CommitSet(_ context.Context, req *agent.Request) error {
	m.commits++
	if m.commitErr != nil {
		return m.commitErr
	}
	for _, e := range req.Entries {
		for i := range m.vbs {
			if m.vbs[i].OID.Equal(e.VarBind.OID) {
				m.vbs[i].Value = e.VarBind.Value
			}
		}
	}
	return nil
}

type fakeACL struct {
	allow       bool
	communities map[string]bool
}

func (a *fakeACL) CheckPermission(netip.Addr, string, snmp.Kind) bool { return a.allow }
func (a *fakeACL) CheckCommunity(c string) bool                       { return a.communities[c] }

type fakeTraps struct {
	sources []netip.AddrPort
}

func (f *fakeTraps) AuthenticationFailure(_ context.Context, source netip.AddrPort, _ string) {
	f.sources = append(f.sources, source)
}

// fakeCodec records every encode attempt. fits decides whether a PDU fits
// and, if not, how many varbinds were accepted.
type fakeCodec struct {
	fits     func(p *snmp.PDU, maxSize int) (int, bool)
	attempts []int
	limits   []int
	encoded  []*snmp.PDU
}

func (c *fakeCodec) Decode([]byte) (*snmp.PDU, error) {
	return nil, errors.New("fake codec cannot decode")
}

func (c *fakeCodec) Encode(p *snmp.PDU, maxSize int) ([]byte, error) {
	c.attempts = append(c.attempts, len(p.VarBinds))
	c.limits = append(c.limits, maxSize)
	accepted, ok := c.fits(p, maxSize)
	if !ok {
		return nil, &snmp.TooBigError{Accepted: accepted, Size: maxSize + 1, Limit: maxSize}
	}
	cp := *p
	c.encoded = append(c.encoded, &cp)
	return []byte{byte(len(p.VarBinds))}, nil
}

type registered struct {
	name string
	root string
	h    agent.Handler
}

func newTestDispatcher(t *testing.T, cfg Config, agents ...registered) (*Dispatcher, *stats.Set) {
	t.Helper()
	reg := agent.NewRegistry()
	for _, a := range agents {
		_, err := reg.Register(a.name, oid(a.root), a.h)
		require.NoError(t, err)
	}
	st := stats.New()
	cfg.Registry = reg
	cfg.Stats = st
	if cfg.Codec == nil {
		cfg.Codec = snmp.NewCodec()
	}
	d, err := New(cfg)
	require.NoError(t, err)
	return d, st
}

func request(kind snmp.Kind, version snmp.Version, oids ...string) *snmp.PDU {
	req := &snmp.PDU{
		Kind:      kind,
		Version:   version,
		Community: []byte("public"),
		RequestID: 42,
		Source:    netip.MustParseAddrPort("192.0.2.10:40000"),
	}
	for _, o := range oids {
		req.VarBinds = append(req.VarBinds, snmp.VarBind{OID: oid(o), Value: snmp.Null})
	}
	return req
}

// Sample subtrees used across tests.
const (
	sysRoot = "1.3.6.1.2.1.1"
	ifRoot  = "1.3.6.1.2.1.2"
	entRoot = "1.3.6.1.4.1"
)

func sysAgent() *mibAgent {
	return newMIBAgent(
		snmp.VarBind{OID: oid("1.3.6.1.2.1.1.1.0"), Value: snmp.String("descr")},
		snmp.VarBind{OID: oid("1.3.6.1.2.1.1.5.0"), Value: snmp.String("name")},
	)
}

func ifAgent() *mibAgent {
	return newMIBAgent(
		snmp.VarBind{OID: oid("1.3.6.1.2.1.2.1.0"), Value: snmp.Integer(2)},
		snmp.VarBind{OID: oid("1.3.6.1.2.1.2.2.1.1.1"), Value: snmp.Integer(1)},
		snmp.VarBind{OID: oid("1.3.6.1.2.1.2.2.1.1.2"), Value: snmp.Integer(2)},
	)
}

func entAgent() *mibAgent {
	return newMIBAgent(
		snmp.VarBind{OID: oid("1.3.6.1.4.1.9999.1.0"), Value: snmp.String("x")},
		snmp.VarBind{OID: oid("1.3.6.1.4.1.9999.2.0"), Value: snmp.Integer(7)},
	)
}
