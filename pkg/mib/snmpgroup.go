package mib

import (
	"context"

	"github.com/psaab/snmpagentd/pkg/agent"
	"github.com/psaab/snmpagentd/pkg/snmp"
	"github.com/psaab/snmpagentd/pkg/stats"
)

// SNMPRoot is the snmp group (1.3.6.1.2.1.11).
var SNMPRoot = snmp.MustParseOID("1.3.6.1.2.1.11")

// snmpEnableAuthenTraps arc and values.
const (
	arcEnableAuthenTraps = 30
	authenTrapsEnabled   = 1
	authenTrapsDisabled  = 2
)

// Counters is the read side of the statistics sink.
type Counters interface {
	Value(c stats.Counter) uint64
}

// AuthTrapSwitch toggles authenticationFailure traps.
type AuthTrapSwitch interface {
	AuthTrapEnabled() bool
	SetAuthTrapEnabled(enabled bool)
}

// SNMPGroup exposes the agent's protocol counters as the snmp group.
// snmpEnableAuthenTraps is writable.
type SNMPGroup struct {
	counters Counters
	traps    AuthTrapSwitch
}

// NewSNMPGroup creates the snmp group agent. traps may be nil, in which
// case snmpEnableAuthenTraps is not served.
func NewSNMPGroup(counters Counters, traps AuthTrapSwitch) *SNMPGroup {
	return &SNMPGroup{counters: counters, traps: traps}
}

// Root returns the subtree served by g.
func (g *SNMPGroup) Root() snmp.OID { return SNMPRoot }

func (g *SNMPGroup) view() *view {
	v := &view{}
	for _, c := range stats.All() {
		arc := c.MIBArc()
		if arc == 0 {
			continue
		}
		v.objects = append(v.objects, SNMPRoot.Append(arc))
		v.add(SNMPRoot.Append(arc, 0), snmp.Counter32(uint32(g.counters.Value(c))))
	}
	if g.traps != nil {
		val := authenTrapsDisabled
		if g.traps.AuthTrapEnabled() {
			val = authenTrapsEnabled
		}
		v.objects = append(v.objects, SNMPRoot.Append(arcEnableAuthenTraps))
		v.add(SNMPRoot.Append(arcEnableAuthenTraps, 0), snmp.Integer(val))
	}
	v.sort()
	return v
}

func (g *SNMPGroup) Get(_ context.Context, req *agent.Request) error {
	agent.FillGet(req, g.view())
	return nil
}

func (g *SNMPGroup) GetNext(_ context.Context, req *agent.Request) error {
	agent.FillNext(req, g.view())
	return nil
}

func (g *SNMPGroup) GetBulk(_ context.Context, req *agent.Request) error {
	agent.FillBulk(req, g.view())
	return nil
}

func (g *SNMPGroup) CheckSet(_ context.Context, req *agent.Request) error {
	target := SNMPRoot.Append(arcEnableAuthenTraps, 0)
	for i, e := range req.Entries {
		if g.traps == nil || !e.VarBind.OID.Equal(target) {
			return snmp.NewStatusError(snmp.NotWritable, i)
		}
		if e.VarBind.Value.Syntax != snmp.SyntaxInteger {
			return snmp.NewStatusError(snmp.WrongType, i)
		}
		if n, _ := e.VarBind.Value.Data.(int); n != authenTrapsEnabled && n != authenTrapsDisabled {
			return snmp.NewStatusError(snmp.WrongValue, i)
		}
	}
	return nil
}

func (g *SNMPGroup) CommitSet(_ context.Context, req *agent.Request) error {
	for _, e := range req.Entries {
		n, _ := e.VarBind.Value.Data.(int)
		g.traps.SetAuthTrapEnabled(n == authenTrapsEnabled)
	}
	return nil
}
