package trap

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/psaab/snmpagentd/pkg/acl"
	"github.com/psaab/snmpagentd/pkg/snmp"
	"github.com/psaab/snmpagentd/pkg/stats"
)

type staticTargets []acl.TrapTarget

func (s staticTargets) TrapTargets() []acl.TrapTarget { return s }

func listen(t *testing.T) (*net.UDPConn, netip.AddrPort) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func receive(t *testing.T, conn *net.UDPConn) *snmp.PDU {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 4096)
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	pdu, err := snmp.NewCodec().Decode(buf[:n])
	require.NoError(t, err)
	return pdu
}

func TestAuthenticationFailure(t *testing.T) {
	conn, addr := listen(t)
	st := stats.New()
	s := New(Config{
		Targets: staticTargets{{Community: "traps", Addr: addr}},
		Stats:   st,
		Start:   time.Now().Add(-3 * time.Second),
	})

	s.AuthenticationFailure(context.Background(), netip.MustParseAddrPort("192.0.2.1:5000"), "bad")

	pdu := receive(t, conn)
	assert.Equal(t, snmp.KindV2Trap, pdu.Kind)
	assert.Equal(t, snmp.Version2c, pdu.Version)
	assert.Equal(t, "traps", string(pdu.Community))
	require.Len(t, pdu.VarBinds, 2)
	assert.True(t, pdu.VarBinds[0].OID.Equal(SysUpTimeOID))
	assert.GreaterOrEqual(t, pdu.VarBinds[0].Value.Data.(uint32), uint32(300))
	assert.True(t, pdu.VarBinds[1].OID.Equal(SnmpTrapOID))
	assert.Equal(t, snmp.ObjectIdentifier(AuthenticationFailureOID), pdu.VarBinds[1].Value)
	assert.Equal(t, uint64(1), st.Value(stats.OutTraps))
}

func TestAuthenticationFailureLogsCommunity(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	// No targets, so the rejection is the only record.
	s := New(Config{})
	s.AuthenticationFailure(context.Background(), netip.MustParseAddrPort("192.0.2.1:5000"), "guess")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "SNMP authentication failure", rec["msg"])
	assert.Equal(t, "guess", rec["community"])
	assert.Equal(t, "192.0.2.1:5000", rec["source"])
}

func TestSendExtraVarBinds(t *testing.T) {
	conn, addr := listen(t)
	s := New(Config{Targets: staticTargets{{Community: "c", Addr: addr}}})

	extra := snmp.VarBind{OID: snmp.MustParseOID("1.3.6.1.2.1.2.2.1.1.3"), Value: snmp.Integer(3)}
	require.NoError(t, s.Send(context.Background(), snmp.MustParseOID("1.3.6.1.6.3.1.1.5.3"), extra))

	pdu := receive(t, conn)
	require.Len(t, pdu.VarBinds, 3)
	assert.Equal(t, extra, pdu.VarBinds[2])
}

func TestRateLimit(t *testing.T) {
	conn, addr := listen(t)
	st := stats.New()
	s := New(Config{
		Targets: staticTargets{{Community: "c", Addr: addr}},
		Stats:   st,
		Rate:    rate.Every(time.Hour),
		Burst:   2,
	})
	for i := 0; i < 5; i++ {
		require.NoError(t, s.ColdStart(context.Background()))
	}
	receive(t, conn)
	receive(t, conn)
	assert.Equal(t, uint64(2), st.Value(stats.OutTraps))
}

func TestNoTargets(t *testing.T) {
	s := New(Config{})
	assert.NoError(t, s.ColdStart(context.Background()))
	s = New(Config{Targets: staticTargets{}})
	assert.NoError(t, s.ColdStart(context.Background()))
}
