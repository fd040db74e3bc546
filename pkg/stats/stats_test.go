package stats

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentInc(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s.Inc(InPkts)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8000), s.Value(InPkts))
}

func TestAddIgnoresNegative(t *testing.T) {
	s := New()
	s.Add(InTotalReqVars, 3)
	s.Add(InTotalReqVars, -5)
	assert.Equal(t, uint64(3), s.Value(InTotalReqVars))
}

func TestCounterNames(t *testing.T) {
	assert.Equal(t, "snmpSilentDrops", SilentDrops.String())
	assert.Equal(t, uint32(31), SilentDrops.MIBArc())
	assert.Equal(t, uint32(0), InBadTypes.MIBArc())
	assert.Equal(t, "unknown", Counter(-1).String())
	assert.Len(t, All(), int(numCounters))
}

func TestCollector(t *testing.T) {
	s := New()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(s))

	s.Inc(InBadCommunityUses)
	s.Inc(InBadCommunityUses)

	expected := `
# HELP snmpagentd_snmp_in_bad_community_uses_total Messages with a community not allowed for the operation.
# TYPE snmpagentd_snmp_in_bad_community_uses_total counter
snmpagentd_snmp_in_bad_community_uses_total 2
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "snmpagentd_snmp_in_bad_community_uses_total")
	assert.NoError(t, err)
	assert.Equal(t, int(numCounters), testutil.CollectAndCount(s))
}
