package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/psaab/snmpagentd/pkg/snmp"
)

func TestPlanBulk(t *testing.T) {
	tests := []struct {
		name         string
		l, n, m      int
		repCap       int
		slotCap      int
		wantN, wantM int
		wantR, slots int
	}{
		{"five varbinds", 5, 2, 3, 0, 0, 2, 3, 3, 14},
		{"non-repeaters clamped to length", 3, 9, 4, 0, 0, 3, 4, 0, 3},
		{"negative values", 4, -1, -2, 0, 0, 0, 0, 4, 0},
		{"repetitions capped", 2, 1, 100, 10, 0, 1, 10, 1, 11},
		{"empty request", 0, 0, 5, 0, 0, 0, 5, 0, 0},
		{"slots capped", 4, 1, 1000, 0, 31, 1, 10, 3, 31},
		{"slots capped with repetition cap", 3, 0, 1 << 30, 100, 210, 0, 70, 3, 210},
		{"slots keep one repetition", 10, 8, 50, 0, 9, 8, 1, 2, 10},
		{"slot cap ignored without repeaters", 3, 3, 50, 0, 2, 3, 50, 0, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := planBulk(tt.l, tt.n, tt.m, tt.repCap, tt.slotCap)
			assert.Equal(t, tt.wantN, p.n)
			assert.Equal(t, tt.wantM, p.m)
			assert.Equal(t, tt.wantR, p.r)
			assert.Equal(t, tt.slots, p.slots())
		})
	}
}

func TestBulkPlanSlots(t *testing.T) {
	p := planBulk(5, 2, 3, 0, 0)
	// Repeater r of repetition j sits at N + j*R + r.
	assert.Equal(t, 2, p.slot(0, 0))
	assert.Equal(t, 7, p.slot(1, 2))
	assert.Equal(t, 13, p.slot(2, 2))

	want := []int{0, 1, 2, 3, 4, 2, 3, 4, 2, 3, 4, 2, 3, 4}
	for slot, src := range want {
		assert.Equal(t, src, p.source(slot), "slot %d", slot)
	}
}

func TestBulkPlanEntries(t *testing.T) {
	req := request(snmp.KindGetBulk, snmp.Version2c, "1.1", "1.2", "1.3")
	p := planBulk(3, 1, 2, 0, 0)
	entries := p.entries(req.VarBinds)
	if assert.Len(t, entries, 5) {
		for i, e := range entries {
			assert.Equal(t, i, e.Index)
			assert.Equal(t, p.source(i), e.Source)
			assert.True(t, e.VarBind.Value.IsEndOfMibView())
			assert.Equal(t, req.VarBinds[e.Source].OID, e.VarBind.OID)
		}
	}
}

// bulkResult builds a result of n+m*r slots where the first filled slots
// hold values and the rest are endOfMibView.
func bulkResult(slots, filled int) []snmp.VarBind {
	out := make([]snmp.VarBind, slots)
	for i := range out {
		out[i].OID = snmp.OID{1, 3, uint32(i)}
		if i < filled {
			out[i].Value = snmp.Integer(i)
		} else {
			out[i].Value = snmp.EndOfMibView
		}
	}
	return out
}

func TestTrimmedLen(t *testing.T) {
	p := planBulk(5, 2, 4, 0, 0) // N=2 R=3, 14 slots

	tests := []struct {
		name   string
		filled int
		want   int
	}{
		{"only non-repeaters answered (t == N)", 2, 5},
		{"one repeater answered (t == N+1)", 3, 5},
		{"first repetition complete", 5, 5},
		{"second repetition started", 6, 8},
		{"third repetition complete", 11, 11},
		{"untrimmed", 14, 14},
		{"nothing answered", 0, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.trimmedLen(bulkResult(p.slots(), tt.filled)))
		})
	}
}

func TestTrimmedLenNoRepeaters(t *testing.T) {
	p := planBulk(2, 2, 5, 0, 0)
	assert.Equal(t, 2, p.trimmedLen(bulkResult(2, 0)))
}

func TestTrimmedLenZeroRepetitions(t *testing.T) {
	p := planBulk(3, 1, 0, 0, 0)
	assert.Equal(t, 1, p.trimmedLen(bulkResult(p.slots(), 1)))
}

func TestTrimmedLenEndOfMibViewInsideKeptBlock(t *testing.T) {
	p := planBulk(5, 2, 3, 0, 0)
	res := bulkResult(p.slots(), 14)
	// A repeater exhausted early inside a kept repetition stays in place.
	res[6].Value = snmp.EndOfMibView
	for i := 8; i < 14; i++ {
		res[i].Value = snmp.EndOfMibView
	}
	assert.Equal(t, 8, p.trimmedLen(res))
}
