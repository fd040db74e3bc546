package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psaab/snmpagentd/pkg/snmp"
	"github.com/psaab/snmpagentd/pkg/stats"
)

func bulkAnswer(n int) (*snmp.PDU, *snmp.PDU) {
	req := request(snmp.KindGetBulk, snmp.Version2c, "1.3.6.1.2.1.1")
	req.MaxRepetitions = n
	vbs := make([]snmp.VarBind, n)
	for i := range vbs {
		vbs[i] = snmp.VarBind{
			OID:   snmp.OID{1, 3, 6, 1, 4, 1, 9999, uint32(i + 1)},
			Value: snmp.String(fmt.Sprintf("value-%02d-padding-padding", i)),
		}
	}
	return req, newResponse(req, vbs)
}

func onlyTooBigFits(p *snmp.PDU, _ int) (int, bool) {
	return 0, p.ErrorStatus == snmp.TooBig && len(p.VarBinds) == 0
}

func TestReducedCount(t *testing.T) {
	tests := []struct {
		accepted, current, want int
	}{
		{0, 10, 5},
		{0, 5, 2},
		{0, 1, 0},
		{1, 10, 1},
		{2, 10, 5},
		{3, 10, 2},
		{7, 10, 6},
		{20, 10, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reducedCount(tt.accepted, tt.current), "accepted=%d current=%d", tt.accepted, tt.current)
	}
}

func TestEncodeReductionConverges(t *testing.T) {
	codec := &fakeCodec{fits: onlyTooBigFits}
	d, st := newTestDispatcher(t, Config{Codec: codec})
	req, resp := bulkAnswer(10)

	out, ok := d.Encode(context.Background(), req, resp, 100)
	require.True(t, ok)
	assert.NotNil(t, out)

	// Unknown accepted count halves the list each time, then gives up.
	assert.Equal(t, []int{10, 5, 2, 1, 0}, codec.attempts)
	assert.Equal(t, []int{100, 68, 68, 68, 100}, codec.limits)

	final := codec.encoded[len(codec.encoded)-1]
	assert.Equal(t, snmp.TooBig, final.ErrorStatus)
	assert.Zero(t, final.ErrorIndex)
	assert.Empty(t, final.VarBinds)
	assert.Equal(t, uint64(1), st.Value(stats.OutTooBigs))
	assert.Equal(t, uint64(1), st.Value(stats.OutGetResponses))
	assert.Zero(t, st.Value(stats.SilentDrops))
}

func TestEncodeReductionUsesAcceptedCount(t *testing.T) {
	codec := &fakeCodec{fits: func(p *snmp.PDU, _ int) (int, bool) {
		if len(p.VarBinds) <= 3 {
			return 0, true
		}
		return 4, false
	}}
	d, _ := newTestDispatcher(t, Config{Codec: codec})
	req, resp := bulkAnswer(10)

	_, ok := d.Encode(context.Background(), req, resp, 200)
	require.True(t, ok)
	assert.Equal(t, []int{10, 3}, codec.attempts)

	final := codec.encoded[0]
	assert.Equal(t, snmp.NoError, final.ErrorStatus)
	assert.Equal(t, resp.VarBinds[:3], final.VarBinds)
	// The answer passed in is left untouched.
	assert.Len(t, resp.VarBinds, 10)
}

func TestEncodeReductionStuck(t *testing.T) {
	codec := &fakeCodec{fits: func(p *snmp.PDU, _ int) (int, bool) {
		if p.ErrorStatus == snmp.TooBig {
			return 0, true
		}
		return 1, false
	}}
	d, _ := newTestDispatcher(t, Config{Codec: codec})
	req, resp := bulkAnswer(10)

	_, ok := d.Encode(context.Background(), req, resp, 200)
	require.True(t, ok)
	assert.Equal(t, []int{10, 1, 0}, codec.attempts)
	assert.Equal(t, snmp.TooBig, codec.encoded[0].ErrorStatus)
}

func TestEncodeNonBulkIsNotReduced(t *testing.T) {
	codec := &fakeCodec{fits: onlyTooBigFits}
	d, st := newTestDispatcher(t, Config{Codec: codec})
	_, resp := bulkAnswer(10)
	req := request(snmp.KindGet, snmp.Version2c, "1.3.6.1.2.1.1.1.0")

	_, ok := d.Encode(context.Background(), req, resp, 100)
	require.True(t, ok)
	assert.Equal(t, []int{10, 0}, codec.attempts)
	assert.Equal(t, uint64(1), st.Value(stats.OutTooBigs))
}

func TestEncodeNoReductionBelowMinimumSize(t *testing.T) {
	codec := &fakeCodec{fits: onlyTooBigFits}
	d, _ := newTestDispatcher(t, Config{Codec: codec})
	req, resp := bulkAnswer(10)

	_, ok := d.Encode(context.Background(), req, resp, minPDUSize)
	require.True(t, ok)
	assert.Equal(t, []int{10, 0}, codec.attempts)
}

func TestEncodeSilentDrop(t *testing.T) {
	codec := &fakeCodec{fits: func(*snmp.PDU, int) (int, bool) { return 0, false }}
	d, st := newTestDispatcher(t, Config{Codec: codec})
	req, resp := bulkAnswer(4)

	out, ok := d.Encode(context.Background(), req, resp, 100)
	assert.False(t, ok)
	assert.Nil(t, out)
	assert.Equal(t, uint64(1), st.Value(stats.SilentDrops))
	assert.Zero(t, st.Value(stats.OutGetResponses))
}

type failingCodec struct{}

func (failingCodec) Decode([]byte) (*snmp.PDU, error) { return nil, errors.New("no") }
func (failingCodec) Encode(*snmp.PDU, int) ([]byte, error) {
	return nil, errors.New("unsupported value")
}

func TestEncodeErrorDropsWithoutCounting(t *testing.T) {
	d, st := newTestDispatcher(t, Config{Codec: failingCodec{}})
	req, resp := bulkAnswer(2)

	_, ok := d.Encode(context.Background(), req, resp, 1000)
	assert.False(t, ok)
	assert.Zero(t, st.Value(stats.SilentDrops))
}

func TestEncodeReductionWithBERCodec(t *testing.T) {
	codec := snmp.NewCodec()
	d, _ := newTestDispatcher(t, Config{Codec: codec})
	req, resp := bulkAnswer(50)

	out, ok := d.Encode(context.Background(), req, resp, 400)
	require.True(t, ok)
	assert.LessOrEqual(t, len(out), 400-minPDUSize)

	got, err := codec.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, snmp.NoError, got.ErrorStatus)
	assert.NotEmpty(t, got.VarBinds)
	assert.Less(t, len(got.VarBinds), 50)
	for i, vb := range got.VarBinds {
		assert.True(t, vb.OID.Equal(resp.VarBinds[i].OID))
	}
}
