package snmp

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	c := NewCodec()
	req := &PDU{
		Kind:      KindSet,
		Version:   Version2c,
		Community: []byte("private"),
		RequestID: 4242,
		VarBinds: []VarBind{
			{OID: MustParseOID("1.3.6.1.2.1.1.5.0"), Value: String("router1")},
			{OID: MustParseOID("1.3.6.1.4.1.99999.1.1"), Value: Integer(-7)},
			{OID: MustParseOID("1.3.6.1.4.1.99999.1.2"), Value: Counter32(123456)},
			{OID: MustParseOID("1.3.6.1.4.1.99999.1.3"), Value: TimeTicks(100)},
			{OID: MustParseOID("1.3.6.1.4.1.99999.1.4"), Value: ObjectIdentifier(MustParseOID("1.3.6.1.4.1.99999"))},
			{OID: MustParseOID("1.3.6.1.4.1.99999.1.5"), Value: IPAddress(netip.MustParseAddr("192.0.2.1"))},
			{OID: MustParseOID("1.3.6.1.4.1.99999.1.6"), Value: Counter64(1 << 40)},
		},
	}

	data, err := c.Encode(req, 1500)
	require.NoError(t, err)

	got, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindSet, got.Kind)
	assert.Equal(t, Version2c, got.Version)
	assert.Equal(t, []byte("private"), got.Community)
	assert.Equal(t, int32(4242), got.RequestID)
	require.Len(t, got.VarBinds, len(req.VarBinds))
	for i, vb := range got.VarBinds {
		assert.True(t, vb.OID.Equal(req.VarBinds[i].OID), "oid %d", i)
		assert.Equal(t, req.VarBinds[i].Value.Syntax, vb.Value.Syntax, "syntax %d", i)
	}
	assert.Equal(t, []byte("router1"), got.VarBinds[0].Value.Data)
	assert.Equal(t, -7, got.VarBinds[1].Value.Data)
	assert.Equal(t, uint32(123456), got.VarBinds[2].Value.Data)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), got.VarBinds[5].Value.Data)
	assert.Equal(t, uint64(1<<40), got.VarBinds[6].Value.Data)
}

func TestCodecGetBulkFields(t *testing.T) {
	c := NewCodec()
	req := &PDU{
		Kind:           KindGetBulk,
		Version:        Version2c,
		Community:      []byte("public"),
		RequestID:      1,
		NonRepeaters:   1,
		MaxRepetitions: 10,
		VarBinds: []VarBind{
			{OID: MustParseOID("1.3.6.1.2.1.1"), Value: Null},
			{OID: MustParseOID("1.3.6.1.2.1.2.2.1.2"), Value: Null},
		},
	}
	data, err := c.Encode(req, 1500)
	require.NoError(t, err)
	got, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindGetBulk, got.Kind)
	assert.Equal(t, 1, got.NonRepeaters)
	assert.Equal(t, 10, got.MaxRepetitions)
	assert.Equal(t, SyntaxNull, got.VarBinds[0].Value.Syntax)
}

func TestCodecExceptionValues(t *testing.T) {
	c := NewCodec()
	resp := &PDU{
		Kind:      KindResponse,
		Version:   Version2c,
		Community: []byte("public"),
		VarBinds: []VarBind{
			{OID: MustParseOID("1.3.6.1.2.1.1.1.0"), Value: NoSuchObject},
			{OID: MustParseOID("1.3.6.1.2.1.1.2.0"), Value: NoSuchInstance},
			{OID: MustParseOID("1.3.6.1.2.1.1.3.0"), Value: EndOfMibView},
		},
	}
	data, err := c.Encode(resp, 1500)
	require.NoError(t, err)
	got, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, SyntaxNoSuchObject, got.VarBinds[0].Value.Syntax)
	assert.Equal(t, SyntaxNoSuchInstance, got.VarBinds[1].Value.Syntax)
	assert.True(t, got.VarBinds[2].Value.IsEndOfMibView())
}

func TestCodecTooBigReportsAccepted(t *testing.T) {
	c := NewCodec()
	resp := &PDU{
		Kind:      KindResponse,
		Version:   Version2c,
		Community: []byte("public"),
	}
	for i := 0; i < 50; i++ {
		resp.VarBinds = append(resp.VarBinds, VarBind{
			OID:   MustParseOID(fmt.Sprintf("1.3.6.1.4.1.99999.1.%d", i)),
			Value: String("0123456789012345678901234567890123456789"),
		})
	}
	full, err := c.Encode(resp, 65535)
	require.NoError(t, err)

	limit := len(full) / 2
	_, err = c.Encode(resp, limit)
	var tb *TooBigError
	require.True(t, errors.As(err, &tb), "err = %v", err)
	assert.Equal(t, len(full), tb.Size)
	assert.Equal(t, limit, tb.Limit)
	require.Greater(t, tb.Accepted, 0)
	require.Less(t, tb.Accepted, len(resp.VarBinds))

	// The reported prefix fits, one more does not.
	fit := *resp
	fit.VarBinds = resp.VarBinds[:tb.Accepted]
	_, err = c.Encode(&fit, limit)
	assert.NoError(t, err)
	fit.VarBinds = resp.VarBinds[:tb.Accepted+1]
	_, err = c.Encode(&fit, limit)
	assert.Error(t, err)
}

func TestCodecTooBigEvenEmpty(t *testing.T) {
	resp := &PDU{Kind: KindResponse, Version: Version1, Community: []byte("public"),
		VarBinds: []VarBind{{OID: MustParseOID("1.3.6.1"), Value: Null}}}
	_, err := NewCodec().Encode(resp, 8)
	var tb *TooBigError
	require.True(t, errors.As(err, &tb))
	assert.Equal(t, 0, tb.Accepted)
}

func TestCodecErrorIndexBeyondOneByte(t *testing.T) {
	vbs := make([]VarBind, 300)
	for i := range vbs {
		vbs[i] = VarBind{OID: OID{1, 3, 6, 1, 4, 1, uint32(i)}, Value: Null}
	}
	codec := NewCodec()

	tests := []struct {
		index      int
		wantStatus ErrorStatus
		wantIndex  int
	}{
		{255, NoSuchName, 255},
		{256, GenErr, 0},
		{300, GenErr, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.index), func(t *testing.T) {
			resp := &PDU{Kind: KindResponse, Version: Version1, Community: []byte("public"),
				RequestID: 9, ErrorStatus: NoSuchName, ErrorIndex: tt.index, VarBinds: vbs}
			out, err := codec.Encode(resp, 65507)
			require.NoError(t, err)
			got, err := codec.Decode(out)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.ErrorStatus)
			assert.Equal(t, tt.wantIndex, got.ErrorIndex)
			assert.Len(t, got.VarBinds, len(vbs))
		})
	}
}

func TestCodecRejectsBadValue(t *testing.T) {
	resp := &PDU{Kind: KindResponse, Version: Version2c, Community: []byte("public"),
		VarBinds: []VarBind{{OID: MustParseOID("1.3.6.1"), Value: Value{Syntax: SyntaxInteger, Data: "nope"}}}}
	_, err := NewCodec().Encode(resp, 1500)
	require.Error(t, err)
	var tb *TooBigError
	assert.False(t, errors.As(err, &tb))
}

func TestCodecDecodeGarbage(t *testing.T) {
	_, err := NewCodec().Decode([]byte{0xde, 0xad, 0xbe, 0xef})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrBadVersion))
}
