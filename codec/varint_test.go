package codec

import (
	"testing"

	"github.com/dblokhin/relaysync/buffer"
	"github.com/stretchr/testify/require"
)

func TestVarUintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40, ^uint64(0) >> 8}
	for _, v := range cases {
		buf := buffer.New()
		EncodeVarUint(buf, v)
		require.Equal(t, VarUintLen(v), buf.Size())

		got, err := DecodeVarUint(buffer.NewFromBytes(buf.Bytes()))
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestVarUintZeroIsSingleByte(t *testing.T) {
	buf := buffer.New()
	EncodeVarUint(buf, 0)
	require.Equal(t, []byte{0x00}, buf.Bytes())
}

func TestVarUintRejectsOverlongEncoding(t *testing.T) {
	// 9 continuation bytes, never terminating within the 8-byte budget.
	raw := make([]byte, 9)
	for i := range raw {
		raw[i] = 0x80
	}
	_, err := DecodeVarUint(buffer.NewFromBytes(raw))
	require.ErrorIs(t, err, ErrInvalidData)
}

func TestDecodeBytesRoundTrip(t *testing.T) {
	buf := buffer.New()
	payload := []byte("hello world")
	EncodeBytes(buf, payload)

	got, err := DecodeBytes(buffer.NewFromBytes(buf.Bytes()), 0)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDecodeBytesRejectsOverMax(t *testing.T) {
	buf := buffer.New()
	EncodeBytes(buf, []byte("0123456789"))

	_, err := DecodeBytes(buffer.NewFromBytes(buf.Bytes()), 5)
	require.ErrorIs(t, err, ErrInvalidData)
}
