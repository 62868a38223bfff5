package timestamp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mkNode(b byte) NodeID {
	var n NodeID
	for i := range n {
		n[i] = b
	}
	return n
}

func TestBytesRoundTrip(t *testing.T) {
	ts := Timestamp{Millis: 123456789, Counter: 7, Node: mkNode(0xAB)}
	raw, err := ts.Bytes()
	require.NoError(t, err)
	require.Len(t, raw, BytesLen)

	got, err := Parse(raw[:])
	require.NoError(t, err)
	require.True(t, Equal(ts, got))
}

// S1 — a literal small timestamp round-trips exactly: no hidden epoch
// offset collapses it into a different value.
func TestBytesRoundTripSmallMillis(t *testing.T) {
	ts := Timestamp{Millis: 100, Counter: 0, Node: mkNode(1)}
	raw, err := ts.Bytes()
	require.NoError(t, err)

	got, err := Parse(raw[:])
	require.NoError(t, err)
	require.Equal(t, ts, got)
}

func TestParseRejectsWrongLength(t *testing.T) {
	_, err := Parse(make([]byte, BytesLen-1))
	require.ErrorIs(t, err, ErrInvalidData)
}

func TestCompareTotalOrder(t *testing.T) {
	a := Timestamp{Millis: 100, Counter: 0, Node: mkNode(1)}
	b := Timestamp{Millis: 100, Counter: 1, Node: mkNode(0)}
	c := Timestamp{Millis: 101, Counter: 0, Node: mkNode(0)}

	require.True(t, Less(a, b))
	require.True(t, Less(b, c))
	require.Equal(t, 0, Compare(a, a))
}

func TestFingerprintAlgebra(t *testing.T) {
	var empty Fingerprint
	require.True(t, empty.IsZero())

	a := Timestamp{Millis: 1000, Counter: 0, Node: mkNode(1)}
	b := Timestamp{Millis: 2000, Counter: 0, Node: mkNode(2)}

	fpA, err := Of(a)
	require.NoError(t, err)
	fpB, err := Of(b)
	require.NoError(t, err)

	combinedAB, err := FoldSet([]Timestamp{a, b})
	require.NoError(t, err)
	combinedBA, err := FoldSet([]Timestamp{b, a})
	require.NoError(t, err)
	require.Equal(t, combinedAB, combinedBA, "fingerprint must be order-independent")
	require.Equal(t, fpA.XOR(fpB), combinedAB)

	emptyFold, err := FoldSet(nil)
	require.NoError(t, err)
	require.Equal(t, empty, emptyFold)

	// XOR is its own inverse.
	require.Equal(t, fpA, combinedAB.XOR(fpB))
}

// TestBytesRoundTripZeroMillis checks that a zero timestamp round-trips to
// exactly zero, rather than being clamped to some baseline value.
func TestBytesRoundTripZeroMillis(t *testing.T) {
	ts := Timestamp{Millis: 0, Counter: 0, Node: mkNode(9)}
	raw, err := ts.Bytes()
	require.NoError(t, err)

	got, err := Parse(raw[:])
	require.NoError(t, err)
	require.Equal(t, uint64(0), got.Millis)
	require.True(t, Equal(ts, got))
}

func TestBytesRejectsOverflowingMillis(t *testing.T) {
	ts := Timestamp{Millis: MaxMillis + 1, Counter: 0, Node: mkNode(9)}
	_, err := ts.Bytes()
	require.ErrorIs(t, err, ErrInvalidData)
}
