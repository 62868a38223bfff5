package timestamp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ ms uint64 }

func (f *fakeClock) NowMilli() uint64 { return f.ms }

func TestClockSendMonotonic(t *testing.T) {
	wall := &fakeClock{ms: 1000}
	c := NewClock(wall, mkNode(1), Timestamp{}, 0)

	first, err := c.Send()
	require.NoError(t, err)

	second, err := c.Send()
	require.NoError(t, err)

	require.True(t, Less(first, second))
	require.Equal(t, first.Millis, second.Millis)
	require.Equal(t, first.Counter+1, second.Counter)
}

func TestClockSendAdvancesWithWallClock(t *testing.T) {
	wall := &fakeClock{ms: 1000}
	c := NewClock(wall, mkNode(1), Timestamp{}, 0)

	_, err := c.Send()
	require.NoError(t, err)

	wall.ms = 2000
	next, err := c.Send()
	require.NoError(t, err)
	require.Equal(t, uint64(2000), next.Millis)
	require.Equal(t, uint32(0), next.Counter)
}

func TestClockCounterOverflow(t *testing.T) {
	wall := &fakeClock{ms: 1000}
	last := Timestamp{Millis: 1000, Counter: MaxCounter, Node: mkNode(1)}
	c := NewClock(wall, mkNode(1), last, 0)

	_, err := c.Send()
	require.ErrorIs(t, err, ErrCounterOverflow)
}

func TestClockDrift(t *testing.T) {
	wall := &fakeClock{ms: 1000}
	last := Timestamp{Millis: 1000 + DefaultMaxDriftMs + 1, Counter: 0, Node: mkNode(1)}
	c := NewClock(wall, mkNode(1), last, 0)

	_, err := c.Send()
	require.ErrorIs(t, err, ErrClockDrift)
}

func TestClockReceiveNeverRegresses(t *testing.T) {
	wall := &fakeClock{ms: 1000}
	c := NewClock(wall, mkNode(1), Timestamp{}, 0)

	remote := Timestamp{Millis: 5000, Counter: 3, Node: mkNode(2)}
	c.Receive(remote)
	require.Equal(t, remote, c.Last())

	next, err := c.Send()
	require.NoError(t, err)
	require.True(t, Less(remote, next))
	require.Equal(t, uint64(5000), next.Millis)
}
