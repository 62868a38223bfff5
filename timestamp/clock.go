// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package timestamp

import (
	"fmt"
	"sync"
	"time"
)

// WallClock is the external wall-clock-in-milliseconds collaborator named
// in spec §6 ("Time source: wall clock in milliseconds, monotone but not
// required to be strictly monotonic"). SystemClock is the production
// implementation; tests supply a fake.
type WallClock interface {
	NowMilli() uint64
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// NowMilli implements WallClock.
func (SystemClock) NowMilli() uint64 {
	return uint64(time.Now().UnixMilli())
}

// ErrClockDrift is raised when the wall clock has fallen too far behind a
// previously observed timestamp (§4.2, §7).
var ErrClockDrift = fmt.Errorf("timestamp: clock drift exceeds max allowed drift")

// ErrCounterOverflow is raised when advancing the clock within the same
// millisecond would exceed MaxCounter (§4.2, §7).
var ErrCounterOverflow = fmt.Errorf("timestamp: counter overflow")

// Clock is a single node's hybrid logical clock. It is safe for concurrent
// use; every owner gets its own Clock instance (§5: a single owner's
// exchange is serialized, but a process may host many owners in
// parallel).
type Clock struct {
	mu      sync.Mutex
	wall    WallClock
	node    NodeID
	last    Timestamp
	maxDrift uint64
}

// NewClock builds a Clock for node, seeded with the last known Timestamp
// (the zero value if this is a brand new replica). maxDriftMs of 0 selects
// DefaultMaxDriftMs.
func NewClock(wall WallClock, node NodeID, last Timestamp, maxDriftMs uint64) *Clock {
	if maxDriftMs == 0 {
		maxDriftMs = DefaultMaxDriftMs
	}
	return &Clock{
		wall:     wall,
		node:     node,
		last:     last,
		maxDrift: maxDriftMs,
	}
}

// Send advances the clock and returns a new local Timestamp, implementing
// the hybrid logical clock send rule from §4.2:
//
//	millis  = max(now, prev.millis)
//	counter = prev.counter + 1 if millis == prev.millis else 0
//
// It fails with ErrClockDrift if the previous timestamp is more than
// maxDriftMs ahead of the wall clock, and ErrCounterOverflow if the
// counter would exceed MaxCounter.
func (c *Clock) Send() (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.wall.NowMilli()

	if c.last.Millis > now && c.last.Millis-now > c.maxDrift {
		return Timestamp{}, fmt.Errorf("%w: last=%d now=%d maxDrift=%d", ErrClockDrift, c.last.Millis, now, c.maxDrift)
	}

	millis := now
	if c.last.Millis > millis {
		millis = c.last.Millis
	}

	var counter uint32
	if millis == c.last.Millis {
		counter = c.last.Counter + 1
	}

	if uint64(counter) > uint64(MaxCounter) {
		return Timestamp{}, fmt.Errorf("%w: counter=%d max=%d", ErrCounterOverflow, counter, MaxCounter)
	}

	next := Timestamp{Millis: millis, Counter: counter, Node: c.node}
	c.last = next
	return next, nil
}

// Receive merges an externally-observed Timestamp into the clock so a
// subsequent Send never regresses behind it (standard HLC receive rule:
// the local clock only ever moves forward).
func (c *Clock) Receive(remote Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if Less(c.last, remote) {
		c.last = remote
	}
}

// Last returns the most recently produced or observed Timestamp.
func (c *Clock) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
