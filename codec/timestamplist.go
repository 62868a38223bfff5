// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package codec

import (
	"fmt"

	"github.com/dblokhin/relaysync/buffer"
	"github.com/dblokhin/relaysync/timestamp"
)

// EncodeTimestampList writes ts as: count (VarUInt), delta-encoded millis
// (VarUInt deltas from 0), RLE pairs of (counter, run-length) covering
// count items, then RLE pairs of (node_id, run-length) covering count
// items (§4.1). ts must already be sorted ascending; this is the layering
// that gives near-optimal compression for bursty writes from few nodes.
func EncodeTimestampList(buf *buffer.Buffer, ts []timestamp.Timestamp) {
	EncodeVarUint(buf, uint64(len(ts)))

	var prevMillis uint64
	for _, t := range ts {
		EncodeVarUint(buf, t.Millis-prevMillis)
		prevMillis = t.Millis
	}

	counters := NewRunLengthEncoder(buf, EncodeVarUint)
	for _, t := range ts {
		counters.Push(uint64(t.Counter))
	}
	counters.Finish()

	nodes := NewRunLengthEncoder(buf, writeNodeIDValue)
	for _, t := range ts {
		nodes.Push(nodeIDToUint64(t.Node))
	}
	nodes.Finish()
}

// TimestampListLen returns the exact number of bytes EncodeTimestampList
// would emit. The message builder uses a cheap conservative estimate
// instead during incremental assembly (see protocol package); this exact
// form is used by tests and by final unwrap-time accounting.
func TimestampListLen(ts []timestamp.Timestamp) int {
	scratch := buffer.New()
	EncodeTimestampList(scratch, ts)
	return scratch.Size()
}

// maxTimestampListCount bounds DecodeTimestampList against a peer
// claiming an absurd count before any bytes back it up.
const maxTimestampListCount = 10_000_000

// DecodeTimestampList reads back a timestamp list written by
// EncodeTimestampList.
func DecodeTimestampList(buf *buffer.Buffer) ([]timestamp.Timestamp, error) {
	count, err := DecodeVarUint(buf)
	if err != nil {
		return nil, fmt.Errorf("timestamp list count: %w", err)
	}
	if count > maxTimestampListCount {
		return nil, fmt.Errorf("%w: timestamp list count %d too large", ErrInvalidData, count)
	}

	millis := make([]uint64, count)
	var prev uint64
	for i := range millis {
		delta, err := DecodeVarUint(buf)
		if err != nil {
			return nil, fmt.Errorf("timestamp list millis[%d]: %w", i, err)
		}
		prev += delta
		millis[i] = prev
	}

	counters := make([]uint32, count)
	idx := 0
	if err := DecodeRuns(buf, int(count), DecodeVarUint, func(v uint64) {
		counters[idx] = uint32(v)
		idx++
	}); err != nil {
		return nil, fmt.Errorf("timestamp list counters: %w", err)
	}

	nodes := make([]timestamp.NodeID, count)
	idx = 0
	if err := DecodeRuns(buf, int(count), readNodeIDValue, func(v uint64) {
		nodes[idx] = uint64ToNodeID(v)
		idx++
	}); err != nil {
		return nil, fmt.Errorf("timestamp list node ids: %w", err)
	}

	out := make([]timestamp.Timestamp, count)
	for i := range out {
		out[i] = timestamp.Timestamp{Millis: millis[i], Counter: counters[i], Node: nodes[i]}
	}
	return out, nil
}
