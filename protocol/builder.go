// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package protocol

import (
	"fmt"

	"github.com/dblokhin/relaysync/storage"
)

// MessageBuilder incrementally assembles a ProtocolMessage while enforcing
// two independent byte budgets (§4.4): totalMaxSize bounds the whole
// message, rangesMaxSize bounds the ranges block alone. Every can_* query
// is conservative (it may refuse something that would actually fit) and
// every add_* call asserts the true post-hoc size never exceeds the
// budget — if that assertion trips, it is this builder's bug, not the
// caller's (§4.4 "fail fast").
type MessageBuilder struct {
	header ProtocolMessage

	totalMaxSize  int
	rangesMaxSize int

	messagesSize int
	rangesSize   int

	sawInfiniteRange bool
}

// NewMessageBuilder returns a builder seeded with header's Version/Owner/
// Type/WriteKey/Subscription/Error fields; Messages/Ranges start empty.
func NewMessageBuilder(header ProtocolMessage, totalMaxSize, rangesMaxSize int) *MessageBuilder {
	if totalMaxSize <= 0 {
		totalMaxSize = DefaultTotalMaxSize
	}
	if rangesMaxSize <= 0 {
		rangesMaxSize = DefaultRangesMaxSize
	}
	header.Messages = nil
	header.Ranges = nil
	return &MessageBuilder{header: header, totalMaxSize: totalMaxSize, rangesMaxSize: rangesMaxSize}
}

// CanAddMessage reports whether m would fit within totalMaxSize.
func (b *MessageBuilder) CanAddMessage(m storage.Message) bool {
	return b.messagesSize+messageSafeMargin+len(m.Change) <= b.totalMaxSize
}

// AddMessage appends m. It panics if CanAddMessage would have returned
// false — callers must check first; this mirrors §4.4's "asserts the size
// invariant" on every add_*.
func (b *MessageBuilder) AddMessage(m storage.Message) {
	if !b.CanAddMessage(m) {
		panic("protocol: AddMessage: size budget exceeded")
	}
	b.header.Messages = append(b.header.Messages, m)
	b.messagesSize += messageSafeMargin + len(m.Change)
}

// CanSplitRange reports whether the ranges block has room for a worst-case
// bucket split burst.
func (b *MessageBuilder) CanSplitRange() bool {
	return b.rangesSize+splitRangeSafeMargin <= b.rangesMaxSize
}

// CanAddRange reports whether a single Skip/Fingerprint range would fit in
// the ranges budget.
func (b *MessageBuilder) CanAddRange() bool {
	return b.rangesSize+remainingRangeSafeMargin <= b.rangesMaxSize
}

// CanAddTimestampsRangeAndMessage reports whether both a Timestamps range
// and, if msg is non-nil, one more message would fit within their
// respective budgets. The margin for the Timestamps range itself is a
// fixed conservative estimate (§4.4 timestampsRangeSafeMargin) independent
// of how many timestamps it will actually carry.
func (b *MessageBuilder) CanAddTimestampsRangeAndMessage(msg *storage.Message) bool {
	if b.rangesSize+timestampsRangeSafeMargin > b.rangesMaxSize {
		return false
	}
	if msg == nil {
		return true
	}
	return b.CanAddMessage(*msg)
}

// AddRange appends r. It is forbidden once an infinite-upper-bound range
// has already been added (§4.4: "forbidden once an +∞ range has been
// added") since that range closed the universe.
func (b *MessageBuilder) AddRange(r Range) {
	if b.sawInfiniteRange {
		panic("protocol: AddRange: cannot add a range after the +∞ range")
	}

	margin := remainingRangeSafeMargin
	if r.Kind == RangeTimestamps {
		margin = timestampsRangeSafeMargin
	}
	if b.rangesSize+margin > b.rangesMaxSize {
		panic("protocol: AddRange: ranges size budget exceeded")
	}

	b.header.Ranges = append(b.header.Ranges, r)
	b.rangesSize += margin
	if r.Upper.Infinite {
		b.sawInfiniteRange = true
	}
}

// HasRanges reports whether any range was added yet.
func (b *MessageBuilder) HasRanges() bool {
	return len(b.header.Ranges) > 0
}

// HasMessages reports whether any message was added yet.
func (b *MessageBuilder) HasMessages() bool {
	return len(b.header.Messages) > 0
}

// Unwrap finalizes the builder into its ProtocolMessage. Calling it more
// than once returns the same message; the builder is not reusable for a
// second round after that (a fresh MessageBuilder should be constructed
// per round).
func (b *MessageBuilder) Unwrap() *ProtocolMessage {
	m := b.header
	return &m
}

// ErrBudgetExceeded is an error value for "an addition would not fit".
// Nothing in this module returns it: the Sync Engine checks the Can*
// predicates before each add and terminates the round when they refuse.
var ErrBudgetExceeded = fmt.Errorf("protocol: message budget exceeded")
