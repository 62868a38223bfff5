// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package protocol

import (
	"testing"

	"github.com/dblokhin/relaysync/buffer"
	"github.com/dblokhin/relaysync/storage"
	"github.com/dblokhin/relaysync/timestamp"
	"github.com/stretchr/testify/require"
)

func testNode(b byte) timestamp.NodeID {
	var n timestamp.NodeID
	n[0] = b
	return n
}

// TestProtocolMessageRoundTripWithMessagesAndRanges exercises the
// non-trivial encode/decode paths that an empty-message transport round
// trip never touches: populated Messages, and a Ranges list mixing all
// three kinds with a finite-bounds list reconstructed from deltas.
func TestProtocolMessageRoundTripWithMessagesAndRanges(t *testing.T) {
	var owner storage.OwnerID
	owner[5] = 9
	var key storage.WriteKey
	key[0] = 0xAB

	messages := []storage.Message{
		{
			Timestamp: timestamp.Timestamp{Millis: 100, Counter: 0, Node: testNode(1)},
			Change:    storage.EncryptedDbChange("first-change"),
		},
		{
			Timestamp: timestamp.Timestamp{Millis: 250, Counter: 3, Node: testNode(2)},
			Change:    storage.EncryptedDbChange("second-change-is-longer"),
		},
	}

	fp := timestamp.Fingerprint{0xDE, 0xAD, 0xBE, 0xEF}
	ranges := []Range{
		SkipRange(FiniteBound(timestamp.Timestamp{Millis: 50, Counter: 0, Node: testNode(3)})),
		FingerprintRange(FiniteBound(timestamp.Timestamp{Millis: 150, Counter: 0, Node: testNode(4)}), fp),
		TimestampsRange(InfiniteBound(), []timestamp.Timestamp{
			{Millis: 300, Counter: 1, Node: testNode(5)},
			{Millis: 400, Counter: 2, Node: testNode(6)},
		}),
	}

	msg := &ProtocolMessage{
		Version:      1,
		Owner:        owner,
		Type:         Request,
		WriteKey:     &key,
		Subscription: SubscriptionSubscribe,
		Messages:     messages,
		Ranges:       ranges,
	}

	buf := buffer.New()
	require.NoError(t, msg.Encode(buf))

	got, err := DecodeProtocolMessage(buf)
	require.NoError(t, err)

	require.Equal(t, msg.Version, got.Version)
	require.Equal(t, msg.Owner, got.Owner)
	require.Equal(t, msg.Type, got.Type)
	require.NotNil(t, got.WriteKey)
	require.Equal(t, *msg.WriteKey, *got.WriteKey)
	require.Equal(t, msg.Subscription, got.Subscription)

	require.Equal(t, msg.Messages, got.Messages)

	require.Len(t, got.Ranges, 3)
	require.Equal(t, RangeSkip, got.Ranges[0].Kind)
	require.False(t, got.Ranges[0].Upper.Infinite)
	require.True(t, timestamp.Equal(ranges[0].Upper.Value, got.Ranges[0].Upper.Value))

	require.Equal(t, RangeFingerprint, got.Ranges[1].Kind)
	require.False(t, got.Ranges[1].Upper.Infinite)
	require.True(t, timestamp.Equal(ranges[1].Upper.Value, got.Ranges[1].Upper.Value))
	require.Equal(t, fp, got.Ranges[1].Fingerprint)

	require.Equal(t, RangeTimestamps, got.Ranges[2].Kind)
	require.True(t, got.Ranges[2].Upper.Infinite)
	require.Equal(t, ranges[2].Timestamps, got.Ranges[2].Timestamps)
}

// TestEncodeRangesBlockRejectsFiniteLastRange enforces the wire invariant
// that the final range must carry the +∞ bound.
func TestEncodeRangesBlockRejectsFiniteLastRange(t *testing.T) {
	ranges := []Range{
		SkipRange(FiniteBound(timestamp.Timestamp{Millis: 1, Node: testNode(1)})),
	}
	buf := buffer.New()
	err := encodeRangesBlock(buf, ranges)
	require.ErrorIs(t, err, ErrInvalidMessage)
}

// TestEncodeRangesBlockRejectsEarlyInfiniteBound enforces that only the
// last range may carry the +∞ bound, not an earlier one.
func TestEncodeRangesBlockRejectsEarlyInfiniteBound(t *testing.T) {
	ranges := []Range{
		SkipRange(InfiniteBound()),
		SkipRange(InfiniteBound()),
	}
	buf := buffer.New()
	err := encodeRangesBlock(buf, ranges)
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestEncodeRangesBlockEmptyIsZeroCount(t *testing.T) {
	buf := buffer.New()
	require.NoError(t, encodeRangesBlock(buf, nil))

	ranges, err := decodeRangesBlock(buf)
	require.NoError(t, err)
	require.Empty(t, ranges)
}

// TestProtocolMessageRoundTripBroadcast covers the Broadcast message type,
// which carries neither a write key nor a subscription flag nor an error
// code.
func TestProtocolMessageRoundTripBroadcast(t *testing.T) {
	var owner storage.OwnerID
	owner[0] = 1

	msg := &ProtocolMessage{
		Version: 1,
		Owner:   owner,
		Type:    Broadcast,
		Messages: []storage.Message{
			{
				Timestamp: timestamp.Timestamp{Millis: 10, Node: testNode(7)},
				Change:    storage.EncryptedDbChange("x"),
			},
		},
	}

	buf := buffer.New()
	require.NoError(t, msg.Encode(buf))

	got, err := DecodeProtocolMessage(buf)
	require.NoError(t, err)
	require.Equal(t, msg.Type, got.Type)
	require.Nil(t, got.WriteKey)
	require.Equal(t, msg.Messages, got.Messages)
	require.Empty(t, got.Ranges)
}
