// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

// Package protocol implements the wire envelope (§4.6, §6): header
// framing, the Range/Bound types, the size-bounded MessageBuilder, and
// the SyncErr taxonomy. The applyAsClient/applyAsRelay state machines
// live in package rbsr.
package protocol

import (
	"fmt"

	"github.com/dblokhin/relaysync/buffer"
	"github.com/dblokhin/relaysync/codec"
	"github.com/dblokhin/relaysync/storage"
	"github.com/dblokhin/relaysync/timestamp"
)

// MessageType is the wire tag of a ProtocolMessage (§6).
type MessageType byte

const (
	Request MessageType = iota
	Response
	Broadcast
)

// SubscriptionFlag is the wire tag of a Request's subscription intent.
type SubscriptionFlag byte

const (
	SubscriptionNone SubscriptionFlag = iota
	SubscriptionSubscribe
	SubscriptionUnsubscribe
)

// ProtocolMessage is the decoded form of one wire message (§6). Not every
// field is meaningful for every Type: WriteKey and Subscription are
// Request-only, Error is Response-only.
type ProtocolMessage struct {
	Version uint64
	Owner   storage.OwnerID
	Type    MessageType

	WriteKey     *storage.WriteKey
	Subscription SubscriptionFlag

	Error ErrorKind

	Messages []storage.Message
	Ranges   []Range
}

// Encode appends the bit-exact wire representation of m to buf.
func (m *ProtocolMessage) Encode(buf *buffer.Buffer) error {
	codec.EncodeVarUint(buf, m.Version)
	if _, err := buf.Write(m.Owner[:]); err != nil {
		return err
	}
	if err := buf.WriteByte(byte(m.Type)); err != nil {
		return err
	}

	switch m.Type {
	case Request:
		if m.WriteKey != nil {
			_ = buf.WriteByte(1)
			if _, err := buf.Write(m.WriteKey[:]); err != nil {
				return err
			}
		} else {
			_ = buf.WriteByte(0)
		}
		_ = buf.WriteByte(byte(m.Subscription))
	case Response:
		_ = buf.WriteByte(m.Error.errorCode())
	case Broadcast:
		// no additional header
	default:
		return fmt.Errorf("%w: unknown message type %d", ErrInvalidMessage, m.Type)
	}

	encodeMessagesBlock(buf, m.Messages)
	return encodeRangesBlock(buf, m.Ranges)
}

// ErrInvalidMessage is returned by Decode/Encode on any envelope-level
// constraint violation not already covered by a codec.ErrInvalidData.
var ErrInvalidMessage = fmt.Errorf("protocol: invalid message")

// DecodeProtocolMessage parses one wire message from buf.
func DecodeProtocolMessage(buf *buffer.Buffer) (*ProtocolMessage, error) {
	version, err := codec.DecodeVarUint(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: version: %v", ErrInvalidMessage, err)
	}

	ownerBytes, err := buf.Next(ownerIDLength)
	if err != nil {
		return nil, fmt.Errorf("%w: owner id: %v", ErrInvalidMessage, err)
	}
	m := &ProtocolMessage{Version: version}
	copy(m.Owner[:], ownerBytes)

	typeByte, err := buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: type: %v", ErrInvalidMessage, err)
	}
	m.Type = MessageType(typeByte)

	switch m.Type {
	case Request:
		hasKey, err := buf.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: has_write_key: %v", ErrInvalidMessage, err)
		}
		if hasKey != 0 {
			keyBytes, err := buf.Next(writeKeyLength)
			if err != nil {
				return nil, fmt.Errorf("%w: write_key: %v", ErrInvalidMessage, err)
			}
			var key storage.WriteKey
			copy(key[:], keyBytes)
			m.WriteKey = &key
		}
		subByte, err := buf.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: subscription: %v", ErrInvalidMessage, err)
		}
		if subByte > byte(SubscriptionUnsubscribe) {
			return nil, fmt.Errorf("%w: unknown subscription flag %d", ErrInvalidMessage, subByte)
		}
		m.Subscription = SubscriptionFlag(subByte)
	case Response:
		codeByte, err := buf.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: error code: %v", ErrInvalidMessage, err)
		}
		m.Error = errorKindFromCode(codeByte)
	case Broadcast:
		// no additional header
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", ErrInvalidMessage, m.Type)
	}

	messages, err := decodeMessagesBlock(buf)
	if err != nil {
		return nil, err
	}
	m.Messages = messages

	ranges, err := decodeRangesBlock(buf)
	if err != nil {
		return nil, err
	}
	m.Ranges = ranges

	return m, nil
}

func encodeMessagesBlock(buf *buffer.Buffer, messages []storage.Message) {
	ts := make([]timestamp.Timestamp, len(messages))
	for i, m := range messages {
		ts[i] = m.Timestamp
	}
	codec.EncodeTimestampList(buf, ts)
	for _, m := range messages {
		codec.EncodeBytes(buf, m.Change)
	}
}

func decodeMessagesBlock(buf *buffer.Buffer) ([]storage.Message, error) {
	ts, err := codec.DecodeTimestampList(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: messages timestamps: %v", ErrInvalidMessage, err)
	}

	messages := make([]storage.Message, len(ts))
	for i, t := range ts {
		change, err := codec.DecodeBytes(buf, maxWireChangeLen)
		if err != nil {
			return nil, fmt.Errorf("%w: messages change %d: %v", ErrInvalidMessage, i, err)
		}
		messages[i] = storage.Message{Timestamp: t, Change: storage.EncryptedDbChange(change)}
	}
	return messages, nil
}

func encodeRangesBlock(buf *buffer.Buffer, ranges []Range) error {
	codec.EncodeVarUint(buf, uint64(len(ranges)))
	if len(ranges) == 0 {
		return nil
	}

	// the last range's bound is the implicit +∞; every earlier bound must
	// be finite and the invariant the builder enforces (strictly
	// increasing, last == +∞) is assumed true here.
	if !ranges[len(ranges)-1].Upper.Infinite {
		return fmt.Errorf("%w: last range must have an infinite upper bound", ErrInvalidMessage)
	}

	bounds := make([]timestamp.Timestamp, 0, len(ranges)-1)
	for _, r := range ranges[:len(ranges)-1] {
		if r.Upper.Infinite {
			return fmt.Errorf("%w: only the last range may have an infinite upper bound", ErrInvalidMessage)
		}
		bounds = append(bounds, r.Upper.Value)
	}
	codec.EncodeTimestampList(buf, bounds)

	for _, r := range ranges {
		codec.EncodeVarUint(buf, uint64(r.Kind))
	}

	for _, r := range ranges {
		switch r.Kind {
		case RangeSkip:
			// empty payload
		case RangeFingerprint:
			if _, err := buf.Write(r.Fingerprint[:]); err != nil {
				return err
			}
		case RangeTimestamps:
			codec.EncodeTimestampList(buf, r.Timestamps)
		default:
			return fmt.Errorf("%w: unknown range kind %d", ErrInvalidMessage, r.Kind)
		}
	}
	return nil
}

func decodeRangesBlock(buf *buffer.Buffer) ([]Range, error) {
	count, err := codec.DecodeVarUint(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: range count: %v", ErrInvalidMessage, err)
	}
	if count == 0 {
		return nil, nil
	}

	bounds, err := codec.DecodeTimestampList(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: range bounds: %v", ErrInvalidMessage, err)
	}
	if uint64(len(bounds)) != count-1 {
		return nil, fmt.Errorf("%w: expected %d finite bounds, got %d", ErrInvalidMessage, count-1, len(bounds))
	}

	kinds := make([]RangeKind, count)
	for i := range kinds {
		k, err := codec.DecodeVarUint(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: range kind %d: %v", ErrInvalidMessage, i, err)
		}
		if k > uint64(RangeTimestamps) {
			return nil, fmt.Errorf("%w: unknown range kind %d", ErrInvalidMessage, k)
		}
		kinds[i] = RangeKind(k)
	}

	ranges := make([]Range, count)
	for i := range ranges {
		upper := InfiniteBound()
		if uint64(i) < count-1 {
			upper = FiniteBound(bounds[i])
		}

		switch kinds[i] {
		case RangeSkip:
			ranges[i] = SkipRange(upper)
		case RangeFingerprint:
			raw, err := buf.Next(fingerprintSize)
			if err != nil {
				return nil, fmt.Errorf("%w: fingerprint range %d: %v", ErrInvalidMessage, i, err)
			}
			var fp timestamp.Fingerprint
			copy(fp[:], raw)
			ranges[i] = FingerprintRange(upper, fp)
		case RangeTimestamps:
			ts, err := codec.DecodeTimestampList(buf)
			if err != nil {
				return nil, fmt.Errorf("%w: timestamps range %d: %v", ErrInvalidMessage, i, err)
			}
			ranges[i] = TimestampsRange(upper, ts)
		}
	}

	return ranges, nil
}
