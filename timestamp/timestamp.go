// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

// Package timestamp implements the hybrid logical clock timestamp that
// orders every change in an owner's CRDT log, its 14-byte canonical binary
// form, and the 12-byte XOR fingerprint the RBSR engine reconciles over.
package timestamp

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// NodeIDLen is the fixed width of a node identity (§6 nodeIdLength).
	NodeIDLen = 8

	// BytesLen is the width of the canonical binary form of a Timestamp
	// (§6 timestampBytesLength). It is laid out as 5 bytes of
	// epoch-relative milliseconds, 1 byte of counter, and 8 bytes of node
	// id: 5+1+8 = 14.
	BytesLen = 14

	// FingerprintLen is the width of the XOR-aggregated SHA-256 prefix
	// (§6 fingerprintSize).
	FingerprintLen = 12

	millisLen = 5
	counterLen = 1

	// MaxCounter is the largest representable counter value given the
	// 1-byte counter field; CounterOverflow is raised past this.
	MaxCounter uint32 = 0xFF

	// MaxMillis is the largest Millis value the 5-byte canonical field can
	// hold (2^40 - 1). Millis above this encode/fingerprint as an error
	// rather than being silently truncated (§4.1: encoders are total over
	// their documented domain, not over every uint64).
	MaxMillis uint64 = 1<<40 - 1

	// DefaultMaxDriftMs bounds how far a supplied wall clock may lag
	// behind a previously observed timestamp before Clock.Send refuses to
	// advance the clock (§4.2, default 5 minutes).
	DefaultMaxDriftMs uint64 = 5 * 60 * 1000
)

// NodeID is an opaque per-replica identity.
type NodeID [NodeIDLen]byte

// String renders the node id as lowercase hex, for logging only.
func (n NodeID) String() string {
	return fmt.Sprintf("%x", n[:])
}

// Timestamp is the hybrid logical clock triple (millis, counter, node_id).
// The zero value is the smallest possible Timestamp.
type Timestamp struct {
	Millis  uint64
	Counter uint32
	Node    NodeID
}

// Compare implements the total order: lexicographic on (millis, counter,
// node_id). It returns -1, 0, or 1.
func Compare(a, b Timestamp) int {
	switch {
	case a.Millis < b.Millis:
		return -1
	case a.Millis > b.Millis:
		return 1
	}
	switch {
	case a.Counter < b.Counter:
		return -1
	case a.Counter > b.Counter:
		return 1
	}
	for i := 0; i < NodeIDLen; i++ {
		if a.Node[i] != b.Node[i] {
			if a.Node[i] < b.Node[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Less reports whether a sorts before b.
func Less(a, b Timestamp) bool {
	return Compare(a, b) < 0
}

// Equal reports whether a and b are identical triples.
func Equal(a, b Timestamp) bool {
	return Compare(a, b) == 0
}

// ErrInvalidData is returned by Parse when the input violates a wire
// constraint (§7 InvalidData).
var ErrInvalidData = errors.New("timestamp: invalid data")

// Bytes encodes t into its 14-byte canonical big-endian form. It fails if
// t.Millis exceeds MaxMillis: the 5-byte field cannot hold it, and a
// codec that's supposed to round-trip every encodable Timestamp (§8
// property 2) must reject what it can't represent rather than truncate it
// into colliding with an unrelated Timestamp.
func (t Timestamp) Bytes() ([BytesLen]byte, error) {
	var out [BytesLen]byte

	if t.Millis > MaxMillis {
		return out, fmt.Errorf("%w: millis %d exceeds MaxMillis %d", ErrInvalidData, t.Millis, MaxMillis)
	}

	// 5-byte big-endian millis: write as the low 5 bytes of a uint64.
	var millisBuf [8]byte
	binary.BigEndian.PutUint64(millisBuf[:], t.Millis)
	copy(out[0:millisLen], millisBuf[3:8])

	out[millisLen] = byte(t.Counter)
	copy(out[millisLen+counterLen:], t.Node[:])

	return out, nil
}

// Parse decodes a 14-byte canonical form produced by Bytes.
func Parse(b []byte) (Timestamp, error) {
	if len(b) != BytesLen {
		return Timestamp{}, fmt.Errorf("%w: timestamp must be %d bytes, got %d", ErrInvalidData, BytesLen, len(b))
	}

	var millisBuf [8]byte
	copy(millisBuf[3:8], b[0:millisLen])
	millis := binary.BigEndian.Uint64(millisBuf[:])

	var node NodeID
	copy(node[:], b[millisLen+counterLen:])

	return Timestamp{
		Millis:  millis,
		Counter: uint32(b[millisLen]),
		Node:    node,
	}, nil
}

// Fingerprint is a 12-byte XOR-friendly digest of either one timestamp or
// an aggregate set of them (§2, §3).
type Fingerprint [FingerprintLen]byte

// Of returns the fingerprint of a single timestamp: the first 12 bytes of
// SHA-256 over its canonical binary form. It fails exactly when t.Bytes
// does.
func Of(t Timestamp) (Fingerprint, error) {
	raw, err := t.Bytes()
	if err != nil {
		return Fingerprint{}, err
	}
	sum := sha256.Sum256(raw[:])
	var fp Fingerprint
	copy(fp[:], sum[:FingerprintLen])
	return fp, nil
}

// XOR returns the bitwise XOR of a and b. XOR is associative, commutative,
// and its own inverse, so the fingerprint of a set can be folded in any
// order or batched incrementally (§3 invariant 3, §8 property 3).
func (fp Fingerprint) XOR(other Fingerprint) Fingerprint {
	var out Fingerprint
	for i := range out {
		out[i] = fp[i] ^ other[i]
	}
	return out
}

// IsZero reports whether fp is the identity element (the fingerprint of
// the empty set).
func (fp Fingerprint) IsZero() bool {
	for _, b := range fp {
		if b != 0 {
			return false
		}
	}
	return true
}

// FoldSet computes the fingerprint of a set of timestamps by XOR-reducing
// their individual fingerprints. The empty set folds to the all-zero
// identity.
func FoldSet(ts []Timestamp) (Fingerprint, error) {
	var acc Fingerprint
	for _, t := range ts {
		fp, err := Of(t)
		if err != nil {
			return Fingerprint{}, err
		}
		acc = acc.XOR(fp)
	}
	return acc, nil
}
