// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package protocol

import (
	"github.com/dblokhin/relaysync/timestamp"
)

// RangeKind is the wire tag of a Range's payload (§3, §6).
type RangeKind int

const (
	RangeSkip RangeKind = iota
	RangeFingerprint
	RangeTimestamps
)

// Bound is the tagged union `Finite(Timestamp) | Infinite` a Range's
// upper_bound carries (Design Notes §9: represented explicitly rather
// than through a magic sentinel value).
type Bound struct {
	Infinite bool
	Value    timestamp.Timestamp
}

// InfiniteBound is the +∞ sentinel every range list's last element uses.
func InfiniteBound() Bound {
	return Bound{Infinite: true}
}

// FiniteBound wraps a concrete strict upper bound.
func FiniteBound(ts timestamp.Timestamp) Bound {
	return Bound{Value: ts}
}

// Less reports whether ts lies strictly below b (true unconditionally for
// an infinite bound).
func (b Bound) Less(ts timestamp.Timestamp) bool {
	if b.Infinite {
		return true
	}
	return timestamp.Less(ts, b.Value)
}

// Range is one element of a ranges block: a contiguous sub-interval of the
// owner's timestamp set together with what this side has to say about it
// (§3).
type Range struct {
	Kind  RangeKind
	Upper Bound

	// Fingerprint is populated when Kind == RangeFingerprint.
	Fingerprint timestamp.Fingerprint

	// Timestamps is populated when Kind == RangeTimestamps.
	Timestamps []timestamp.Timestamp
}

// SkipRange builds a Skip range with the given upper bound.
func SkipRange(upper Bound) Range {
	return Range{Kind: RangeSkip, Upper: upper}
}

// FingerprintRange builds a Fingerprint range.
func FingerprintRange(upper Bound, fp timestamp.Fingerprint) Range {
	return Range{Kind: RangeFingerprint, Upper: upper, Fingerprint: fp}
}

// TimestampsRange builds a Timestamps range.
func TimestampsRange(upper Bound, ts []timestamp.Timestamp) Range {
	return Range{Kind: RangeTimestamps, Upper: upper, Timestamps: ts}
}
