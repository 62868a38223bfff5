// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

// Package rbsr implements the Range-Based Set Reconciliation sync engine
// (§4.5) and the applyAsClient/applyAsRelay protocol state machines
// (§4.6) that drive it. Both live in one package because the engine
// and the envelope are mutually dependent on each other's outputs
// (the envelope calls the engine once per round, the engine appends
// directly into the envelope's MessageBuilder) — splitting them across
// packages the way components 6 and 7 are split in the spec would force
// an import cycle back through package protocol.
package rbsr

import (
	"github.com/dblokhin/relaysync/protocol"
	"github.com/dblokhin/relaysync/storage"
	"github.com/dblokhin/relaysync/timestamp"
	"github.com/sirupsen/logrus"
)

// defaultSplitBuckets is the target bucket count a Fingerprint mismatch
// splits into (§4.5: "≈ 16 buckets is typical").
const defaultSplitBuckets = 16

// minItemsToSplit is the floor below which splitting into
// defaultSplitBuckets would yield near-empty buckets; below it the engine
// falls back to a single Timestamps range for the whole sub-range.
const minItemsToSplit = 32

// perBucketTimestampsThreshold is the bucket size below which sending the
// actual timestamps costs little more than the fingerprint would, so the
// engine skips a guaranteed-mismatch round trip and sends them directly.
const perBucketTimestampsThreshold = 4

// computeBalancedBuckets returns the bucket count to request from
// Storage.FingerprintRanges for a sub-range of n timestamps, or 0 to
// signal "don't split, emit one Timestamps range instead" (§4.5).
func computeBalancedBuckets(n int) int {
	if n < minItemsToSplit {
		return 0
	}
	if n < defaultSplitBuckets {
		return n
	}
	return defaultSplitBuckets
}

// Run walks received (a non-empty, ordered list of ranges covering the
// universe, the last with an infinite upper bound) against st for owner,
// appending the response into builder. It returns hasChanges = true if
// builder ended up with anything to send (§4.5 Output).
func Run(st storage.Storage, owner storage.OwnerID, received []protocol.Range, builder *protocol.MessageBuilder) (bool, error) {
	size, err := st.Size(owner)
	if err != nil {
		return false, protocol.NewSyncErr(protocol.SyncError, owner, err)
	}

	w := &walker{st: st, owner: owner, builder: builder, size: size}
	for _, r := range received {
		done, err := w.step(r)
		if err != nil {
			return false, err
		}
		if done {
			return builder.HasMessages() || builder.HasRanges(), nil
		}
	}
	// A trailing Skip is only needed to close earlier ranges with +∞; a
	// round that emitted no ranges at all sends none.
	if builder.HasRanges() {
		w.flushPendingSkip()
	}

	return builder.HasMessages() || builder.HasRanges(), nil
}

type walker struct {
	st      storage.Storage
	owner   storage.OwnerID
	builder *protocol.MessageBuilder
	size    int

	prevIndex   int
	pendingSkip bool
	skipUpper   protocol.Bound
}

// step processes one received range. It returns done = true when the
// engine has terminated the round early (a split or a timestamps overflow
// ran out of ranges budget); the caller must stop iterating further
// received ranges in that case.
func (w *walker) step(r protocol.Range) (bool, error) {
	upper, err := w.st.FindLowerBound(w.owner, w.prevIndex, w.size, r.Upper.Value, r.Upper.Infinite)
	if err != nil {
		return false, protocol.NewSyncErr(protocol.SyncError, w.owner, err)
	}
	lower := w.prevIndex
	w.prevIndex = upper

	switch r.Kind {
	case protocol.RangeSkip:
		w.markSkip(r.Upper)
		return false, nil

	case protocol.RangeFingerprint:
		ours, err := w.st.Fingerprint(w.owner, lower, upper)
		if err != nil {
			return false, protocol.NewSyncErr(protocol.SyncError, w.owner, err)
		}
		if ours == r.Fingerprint {
			w.markSkip(r.Upper)
			return false, nil
		}
		return w.diverge(lower, upper, r.Upper)

	case protocol.RangeTimestamps:
		return w.reconcileTimestamps(lower, upper, r)

	default:
		return false, protocol.NewSyncErr(protocol.InvalidData, w.owner, nil)
	}
}

func (w *walker) markSkip(upper protocol.Bound) {
	w.pendingSkip = true
	w.skipUpper = upper
}

func (w *walker) flushPendingSkip() {
	if w.pendingSkip {
		if w.builder.HasRanges() || w.builder.HasMessages() {
			w.builder.AddRange(protocol.SkipRange(w.skipUpper))
		}
		w.pendingSkip = false
	}
}

// terminate closes out the round with a single Fingerprint(+∞, ...)
// covering [from, size) so the next round can pick up where this one
// stopped (§4.5 "terminate the round").
func (w *walker) terminate(from int) error {
	fp, err := w.st.Fingerprint(w.owner, from, w.size)
	if err != nil {
		return protocol.NewSyncErr(protocol.SyncError, w.owner, err)
	}
	w.builder.AddRange(protocol.FingerprintRange(protocol.InfiniteBound(), fp))
	return nil
}

// diverge handles a Fingerprint mismatch: split into balanced buckets if
// there is budget, else terminate the round.
func (w *walker) diverge(lower, upper int, origUpper protocol.Bound) (bool, error) {
	if !w.builder.CanSplitRange() {
		w.flushPendingSkip()
		return true, w.terminate(upper)
	}
	w.flushPendingSkip()

	n := upper - lower
	if n == 0 {
		// an empty sub-range's fingerprint is the XOR identity by
		// definition (§3); report it directly rather than attempting to
		// split or collect timestamps out of nothing (§8 S1: an empty
		// storage's whole-universe reply is exactly this case).
		if !w.builder.CanAddRange() {
			return true, w.terminate(upper)
		}
		w.builder.AddRange(protocol.FingerprintRange(origUpper, timestamp.Fingerprint{}))
		return false, nil
	}

	buckets := computeBalancedBuckets(n)
	if buckets == 0 {
		ts, err := w.collect(lower, upper)
		if err != nil {
			return false, err
		}
		if !w.builder.CanAddTimestampsRangeAndMessage(nil) {
			return true, w.terminate(lower)
		}
		w.builder.AddRange(protocol.TimestampsRange(origUpper, ts))
		return false, nil
	}

	ranges, err := w.st.FingerprintRanges(w.owner, lower, upper, buckets, origUpper.Value, origUpper.Infinite)
	if err != nil {
		return false, protocol.NewSyncErr(protocol.SyncError, w.owner, err)
	}

	start := lower
	for _, fr := range ranges {
		bound := protocol.InfiniteBound()
		if !fr.Infinite {
			bound = protocol.FiniteBound(fr.UpperBound)
		}

		if fr.Count <= perBucketTimestampsThreshold {
			ts, err := w.collect(start, start+fr.Count)
			if err != nil {
				return false, err
			}
			if !w.builder.CanAddTimestampsRangeAndMessage(nil) {
				return true, w.terminate(start)
			}
			w.builder.AddRange(protocol.TimestampsRange(bound, ts))
		} else {
			if !w.builder.CanAddRange() {
				return true, w.terminate(start)
			}
			w.builder.AddRange(protocol.FingerprintRange(bound, fr.Fingerprint))
		}
		start += fr.Count
	}
	return false, nil
}

func (w *walker) collect(lo, hi int) ([]timestamp.Timestamp, error) {
	var out []timestamp.Timestamp
	err := w.st.Iterate(w.owner, lo, hi, func(ts timestamp.Timestamp) bool {
		out = append(out, ts)
		return true
	})
	if err != nil {
		return nil, protocol.NewSyncErr(protocol.SyncError, w.owner, err)
	}
	return out, nil
}

// reconcileTimestamps implements the Timestamps branch of §4.5: for every
// timestamp we have that the peer didn't list, push its change as a
// message; track whether the peer listed timestamps we don't have, and
// if so echo our own range back so the peer can diff and send them.
func (w *walker) reconcileTimestamps(lower, upper int, r protocol.Range) (bool, error) {
	peerHas := make(map[timestamp.Timestamp]bool, len(r.Timestamps))
	for _, t := range r.Timestamps {
		peerHas[t] = true
	}

	var ourSeen []timestamp.Timestamp
	exceeded := false
	var endBound timestamp.Timestamp
	endIndex := upper

	idx := lower
	err := w.st.Iterate(w.owner, lower, upper, func(t timestamp.Timestamp) bool {
		if peerHas[t] {
			delete(peerHas, t)
			ourSeen = append(ourSeen, t)
			idx++
			return true
		}

		change, err := w.st.ReadChange(w.owner, t)
		if err != nil {
			logrus.WithField("owner", w.owner).Warn("rbsr: read_change miss during timestamps reconciliation")
			exceeded = true
			endBound = t
			endIndex = idx
			return false
		}
		msg := storage.Message{Timestamp: t, Change: change}
		if !w.builder.CanAddTimestampsRangeAndMessage(&msg) {
			exceeded = true
			endBound = t
			endIndex = idx
			return false
		}
		w.builder.AddMessage(msg)
		ourSeen = append(ourSeen, t)
		idx++
		return true
	})
	if err != nil {
		return false, protocol.NewSyncErr(protocol.SyncError, w.owner, err)
	}

	if exceeded {
		w.flushPendingSkip()
		if w.builder.CanAddTimestampsRangeAndMessage(nil) {
			w.builder.AddRange(protocol.TimestampsRange(protocol.FiniteBound(endBound), ourSeen))
		}
		return true, w.terminate(endIndex)
	}

	if len(peerHas) > 0 {
		w.flushPendingSkip()
		w.builder.AddRange(protocol.TimestampsRange(r.Upper, ourSeen))
	} else {
		w.markSkip(r.Upper)
	}
	return false, nil
}
