// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

// Package storage defines the contract the RBSR sync engine consumes
// (size, fingerprint, fingerprint_ranges, find_lower_bound, iterate,
// validate_write_key, write_messages, read_change, delete_owner) and
// ships a SQLite-backed reference implementation of it.
package storage

import (
	"fmt"

	"github.com/dblokhin/relaysync/timestamp"
)

// OwnerIDLen is the fixed width of an owner identity.
const OwnerIDLen = 16

// WriteKeyLen is the fixed width of a write-authorization key.
const WriteKeyLen = 32

// OwnerID is the opaque identity all storage state is partitioned by.
type OwnerID [OwnerIDLen]byte

// WriteKey authorizes writes to an owner's log.
type WriteKey [WriteKeyLen]byte

// EncryptedDbChange is the opaque, already-encrypted mutation payload
// storage persists alongside each timestamp. Its plaintext framing is
// defined by package aead; storage itself never inspects the bytes.
type EncryptedDbChange []byte

// Message is one (timestamp, encrypted change) pair as written during
// sync or broadcast.
type Message struct {
	Timestamp timestamp.Timestamp
	Change    EncryptedDbChange
}

// ErrNotFound is returned by read paths ("ok or null" in spec terms) when
// the requested row does not exist. It is not itself a storage failure;
// callers that need the null/ok distinction check for it explicitly.
var ErrNotFound = fmt.Errorf("storage: not found")

// FingerprintRange is one bucket's result from FingerprintRanges: the
// XOR-aggregated fingerprint of every timestamp in the bucket together
// with the bucket's upper bound (the last bucket's is the caller-supplied
// upperBound, which may be the sentinel for +∞ one layer up in rbsr).
type FingerprintRange struct {
	Fingerprint timestamp.Fingerprint
	UpperBound  timestamp.Timestamp
	// Infinite is true for the final bucket when no explicit upper bound
	// was supplied; UpperBound is meaningless in that case.
	Infinite bool
	// Count is the number of timestamps folded into Fingerprint, so a
	// caller deciding between a Fingerprint and a Timestamps range for a
	// small bucket doesn't need a second pass over the index.
	Count int
}

// ErrorSink is the shape of a callback for storage failures that are not
// part of the normal "ok or null" return convention (I/O errors,
// constraint violations the caller could not have anticipated). Nothing
// in this module takes or calls one: the sync engine turns the errors
// that Storage methods return into a SyncError directly.
type ErrorSink func(owner OwnerID, err error)

// Storage is the minimal surface the Sync Engine requires (§4.3). Every
// method is partitioned by owner; implementations must never leak rows
// across owners. Read methods that can legitimately find nothing return
// ErrNotFound rather than a zero value, so callers can distinguish "empty"
// from "zero".
type Storage interface {
	// Size returns the number of stored timestamps for owner.
	Size(owner OwnerID) (int, error)

	// Fingerprint returns the XOR of timestamps in the half-open index
	// range [lo, hi) of owner's ordered timestamp index.
	Fingerprint(owner OwnerID, lo, hi int) (timestamp.Fingerprint, error)

	// FingerprintRanges computes, in one pass, the fingerprint of every
	// consecutive bucket boundary over [lo, hi), splitting it into
	// `buckets` roughly equal pieces. The final bucket's upper bound is
	// upperBound (infinite if infinite is true).
	FingerprintRanges(owner OwnerID, lo, hi, buckets int, upperBound timestamp.Timestamp, infinite bool) ([]FingerprintRange, error)

	// FindLowerBound returns the first index in [lo, hi) whose stored
	// timestamp is > upperBound (infinite if infinite is true); it
	// returns hi if no such index exists, and hi immediately when
	// infinite is true.
	FindLowerBound(owner OwnerID, lo, hi int, upperBound timestamp.Timestamp, infinite bool) (int, error)

	// Iterate visits timestamps in [lo, hi) in ascending order, calling cb
	// once per timestamp. Iteration stops early if cb returns false.
	Iterate(owner OwnerID, lo, hi int, cb func(ts timestamp.Timestamp) bool) error

	// ValidateWriteKey implements lazy trust-on-first-use: if owner has no
	// recorded key yet, key is stored and true is returned; otherwise key
	// is compared against the stored one in constant time.
	ValidateWriteKey(owner OwnerID, key WriteKey) (bool, error)

	// WriteMessages idempotently inserts messages for owner inside a
	// single transaction; re-inserting an existing (timestamp, change)
	// pair is a no-op and does not change Size.
	WriteMessages(owner OwnerID, messages []Message) error

	// ReadChange retrieves one encrypted change by its exact timestamp.
	// It returns ErrNotFound if no such row exists.
	ReadChange(owner OwnerID, ts timestamp.Timestamp) (EncryptedDbChange, error)

	// DeleteOwner atomically purges every row belonging to owner across
	// all tables.
	DeleteOwner(owner OwnerID) error
}
