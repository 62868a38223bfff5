// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

// SQLite storage backend
package storage

import (
	"crypto/subtle"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/dblokhin/relaysync/timestamp"
)

const schema = `
CREATE TABLE IF NOT EXISTS evolu_timestamp (
	ownerId BLOB NOT NULL,
	ts      BLOB NOT NULL,
	PRIMARY KEY (ownerId, ts)
) STRICT;

CREATE TABLE IF NOT EXISTS evolu_message (
	ownerId BLOB NOT NULL,
	ts      BLOB NOT NULL,
	change  BLOB NOT NULL,
	PRIMARY KEY (ownerId, ts)
) STRICT;

CREATE TABLE IF NOT EXISTS evolu_writeKey (
	ownerId  BLOB PRIMARY KEY,
	writeKey BLOB NOT NULL
) STRICT;
`

// Open opens (creating if necessary) a SQLite database at path and applies
// the storage schema. path may be ":memory:" for an ephemeral store.
func Open(path string) (*SqlStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	// evolu_* tables are written from a single owner worker at a time
	// (§ concurrency model); cap the pool so modernc.org/sqlite, which
	// has no native connection multiplexing guarantees of its own,
	// never interleaves writers on one *sql.DB.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: schema: %w", err)
	}

	return NewSqlStorage(db), nil
}

// NewSqlStorage wraps an already-open, already-migrated *sql.DB as a
// Storage. Exposed separately from Open so callers with their own
// connection lifecycle (e.g. tests sharing one db) can supply it.
func NewSqlStorage(db *sql.DB) *SqlStorage {
	return &SqlStorage{db: db}
}

// SqlStorage is the reference SQLite-backed Storage (§4.3/§6). The
// timestamp index for an owner is the ordered result of
// `SELECT ts FROM evolu_timestamp WHERE ownerId = ? ORDER BY ts`; ts's
// blob ordering matches the canonical timestamp byte order, so SQLite's
// native BLOB comparison is the index's total order for free.
type SqlStorage struct {
	sync.RWMutex

	db *sql.DB
}

// Close releases the underlying database handle.
func (s *SqlStorage) Close() error {
	return s.db.Close()
}

func (s *SqlStorage) Size(owner OwnerID) (int, error) {
	s.RLock()
	defer s.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM evolu_timestamp WHERE ownerId = ?`, owner[:]).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: size: %w", err)
	}
	return n, nil
}

// orderedTimestamps loads the full ordered index for owner. The reference
// backend keeps no separate bucketing structure; §4.3 only requires that
// fingerprint/fingerprint_ranges/find_lower_bound be correct, not that
// they avoid a full scan, and SQLite's BLOB index keeps this scan cheap
// for the sizes this protocol targets (single-owner logs, not global
// tables).
func (s *SqlStorage) orderedTimestamps(owner OwnerID) ([]timestamp.Timestamp, error) {
	rows, err := s.db.Query(`SELECT ts FROM evolu_timestamp WHERE ownerId = ? ORDER BY ts`, owner[:])
	if err != nil {
		return nil, fmt.Errorf("storage: iterate: %w", err)
	}
	defer rows.Close()

	var out []timestamp.Timestamp
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("storage: iterate: scan: %w", err)
		}
		ts, err := timestamp.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("storage: iterate: parse: %w", err)
		}
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate: %w", err)
	}
	return out, nil
}

func (s *SqlStorage) Fingerprint(owner OwnerID, lo, hi int) (timestamp.Fingerprint, error) {
	s.RLock()
	defer s.RUnlock()

	ts, err := s.orderedTimestamps(owner)
	if err != nil {
		return timestamp.Fingerprint{}, err
	}
	lo, hi = clampRange(lo, hi, len(ts))
	return timestamp.FoldSet(ts[lo:hi])
}

func (s *SqlStorage) FingerprintRanges(owner OwnerID, lo, hi, buckets int, upperBound timestamp.Timestamp, infinite bool) ([]FingerprintRange, error) {
	s.RLock()
	defer s.RUnlock()

	if buckets <= 0 {
		return nil, fmt.Errorf("storage: fingerprint_ranges: buckets must be positive, got %d", buckets)
	}

	all, err := s.orderedTimestamps(owner)
	if err != nil {
		return nil, err
	}
	lo, hi = clampRange(lo, hi, len(all))

	n := hi - lo
	out := make([]FingerprintRange, 0, buckets)
	boundaries := balancedBoundaries(n, buckets)

	start := lo
	for i, b := range boundaries {
		end := lo + b
		fp, err := timestamp.FoldSet(all[start:end])
		if err != nil {
			return nil, err
		}
		last := i == len(boundaries)-1
		r := FingerprintRange{Fingerprint: fp, Count: end - start}
		switch {
		case last && infinite:
			r.Infinite = true
		case last:
			r.UpperBound = upperBound
		default:
			r.UpperBound = all[end-1]
		}
		out = append(out, r)
		start = end
	}
	return out, nil
}

// balancedBoundaries splits n items into up to `buckets` pieces as evenly
// as possible, returning the cumulative (exclusive) end index of each
// piece. When 0 < n < buckets, only n one-item pieces are returned; n == 0
// yields a single empty piece.
func balancedBoundaries(n, buckets int) []int {
	if n == 0 {
		return []int{0}
	}
	if buckets > n {
		buckets = n
	}
	base := n / buckets
	rem := n % buckets

	out := make([]int, 0, buckets)
	end := 0
	for i := 0; i < buckets; i++ {
		size := base
		if i < rem {
			size++
		}
		end += size
		out = append(out, end)
	}
	return out
}

func (s *SqlStorage) FindLowerBound(owner OwnerID, lo, hi int, upperBound timestamp.Timestamp, infinite bool) (int, error) {
	s.RLock()
	defer s.RUnlock()

	if infinite {
		return hi, nil
	}

	ts, err := s.orderedTimestamps(owner)
	if err != nil {
		return 0, err
	}
	lo, hi = clampRange(lo, hi, len(ts))

	for i := lo; i < hi; i++ {
		if timestamp.Compare(ts[i], upperBound) > 0 {
			return i, nil
		}
	}
	return hi, nil
}

func (s *SqlStorage) Iterate(owner OwnerID, lo, hi int, cb func(ts timestamp.Timestamp) bool) error {
	s.RLock()
	defer s.RUnlock()

	ts, err := s.orderedTimestamps(owner)
	if err != nil {
		return err
	}
	lo, hi = clampRange(lo, hi, len(ts))

	for i := lo; i < hi; i++ {
		if !cb(ts[i]) {
			return nil
		}
	}
	return nil
}

func (s *SqlStorage) ValidateWriteKey(owner OwnerID, key WriteKey) (bool, error) {
	s.Lock()
	defer s.Unlock()

	var stored []byte
	err := s.db.QueryRow(`SELECT writeKey FROM evolu_writeKey WHERE ownerId = ?`, owner[:]).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		_, err := s.db.Exec(`INSERT INTO evolu_writeKey(ownerId, writeKey) VALUES (?, ?)`, owner[:], key[:])
		if err != nil {
			return false, fmt.Errorf("storage: validate_write_key: trust-on-first-use insert: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("storage: validate_write_key: %w", err)
	}

	return subtle.ConstantTimeCompare(stored, key[:]) == 1, nil
}

func (s *SqlStorage) WriteMessages(owner OwnerID, messages []Message) error {
	s.Lock()
	defer s.Unlock()

	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: write_messages: begin: %w", err)
	}
	defer tx.Rollback()

	for _, m := range messages {
		raw, err := m.Timestamp.Bytes()
		if err != nil {
			return fmt.Errorf("storage: write_messages: timestamp: %w", err)
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO evolu_timestamp(ownerId, ts) VALUES (?, ?)`, owner[:], raw[:]); err != nil {
			return fmt.Errorf("storage: write_messages: timestamp: %w", err)
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO evolu_message(ownerId, ts, change) VALUES (?, ?, ?)`, owner[:], raw[:], []byte(m.Change)); err != nil {
			return fmt.Errorf("storage: write_messages: message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: write_messages: commit: %w", err)
	}
	return nil
}

func (s *SqlStorage) ReadChange(owner OwnerID, ts timestamp.Timestamp) (EncryptedDbChange, error) {
	s.RLock()
	defer s.RUnlock()

	raw, err := ts.Bytes()
	if err != nil {
		return nil, fmt.Errorf("storage: read_change: timestamp: %w", err)
	}
	var change []byte
	err = s.db.QueryRow(`SELECT change FROM evolu_message WHERE ownerId = ? AND ts = ?`, owner[:], raw[:]).Scan(&change)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read_change: %w", err)
	}
	return change, nil
}

func (s *SqlStorage) DeleteOwner(owner OwnerID) error {
	s.Lock()
	defer s.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: delete_owner: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"evolu_timestamp", "evolu_message", "evolu_writeKey"} {
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE ownerId = ?`, table), owner[:]); err != nil {
			return fmt.Errorf("storage: delete_owner: %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: delete_owner: commit: %w", err)
	}
	return nil
}

func clampRange(lo, hi, n int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}
