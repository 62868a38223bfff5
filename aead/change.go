// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package aead

import (
	"fmt"

	"github.com/dblokhin/relaysync/buffer"
	"github.com/dblokhin/relaysync/codec"
	"github.com/dblokhin/relaysync/storage"
	"github.com/dblokhin/relaysync/timestamp"
)

// changeVersion is the plaintext framing version; bumped if the column
// map layout ever changes.
const changeVersion = 1

// ErrTimestampMismatch is returned by DecryptChange when the timestamp
// embedded in the decrypted plaintext disagrees with the timestamp the
// change was stored under — the framing-level tamper check named by
// spec §7 TimestampMismatch. It is this package's own sentinel rather
// than a reference to protocol.ErrorKind, since the AEAD contract is
// named as an external collaborator independent of the envelope;
// integrators map it to protocol.TimestampMismatch at the call site.
var ErrTimestampMismatch = fmt.Errorf("aead: embedded timestamp mismatch")

// DbChange is the decrypted plaintext of one EncryptedDbChange: a single
// row mutation as a table name, row id, and a column name → typed value
// map (§3).
type DbChange struct {
	Timestamp timestamp.Timestamp
	Table     string
	RowID     string
	Columns   map[string]codec.Value
}

// EncryptChange serializes change, pads it to a PADMÉ bucket, and seals
// it under key, returning the wire-ready EncryptedDbChange blob (nonce ∥
// length-prefixed ciphertext, §3).
func EncryptChange(a AEAD, change DbChange, key []byte) (storage.EncryptedDbChange, error) {
	plain := buffer.New()
	codec.EncodeVarUint(plain, changeVersion)
	ts, err := change.Timestamp.Bytes()
	if err != nil {
		return nil, fmt.Errorf("aead: timestamp: %w", err)
	}
	if _, err := plain.Write(ts[:]); err != nil {
		return nil, err
	}
	codec.EncodeBytes(plain, []byte(change.Table))
	codec.EncodeBytes(plain, []byte(change.RowID))

	codec.EncodeVarUint(plain, uint64(len(change.Columns)))
	for name, v := range change.Columns {
		codec.EncodeBytes(plain, []byte(name))
		if err := codec.EncodeValue(plain, v); err != nil {
			return nil, fmt.Errorf("aead: encode column %q: %w", name, err)
		}
	}

	real := plain.Bytes()
	padded := padmeLength(len(real))
	if padded > len(real) {
		pad := make([]byte, padded-len(real))
		if _, err := plain.Write(pad); err != nil {
			return nil, err
		}
	}

	nonce, ciphertext, err := a.Encrypt(plain.Bytes(), key)
	if err != nil {
		return nil, err
	}

	out := buffer.New()
	if _, err := out.Write(nonce); err != nil {
		return nil, err
	}
	codec.EncodeBytes(out, ciphertext)

	return storage.EncryptedDbChange(out.Bytes()), nil
}

// DecryptChange opens change under key, parses its plaintext framing, and
// enforces the embedded-timestamp tamper check against outerTs (the
// timestamp the change was actually stored/retrieved under).
func DecryptChange(a AEAD, change storage.EncryptedDbChange, key []byte, outerTs timestamp.Timestamp) (*DbChange, error) {
	buf := buffer.NewFromBytes([]byte(change))

	nonce, err := buf.Next(a.NonceLength())
	if err != nil {
		return nil, fmt.Errorf("aead: nonce: %w", err)
	}
	ciphertext, err := codec.DecodeBytes(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("aead: ciphertext: %w", err)
	}

	plaintext, err := a.Decrypt(ciphertext, key, nonce)
	if err != nil {
		return nil, err
	}

	pbuf := buffer.NewFromBytes(plaintext)
	version, err := codec.DecodeVarUint(pbuf)
	if err != nil {
		return nil, fmt.Errorf("aead: version: %w", err)
	}
	if version != changeVersion {
		return nil, fmt.Errorf("aead: unsupported change version %d", version)
	}

	tsBytes, err := pbuf.Next(timestamp.BytesLen)
	if err != nil {
		return nil, fmt.Errorf("aead: embedded timestamp: %w", err)
	}
	embedded, err := timestamp.Parse(tsBytes)
	if err != nil {
		return nil, fmt.Errorf("aead: embedded timestamp: %w", err)
	}
	if !timestamp.Equal(embedded, outerTs) {
		return nil, ErrTimestampMismatch
	}

	table, err := codec.DecodeBytes(pbuf, 1024)
	if err != nil {
		return nil, fmt.Errorf("aead: table: %w", err)
	}
	rowID, err := codec.DecodeBytes(pbuf, 1024)
	if err != nil {
		return nil, fmt.Errorf("aead: row id: %w", err)
	}

	count, err := codec.DecodeVarUint(pbuf)
	if err != nil {
		return nil, fmt.Errorf("aead: column count: %w", err)
	}

	columns := make(map[string]codec.Value, count)
	for i := uint64(0); i < count; i++ {
		name, err := codec.DecodeBytes(pbuf, 1024)
		if err != nil {
			return nil, fmt.Errorf("aead: column %d name: %w", i, err)
		}
		v, err := codec.DecodeValue(pbuf)
		if err != nil {
			return nil, fmt.Errorf("aead: column %d value: %w", i, err)
		}
		columns[string(name)] = v
	}

	return &DbChange{Timestamp: embedded, Table: string(table), RowID: string(rowID), Columns: columns}, nil
}
