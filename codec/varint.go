// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

// Package codec implements the wire primitives of the sync protocol: the
// VarUInt base, length-prefixed bytes, run-length and delta encoders for
// timestamp lists, the generic Number/Json primitive (delegated to
// MessagePack), a legacy base64url packer, and the typed SQLite scalar
// value. Every decoder here fails with ErrInvalidData on a constraint
// violation; every encoder is total (it cannot fail).
package codec

import (
	"fmt"

	"github.com/dblokhin/relaysync/buffer"
)

// maxVarUintBytes bounds a VarUInt encoding to 8 bytes (§4.1: "Budget ≤ 8
// bytes, bounds safe-integer range"), i.e. 56 usable bits, comfortably
// past JavaScript's Number.isSafeInteger ceiling this protocol's reference
// implementation target has to respect.
const maxVarUintBytes = 8

// ErrInvalidData is returned by every decoder in this package on a
// constraint violation (§7 InvalidData).
var ErrInvalidData = fmt.Errorf("codec: invalid data")

// EncodeVarUint appends v to buf using 7 bits per byte, little-endian,
// continuation in the high bit. Zero encodes as a single 0x00 byte.
func EncodeVarUint(buf *buffer.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		_ = buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

// VarUintLen returns the number of bytes EncodeVarUint would emit for v,
// used by the message builder to account for size budgets before
// committing an encode.
func VarUintLen(v uint64) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}

// DecodeVarUint reads a VarUInt from buf. It fails with ErrInvalidData if
// the encoding runs past maxVarUintBytes without terminating, or if the
// buffer is exhausted first.
func DecodeVarUint(buf *buffer.Buffer) (uint64, error) {
	var v uint64
	for i := 0; i < maxVarUintBytes; i++ {
		b, err := buf.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("%w: varuint: %v", ErrInvalidData, err)
		}
		v |= uint64(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: varuint exceeds %d bytes", ErrInvalidData, maxVarUintBytes)
}

// EncodeBytes writes a VarUInt length prefix followed by data.
func EncodeBytes(buf *buffer.Buffer, data []byte) {
	EncodeVarUint(buf, uint64(len(data)))
	_, _ = buf.Write(data)
}

// BytesLen returns the number of bytes EncodeBytes would emit for data.
func BytesLen(data []byte) int {
	return VarUintLen(uint64(len(data))) + len(data)
}

// DecodeBytes reads a length-prefixed byte string. maxLen bounds the
// accepted length to guard against a peer claiming an absurd size; pass 0
// for no bound.
func DecodeBytes(buf *buffer.Buffer, maxLen uint64) ([]byte, error) {
	n, err := DecodeVarUint(buf)
	if err != nil {
		return nil, err
	}
	if maxLen > 0 && n > maxLen {
		return nil, fmt.Errorf("%w: length %d exceeds max %d", ErrInvalidData, n, maxLen)
	}
	out, err := buf.Next(int(n))
	if err != nil {
		return nil, fmt.Errorf("%w: bytes: %v", ErrInvalidData, err)
	}
	// Next aliases the underlying storage; return an owned copy so callers
	// may retain it past the buffer's lifetime.
	cp := make([]byte, len(out))
	copy(cp, out)
	return cp, nil
}
