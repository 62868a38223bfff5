// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

// Package buffer implements the append-only byte buffer the wire codec
// builds on: a write cursor that only grows and a read cursor that only
// advances, plus truncate/reset/shift primitives for rolling back a
// failed append or compacting a partially-consumed decode buffer.
package buffer

import (
	"errors"
	"io"
)

// ErrShortBuffer is returned when a read operation asks for more bytes than
// remain unread in the buffer.
var ErrShortBuffer = errors.New("buffer: short buffer")

// Buffer is a single-writer, single-reader byte buffer. Writes always
// append to the end; reads always advance from the current position.
// Buffer is not safe for concurrent use.
type Buffer struct {
	data []byte
	pos  int
}

// New returns an empty Buffer ready for writing.
func New() *Buffer {
	return &Buffer{}
}

// NewFromBytes wraps b for reading. b is not copied; callers must not
// mutate it while the Buffer is in use.
func NewFromBytes(b []byte) *Buffer {
	return &Buffer{data: b}
}

// NewWithCapacity returns an empty Buffer with the given backing capacity
// pre-allocated, avoiding reallocations while a message is assembled.
func NewWithCapacity(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Write appends p to the buffer. It implements io.Writer and never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(c byte) error {
	b.data = append(b.data, c)
	return nil
}

// Bytes returns the full underlying slice written so far (from index 0,
// regardless of the read cursor).
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.data) - b.pos
}

// Size returns the total number of bytes written, ignoring the read cursor.
func (b *Buffer) Size() int {
	return len(b.data)
}

// Remaining returns the unread tail of the buffer without advancing the
// cursor.
func (b *Buffer) Remaining() []byte {
	return b.data[b.pos:]
}

// ReadByte reads and consumes a single byte.
func (b *Buffer) ReadByte() (byte, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	c := b.data[b.pos]
	b.pos++
	return c, nil
}

// Read implements io.Reader, consuming from the current position.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}

// Next returns the next n unread bytes and advances the cursor past them.
// The returned slice aliases the buffer's storage.
func (b *Buffer) Next(n int) ([]byte, error) {
	if n < 0 || b.pos+n > len(b.data) {
		return nil, ErrShortBuffer
	}
	out := b.data[b.pos : b.pos+n]
	b.pos += n
	return out, nil
}

// Peek returns the next n unread bytes without advancing the cursor.
func (b *Buffer) Peek(n int) ([]byte, error) {
	if n < 0 || b.pos+n > len(b.data) {
		return nil, ErrShortBuffer
	}
	return b.data[b.pos : b.pos+n], nil
}

// Advance moves the read cursor forward by n bytes.
func (b *Buffer) Advance(n int) error {
	if n < 0 || b.pos+n > len(b.data) {
		return ErrShortBuffer
	}
	b.pos += n
	return nil
}

// Pos returns the current read cursor offset.
func (b *Buffer) Pos() int {
	return b.pos
}

// Truncate discards everything written after offset n, which lets a
// caller roll back a partially-serialized element.
func (b *Buffer) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n > len(b.data) {
		n = len(b.data)
	}
	b.data = b.data[:n]
	if b.pos > n {
		b.pos = n
	}
}

// Reset discards all data and rewinds both cursors; the backing array is
// retained for reuse.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.pos = 0
}

// Shift drops the first n bytes already consumed, compacting the backing
// array and rebasing the read cursor, so a long-lived decode buffer (e.g.
// a stream reader) does not keep its consumed prefix forever.
func (b *Buffer) Shift(n int) {
	if n <= 0 {
		return
	}
	if n > len(b.data) {
		n = len(b.data)
	}
	b.data = append(b.data[:0], b.data[n:]...)
	b.pos -= n
	if b.pos < 0 {
		b.pos = 0
	}
}
