// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

// Package transport frames ProtocolMessage values on a net.Conn the way
// the teacher's p2p package frames its block/header/tx messages: a small
// fixed header (magic + length) followed by the payload, written through
// a buffered writer and read with a length limit so one oversized frame
// can't stall the connection forever.
package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dblokhin/relaysync/buffer"
	"github.com/dblokhin/relaysync/protocol"
)

var magic = [2]byte{0x1e, 0xc5}

// maxFrameLen is well above DefaultTotalMaxSize to leave headroom for a
// relay configured with a larger totalMaxSize; it exists only to reject
// garbage headers before allocating a buffer for them.
const maxFrameLen = 16 << 20

// ErrFrameTooLarge is returned by ReadMessage when a peer's declared frame
// length exceeds maxFrameLen.
var ErrFrameTooLarge = errors.New("transport: frame too large")

// ErrBadMagic is returned when a frame's magic bytes don't match, which
// usually means the peer speaks a different protocol entirely.
var ErrBadMagic = errors.New("transport: bad magic")

// WriteMessage encodes msg and writes it to w as one length-prefixed frame.
func WriteMessage(w io.Writer, msg *protocol.ProtocolMessage) error {
	buf := buffer.New()
	if err := msg.Encode(buf); err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}
	payload := buf.Bytes()

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.BigEndian, uint32(len(payload))); err != nil {
		return err
	}
	if _, err := bw.Write(payload); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadMessage reads one length-prefixed frame from r and decodes it.
func ReadMessage(r io.Reader) (*protocol.ProtocolMessage, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr != magic {
		return nil, ErrBadMagic
	}

	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length > maxFrameLen {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return protocol.DecodeProtocolMessage(buffer.NewFromBytes(payload))
}
