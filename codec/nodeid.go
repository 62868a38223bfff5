// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/dblokhin/relaysync/buffer"
	"github.com/dblokhin/relaysync/timestamp"
)

// EncodeNodeID writes the 8 raw bytes of a NodeID (§4.1).
func EncodeNodeID(buf *buffer.Buffer, n timestamp.NodeID) {
	_, _ = buf.Write(n[:])
}

// DecodeNodeID reads a fixed 8-byte NodeID.
func DecodeNodeID(buf *buffer.Buffer) (timestamp.NodeID, error) {
	raw, err := buf.Next(timestamp.NodeIDLen)
	if err != nil {
		return timestamp.NodeID{}, fmt.Errorf("%w: node id: %v", ErrInvalidData, err)
	}
	var n timestamp.NodeID
	copy(n[:], raw)
	return n, nil
}

// nodeIDToUint64/uint64ToNodeID let a NodeID run through the generic
// uint64-keyed RunLengthEncoder/DecodeRuns helpers unchanged.
func nodeIDToUint64(n timestamp.NodeID) uint64 {
	return binary.BigEndian.Uint64(n[:])
}

func uint64ToNodeID(v uint64) timestamp.NodeID {
	var n timestamp.NodeID
	binary.BigEndian.PutUint64(n[:], v)
	return n
}

func writeNodeIDValue(buf *buffer.Buffer, v uint64) {
	EncodeNodeID(buf, uint64ToNodeID(v))
}

func readNodeIDValue(buf *buffer.Buffer) (uint64, error) {
	n, err := DecodeNodeID(buf)
	if err != nil {
		return 0, err
	}
	return nodeIDToUint64(n), nil
}
