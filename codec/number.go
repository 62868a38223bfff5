// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package codec

import (
	"fmt"

	"github.com/dblokhin/relaysync/buffer"
	"github.com/ugorji/go/codec"
)

// msgpackHandle is shared by every Number/Json encode and decode; ugorji's
// Handle is safe for concurrent use once configured.
var msgpackHandle = &codec.MsgpackHandle{}

// EncodeNumber delegates a single general-purpose numeric value (signed,
// unsigned, or float) to MessagePack rather than reimplementing its
// float/negative-int handling (§4.1 "Number (general)").
func EncodeNumber(buf *buffer.Buffer, v interface{}) error {
	var out []byte
	enc := codec.NewEncoderBytes(&out, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("%w: number encode: %v", ErrInvalidData, err)
	}
	_, _ = buf.Write(out)
	return nil
}

// DecodeNumber reads one MessagePack-encoded value from buf into a
// generic interface{} (int64, uint64, float64, etc. depending on what was
// encoded) and advances buf by exactly the number of bytes the MessagePack
// layer consumed, as reported by the decoder itself — the layering
// EncodeNumber/DecodeNumber exist for in the first place (§4.1).
func DecodeNumber(buf *buffer.Buffer) (interface{}, error) {
	dec := codec.NewDecoderBytes(buf.Remaining(), msgpackHandle)

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: number decode: %v", ErrInvalidData, err)
	}

	if err := buf.Advance(dec.NumBytesRead()); err != nil {
		return nil, fmt.Errorf("%w: number decode advance: %v", ErrInvalidData, err)
	}
	return v, nil
}
