// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package codec

import (
	"fmt"

	"github.com/dblokhin/relaysync/buffer"
)

// base64urlAlphabet is the URL-safe alphabet packed 6 bits per character,
// used by the legacy string path (§4.1 "Base64Url-packed strings, optional
// legacy path"). The only user is the Base64Url tag of the typed value
// codec (value.go); the protocol header, messages and ranges blocks never
// select it.
const base64urlAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

var base64urlIndex = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i, c := range []byte(base64urlAlphabet) {
		idx[c] = int8(i)
	}
	return idx
}()

// EncodePackedString packs s, which must consist only of characters in
// base64urlAlphabet, 6 bits per character (~25% smaller than raw UTF-8 for
// URL-safe strings). Non-alphabet characters are not representable; use
// EncodeBytes for arbitrary text.
func EncodePackedString(buf *buffer.Buffer, s string) error {
	EncodeVarUint(buf, uint64(len(s)))

	var acc uint32
	var bits uint
	for i := 0; i < len(s); i++ {
		v := base64urlIndex[s[i]]
		if v < 0 {
			return fmt.Errorf("%w: character %q not in base64url alphabet", ErrInvalidData, s[i])
		}
		acc = acc<<6 | uint32(v)
		bits += 6
		for bits >= 8 {
			bits -= 8
			_ = buf.WriteByte(byte(acc >> bits))
		}
	}
	if bits > 0 {
		_ = buf.WriteByte(byte(acc << (8 - bits)))
	}
	return nil
}

// DecodePackedString reads back a string packed by EncodePackedString.
// charCount is the VarUInt-prefixed character count; the packed byte
// stream length is derived from it.
func DecodePackedString(buf *buffer.Buffer) (string, error) {
	charCount, err := DecodeVarUint(buf)
	if err != nil {
		return "", fmt.Errorf("packed string length: %w", err)
	}

	byteCount := (charCount*6 + 7) / 8
	raw, err := buf.Next(int(byteCount))
	if err != nil {
		return "", fmt.Errorf("%w: packed string body: %v", ErrInvalidData, err)
	}

	out := make([]byte, 0, charCount)
	var acc uint32
	var bits uint
	for _, b := range raw {
		acc = acc<<8 | uint32(b)
		bits += 8
		for bits >= 6 && uint64(len(out)) < charCount {
			bits -= 6
			idx := (acc >> bits) & 0x3f
			out = append(out, base64urlAlphabet[idx])
		}
	}
	if uint64(len(out)) != charCount {
		return "", fmt.Errorf("%w: packed string truncated", ErrInvalidData)
	}
	return string(out), nil
}
