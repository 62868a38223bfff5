// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/dblokhin/relaysync/buffer"
	"github.com/ugorji/go/codec"
)

// ValueKind tags the logical shape carried by a Value. The wire format has
// more tag cases than this (small ints, non-negative ints, ids, dates are
// all space optimizations or app-level refinements of an underlying
// Int/Real/Text/Blob), but each wire tag maps onto exactly one ValueKind,
// which is what a caller matches on (Design Notes §9: replace the dynamic
// typeof-dispatch encoder with an explicit sum type).
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindInt
	KindReal
	KindText
	KindBlob
	KindID
	KindBase64Url
	KindJSON
	KindDate
)

// Wire tags. 0..19 are reserved for inline small-int values (the tag byte
// itself is the value), saving a byte for the common case of small
// integer columns. 20+ are the explicit cases (§4.1).
const (
	maxInlineSmallInt = 19

	tagString         = 20
	tagNumber         = 21
	tagNull           = 22
	tagBytes          = 23
	tagNonNegativeInt = 24
	tagID             = 25
	tagBase64Url      = 26
	tagJSON           = 27
	tagEmptyString    = 28
	tagDateNonNeg     = 29
	tagDateNeg        = 30
)

const idLen = 16

// maxValueBytes bounds String/Bytes payload length decoding, independent
// of the protocol message size budget, to reject absurd claimed lengths
// early.
const maxValueBytes = 1 << 24

// Value is a typed SQLite scalar as carried in an EncryptedDbChange's
// column map (§3, §4.1).
type Value struct {
	Kind ValueKind
	Int  int64
	Real float64
	Text string
	Blob []byte
}

func NullValue() Value             { return Value{Kind: KindNull} }
func IntValue(i int64) Value       { return Value{Kind: KindInt, Int: i} }
func RealValue(f float64) Value    { return Value{Kind: KindReal, Real: f} }
func TextValue(s string) Value     { return Value{Kind: KindText, Text: s} }
func BlobValue(b []byte) Value     { return Value{Kind: KindBlob, Blob: b} }
func Base64UrlValue(s string) Value { return Value{Kind: KindBase64Url, Text: s} }
func DateValue(ms int64) Value     { return Value{Kind: KindDate, Int: ms} }

// IDValue wraps a fixed 16-byte identifier.
func IDValue(id [idLen]byte) Value {
	return Value{Kind: KindID, Blob: append([]byte(nil), id[:]...)}
}

// JSONValue canonicalizes s (which must be valid JSON text) the same way
// DecodeValue does, so a Value built locally encodes identically to one
// that round-tripped over the wire.
func JSONValue(s string) (Value, error) {
	canonical, err := canonicalizeJSON(s)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: KindJSON, Text: canonical}, nil
}

// EncodeValue writes v using the most compact applicable wire tag.
func EncodeValue(buf *buffer.Buffer, v Value) error {
	switch v.Kind {
	case KindNull:
		_ = buf.WriteByte(tagNull)

	case KindInt:
		switch {
		case v.Int >= 0 && v.Int <= maxInlineSmallInt:
			_ = buf.WriteByte(byte(v.Int))
		case v.Int >= 0:
			_ = buf.WriteByte(tagNonNegativeInt)
			EncodeVarUint(buf, uint64(v.Int))
		default:
			_ = buf.WriteByte(tagNumber)
			if err := EncodeNumber(buf, v.Int); err != nil {
				return err
			}
		}

	case KindReal:
		_ = buf.WriteByte(tagNumber)
		if err := EncodeNumber(buf, v.Real); err != nil {
			return err
		}

	case KindText:
		if v.Text == "" {
			_ = buf.WriteByte(tagEmptyString)
			return nil
		}
		_ = buf.WriteByte(tagString)
		EncodeBytes(buf, []byte(v.Text))

	case KindBlob:
		_ = buf.WriteByte(tagBytes)
		EncodeBytes(buf, v.Blob)

	case KindID:
		if len(v.Blob) != idLen {
			return fmt.Errorf("%w: id value must be %d bytes, got %d", ErrInvalidData, idLen, len(v.Blob))
		}
		_ = buf.WriteByte(tagID)
		_, _ = buf.Write(v.Blob)

	case KindBase64Url:
		_ = buf.WriteByte(tagBase64Url)
		if err := EncodePackedString(buf, v.Text); err != nil {
			return err
		}

	case KindJSON:
		_ = buf.WriteByte(tagJSON)
		if err := encodeJSONPayload(buf, v.Text); err != nil {
			return err
		}

	case KindDate:
		if v.Int >= 0 {
			_ = buf.WriteByte(tagDateNonNeg)
			EncodeVarUint(buf, uint64(v.Int))
		} else {
			_ = buf.WriteByte(tagDateNeg)
			if err := EncodeNumber(buf, v.Int); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("%w: unknown value kind %d", ErrInvalidData, v.Kind)
	}
	return nil
}

// DecodeValue reads back a Value written by EncodeValue.
func DecodeValue(buf *buffer.Buffer) (Value, error) {
	tag, err := buf.ReadByte()
	if err != nil {
		return Value{}, fmt.Errorf("%w: value tag: %v", ErrInvalidData, err)
	}

	if tag <= maxInlineSmallInt {
		return IntValue(int64(tag)), nil
	}

	switch tag {
	case tagString:
		b, err := DecodeBytes(buf, maxValueBytes)
		if err != nil {
			return Value{}, err
		}
		return TextValue(string(b)), nil

	case tagNumber:
		n, err := DecodeNumber(buf)
		if err != nil {
			return Value{}, err
		}
		return numberToValue(n), nil

	case tagNull:
		return NullValue(), nil

	case tagBytes:
		b, err := DecodeBytes(buf, maxValueBytes)
		if err != nil {
			return Value{}, err
		}
		return BlobValue(b), nil

	case tagNonNegativeInt:
		v, err := DecodeVarUint(buf)
		if err != nil {
			return Value{}, err
		}
		return IntValue(int64(v)), nil

	case tagID:
		raw, err := buf.Next(idLen)
		if err != nil {
			return Value{}, fmt.Errorf("%w: id: %v", ErrInvalidData, err)
		}
		var id [idLen]byte
		copy(id[:], raw)
		return IDValue(id), nil

	case tagBase64Url:
		s, err := DecodePackedString(buf)
		if err != nil {
			return Value{}, err
		}
		return Base64UrlValue(s), nil

	case tagJSON:
		canonical, err := decodeJSONPayload(buf)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindJSON, Text: canonical}, nil

	case tagEmptyString:
		return TextValue(""), nil

	case tagDateNonNeg:
		ms, err := DecodeVarUint(buf)
		if err != nil {
			return Value{}, err
		}
		return DateValue(int64(ms)), nil

	case tagDateNeg:
		n, err := DecodeNumber(buf)
		if err != nil {
			return Value{}, err
		}
		return DateValue(numberToInt64(n)), nil

	default:
		return Value{}, fmt.Errorf("%w: unknown value tag %d", ErrInvalidData, tag)
	}
}

func numberToValue(n interface{}) Value {
	switch t := n.(type) {
	case int64:
		return IntValue(t)
	case uint64:
		return IntValue(int64(t))
	case float64:
		return RealValue(t)
	case float32:
		return RealValue(float64(t))
	default:
		return RealValue(0)
	}
}

func numberToInt64(n interface{}) int64 {
	switch t := n.(type) {
	case int64:
		return t
	case uint64:
		return int64(t)
	case float64:
		return int64(t)
	case float32:
		return int64(t)
	default:
		return 0
	}
}

// encodeJSONPayload parses s as JSON, then MessagePack-encodes the parsed
// generic value (rather than the raw string bytes), per §4.1: "the Json
// case round-trips through MessagePack".
func encodeJSONPayload(buf *buffer.Buffer, s string) error {
	var generic interface{}
	if err := json.Unmarshal([]byte(s), &generic); err != nil {
		return fmt.Errorf("%w: json payload: %v", ErrInvalidData, err)
	}

	var packed []byte
	enc := codec.NewEncoderBytes(&packed, msgpackHandle)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("%w: json msgpack encode: %v", ErrInvalidData, err)
	}
	_, _ = buf.Write(packed)
	return nil
}

// decodeJSONPayload is DecodeNumber's sibling: it reads one MessagePack
// value that represents an arbitrary JSON document (not just a scalar),
// then canonicalizes it back to a JSON string and checks the
// canonicalization is idempotent — protection against drift like
// "-0E0" -> "0" silently changing the stored text on every round trip.
func decodeJSONPayload(buf *buffer.Buffer) (string, error) {
	// json.Marshal below needs strings as string and objects as
	// map[string]interface{}, not the msgpack defaults ([]byte and
	// map[interface{}]interface{}).
	h := &codec.MsgpackHandle{}
	h.RawToString = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	dec := codec.NewDecoderBytes(buf.Remaining(), h)

	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("%w: json msgpack decode: %v", ErrInvalidData, err)
	}
	if err := buf.Advance(dec.NumBytesRead()); err != nil {
		return "", fmt.Errorf("%w: json decode advance: %v", ErrInvalidData, err)
	}

	first, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("%w: json canonicalize: %v", ErrInvalidData, err)
	}

	var reparsed interface{}
	if err := json.Unmarshal(first, &reparsed); err != nil {
		return "", fmt.Errorf("%w: json round-trip reparse: %v", ErrInvalidData, err)
	}
	second, err := json.Marshal(reparsed)
	if err != nil {
		return "", fmt.Errorf("%w: json round-trip canonicalize: %v", ErrInvalidData, err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("%w: json value does not survive canonicalization round-trip", ErrInvalidData)
	}

	return string(first), nil
}

// canonicalizeJSON applies the same canonicalization DecodeValue performs
// on the wire, so locally-constructed JSONValue()s are indistinguishable
// from ones that traveled over the network.
func canonicalizeJSON(s string) (string, error) {
	var generic interface{}
	if err := json.Unmarshal([]byte(s), &generic); err != nil {
		return "", fmt.Errorf("%w: json payload: %v", ErrInvalidData, err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("%w: json canonicalize: %v", ErrInvalidData, err)
	}
	return string(canonical), nil
}
