package types

import (
	"bytes"

	"github.com/trackforge/trackforge/pkg/errors"
)

// ValueKind discriminates the logical shape of a cached value. Untyped data
// entering the cache (snapshot files, compressed payloads) is validated at
// DecodeValue, so internal code never sniffs shapes at runtime.
type ValueKind uint8

const (
	// KindString marks values that round-trip as text.
	KindString ValueKind = 0x01
	// KindBinary marks opaque byte payloads.
	KindBinary ValueKind = 0x02
)

// Value is the tagged variant stored by every tier. The zero Value is the
// canonical "absent" value returned on a miss.
type Value struct {
	kind ValueKind
	str  string
	bin  []byte
}

// StringValue wraps a text value.
func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// BytesValue wraps a binary value. The slice is not copied; callers must not
// mutate it after handing it to the cache.
func BytesValue(b []byte) Value {
	return Value{kind: KindBinary, bin: b}
}

// Kind returns the discriminant. The zero Value reports kind 0.
func (v Value) Kind() ValueKind { return v.kind }

// IsZero reports whether v is the absent value.
func (v Value) IsZero() bool { return v.kind == 0 }

// Text returns the string form and whether the value is a string.
func (v Value) Text() (string, bool) {
	return v.str, v.kind == KindString
}

// Binary returns the byte form and whether the value is binary.
func (v Value) Binary() ([]byte, bool) {
	return v.bin, v.kind == KindBinary
}

// Len returns the payload length in bytes.
func (v Value) Len() int {
	if v.kind == KindString {
		return len(v.str)
	}
	return len(v.bin)
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindBinary:
		return bytes.Equal(v.bin, o.bin)
	}
	return true
}

// Encode serializes the value as a one-byte kind tag followed by the payload.
func (v Value) Encode() []byte {
	out := make([]byte, 1+v.Len())
	out[0] = byte(v.kind)
	if v.kind == KindString {
		copy(out[1:], v.str)
	} else {
		copy(out[1:], v.bin)
	}
	return out
}

// DecodeValue validates and deserializes a value produced by Encode. This is
// the single boundary where untyped bytes become typed cache values; an
// unrecognized tag is a data-shape error, never a guess.
func DecodeValue(data []byte) (Value, error) {
	if len(data) == 0 {
		return Value{}, errors.New(errors.ErrCodeValueShape, "empty value payload")
	}
	payload := data[1:]
	switch ValueKind(data[0]) {
	case KindString:
		return StringValue(string(payload)), nil
	case KindBinary:
		bin := make([]byte, len(payload))
		copy(bin, payload)
		return BytesValue(bin), nil
	default:
		return Value{}, errors.Newf(errors.ErrCodeValueShape, "unknown value kind tag 0x%02x", data[0])
	}
}
