package protocol

import (
	"bytes"
	"fmt"
	"math"

	"github.com/danmuck/pvbridge/internal/protocol/portable"
)

// Tag selects a variant within one vocabulary.
type Tag uint8

// Shape is the payload layout of a variant.
type Shape uint8

const (
	ShapeF64 Shape = iota + 1
	ShapeU16
	ShapeU32
	ShapeI32Array
	ShapeBytes
)

func (s Shape) String() string {
	switch s {
	case ShapeF64:
		return "f64"
	case ShapeU16:
		return "u16"
	case ShapeU32:
		return "u32"
	case ShapeI32Array:
		return "i32[]"
	case ShapeBytes:
		return "u8[]"
	default:
		return fmt.Sprintf("shape(%d)", uint8(s))
	}
}

// Bounded reports whether the shape is a count-prefixed sequence.
func (s Shape) Bounded() bool {
	return s == ShapeI32Array || s == ShapeBytes
}

// fixedLen is the payload size of a scalar shape, or the per-element size of
// a bounded one.
func (s Shape) fixedLen() int {
	switch s {
	case ShapeF64:
		return portable.F64Len
	case ShapeU16:
		return portable.U16Len
	case ShapeU32:
		return portable.U32Len
	case ShapeI32Array:
		return portable.I32Len
	case ShapeBytes:
		return portable.U8Len
	default:
		return 0
	}
}

// Value is a decoded payload. Only the field matching Shape is meaningful.
type Value struct {
	Shape Shape
	F64   float64
	U16   uint16
	U32   uint32
	I32s  []int32
	Bytes []byte
}

func F64(v float64) Value {
	return Value{Shape: ShapeF64, F64: v}
}

func U16(v uint16) Value {
	return Value{Shape: ShapeU16, U16: v}
}

func U32(v uint32) Value {
	return Value{Shape: ShapeU32, U32: v}
}

func I32s(v []int32) Value {
	return Value{Shape: ShapeI32Array, I32s: v}
}

func Bytes(v []byte) Value {
	return Value{Shape: ShapeBytes, Bytes: v}
}

// Len is the element count of a bounded value, 1 for scalars.
func (v Value) Len() int {
	switch v.Shape {
	case ShapeI32Array:
		return len(v.I32s)
	case ShapeBytes:
		return len(v.Bytes)
	default:
		return 1
	}
}

// Equal compares payloads. Floats compare bitwise so NaN payloads round-trip.
func (v Value) Equal(o Value) bool {
	if v.Shape != o.Shape {
		return false
	}
	switch v.Shape {
	case ShapeF64:
		return math.Float64bits(v.F64) == math.Float64bits(o.F64)
	case ShapeU16:
		return v.U16 == o.U16
	case ShapeU32:
		return v.U32 == o.U32
	case ShapeI32Array:
		if len(v.I32s) != len(o.I32s) {
			return false
		}
		for i := range v.I32s {
			if v.I32s[i] != o.I32s[i] {
				return false
			}
		}
		return true
	case ShapeBytes:
		return bytes.Equal(v.Bytes, o.Bytes)
	default:
		return false
	}
}

// String is a short summary used in log events.
func (v Value) String() string {
	switch v.Shape {
	case ShapeF64:
		return fmt.Sprintf("%g", v.F64)
	case ShapeU16:
		return fmt.Sprintf("%d", v.U16)
	case ShapeU32:
		return fmt.Sprintf("%#x", v.U32)
	case ShapeI32Array:
		if len(v.I32s) > 8 {
			return fmt.Sprintf("%v...(%d)", v.I32s[:8], len(v.I32s))
		}
		return fmt.Sprintf("%v", v.I32s)
	case ShapeBytes:
		return fmt.Sprintf("%q", v.Bytes)
	default:
		return v.Shape.String()
	}
}

// Message is one member of a vocabulary: a tag and its payload.
type Message struct {
	Tag   Tag
	Value Value
}

// Variant declares one member of a closed vocabulary.
type Variant struct {
	Tag    Tag
	Name   string
	Shape  Shape
	MaxLen int
}

// MaxSize is the worst-case encoded size of the variant, tag included.
func (v Variant) MaxSize() int {
	if v.Shape.Bounded() {
		return 1 + portable.CountLen + v.MaxLen*v.Shape.fixedLen()
	}
	return 1 + v.Shape.fixedLen()
}

func (v Variant) validate() error {
	if v.Name == "" {
		return fmt.Errorf("%w: tag %d missing name", ErrInvalidVariant, v.Tag)
	}
	if v.Shape.fixedLen() == 0 {
		return fmt.Errorf("%w: %s has unknown shape %d", ErrInvalidVariant, v.Name, v.Shape)
	}
	if v.Shape.Bounded() {
		if v.MaxLen <= 0 || v.MaxLen > portable.MaxCount {
			return fmt.Errorf("%w: %s capacity %d out of range", ErrInvalidVariant, v.Name, v.MaxLen)
		}
	} else if v.MaxLen != 0 {
		return fmt.Errorf("%w: %s scalar declares capacity %d", ErrInvalidVariant, v.Name, v.MaxLen)
	}
	return nil
}
