package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/pvbridge/internal/protocol/portable"
)

// Append encodes msg onto dst. On error dst is returned unchanged in length.
func (v *Vocabulary) Append(dst []byte, msg Message) ([]byte, error) {
	variant, ok := v.Variant(msg.Tag)
	if !ok {
		return dst, fmt.Errorf("%w: %s tag %d", ErrUnknownTag, v.name, msg.Tag)
	}
	if msg.Value.Shape != variant.Shape {
		return dst, fmt.Errorf(
			"%w: %s.%s wants %s got %s",
			ErrShapeMismatch,
			v.name,
			variant.Name,
			variant.Shape,
			msg.Value.Shape,
		)
	}

	start := len(dst)
	dst = append(dst, byte(msg.Tag))
	var err error
	switch variant.Shape {
	case ShapeF64:
		dst = portable.AppendF64(dst, msg.Value.F64)
	case ShapeU16:
		dst = portable.AppendU16(dst, msg.Value.U16)
	case ShapeU32:
		dst = portable.AppendU32(dst, msg.Value.U32)
	case ShapeI32Array:
		dst, err = portable.AppendI32s(dst, msg.Value.I32s, variant.MaxLen)
	case ShapeBytes:
		dst, err = portable.AppendBytes(dst, msg.Value.Bytes, variant.MaxLen)
	}
	if err != nil {
		if errors.Is(err, portable.ErrCountExceeded) {
			err = fmt.Errorf("%w: %s.%s: %v", ErrCapacityExceeded, v.name, variant.Name, err)
		}
		return dst[:start], err
	}
	return dst, nil
}

// Encode returns a fresh buffer holding msg.
func (v *Vocabulary) Encode(msg Message) ([]byte, error) {
	return v.Append(make([]byte, 0, v.maxSize), msg)
}
