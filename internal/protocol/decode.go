package protocol

import (
	"errors"

	"github.com/danmuck/pvbridge/internal/protocol/portable"
)

// Need reports the total size of the message whose first bytes are buf. The
// answer may grow as more bytes arrive (a bounded payload's size is only known
// once its count is present); a caller reads until len(buf) == Need(buf).
// Malformed prefixes are rejected as soon as they are recognisable.
func (v *Vocabulary) Need(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 1, nil
	}
	variant, ok := v.Variant(Tag(buf[0]))
	if !ok {
		return 0, v.decodeError(buf, Variant{Tag: Tag(buf[0])}, 0, ErrUnknownTag)
	}
	if !variant.Shape.Bounded() {
		return 1 + variant.Shape.fixedLen(), nil
	}
	if len(buf) < 1+portable.CountLen {
		return 1 + portable.CountLen, nil
	}
	seq, err := portable.SeqLen(buf[1:], variant.Shape.fixedLen(), variant.MaxLen)
	if err != nil {
		return 0, v.decodeError(buf, variant, 1, err)
	}
	return 1 + seq, nil
}

// Decode parses one message from the front of buf and reports how many bytes
// it consumed. A valid but truncated prefix yields ErrIncomplete; anything
// that can never become valid yields a *DecodeError. Decoding never reads
// past len(buf) and the result never aliases buf.
func (v *Vocabulary) Decode(buf []byte) (Message, int, error) {
	need, err := v.Need(buf)
	if err != nil {
		return Message{}, 0, err
	}
	if len(buf) < need {
		return Message{}, 0, ErrIncomplete
	}
	variant, _ := v.Variant(Tag(buf[0]))
	payload := buf[1:need]
	msg := Message{Tag: variant.Tag, Value: Value{Shape: variant.Shape}}

	switch variant.Shape {
	case ShapeF64:
		msg.Value.F64, err = portable.F64(payload)
	case ShapeU16:
		msg.Value.U16, err = portable.U16(payload)
	case ShapeU32:
		msg.Value.U32, err = portable.U32(payload)
	case ShapeI32Array:
		msg.Value.I32s, _, err = portable.I32s(payload, variant.MaxLen)
	case ShapeBytes:
		msg.Value.Bytes, _, err = portable.Bytes(payload, variant.MaxLen)
	}
	if err != nil {
		if errors.Is(err, portable.ErrShortValue) {
			return Message{}, 0, ErrIncomplete
		}
		return Message{}, 0, v.decodeError(buf, variant, 1, err)
	}
	return msg, need, nil
}

func (v *Vocabulary) decodeError(buf []byte, variant Variant, offset int, err error) error {
	return &DecodeError{
		Vocabulary: v.name,
		Tag:        variant.Tag,
		Variant:    variant.Name,
		Offset:     offset,
		Length:     len(buf),
		Err:        err,
	}
}
