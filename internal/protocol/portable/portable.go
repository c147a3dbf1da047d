// Package portable holds the fixed-width little-endian field primitives the
// wire codec is built from. Host values are translated at this boundary only.
package portable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Field widths in bytes.
const (
	U8Len    = 1
	U16Len   = 2
	U32Len   = 4
	I32Len   = 4
	F64Len   = 8
	CountLen = U16Len

	// MaxCount is the largest element count a u16 prefix can carry.
	MaxCount = math.MaxUint16
)

var (
	ErrShortValue    = errors.New("portable: short value")
	ErrCountExceeded = errors.New("portable: element count exceeds capacity")
)

// CountError reports a sequence whose element count exceeds its capacity.
type CountError struct {
	Count int
	Max   int
}

func (e CountError) Error() string {
	return fmt.Sprintf("portable: element count %d exceeds capacity %d", e.Count, e.Max)
}

func (e CountError) Unwrap() error {
	return ErrCountExceeded
}

func AppendU16(dst []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(dst, v)
}

func AppendU32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

func AppendI32(dst []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(dst, uint32(v))
}

func AppendF64(dst []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
}

func U16(b []byte) (uint16, error) {
	if len(b) < U16Len {
		return 0, ErrShortValue
	}
	return binary.LittleEndian.Uint16(b), nil
}

func U32(b []byte) (uint32, error) {
	if len(b) < U32Len {
		return 0, ErrShortValue
	}
	return binary.LittleEndian.Uint32(b), nil
}

func I32(b []byte) (int32, error) {
	v, err := U32(b)
	return int32(v), err
}

func F64(b []byte) (float64, error) {
	if len(b) < F64Len {
		return 0, ErrShortValue
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// SeqLen returns the encoded size of a bounded sequence whose count prefix
// starts at b[0]. The count is checked against max before anything else so a
// hostile prefix never drives an allocation.
func SeqLen(b []byte, elemLen, max int) (int, error) {
	n, err := U16(b)
	if err != nil {
		return 0, err
	}
	if int(n) > max {
		return 0, CountError{Count: int(n), Max: max}
	}
	return CountLen + int(n)*elemLen, nil
}

// AppendI32s encodes vals as a u16 count followed by the elements.
func AppendI32s(dst []byte, vals []int32, max int) ([]byte, error) {
	if err := checkCount(len(vals), max); err != nil {
		return dst, err
	}
	dst = AppendU16(dst, uint16(len(vals)))
	for _, v := range vals {
		dst = AppendI32(dst, v)
	}
	return dst, nil
}

// AppendBytes encodes vals as a u16 count followed by the raw bytes.
func AppendBytes(dst []byte, vals []byte, max int) ([]byte, error) {
	if err := checkCount(len(vals), max); err != nil {
		return dst, err
	}
	dst = AppendU16(dst, uint16(len(vals)))
	return append(dst, vals...), nil
}

// I32s decodes a bounded i32 sequence from the front of b and returns the
// number of bytes consumed.
func I32s(b []byte, max int) ([]int32, int, error) {
	total, err := SeqLen(b, I32Len, max)
	if err != nil {
		return nil, 0, err
	}
	if len(b) < total {
		return nil, 0, ErrShortValue
	}
	count := (total - CountLen) / I32Len
	out := make([]int32, count)
	for i := range out {
		off := CountLen + i*I32Len
		out[i] = int32(binary.LittleEndian.Uint32(b[off : off+I32Len]))
	}
	return out, total, nil
}

// Bytes decodes a bounded byte sequence from the front of b. The result is a
// copy; b may be reused by the caller.
func Bytes(b []byte, max int) ([]byte, int, error) {
	total, err := SeqLen(b, U8Len, max)
	if err != nil {
		return nil, 0, err
	}
	if len(b) < total {
		return nil, 0, ErrShortValue
	}
	out := make([]byte, total-CountLen)
	copy(out, b[CountLen:total])
	return out, total, nil
}

func checkCount(n, max int) error {
	if max > MaxCount {
		max = MaxCount
	}
	if n > max {
		return CountError{Count: n, Max: max}
	}
	return nil
}
