package host

import (
	"fmt"
	"math"
)

// Initial values arrive from TOML, so integers are int64 and arrays are []any.

func initialF64(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: %T is not a number", ErrInvalidInitial, raw)
	}
}

func initialInt(raw any, max uint64) (uint64, error) {
	var n int64
	switch v := raw.(type) {
	case int64:
		n = v
	case int:
		n = int64(v)
	case uint16:
		n = int64(v)
	case uint32:
		n = int64(v)
	default:
		return 0, fmt.Errorf("%w: %T is not an integer", ErrInvalidInitial, raw)
	}
	if n < 0 || uint64(n) > max {
		return 0, fmt.Errorf("%w: %d out of range [0, %d]", ErrInvalidInitial, n, max)
	}
	return uint64(n), nil
}

func initialU16(raw any) (uint16, error) {
	n, err := initialInt(raw, math.MaxUint16)
	return uint16(n), err
}

func initialU32(raw any) (uint32, error) {
	n, err := initialInt(raw, math.MaxUint32)
	return uint32(n), err
}

func initialI32s(raw any) ([]int32, error) {
	switch v := raw.(type) {
	case []int32:
		return v, nil
	case []any:
		out := make([]int32, 0, len(v))
		for _, item := range v {
			n, ok := item.(int64)
			if !ok || n < math.MinInt32 || n > math.MaxInt32 {
				return nil, fmt.Errorf("%w: array element %v", ErrInvalidInitial, item)
			}
			out = append(out, int32(n))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T is not an array", ErrInvalidInitial, raw)
	}
}

func initialBytes(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %T is not a string", ErrInvalidInitial, raw)
	}
}
