package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed        = errors.New("protocol: malformed message")
	ErrIncomplete       = errors.New("protocol: incomplete message")
	ErrUnknownTag       = errors.New("protocol: unknown tag")
	ErrCapacityExceeded = errors.New("protocol: capacity exceeded")
	ErrShapeMismatch    = errors.New("protocol: value shape mismatch")
	ErrInvalidVariant   = errors.New("protocol: invalid variant declaration")
)

// DecodeError describes a frame that can never become a valid message. It
// always matches ErrMalformed, plus the specific cause.
type DecodeError struct {
	Vocabulary string
	Tag        Tag
	Variant    string
	Offset     int
	Length     int
	Err        error
}

func (e *DecodeError) Error() string {
	name := e.Variant
	if name == "" {
		name = "?"
	}
	return fmt.Sprintf(
		"protocol: malformed %s message tag=%d variant=%s offset=%d length=%d: %v",
		e.Vocabulary,
		e.Tag,
		name,
		e.Offset,
		e.Length,
		e.Err,
	)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrMalformed, e.Err}
}
