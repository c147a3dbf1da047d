package variable

import "errors"

var (
	ErrCapacityExceeded = errors.New("variable: capacity exceeded")
	ErrGuardReleased    = errors.New("variable: guard already released")
	ErrGuardActive      = errors.New("variable: read guard not accepted")
	ErrObserverActive   = errors.New("variable: observer already attached")
	ErrObserverClosed   = errors.New("variable: observer closed")
	ErrMissingVariable  = errors.New("variable: missing variable")
	ErrWrongType        = errors.New("variable: wrong type")
	ErrDuplicate        = errors.New("variable: duplicate name")
	ErrInvalidName      = errors.New("variable: invalid name")
	ErrInvalidPolicy    = errors.New("variable: invalid policy")
)
