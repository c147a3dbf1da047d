package variable

import (
	"fmt"
	"strings"
)

// Kind is the semantic type of a variable.
type Kind uint8

const (
	KindF64 Kind = iota + 1
	KindU16
	KindU32
	KindI32Array
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindF64:
		return "f64"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindI32Array:
		return "i32[]"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) Bounded() bool {
	return k == KindI32Array || k == KindBytes
}

// Direction is fixed from the bridge's point of view.
type Direction uint8

const (
	// Input variables are written by the bridge and read by the host.
	Input Direction = iota + 1
	// Output variables are written by the host and read by the bridge.
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Policy decides which commits wake an observer.
type Policy uint8

const (
	// PolicyEvery wakes on every commit, identical values included.
	PolicyEvery Policy = iota
	// PolicyDistinct wakes only when a commit changes the value.
	PolicyDistinct
)

func (p Policy) String() string {
	if p == PolicyDistinct {
		return "distinct"
	}
	return "every"
}

func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "every", "a":
		return PolicyEvery, nil
	case "distinct", "changed", "b":
		return PolicyDistinct, nil
	default:
		return PolicyEvery, fmt.Errorf("%w: %q", ErrInvalidPolicy, raw)
	}
}

// Info is the static declaration of a variable.
type Info struct {
	Name      string
	Kind      Kind
	Direction Direction
	MaxLen    int
	Policy    Policy
}

// Stats is a point-in-time view of a variable's access state.
type Stats struct {
	Valid     bool
	Commits   uint64
	Wakes     uint64
	Taken     uint64
	Observing bool
	Pending   bool
}

// Handle is the type-erased view the host registry stores.
type Handle interface {
	// Info is the declaration the variable was created with.
	Info() Info
	// Stats is a point-in-time copy of the variable's counters.
	Stats() Stats
}
