package bridge

import (
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/pvbridge/internal/host"
	"github.com/danmuck/pvbridge/internal/protocol"
	"github.com/danmuck/pvbridge/internal/protocol/schema"
	"github.com/danmuck/pvbridge/internal/variable"
)

var (
	ErrUnknownVariant     = errors.New("bridge: unknown wire variant")
	ErrDuplicateBinding   = errors.New("bridge: variant bound twice")
	ErrUnclaimedVariables = errors.New("bridge: host has unclaimed variables")
)

// DefaultPrefix namespaces the example variables on the host.
const DefaultPrefix = "example:"

// Binding maps one wire variant onto a host variable.
type Binding struct {
	Variant string
	Name    string
	Policy  variable.Policy
}

// DefaultBindings binds every variant of both vocabularies to prefix+variant.
func DefaultBindings(prefix string) []Binding {
	var out []Binding
	for _, vocab := range []*protocol.Vocabulary{schema.Inbound, schema.Outbound} {
		for _, v := range vocab.Variants() {
			out = append(out, Binding{Variant: v.Name, Name: prefix + v.Name})
		}
	}
	return out
}

// DefaultFlows mirrors every input back to an output so a peer can verify
// the whole path. aai and waveform share aao.
func DefaultFlows(prefix string) []host.FlowSpec {
	return []host.FlowSpec{
		{From: prefix + "ai", To: []string{prefix + "ao"}, Initial: math.Pi},
		{From: prefix + "aai", To: []string{prefix + "aao"}},
		{From: prefix + "waveform", To: []string{prefix + "aao"}},
		{From: prefix + "bi", To: []string{prefix + "bo"}},
		{From: prefix + "mbbiDirect", To: []string{prefix + "mbboDirect"}},
		{From: prefix + "stringin", To: []string{prefix + "stringout"}},
	}
}

type resolved struct {
	Binding
	variant protocol.Variant
	info    variable.Info
}

func resolve(bindings []Binding) ([]resolved, error) {
	seen := make(map[string]bool, len(bindings))
	out := make([]resolved, 0, len(bindings))
	for _, b := range bindings {
		v, dir, ok := schema.Lookup(b.Variant)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, b.Variant)
		}
		if seen[b.Variant] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateBinding, b.Variant)
		}
		seen[b.Variant] = true

		info := variable.Info{
			Name:      b.Name,
			Kind:      kindOf(v.Shape),
			Direction: variable.Input,
			MaxLen:    v.MaxLen,
			Policy:    b.Policy,
		}
		if dir == schema.DirectionOutbound {
			info.Direction = variable.Output
		}
		out = append(out, resolved{Binding: b, variant: v, info: info})
	}
	return out, nil
}

// Declarations lists the host variables the bindings need, typed and sized
// from the wire vocabulary.
func Declarations(bindings []Binding) ([]variable.Info, error) {
	rs, err := resolve(bindings)
	if err != nil {
		return nil, err
	}
	out := make([]variable.Info, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.info)
	}
	return out, nil
}

func kindOf(s protocol.Shape) variable.Kind {
	switch s {
	case protocol.ShapeF64:
		return variable.KindF64
	case protocol.ShapeU16:
		return variable.KindU16
	case protocol.ShapeU32:
		return variable.KindU32
	case protocol.ShapeI32Array:
		return variable.KindI32Array
	case protocol.ShapeBytes:
		return variable.KindBytes
	default:
		return 0
	}
}
