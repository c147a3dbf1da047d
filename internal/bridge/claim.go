package bridge

import (
	"fmt"

	"github.com/danmuck/pvbridge/internal/dispatch"
	"github.com/danmuck/pvbridge/internal/variable"
)

// Claim takes every bound variable out of reg and binds it to d: inputs as
// sinks, outputs through a freshly attached observer as sources. It returns
// the claimed handles in binding order.
func Claim(reg *variable.Registry, d *dispatch.Dispatcher, bindings []Binding, strict bool) ([]variable.Handle, error) {
	rs, err := resolve(bindings)
	if err != nil {
		return nil, err
	}
	claimed := make([]variable.Handle, 0, len(rs))
	for _, r := range rs {
		h, err := claimOne(reg, d, r)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, h)
	}
	if strict && reg.Len() > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnclaimedVariables, reg.Names())
	}
	return claimed, nil
}

func claimOne(reg *variable.Registry, d *dispatch.Dispatcher, r resolved) (variable.Handle, error) {
	switch r.info.Kind {
	case variable.KindF64:
		return bind(reg, d, r, dispatch.InputF64, dispatch.OutputF64)
	case variable.KindU16:
		return bind(reg, d, r, dispatch.InputU16, dispatch.OutputU16)
	case variable.KindU32:
		return bind(reg, d, r, dispatch.InputU32, dispatch.OutputU32)
	case variable.KindI32Array:
		return bindBounded(reg, d, r, dispatch.InputI32Array, dispatch.OutputI32Array)
	case variable.KindBytes:
		return bindBounded(reg, d, r, dispatch.InputBytes, dispatch.OutputBytes)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, r.Variant)
	}
}

func bind[V any](
	reg *variable.Registry,
	d *dispatch.Dispatcher,
	r resolved,
	in func(*variable.Var[V]) dispatch.Sink,
	out func(*variable.Observer[V]) dispatch.Source,
) (variable.Handle, error) {
	v, err := variable.Take[V](reg, r.Name, r.info.Kind, r.info.Direction)
	if err != nil {
		return nil, err
	}
	if r.info.Direction == variable.Input {
		return v, d.Handle(r.Variant, in(v))
	}
	obs, err := v.Observe()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.Name, err)
	}
	return v, d.Publish(r.Variant, out(obs))
}

// bindBounded also requires the host capacity to fit the wire capacity, so
// every committed value can be sent.
func bindBounded[V any](
	reg *variable.Registry,
	d *dispatch.Dispatcher,
	r resolved,
	in func(*variable.Var[V]) dispatch.Sink,
	out func(*variable.Observer[V]) dispatch.Source,
) (variable.Handle, error) {
	if h, ok := reg.Resolve(r.Name); ok && r.info.Direction == variable.Output && h.Info().MaxLen > r.variant.MaxLen {
		return nil, fmt.Errorf(
			"%w: %q holds %d elements, %s carries at most %d",
			variable.ErrWrongType, r.Name, h.Info().MaxLen, r.Variant, r.variant.MaxLen,
		)
	}
	return bind(reg, d, r, in, out)
}
