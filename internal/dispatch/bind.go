package dispatch

import (
	"context"
	"fmt"

	"github.com/danmuck/pvbridge/internal/protocol"
	"github.com/danmuck/pvbridge/internal/variable"
)

// Sink applies one inbound value to a variable.
type Sink interface {
	Shape() protocol.Shape
	Apply(ctx context.Context, val protocol.Value) error
}

// Source yields the next outbound value of a variable. The read guard is
// accepted before the value is returned, so no guard is held across I/O.
type Source interface {
	Shape() protocol.Shape
	Next(ctx context.Context) (protocol.Value, error)
}

type sink[V any] struct {
	v     *variable.Var[V]
	shape protocol.Shape
	from  func(protocol.Value) V
}

func (s sink[V]) Shape() protocol.Shape { return s.shape }

func (s sink[V]) Apply(ctx context.Context, val protocol.Value) error {
	if val.Shape != s.shape {
		return fmt.Errorf("%w: %s got %s", protocol.ErrShapeMismatch, s.v.Name(), val.Shape)
	}
	return s.v.Write(ctx, s.from(val))
}

type source[V any] struct {
	obs   *variable.Observer[V]
	shape protocol.Shape
	to    func(V) protocol.Value
}

func (s source[V]) Shape() protocol.Shape { return s.shape }

func (s source[V]) Next(ctx context.Context) (protocol.Value, error) {
	g, err := s.obs.Wait(ctx)
	if err != nil {
		return protocol.Value{}, err
	}
	val := s.to(g.Value())
	g.Accept()
	return val, nil
}

func InputF64(v *variable.Var[float64]) Sink {
	return sink[float64]{v: v, shape: protocol.ShapeF64, from: func(x protocol.Value) float64 { return x.F64 }}
}

func InputU16(v *variable.Var[uint16]) Sink {
	return sink[uint16]{v: v, shape: protocol.ShapeU16, from: func(x protocol.Value) uint16 { return x.U16 }}
}

func InputU32(v *variable.Var[uint32]) Sink {
	return sink[uint32]{v: v, shape: protocol.ShapeU32, from: func(x protocol.Value) uint32 { return x.U32 }}
}

// InputI32Array replaces the whole array, so a shorter message clears the tail.
func InputI32Array(v *variable.Var[[]int32]) Sink {
	return sink[[]int32]{v: v, shape: protocol.ShapeI32Array, from: func(x protocol.Value) []int32 { return x.I32s }}
}

// InputBytes stores exactly the received bytes.
func InputBytes(v *variable.Var[[]byte]) Sink {
	return sink[[]byte]{v: v, shape: protocol.ShapeBytes, from: func(x protocol.Value) []byte { return x.Bytes }}
}

func OutputF64(obs *variable.Observer[float64]) Source {
	return source[float64]{obs: obs, shape: protocol.ShapeF64, to: protocol.F64}
}

func OutputU16(obs *variable.Observer[uint16]) Source {
	return source[uint16]{obs: obs, shape: protocol.ShapeU16, to: protocol.U16}
}

func OutputU32(obs *variable.Observer[uint32]) Source {
	return source[uint32]{obs: obs, shape: protocol.ShapeU32, to: protocol.U32}
}

func OutputI32Array(obs *variable.Observer[[]int32]) Source {
	return source[[]int32]{obs: obs, shape: protocol.ShapeI32Array, to: protocol.I32s}
}

func OutputBytes(obs *variable.Observer[[]byte]) Source {
	return source[[]byte]{obs: obs, shape: protocol.ShapeBytes, to: protocol.Bytes}
}
