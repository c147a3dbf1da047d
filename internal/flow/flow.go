// Package flow moves values between variables on the host side.
//
// A flow waits for an update on one variable, transforms it, commits it to
// one or more others, and only then accepts the next update. Flows run on the
// shutdown context, never on a connection's context, so losing the peer does
// not stop them.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/pvbridge/internal/observability"
	"github.com/danmuck/pvbridge/internal/variable"
	"github.com/rs/zerolog"
)

var ErrNoSinks = errors.New("flow: no destination variables")

// Task is one long-running flow. It returns nil when ctx is done.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Mirror copies every value observed on src into dst.
func Mirror[V any](name string, src *variable.Observer[V], dst *variable.Var[V]) Task {
	return FanOut(name, src, dst)
}

// Map transforms every value observed on src and commits it to dst. A
// transform error stops the flow.
func Map[A, B any](name string, src *variable.Observer[A], dst *variable.Var[B], fn func(A) (B, error)) Task {
	return Task{Name: name, Run: func(ctx context.Context) error {
		return loop(ctx, name, src, func(ctx context.Context, in A) error {
			out, err := fn(in)
			if err != nil {
				return fmt.Errorf("flow %s: %w", name, err)
			}
			return dst.Write(ctx, out)
		})
	}}
}

// FanOut commits every value observed on src to all dsts, in order, before
// accepting the next one. At any instant the destinations differ by at most
// the update in flight.
func FanOut[V any](name string, src *variable.Observer[V], dsts ...*variable.Var[V]) Task {
	return Task{Name: name, Run: func(ctx context.Context) error {
		if len(dsts) == 0 {
			return fmt.Errorf("%w: %s", ErrNoSinks, name)
		}
		return loop(ctx, name, src, func(ctx context.Context, in V) error {
			for _, dst := range dsts {
				if err := dst.Write(ctx, in); err != nil {
					return err
				}
			}
			return nil
		})
	}}
}

// Seed commits initial to dst before running next.
func Seed[V any](dst *variable.Var[V], initial V, next Task) Task {
	return Task{Name: next.Name, Run: func(ctx context.Context) error {
		if err := dst.Write(ctx, initial); err != nil {
			return ignoreDone(ctx, err)
		}
		return next.Run(ctx)
	}}
}

func loop[V any](ctx context.Context, name string, src *variable.Observer[V], apply func(context.Context, V) error) error {
	for {
		g, err := src.Wait(ctx)
		if err != nil {
			return ignoreDone(ctx, err)
		}
		err = apply(ctx, g.Value())
		g.Accept()
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, variable.ErrCapacityExceeded) {
				logger := observability.Logger("flow")
				logger.Warn().Err(err).Str("flow", name).Msg("value rejected")
				continue
			}
			return ignoreDone(ctx, err)
		}
		observability.RecordFlowCommit(name)
	}
}

func ignoreDone(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// Group runs tasks until ctx is done or one of them fails. On failure the
// others are cancelled and the first error is returned.
func Group(ctx context.Context, logger zerolog.Logger, tasks ...Task) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, task := range tasks {
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			logger.Debug().Str("flow", task.Name).Msg("flow started")
			err := task.Run(ctx)
			if err == nil {
				logger.Debug().Str("flow", task.Name).Msg("flow stopped")
				return
			}
			logger.Error().Err(err).Str("flow", task.Name).Msg("flow failed")
			once.Do(func() {
				firstErr = err
				cancel()
			})
		}(task)
	}
	wg.Wait()
	return firstErr
}
