package variable

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
)

// Option configures a Var at construction.
type Option[V any] func(*Var[V])

// WithPolicy selects which commits wake the observer.
func WithPolicy[V any](p Policy) Option[V] {
	return func(v *Var[V]) { v.info.Policy = p }
}

// WithInitial seeds the current value without counting as a commit.
func WithInitial[V any](val V) Option[V] {
	return func(v *Var[V]) {
		v.value = v.ops.clone(val)
		v.valid = true
	}
}

type ops[V any] struct {
	clone  func(V) V
	equal  func(a, b V) bool
	length func(V) int
}

// Var is one process variable and its access gateway.
type Var[V any] struct {
	info Info
	ops  ops[V]

	// token is held by the live write guard.
	token chan struct{}

	mu       sync.Mutex
	value    V
	valid    bool
	commits  uint64
	seq      uint64 // waking commits
	taken    uint64 // last seq handed to the observer
	observer *Observer[V]
	notify   chan struct{}
}

func newVar[V any](info Info, o ops[V], opts []Option[V]) *Var[V] {
	v := &Var[V]{
		info:   info,
		ops:    o,
		token:  make(chan struct{}, 1),
		notify: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

func scalarOps[V comparable]() ops[V] {
	return ops[V]{
		clone: func(v V) V { return v },
		equal: func(a, b V) bool { return a == b },
	}
}

// NewF64 declares a float variable. Equality is bitwise, so NaN payloads
// compare equal to themselves under PolicyDistinct.
func NewF64(name string, dir Direction, opts ...Option[float64]) *Var[float64] {
	o := scalarOps[float64]()
	o.equal = func(a, b float64) bool { return math.Float64bits(a) == math.Float64bits(b) }
	return newVar(Info{Name: name, Kind: KindF64, Direction: dir}, o, opts)
}

// NewU16 declares a 16-bit unsigned variable.
func NewU16(name string, dir Direction, opts ...Option[uint16]) *Var[uint16] {
	return newVar(Info{Name: name, Kind: KindU16, Direction: dir}, scalarOps[uint16](), opts)
}

// NewU32 declares a 32-bit unsigned variable.
func NewU32(name string, dir Direction, opts ...Option[uint32]) *Var[uint32] {
	return newVar(Info{Name: name, Kind: KindU32, Direction: dir}, scalarOps[uint32](), opts)
}

func sliceOps[E comparable]() ops[[]E] {
	return ops[[]E]{
		clone: func(v []E) []E {
			if v == nil {
				return []E{}
			}
			return slices.Clone(v)
		},
		equal:  slices.Equal[[]E],
		length: func(v []E) int { return len(v) },
	}
}

// NewI32Array declares a bounded i32 array holding at most maxLen elements.
func NewI32Array(name string, dir Direction, maxLen int, opts ...Option[[]int32]) *Var[[]int32] {
	info := Info{Name: name, Kind: KindI32Array, Direction: dir, MaxLen: maxLen}
	v := newVar(info, sliceOps[int32](), opts)
	if !v.valid {
		v.value = []int32{}
	}
	return v
}

// NewBytes declares a bounded raw byte string holding at most maxLen bytes.
func NewBytes(name string, dir Direction, maxLen int, opts ...Option[[]byte]) *Var[[]byte] {
	info := Info{Name: name, Kind: KindBytes, Direction: dir, MaxLen: maxLen}
	v := newVar(info, sliceOps[byte](), opts)
	if !v.valid {
		v.value = []byte{}
	}
	return v
}

// Info is the static declaration of v.
func (v *Var[V]) Info() Info { return v.info }

func (v *Var[V]) Name() string { return v.info.Name }

// Stats reports commit and observer counters at one instant.
func (v *Var[V]) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Stats{
		Valid:     v.valid,
		Commits:   v.commits,
		Wakes:     v.seq,
		Taken:     v.taken,
		Observing: v.observer != nil,
		Pending:   v.pendingLocked(),
	}
}

// Snapshot copies the current value. ok is false until a value exists.
func (v *Var[V]) Snapshot() (V, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ops.clone(v.value), v.valid
}

func (v *Var[V]) checkLen(val V) error {
	if v.ops.length == nil {
		return nil
	}
	if n := v.ops.length(val); n > v.info.MaxLen {
		return fmt.Errorf("%w: %s holds at most %d, got %d", ErrCapacityExceeded, v.info.Name, v.info.MaxLen, n)
	}
	return nil
}

func (v *Var[V]) pendingLocked() bool {
	return v.observer != nil && v.seq > v.taken
}

func (v *Var[V]) broadcastLocked() {
	close(v.notify)
	v.notify = make(chan struct{})
}

// Request waits for exclusive write access. While an observer is attached it
// also waits until the previous waking commit has been observed.
func (v *Var[V]) Request(ctx context.Context) (*WriteGuard[V], error) {
	for {
		v.mu.Lock()
		pending := v.pendingLocked()
		wake := v.notify
		v.mu.Unlock()
		if pending {
			select {
			case <-wake:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		select {
		case v.token <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		v.mu.Lock()
		if v.pendingLocked() {
			// another writer committed between the check and the token
			v.mu.Unlock()
			<-v.token
			continue
		}
		staged := v.ops.clone(v.value)
		v.mu.Unlock()
		return &WriteGuard[V]{v: v, staged: staged}, nil
	}
}

// Write stages val and commits it in one step.
func (v *Var[V]) Write(ctx context.Context, val V) error {
	g, err := v.Request(ctx)
	if err != nil {
		return err
	}
	if err := g.Set(val); err != nil {
		g.Discard()
		return err
	}
	return g.Commit()
}

// WriteGuard is exclusive, staged write access to one variable.
type WriteGuard[V any] struct {
	v      *Var[V]
	staged V
	done   bool
}

// Value returns the staged value. Mutating a returned slice mutates the
// staged value until Commit; Commit publishes a copy, so a slice kept after
// release no longer reaches the variable.
func (g *WriteGuard[V]) Value() V { return g.staged }

// Set replaces the staged value. A bounded value over capacity is rejected
// and leaves the staged value untouched.
func (g *WriteGuard[V]) Set(val V) error {
	if g.done {
		return ErrGuardReleased
	}
	if err := g.v.checkLen(val); err != nil {
		return err
	}
	g.staged = g.v.ops.clone(val)
	return nil
}

// Commit publishes the staged value atomically and releases the guard.
func (g *WriteGuard[V]) Commit() error {
	if g.done {
		return ErrGuardReleased
	}
	v := g.v
	if err := v.checkLen(g.staged); err != nil {
		return err
	}
	g.done = true

	v.mu.Lock()
	changed := !v.valid || !v.ops.equal(v.value, g.staged)
	v.value = v.ops.clone(g.staged)
	v.valid = true
	v.commits++
	if v.info.Policy == PolicyEvery || changed {
		v.seq++
		v.broadcastLocked()
	}
	v.mu.Unlock()

	<-v.token
	return nil
}

// Discard releases the guard without publishing. It is a no-op after Commit.
func (g *WriteGuard[V]) Discard() {
	if g.done {
		return
	}
	g.done = true
	<-g.v.token
}
