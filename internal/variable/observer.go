package variable

import "context"

// Observe attaches the single observer of v. Commits made before Observe are
// not reported by Wait; use Acquire to read the current value.
func (v *Var[V]) Observe() (*Observer[V], error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.observer != nil {
		return nil, ErrObserverActive
	}
	o := &Observer[V]{v: v}
	v.observer = o
	v.taken = v.seq
	return o, nil
}

// Observer is the read side of a variable. It is owned by one goroutine.
type Observer[V any] struct {
	v      *Var[V]
	guard  *ReadGuard[V]
	closed bool
}

// Wait blocks until a waking commit that this observer has not yet seen
// exists and returns a guard over it.
func (o *Observer[V]) Wait(ctx context.Context) (*ReadGuard[V], error) {
	return o.take(ctx, func(v *Var[V]) bool { return v.seq > v.taken })
}

// Acquire returns a guard over the current value as soon as any value exists.
func (o *Observer[V]) Acquire(ctx context.Context) (*ReadGuard[V], error) {
	return o.take(ctx, func(v *Var[V]) bool { return v.valid })
}

func (o *Observer[V]) take(ctx context.Context, ready func(*Var[V]) bool) (*ReadGuard[V], error) {
	if o.guard != nil && !o.guard.done {
		return nil, ErrGuardActive
	}
	v := o.v
	for {
		v.mu.Lock()
		if o.closed {
			v.mu.Unlock()
			return nil, ErrObserverClosed
		}
		if ready(v) {
			g := &ReadGuard[V]{value: v.ops.clone(v.value), seq: v.seq}
			if v.seq > v.taken {
				v.taken = v.seq
				v.broadcastLocked()
			}
			v.mu.Unlock()
			o.guard = g
			return g, nil
		}
		wake := v.notify
		v.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close detaches the observer and unblocks any writer waiting on it.
func (o *Observer[V]) Close() {
	v := o.v
	v.mu.Lock()
	defer v.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	if v.observer == o {
		v.observer = nil
		v.broadcastLocked()
	}
}

// ReadGuard is a stable snapshot of one committed value.
type ReadGuard[V any] struct {
	value V
	seq   uint64
	done  bool
}

func (g *ReadGuard[V]) Value() V { return g.value }

// Seq is the waking-commit sequence number the snapshot was taken at.
func (g *ReadGuard[V]) Seq() uint64 { return g.seq }

// Accept marks the value handled, allowing the next Wait. Idempotent.
func (g *ReadGuard[V]) Accept() { g.done = true }
