package variable

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCommitIsAtomicForReaders(t *testing.T) {
	ctx := testCtx(t)
	v := NewI32Array("aai", Input, 4, WithInitial([]int32{1, 1, 1, 1}))
	obs, err := v.Observe()
	require.NoError(t, err)

	first, err := obs.Acquire(ctx)
	require.NoError(t, err)

	g, err := v.Request(ctx)
	require.NoError(t, err)
	staged := g.Value()
	staged[0] = 9
	staged[1] = 9
	// staged edits are invisible until commit
	snap, _ := v.Snapshot()
	require.Equal(t, []int32{1, 1, 1, 1}, snap)
	require.NoError(t, g.Set([]int32{2, 2, 2, 2}))
	require.NoError(t, g.Commit())

	require.Equal(t, []int32{1, 1, 1, 1}, first.Value())
	first.Accept()

	next, err := obs.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []int32{2, 2, 2, 2}, next.Value())
	next.Accept()
}

func TestSingleWriteGuard(t *testing.T) {
	ctx := testCtx(t)
	v := NewU16("bo", Output)
	g, err := v.Request(ctx)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = v.Request(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	g.Discard()
	g.Discard()
	g2, err := v.Request(ctx)
	require.NoError(t, err)
	require.NoError(t, g2.Set(7))
	require.NoError(t, g2.Commit())
	g2.Discard()
	require.ErrorIs(t, g2.Commit(), ErrGuardReleased)

	got, ok := v.Snapshot()
	require.True(t, ok)
	require.Equal(t, uint16(7), got)
}

func TestDiscardLeavesValue(t *testing.T) {
	ctx := testCtx(t)
	v := NewU32("mbbo", Output, WithInitial[uint32](3))
	g, err := v.Request(ctx)
	require.NoError(t, err)
	require.NoError(t, g.Set(4))
	g.Discard()
	got, _ := v.Snapshot()
	require.Equal(t, uint32(3), got)
	require.Equal(t, uint64(0), v.Stats().Commits)
}

func TestCapacityRejectedWithoutMutation(t *testing.T) {
	ctx := testCtx(t)
	v := NewBytes("stringin", Input, 4, WithInitial([]byte("ab")))
	g, err := v.Request(ctx)
	require.NoError(t, err)
	require.NoError(t, g.Set([]byte("wxyz")))
	err = g.Set([]byte("toolong"))
	require.ErrorIs(t, err, ErrCapacityExceeded)
	require.Equal(t, []byte("wxyz"), g.Value())
	g.Discard()

	got, _ := v.Snapshot()
	require.Equal(t, []byte("ab"), got)
	require.ErrorIs(t, v.Write(ctx, []byte("12345")), ErrCapacityExceeded)
}

func TestSetCopiesCallerSlice(t *testing.T) {
	ctx := testCtx(t)
	v := NewI32Array("aao", Output, 8)
	src := []int32{1, 2, 3}
	require.NoError(t, v.Write(ctx, src))
	src[0] = 100
	got, ok := v.Snapshot()
	require.True(t, ok)
	require.Equal(t, []int32{1, 2, 3}, got)
}

func TestStagedSliceDetachedAfterCommit(t *testing.T) {
	ctx := testCtx(t)
	v := NewI32Array("aao", Output, 8)
	g, err := v.Request(ctx)
	require.NoError(t, err)
	require.NoError(t, g.Set([]int32{1, 2, 3}))
	staged := g.Value()
	require.NoError(t, g.Commit())

	staged[0] = 99
	got, ok := v.Snapshot()
	require.True(t, ok)
	require.Equal(t, []int32{1, 2, 3}, got)
}

func TestWaitSkipsCommitsBeforeObserve(t *testing.T) {
	ctx := testCtx(t)
	v := NewF64("ai", Input)
	require.NoError(t, v.Write(ctx, 1))
	obs, err := v.Observe()
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = obs.Wait(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	g, err := obs.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, 1.0, g.Value())
	g.Accept()
}

func TestAcquireWaitsForValue(t *testing.T) {
	ctx := testCtx(t)
	v := NewF64("ao", Output)
	obs, err := v.Observe()
	require.NoError(t, err)

	done := make(chan float64, 1)
	go func() {
		g, err := obs.Acquire(ctx)
		if err != nil {
			return
		}
		done <- g.Value()
		g.Accept()
	}()
	require.NoError(t, v.Write(ctx, math.Pi))
	select {
	case got := <-done:
		require.Equal(t, math.Pi, got)
	case <-ctx.Done():
		t.Fatal("acquire did not return")
	}
}

func TestReadGuardMustBeAccepted(t *testing.T) {
	ctx := testCtx(t)
	v := NewF64("ai", Input, WithInitial(2.0))
	obs, err := v.Observe()
	require.NoError(t, err)
	g, err := obs.Acquire(ctx)
	require.NoError(t, err)
	_, err = obs.Wait(ctx)
	require.ErrorIs(t, err, ErrGuardActive)
	g.Accept()
	g.Accept()
}

func TestSingleObserver(t *testing.T) {
	v := NewU16("bi", Input)
	obs, err := v.Observe()
	require.NoError(t, err)
	_, err = v.Observe()
	require.ErrorIs(t, err, ErrObserverActive)
	obs.Close()
	obs.Close()
	_, err = obs.Wait(context.Background())
	require.ErrorIs(t, err, ErrObserverClosed)

	again, err := v.Observe()
	require.NoError(t, err)
	again.Close()
}

func TestEveryCommitObservedInOrder(t *testing.T) {
	ctx := testCtx(t)
	v := NewU32("mbbi", Input)
	obs, err := v.Observe()
	require.NoError(t, err)

	const n = 500
	go func() {
		for i := 0; i < n; i++ {
			// repeated values still wake under PolicyEvery
			if err := v.Write(ctx, uint32(i/2)); err != nil {
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		g, err := obs.Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, uint32(i/2), g.Value())
		g.Accept()
	}
	require.Equal(t, uint64(n), v.Stats().Commits)
}

func TestDistinctPolicyWakesOnChangeOnly(t *testing.T) {
	ctx := testCtx(t)
	v := NewF64("ai", Input, WithPolicy[float64](PolicyDistinct), WithInitial(1.0))
	obs, err := v.Observe()
	require.NoError(t, err)

	require.NoError(t, v.Write(ctx, 1.0))
	require.False(t, v.Stats().Pending)

	require.NoError(t, v.Write(ctx, 2.0))
	g, err := obs.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 2.0, g.Value())
	g.Accept()

	require.NoError(t, v.Write(ctx, 2.0))
	require.False(t, v.Stats().Pending)
	require.Equal(t, uint64(3), v.Stats().Commits)
	require.Equal(t, uint64(1), v.Stats().Wakes)
}

func TestDistinctComparesFloatBits(t *testing.T) {
	ctx := testCtx(t)
	v := NewF64("ai", Input, WithPolicy[float64](PolicyDistinct), WithInitial(math.NaN()))
	_, err := v.Observe()
	require.NoError(t, err)
	require.NoError(t, v.Write(ctx, math.NaN()))
	require.False(t, v.Stats().Pending)
	require.NoError(t, v.Write(ctx, math.Copysign(0, -1)))
	require.True(t, v.Stats().Pending)
}

func TestWriterWaitsForObserver(t *testing.T) {
	ctx := testCtx(t)
	v := NewF64("ai", Input)
	obs, err := v.Observe()
	require.NoError(t, err)
	require.NoError(t, v.Write(ctx, 1))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, v.Write(short, 2), context.DeadlineExceeded)

	g, err := obs.Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, v.Write(ctx, 2))
	require.Equal(t, 1.0, g.Value())
	g.Accept()
}

func TestCloseReleasesBlockedWriter(t *testing.T) {
	ctx := testCtx(t)
	v := NewF64("ai", Input)
	obs, err := v.Observe()
	require.NoError(t, err)
	require.NoError(t, v.Write(ctx, 1))

	errCh := make(chan error, 1)
	go func() { errCh <- v.Write(ctx, 2) }()
	time.Sleep(10 * time.Millisecond)
	obs.Close()
	require.NoError(t, <-errCh)
}

func TestCancelledWaitReturnsPromptly(t *testing.T) {
	v := NewU16("bi", Input)
	obs, err := v.Observe()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	var waitErr error
	go func() {
		defer wg.Done()
		_, waitErr = obs.Wait(ctx)
	}()
	cancel()
	wg.Wait()
	require.True(t, errors.Is(waitErr, context.Canceled))
}

func TestConcurrentWritersSerialize(t *testing.T) {
	ctx := testCtx(t)
	v := NewI32Array("aai", Input, 2)
	obs, err := v.Observe()
	require.NoError(t, err)

	const writers, per = 4, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int32) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				if err := v.Write(ctx, []int32{w, w}); err != nil {
					return
				}
			}
		}(int32(w))
	}
	for i := 0; i < writers*per; i++ {
		g, err := obs.Wait(ctx)
		require.NoError(t, err)
		pair := g.Value()
		require.Len(t, pair, 2)
		require.Equal(t, pair[0], pair[1])
		g.Accept()
	}
	wg.Wait()
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy(" Distinct ")
	require.NoError(t, err)
	require.Equal(t, PolicyDistinct, p)
	p, err = ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyEvery, p)
	_, err = ParsePolicy("sometimes")
	require.ErrorIs(t, err, ErrInvalidPolicy)
}
