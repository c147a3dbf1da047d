package flow

import (
	"context"
	"errors"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/danmuck/pvbridge/internal/testutil/testlog"
	"github.com/danmuck/pvbridge/internal/variable"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func testCtx(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx, cancel
}

func runGroup(ctx context.Context, tasks ...Task) <-chan error {
	done := make(chan error, 1)
	go func() { done <- Group(ctx, log.Logger, tasks...) }()
	return done
}

func TestSeededMirrorDeliversInitialThenEveryValue(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := testCtx(t)
	src := variable.NewF64("ai", variable.Input)
	dst := variable.NewF64("ao", variable.Output)
	srcObs, err := src.Observe()
	require.NoError(t, err)
	dstObs, err := dst.Observe()
	require.NoError(t, err)

	done := runGroup(ctx, Seed(dst, math.Pi, Mirror("ai->ao", srcObs, dst)))

	g, err := dstObs.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, math.Pi, g.Value())
	g.Accept()

	go func() {
		for i := 0; i < 256; i++ {
			if err := src.Write(ctx, float64(i)/3); err != nil {
				return
			}
		}
	}()
	for i := 0; i < 256; i++ {
		g, err := dstObs.Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, float64(i)/3, g.Value())
		g.Accept()
	}

	cancel()
	require.NoError(t, <-done)
}

func TestMapTransformsAndStopsOnError(t *testing.T) {
	testlog.Start(t)
	ctx, _ := testCtx(t)
	src := variable.NewU32("mbbiDirect", variable.Input)
	dst := variable.NewBytes("stringout", variable.Output, 8)
	srcObs, err := src.Observe()
	require.NoError(t, err)
	dstObs, err := dst.Observe()
	require.NoError(t, err)

	boom := errors.New("odd value")
	task := Map("mbbi->string", srcObs, dst, func(v uint32) ([]byte, error) {
		if v%2 == 1 {
			return nil, boom
		}
		return []byte(strconv.FormatUint(uint64(v), 10)), nil
	})
	done := runGroup(ctx, task)

	require.NoError(t, src.Write(ctx, 42))
	g, err := dstObs.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("42"), g.Value())
	g.Accept()

	require.NoError(t, src.Write(ctx, 7))
	require.ErrorIs(t, <-done, boom)
}

func TestFanOutKeepsSinksWithinOneUpdate(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := testCtx(t)
	src := variable.NewI32Array("aao", variable.Output, 4)
	a := variable.NewI32Array("aai", variable.Input, 4)
	b := variable.NewI32Array("waveform", variable.Input, 4)
	srcObs, err := src.Observe()
	require.NoError(t, err)
	aObs, err := a.Observe()
	require.NoError(t, err)
	bObs, err := b.Observe()
	require.NoError(t, err)

	done := runGroup(ctx, FanOut("aao->aai,waveform", srcObs, a, b))

	const n = 100
	go func() {
		for i := 0; i < n; i++ {
			if err := src.Write(ctx, []int32{int32(i), int32(-i)}); err != nil {
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		ga, err := aObs.Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, []int32{int32(i), int32(-i)}, ga.Value())

		// the flow cannot move past b's copy of update i
		snap, _ := b.Snapshot()
		require.Contains(t, [][]int32{{}, {int32(i - 1), int32(-(i - 1))}, {int32(i), int32(-i)}}, snap)
		ga.Accept()

		gb, err := bObs.Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, []int32{int32(i), int32(-i)}, gb.Value())
		gb.Accept()
	}

	cancel()
	require.NoError(t, <-done)
}

func TestFlowSkipsOverCapacityValues(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := testCtx(t)
	src := variable.NewBytes("stringin", variable.Input, 40)
	dst := variable.NewBytes("stringout", variable.Output, 4)
	srcObs, err := src.Observe()
	require.NoError(t, err)
	dstObs, err := dst.Observe()
	require.NoError(t, err)

	done := runGroup(ctx, Mirror("stringin->stringout", srcObs, dst))
	require.NoError(t, src.Write(ctx, []byte("too long")))
	require.NoError(t, src.Write(ctx, []byte("ok")))

	g, err := dstObs.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), g.Value())
	g.Accept()

	cancel()
	require.NoError(t, <-done)
}

func TestFanOutWithoutSinksFails(t *testing.T) {
	testlog.Start(t)
	ctx, _ := testCtx(t)
	src := variable.NewU16("bi", variable.Input)
	obs, err := src.Observe()
	require.NoError(t, err)
	require.ErrorIs(t, Group(ctx, log.Logger, FanOut[uint16]("empty", obs)), ErrNoSinks)
}

func TestGroupCancelsSiblingsOnFailure(t *testing.T) {
	testlog.Start(t)
	ctx, _ := testCtx(t)
	boom := errors.New("boom")
	stopped := make(chan struct{})
	err := Group(ctx, log.Logger,
		Task{Name: "waiter", Run: func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		}},
		Task{Name: "failer", Run: func(context.Context) error { return boom }},
	)
	require.ErrorIs(t, err, boom)
	select {
	case <-stopped:
	default:
		t.Fatal("sibling flow still running")
	}
}
