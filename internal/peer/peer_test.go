package peer

import (
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/danmuck/pvbridge/internal/protocol"
	"github.com/danmuck/pvbridge/internal/protocol/frame"
	"github.com/danmuck/pvbridge/internal/protocol/schema"
	"github.com/danmuck/pvbridge/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

var echoRoutes = map[protocol.Tag]protocol.Tag{
	schema.InAi:         schema.OutAo,
	schema.InAai:        schema.OutAao,
	schema.InWaveform:   schema.OutAao,
	schema.InBi:         schema.OutBo,
	schema.InMbbiDirect: schema.OutMbboDirect,
	schema.InStringin:   schema.OutStringout,
}

// echo plays a bridge whose host mirrors every input into its output.
func echo(t *testing.T, conn net.Conn, initial *float64) {
	t.Helper()
	r, w, err := frame.Split(conn, schema.Inbound, schema.Outbound, frame.DefaultLimits())
	require.NoError(t, err)
	go func() {
		if initial != nil {
			if err := w.WriteMessage(protocol.Message{Tag: schema.OutAo, Value: protocol.F64(*initial)}); err != nil {
				return
			}
		}
		for {
			msg, err := r.ReadMessage()
			if err != nil {
				return
			}
			if err := w.WriteMessage(protocol.Message{Tag: echoRoutes[msg.Tag], Value: msg.Value}); err != nil {
				return
			}
		}
	}()
}

func startPeer(t *testing.T, ctx context.Context, initial *float64) (*Peer, net.Conn, <-chan error) {
	t.Helper()
	peerConn, bridgeConn := net.Pipe()
	echo(t, bridgeConn, initial)
	p := New(schema.Inbound, schema.Outbound, frame.DefaultLimits())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, peerConn) }()
	t.Cleanup(func() { _ = bridgeConn.Close() })
	return p, bridgeConn, done
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSendRecv(t *testing.T) {
	testlog.Start(t)
	ctx := testCtx(t)
	p, _, _ := startPeer(t, ctx, nil)

	require.NoError(t, p.Send(ctx, "bi", protocol.U16(1)))
	require.NoError(t, p.Send(ctx, "stringin", protocol.Bytes([]byte("abc"))))

	got, err := p.Recv(ctx, "bo")
	require.NoError(t, err)
	require.Equal(t, uint16(1), got.U16)
	got, err = p.Recv(ctx, "stringout")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got.Bytes)
}

func TestSendRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	ctx := testCtx(t)
	p := New(schema.Inbound, schema.Outbound, frame.DefaultLimits())

	require.ErrorIs(t, p.Send(ctx, "ao", protocol.F64(1)), ErrUnknownVariant)
	_, err := p.Recv(ctx, "ai")
	require.ErrorIs(t, err, ErrUnknownVariant)
	require.ErrorIs(t, p.Send(ctx, "ai", protocol.U16(1)), protocol.ErrShapeMismatch)
	long := make([]byte, schema.StringCap+1)
	require.ErrorIs(t, p.Send(ctx, "stringin", protocol.Bytes(long)), protocol.ErrCapacityExceeded)
}

func TestConnectionLossStopsPeer(t *testing.T) {
	testlog.Start(t)
	ctx := testCtx(t)
	p, bridgeConn, done := startPeer(t, ctx, nil)

	_ = bridgeConn.Close()
	select {
	case err := <-done:
		require.ErrorIs(t, err, frame.ErrConnectionLost)
	case <-ctx.Done():
		t.Fatal("peer did not stop")
	}
	_, err := p.Recv(ctx, "ao")
	require.ErrorIs(t, err, frame.ErrConnectionLost)
	require.ErrorIs(t, p.Err(), frame.ErrConnectionLost)
}

func TestRecvDrainsValuesReceivedBeforeStop(t *testing.T) {
	testlog.Start(t)
	for i := 0; i < 50; i++ {
		ctx := testCtx(t)
		peerConn, bridgeConn := net.Pipe()
		_, w, err := frame.Split(bridgeConn, schema.Inbound, schema.Outbound, frame.DefaultLimits())
		require.NoError(t, err)
		p := New(schema.Inbound, schema.Outbound, frame.DefaultLimits())
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx, peerConn) }()

		for _, x := range []float64{1, 2} {
			require.NoError(t, w.WriteMessage(protocol.Message{Tag: schema.OutAo, Value: protocol.F64(x)}))
		}
		_ = bridgeConn.Close()
		require.ErrorIs(t, <-done, frame.ErrConnectionLost)

		for _, want := range []float64{1, 2} {
			got, err := p.Recv(ctx, "ao")
			require.NoError(t, err, "run %d", i)
			require.Equal(t, want, got.F64)
		}
		_, err = p.Recv(ctx, "ao")
		require.ErrorIs(t, err, frame.ErrConnectionLost)
	}
}

func TestShutdownReturnsNil(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(testCtx(t))
	_, _, done := startPeer(t, ctx, nil)
	cancel()
	require.NoError(t, <-done)
}

func TestSoakAgainstEcho(t *testing.T) {
	testlog.Start(t)
	ctx := testCtx(t)
	pi := math.Pi
	p, _, _ := startPeer(t, ctx, &pi)

	cfg := DefaultSoakConfig()
	cfg.Attempts = 64
	cfg.Timeout = 2 * time.Second
	require.NoError(t, Soak(ctx, p, cfg))
}

func TestSoakDetectsMismatch(t *testing.T) {
	testlog.Start(t)
	ctx := testCtx(t)
	p, _, _ := startPeer(t, ctx, nil)

	wrong := 1.0
	cfg := DefaultSoakConfig()
	cfg.Attempts = 1
	cfg.InitialAo = &wrong
	err := Soak(ctx, p, cfg)
	require.Error(t, err)
}
