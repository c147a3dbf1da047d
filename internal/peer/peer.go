// Package peer is the far end of the bridge's connection: it sends the
// inbound vocabulary and receives the outbound one.
//
// Unlike the bridge, the peer funnels every send through one queue drained by
// a single writer goroutine, so its global send order is the order Send was
// called in.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/pvbridge/internal/observability"
	"github.com/danmuck/pvbridge/internal/protocol"
	"github.com/danmuck/pvbridge/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownVariant = errors.New("peer: unknown variant")
	ErrStopped        = errors.New("peer: stopped")
)

const defaultQueueDepth = 1024

// Peer multiplexes typed sends onto one writer and demultiplexes received
// messages into one queue per variant.
type Peer struct {
	send   *protocol.Vocabulary
	recv   *protocol.Vocabulary
	limits frame.Limits

	queue   chan protocol.Message
	inboxes map[protocol.Tag]chan protocol.Value

	done   chan struct{}
	once   sync.Once
	err    error
	logger zerolog.Logger
}

// New builds a peer that encodes send and decodes recv.
func New(send, recv *protocol.Vocabulary, limits frame.Limits) *Peer {
	p := &Peer{
		send:    send,
		recv:    recv,
		limits:  limits,
		queue:   make(chan protocol.Message, defaultQueueDepth),
		inboxes: make(map[protocol.Tag]chan protocol.Value),
		done:    make(chan struct{}),
		logger:  observability.Logger("peer"),
	}
	for _, v := range recv.Variants() {
		p.inboxes[v.Tag] = make(chan protocol.Value, defaultQueueDepth)
	}
	return p
}

// Run serves conn until ctx is done or the connection fails. Send and Recv
// fail with the same error afterwards.
func (p *Peer) Run(ctx context.Context, conn io.ReadWriteCloser) error {
	reader, writer, err := frame.Split(conn, p.recv, p.send, p.limits)
	if err != nil {
		_ = conn.Close()
		p.stop(err)
		return err
	}
	logger := p.logger.With().Str("conn_id", uuid.NewString()).Logger()
	logger.Info().Msg("peer connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := p.readLoop(ctx, reader, logger); err != nil {
			p.stop(err)
		}
		cancel()
	}()
	go func() {
		defer wg.Done()
		if err := p.writeLoop(ctx, writer, logger); err != nil {
			p.stop(err)
		}
		cancel()
	}()

	<-ctx.Done()
	_ = conn.Close()
	wg.Wait()
	p.stop(ErrStopped)

	if errors.Is(p.err, ErrStopped) {
		return nil
	}
	return p.err
}

func (p *Peer) stop(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Err reports why the peer stopped, or nil while it runs.
func (p *Peer) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *Peer) readLoop(ctx context.Context, r *frame.Reader, logger zerolog.Logger) error {
	for {
		msg, err := r.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error().Err(err).Msg("peer read failed")
			return err
		}
		v, _ := p.recv.Variant(msg.Tag)
		logger.Debug().Str("variant", v.Name).Stringer("value", msg.Value).Msg("received")
		select {
		case p.inboxes[msg.Tag] <- msg.Value:
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Peer) writeLoop(ctx context.Context, w *frame.Writer, logger zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-p.queue:
			if err := w.WriteMessage(msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error().Err(err).Uint8("tag", uint8(msg.Tag)).Msg("peer write failed")
				return err
			}
		}
	}
}

// Send queues val as the named variant. Values that do not encode are
// rejected here instead of by the writer.
func (p *Peer) Send(ctx context.Context, name string, val protocol.Value) error {
	v, ok := p.send.ByName(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	msg := protocol.Message{Tag: v.Tag, Value: val}
	if _, err := p.send.Encode(msg); err != nil {
		return err
	}
	select {
	case p.queue <- msg:
		return nil
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns the next value received for the named variant.
func (p *Peer) Recv(ctx context.Context, name string) (protocol.Value, error) {
	v, ok := p.recv.ByName(name)
	if !ok {
		return protocol.Value{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	inbox := p.inboxes[v.Tag]
	select {
	case val := <-inbox:
		return val, nil
	case <-p.done:
		// values that arrived before the stop are still delivered
		select {
		case val := <-inbox:
			return val, nil
		default:
		}
		return protocol.Value{}, p.err
	case <-ctx.Done():
		return protocol.Value{}, ctx.Err()
	}
}
