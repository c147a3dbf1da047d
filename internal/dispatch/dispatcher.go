package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/danmuck/pvbridge/internal/observability"
	"github.com/danmuck/pvbridge/internal/protocol"
	"github.com/danmuck/pvbridge/internal/protocol/frame"
	"github.com/danmuck/pvbridge/internal/variable"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownVariant = errors.New("dispatch: unknown variant")
	ErrAlreadyBound   = errors.New("dispatch: variant already bound")
	ErrUnbound        = errors.New("dispatch: inbound variant has no sink")
	ErrAlreadyRunning = errors.New("dispatch: already running")
)

type outbound struct {
	variant protocol.Variant
	src     Source
}

// Dispatcher owns one connection at a time. Bind everything before Run.
type Dispatcher struct {
	read    *protocol.Vocabulary
	write   *protocol.Vocabulary
	limits  frame.Limits
	sinks   map[protocol.Tag]Sink
	sources map[protocol.Tag]Source

	state   atomic.Int32
	running atomic.Bool
	connID  atomic.Value
	logger  zerolog.Logger
}

// New builds a dispatcher that decodes read and encodes write.
func New(read, write *protocol.Vocabulary, limits frame.Limits) *Dispatcher {
	d := &Dispatcher{
		read:    read,
		write:   write,
		limits:  limits,
		sinks:   make(map[protocol.Tag]Sink),
		sources: make(map[protocol.Tag]Source),
		logger:  observability.Logger("dispatch"),
	}
	d.connID.Store("")
	return d
}

// Handle routes inbound messages of the named variant to sink.
func (d *Dispatcher) Handle(name string, sink Sink) error {
	v, ok := d.read.ByName(name)
	if !ok {
		return fmt.Errorf("%w: %s has no %q", ErrUnknownVariant, d.read.Name(), name)
	}
	if _, dup := d.sinks[v.Tag]; dup {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, name)
	}
	if sink.Shape() != v.Shape {
		return fmt.Errorf("%w: %s is %s, sink takes %s", protocol.ErrShapeMismatch, name, v.Shape, sink.Shape())
	}
	d.sinks[v.Tag] = sink
	return nil
}

// Publish sends every value src yields as the named outbound variant.
func (d *Dispatcher) Publish(name string, src Source) error {
	v, ok := d.write.ByName(name)
	if !ok {
		return fmt.Errorf("%w: %s has no %q", ErrUnknownVariant, d.write.Name(), name)
	}
	if _, dup := d.sources[v.Tag]; dup {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, name)
	}
	if src.Shape() != v.Shape {
		return fmt.Errorf("%w: %s is %s, source yields %s", protocol.ErrShapeMismatch, name, v.Shape, src.Shape())
	}
	d.sources[v.Tag] = src
	return nil
}

// Check reports inbound variants without a sink. Every declared tag must be
// routable for the read path to be exhaustive.
func (d *Dispatcher) Check() error {
	var missing []string
	for _, v := range d.read.Variants() {
		if _, ok := d.sinks[v.Tag]; !ok {
			missing = append(missing, v.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrUnbound, missing)
	}
	return nil
}

func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// ConnID identifies the current or last connection.
func (d *Dispatcher) ConnID() string {
	return d.connID.Load().(string)
}

// Run drives conn until the first fatal error or until ctx is done. It
// returns nil on shutdown and the first fatal error otherwise; conn is always
// closed on return.
func (d *Dispatcher) Run(ctx context.Context, conn io.ReadWriteCloser) error {
	if err := d.Check(); err != nil {
		return err
	}
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	reader, writer, err := frame.Split(conn, d.read, d.write, d.limits)
	if err != nil {
		_ = conn.Close()
		return err
	}

	id := uuid.NewString()
	d.connID.Store(id)
	logger := d.logger.With().Str("conn_id", id).Logger()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		closeOnce sync.Once
		firstErr  error
		wg        sync.WaitGroup
	)
	fail := func(err error) {
		closeOnce.Do(func() {
			firstErr = err
			d.state.Store(int32(StateClosing))
			cancel()
			_ = conn.Close()
		})
	}

	d.state.Store(int32(StateConnected))
	observability.RecordConnectionOpened()
	logger.Info().
		Int("sinks", len(d.sinks)).
		Int("sources", len(d.sources)).
		Msg("dispatcher connected")

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.readLoop(connCtx, reader, logger, fail)
	}()

	for _, out := range d.outbound() {
		wg.Add(1)
		go func(out outbound, w *frame.Writer) {
			defer wg.Done()
			d.produce(connCtx, out, w, logger, fail)
		}(out, writer.Clone())
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-connCtx.Done()
		fail(nil)
	}()

	wg.Wait()
	// settles closeOnce when every loop left on ctx alone
	fail(nil)
	d.state.Store(int32(StateClosed))

	outcome := "shutdown"
	switch {
	case errors.Is(firstErr, frame.ErrConnectionLost):
		outcome = "lost"
	case errors.Is(firstErr, protocol.ErrMalformed):
		outcome = "malformed"
	case firstErr != nil:
		outcome = "error"
	}
	observability.RecordConnectionClosed(outcome)
	logger.Info().Str("outcome", outcome).Msg("dispatcher closed")
	return firstErr
}

func (d *Dispatcher) outbound() []outbound {
	out := make([]outbound, 0, len(d.sources))
	for tag, src := range d.sources {
		v, _ := d.write.Variant(tag)
		out = append(out, outbound{variant: v, src: src})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].variant.Tag < out[j].variant.Tag })
	return out
}

func (d *Dispatcher) readLoop(ctx context.Context, r *frame.Reader, logger zerolog.Logger, fail func(error)) {
	for {
		msg, err := r.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logFatal(logger, "read failed", err)
			fail(err)
			return
		}

		v, _ := d.read.Variant(msg.Tag)
		logger.Debug().Str("variant", v.Name).Stringer("value", msg.Value).Msg("inbound")
		observability.RecordMessage("in", v.Name)

		if err := d.sinks[msg.Tag].Apply(ctx, msg.Value); err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, variable.ErrCapacityExceeded) {
				logger.Warn().Err(err).Str("variant", v.Name).Int("len", msg.Value.Len()).Msg("inbound value rejected")
				observability.RecordRejected(v.Name, "capacity")
				continue
			}
			logger.Error().Err(err).Str("variant", v.Name).Msg("inbound apply failed")
			fail(err)
			return
		}
	}
}

func (d *Dispatcher) produce(ctx context.Context, out outbound, w *frame.Writer, logger zerolog.Logger, fail func(error)) {
	name := out.variant.Name
	for {
		val, err := out.src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Str("variant", name).Msg("outbound source failed")
			fail(err)
			return
		}

		err = w.WriteMessage(protocol.Message{Tag: out.variant.Tag, Value: val})
		switch {
		case err == nil:
			logger.Debug().Str("variant", name).Stringer("value", val).Msg("outbound")
			observability.RecordMessage("out", name)
		case errors.Is(err, frame.ErrConnectionLost):
			if ctx.Err() == nil {
				logFatal(logger.With().Str("variant", name).Logger(), "write failed", err)
			}
			fail(err)
			return
		default:
			// encode rejected this value only; the stream is untouched
			logger.Warn().Err(err).Str("variant", name).Int("len", val.Len()).Msg("outbound value rejected")
			observability.RecordRejected(name, "encode")
		}
	}
}

func logFatal(logger zerolog.Logger, msg string, err error) {
	event := logger.Error().Err(err)
	var de *protocol.DecodeError
	if errors.As(err, &de) {
		event = event.
			Str("vocabulary", de.Vocabulary).
			Uint8("tag", uint8(de.Tag)).
			Str("variant", de.Variant).
			Int("offset", de.Offset).
			Int("length", de.Length)
	}
	event.Msg(msg)
}
