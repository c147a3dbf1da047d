// Package frame turns a byte stream into whole protocol messages.
//
// The read half keeps one reusable buffer of at most Limits.MaxMessageSize
// bytes and reads exactly as many bytes as the vocabulary says the current
// message still needs. The write half encodes into a per-handle buffer and
// flushes each message under a lock shared by every clone, so whole-message
// writes never interleave on the stream.
package frame

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/danmuck/pvbridge/internal/protocol"
	"github.com/danmuck/pvbridge/internal/protocol/schema"
)

var (
	ErrConnectionLost = errors.New("frame: connection lost")
	ErrLimitTooSmall  = errors.New("frame: vocabulary worst case exceeds max message size")
	ErrNilStream      = errors.New("frame: nil stream")
)

// Limits constrains frame memory use and write blocking.
type Limits struct {
	MaxMessageSize int
	// WriteTimeout bounds one message flush when the stream supports write
	// deadlines. Zero disables it.
	WriteTimeout time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MaxMessageSize: schema.MaxMessageSize,
		WriteTimeout:   15 * time.Second,
	}
}

// Check verifies that every variant of vocab fits the limits.
func (l Limits) Check(vocab *protocol.Vocabulary) error {
	if vocab.MaxMessageSize() > l.MaxMessageSize {
		return fmt.Errorf(
			"%w: %s needs %d bytes, limit %d",
			ErrLimitTooSmall,
			vocab.Name(),
			vocab.MaxMessageSize(),
			l.MaxMessageSize,
		)
	}
	return nil
}

// Reader is the read half. It is not safe for concurrent use.
type Reader struct {
	src   io.Reader
	vocab *protocol.Vocabulary
	buf   []byte
}

func NewReader(src io.Reader, vocab *protocol.Vocabulary, limits Limits) (*Reader, error) {
	if src == nil {
		return nil, ErrNilStream
	}
	if err := limits.Check(vocab); err != nil {
		return nil, err
	}
	return &Reader{
		src:   src,
		vocab: vocab,
		buf:   make([]byte, limits.MaxMessageSize),
	}, nil
}

// ReadMessage blocks until one whole message has arrived. Stream failures
// (including a clean EOF) match ErrConnectionLost; corrupt frames match
// protocol.ErrMalformed. Both are fatal to the channel.
func (r *Reader) ReadMessage() (protocol.Message, error) {
	n := 0
	for {
		need, err := r.vocab.Need(r.buf[:n])
		if err != nil {
			return protocol.Message{}, err
		}
		if n == need {
			msg, _, err := r.vocab.Decode(r.buf[:n])
			return msg, err
		}
		got, err := io.ReadFull(r.src, r.buf[n:need])
		n += got
		if err != nil {
			return protocol.Message{}, fmt.Errorf("%w: read %d bytes of frame: %w", ErrConnectionLost, n, err)
		}
	}
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// link is the state shared by a writer and all of its clones.
type link struct {
	mu     sync.Mutex
	dst    io.Writer
	vocab  *protocol.Vocabulary
	limits Limits
	err    error
}

// Writer is one handle to the write half. A handle is owned by one goroutine;
// use Clone to hand the write half to another.
type Writer struct {
	link *link
	buf  []byte
}

func NewWriter(dst io.Writer, vocab *protocol.Vocabulary, limits Limits) (*Writer, error) {
	if dst == nil {
		return nil, ErrNilStream
	}
	if err := limits.Check(vocab); err != nil {
		return nil, err
	}
	l := &link{dst: dst, vocab: vocab, limits: limits}
	return &Writer{link: l, buf: make([]byte, 0, limits.MaxMessageSize)}, nil
}

// Clone returns a new handle sharing the stream and its write lock.
func (w *Writer) Clone() *Writer {
	return &Writer{link: w.link, buf: make([]byte, 0, w.link.limits.MaxMessageSize)}
}

// Err reports the fatal error that broke the write half, if any.
func (w *Writer) Err() error {
	w.link.mu.Lock()
	defer w.link.mu.Unlock()
	return w.link.err
}

// WriteMessage encodes msg and writes all of its bytes before returning.
// Encoding errors leave the stream untouched and are returned as-is. A failed
// or short write breaks the channel: the stream is closed if it can be, and
// this and every later call on any clone return ErrConnectionLost.
func (w *Writer) WriteMessage(msg protocol.Message) error {
	b, err := w.link.vocab.Append(w.buf[:0], msg)
	if err != nil {
		return err
	}
	w.buf = b

	l := w.link
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	if d, ok := l.dst.(writeDeadliner); ok && l.limits.WriteTimeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(l.limits.WriteTimeout))
	}
	n, err := l.dst.Write(b)
	if err == nil && n < len(b) {
		err = io.ErrShortWrite
	}
	if err != nil {
		l.err = fmt.Errorf("%w: wrote %d of %d bytes: %w", ErrConnectionLost, n, len(b), err)
		if c, ok := l.dst.(io.Closer); ok {
			_ = c.Close()
		}
		return l.err
	}
	return nil
}

// Split builds both halves over one duplex stream.
func Split(
	stream io.ReadWriter,
	readVocab *protocol.Vocabulary,
	writeVocab *protocol.Vocabulary,
	limits Limits,
) (*Reader, *Writer, error) {
	r, err := NewReader(stream, readVocab, limits)
	if err != nil {
		return nil, nil, err
	}
	w, err := NewWriter(stream, writeVocab, limits)
	if err != nil {
		return nil, nil, err
	}
	return r, w, nil
}
