package session

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrAcceptCanceled = errors.New("session: accept canceled")

// Connect establishes the one stream of a bridge run according to cfg.Role.
func Connect(ctx context.Context, cfg Config) (net.Conn, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Role == RoleServer {
		ln, err := Listen(ctx, cfg)
		if err != nil {
			return nil, err
		}
		defer ln.Close()
		return AcceptOne(ctx, ln)
	}
	return Dial(ctx, cfg)
}

// Dial connects to cfg.Address, retrying with backoff until
// cfg.MaxConnectAttempts is exhausted or ctx ends.
func Dial(ctx context.Context, cfg Config) (net.Conn, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	var attempt int
	for {
		attempt++
		conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
		if err == nil {
			log.Info().
				Str("addr", cfg.Address).
				Int("attempt", attempt).
				Msg("session connected")
			return conn, nil
		}
		log.Warn().
			Str("addr", cfg.Address).
			Int("attempt", attempt).
			Err(err).
			Msg("session dial failed")
		if !shouldRetry(cfg, attempt) {
			return nil, err
		}
		if err := waitBackoff(ctx, cfg, attempt, rng); err != nil {
			return nil, err
		}
	}
}

// Listen binds cfg.Address for a server-role bridge.
func Listen(ctx context.Context, cfg Config) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, err
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("session waiting for peer")
	return ln, nil
}

// AcceptOne waits for exactly one peer on ln. The listener is left open; the
// caller owns it.
func AcceptOne(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		done <- result{conn: conn, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		log.Info().Str("peer", res.conn.RemoteAddr().String()).Msg("session accepted peer")
		return res.conn, nil
	case <-ctx.Done():
		_ = ln.Close()
		if res := <-done; res.conn != nil {
			_ = res.conn.Close()
		}
		return nil, errors.Join(ErrAcceptCanceled, ctx.Err())
	}
}

func shouldRetry(cfg Config, attempt int) bool {
	if cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < cfg.MaxConnectAttempts
}
