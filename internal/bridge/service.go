package bridge

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/pvbridge/internal/dispatch"
	"github.com/danmuck/pvbridge/internal/flow"
	"github.com/danmuck/pvbridge/internal/host"
	"github.com/danmuck/pvbridge/internal/observability"
	"github.com/danmuck/pvbridge/internal/protocol/schema"
	"github.com/danmuck/pvbridge/internal/protocol/session"
	"github.com/danmuck/pvbridge/internal/variable"
	"github.com/rs/zerolog"
)

var ErrInvalidHeartbeatInterval = errors.New("bridge: invalid heartbeat interval")

// ServiceConfig configures one bridge run.
type ServiceConfig struct {
	ServiceID         string
	Session           session.Config
	Bindings          []Binding
	Flows             []host.FlowSpec
	StrictRegistry    bool
	HeartbeatInterval time.Duration
	AdminListenAddr   string
	AdminCORSOrigins  []string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ServiceID:         "pvbridge",
		Session:           session.DefaultConfig(),
		Bindings:          DefaultBindings(DefaultPrefix),
		Flows:             DefaultFlows(DefaultPrefix),
		StrictRegistry:    true,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Service runs the soft host, its flows, and the bridge connection.
type Service struct {
	cfg ServiceConfig

	host       *host.Host
	dispatcher *dispatch.Dispatcher
	claimed    []variable.Handle
	tasks      []flow.Task

	bootstrapped atomic.Bool
	logger       zerolog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	cfg.Session = cfg.Session.WithDefaults()
	if strings.TrimSpace(cfg.ServiceID) == "" {
		cfg.ServiceID = "pvbridge"
	}
	return &Service{cfg: cfg, logger: observability.Logger("bridge")}
}

// Run blocks until SIGINT/SIGTERM or the first fatal error.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext is Run with an explicit shutdown context. It returns nil on
// shutdown and the first error otherwise; a lost connection is fatal.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.Bootstrap(); err != nil {
		return err
	}
	return s.serve(ctx)
}

// Bootstrap creates the host variables, claims the bound ones into a
// dispatcher, and prepares the host flows. It is idempotent.
func (s *Service) Bootstrap() error {
	if s.bootstrapped.Load() {
		return nil
	}
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if err := s.cfg.Session.Validate(); err != nil {
		return err
	}

	decls, err := Declarations(s.cfg.Bindings)
	if err != nil {
		return err
	}
	h, err := host.New(decls)
	if err != nil {
		return err
	}

	d := dispatch.New(schema.Inbound, schema.Outbound, s.cfg.Session.Limits())
	claimed, err := Claim(h.Registry(), d, s.cfg.Bindings, s.cfg.StrictRegistry)
	if err != nil {
		return err
	}
	if err := d.Check(); err != nil {
		return err
	}
	tasks, err := h.Flows(s.cfg.Flows)
	if err != nil {
		return err
	}

	s.host, s.dispatcher, s.claimed, s.tasks = h, d, claimed, tasks
	s.bootstrapped.Store(true)
	s.logger.Info().
		Str("service", s.cfg.ServiceID).
		Int("claimed", len(claimed)).
		Int("flows", len(tasks)).
		Str("role", string(s.cfg.Session.Role)).
		Str("addr", s.cfg.Session.Address).
		Msg("bridge bootstrapped")
	return nil
}

// Host exposes the soft host after Bootstrap.
func (s *Service) Host() *host.Host { return s.host }

func (s *Service) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	flowErr := make(chan error, 1)
	connErr := make(chan error, 1)
	adminErr := make(chan error, 1)

	wg.Add(2)
	go func() {
		defer wg.Done()
		flowErr <- s.host.Run(ctx, s.tasks)
	}()
	go func() {
		defer wg.Done()
		conn, err := session.Connect(ctx, s.cfg.Session)
		if err != nil {
			connErr <- err
			return
		}
		connErr <- s.dispatcher.Run(ctx, conn)
	}()
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		admin := observability.NewAdmin(s.cfg.ServiceID, addr, s.cfg.AdminCORSOrigins, s)
		wg.Add(1)
		go func() {
			defer wg.Done()
			adminErr <- admin.Serve(ctx)
		}()
	}

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("bridge shutdown")
			return nil
		case err := <-connErr:
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				return nil
			}
			s.logger.Error().Err(err).Str("conn_id", s.dispatcher.ConnID()).Msg("bridge connection failed")
			return err
		case err := <-flowErr:
			if err != nil {
				return err
			}
		case err := <-adminErr:
			if err != nil {
				return err
			}
		case <-ticker.C:
			st := s.Status()
			s.logger.Info().
				Str("state", st.State).
				Str("conn_id", st.ConnID).
				Int("variables", len(s.claimed)).
				Msg("bridge heartbeat")
		}
	}
}

// Status implements observability.StatusSource.
func (s *Service) Status() observability.Status {
	if s.dispatcher == nil {
		return observability.Status{State: dispatch.StateIdle.String()}
	}
	state := s.dispatcher.State()
	return observability.Status{
		State:  state.String(),
		ConnID: s.dispatcher.ConnID(),
		Ready:  state == dispatch.StateConnected,
	}
}

// Variables implements observability.StatusSource.
func (s *Service) Variables() []observability.VariableStatus {
	if s.host == nil {
		return nil
	}
	handles := s.host.Variables()
	out := make([]observability.VariableStatus, 0, len(handles))
	for _, h := range handles {
		info, st := h.Info(), h.Stats()
		out = append(out, observability.VariableStatus{
			Name:      info.Name,
			Kind:      info.Kind.String(),
			Direction: info.Direction.String(),
			Policy:    info.Policy.String(),
			MaxLen:    info.MaxLen,
			Valid:     st.Valid,
			Commits:   st.Commits,
			Wakes:     st.Wakes,
			Observing: st.Observing,
			Pending:   st.Pending,
		})
	}
	return out
}
