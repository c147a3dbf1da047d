package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/pvbridge/internal/logging"
	"github.com/danmuck/pvbridge/internal/peer"
	"github.com/danmuck/pvbridge/internal/protocol/frame"
	"github.com/danmuck/pvbridge/internal/protocol/schema"
	"github.com/danmuck/pvbridge/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type soakOptions struct {
	role      string
	address   string
	seed      int64
	attempts  int
	timeout   time.Duration
	noInitial bool
}

func newRootCmd() *cobra.Command {
	def := peer.DefaultSoakConfig()
	opts := soakOptions{
		role:     string(session.RoleServer),
		address:  "0.0.0.0:4884",
		seed:     def.Seed,
		attempts: def.Attempts,
		timeout:  def.Timeout,
	}

	cmd := &cobra.Command{
		Use:     "pvpeer",
		Short:   "Soak a running pvbridge over its wire protocol",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Long: `pvpeer plays the peer side of the bridge protocol. It waits for one bridge
(or dials one), then drives every inbound variant with pseudo-random values and
checks that each one comes back on its mirrored outbound variant.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSoak(ctx, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.role, "role", opts.role, "connection role: server waits for the bridge, client dials it")
	f.StringVar(&opts.address, "address", opts.address, "address to listen on or dial")
	f.Int64Var(&opts.seed, "seed", opts.seed, "pseudo-random seed")
	f.IntVar(&opts.attempts, "attempts", opts.attempts, "round trips per variant")
	f.DurationVar(&opts.timeout, "timeout", opts.timeout, "bound on each send or receive")
	f.BoolVar(&opts.noInitial, "no-initial", false, "do not expect the seeded ao value first")
	return cmd
}

func runSoak(ctx context.Context, opts soakOptions) error {
	scfg := session.DefaultConfig()
	scfg.Role = session.Role(opts.role)
	scfg.Address = opts.address
	scfg.MaxConnectAttempts = 0

	conn, err := session.Connect(ctx, scfg)
	if err != nil {
		return fmt.Errorf("pvpeer connect: %w", err)
	}

	p := peer.New(schema.Inbound, schema.Outbound, frame.DefaultLimits())
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(runCtx, conn) }()

	cfg := peer.DefaultSoakConfig()
	cfg.Seed = opts.seed
	cfg.Attempts = opts.attempts
	cfg.Timeout = opts.timeout
	if opts.noInitial {
		cfg.InitialAo = nil
	}

	start := time.Now()
	soakErr := peer.Soak(runCtx, p, cfg)
	cancel()
	runErr := <-done

	if soakErr != nil {
		if runErr != nil && !errors.Is(soakErr, peer.ErrMismatch) {
			return fmt.Errorf("pvpeer soak: %w", errors.Join(soakErr, runErr))
		}
		return fmt.Errorf("pvpeer soak: %w", soakErr)
	}
	log.Info().
		Int("attempts", cfg.Attempts).
		Dur("elapsed", time.Since(start)).
		Msg("soak passed")
	return runErr
}
