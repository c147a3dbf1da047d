package session

import (
	"context"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the delay before dial attempt N+1, where N is the
// 1-based number of failed attempts. The result never exceeds MaxDelay, even
// with jitter, so a bridge retrying forever settles at a steady cadence.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	mult := cfg.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}

	delay := float64(cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if cfg.MaxDelay > 0 && delay >= float64(cfg.MaxDelay) {
			break
		}
	}
	if cfg.Jitter && rng != nil {
		delay *= 0.5 + rng.Float64()
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

func waitBackoff(ctx context.Context, cfg Config, attempt int, rng *rand.Rand) error {
	timer := time.NewTimer(NextBackoffDelay(cfg.Backoff, attempt, rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
