package peer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/danmuck/pvbridge/internal/protocol"
	"github.com/danmuck/pvbridge/internal/protocol/schema"
)

var ErrMismatch = errors.New("peer: loopback mismatch")

// SoakConfig drives a loopback soak against a bridge whose host mirrors each
// input variable into an output variable.
type SoakConfig struct {
	Seed     int64
	Attempts int
	// Timeout bounds every single send/receive step.
	Timeout time.Duration
	// InitialAo, when set, is the value the host seeds ao with before the
	// first mirrored update.
	InitialAo *float64
}

func DefaultSoakConfig() SoakConfig {
	pi := math.Pi
	return SoakConfig{
		Seed:      0xdeadbeef,
		Attempts:  0x1000,
		Timeout:   time.Second,
		InitialAo: &pi,
	}
}

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Soak runs every loopback check concurrently and returns the first failure.
func Soak(ctx context.Context, p *Peer, cfg SoakConfig) error {
	checks := []struct {
		name string
		run  func(context.Context, *Peer, SoakConfig, *rand.Rand) error
	}{
		{"ai->ao", soakAnalog},
		{"bi->bo", soakBinary},
		{"mbbiDirect->mbboDirect", soakMultiBit},
		{"stringin->stringout", soakString},
		{"aai,waveform->aao", soakArrays},
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, check := range checks {
		check := check
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(cfg.Seed))
			if err := check.run(ctx, p, cfg, rng); err != nil {
				once.Do(func() {
					firstErr = fmt.Errorf("%s: %w", check.name, err)
					cancel()
				})
				return
			}
			p.logger.Info().Str("check", check.name).Int("attempts", cfg.Attempts).Msg("soak ok")
		}()
	}
	wg.Wait()
	return firstErr
}

// roundTrip sends val as in and expects it back unchanged as out.
func roundTrip(ctx context.Context, p *Peer, cfg SoakConfig, in, out string, val protocol.Value) error {
	step, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := p.Send(step, in, val); err != nil {
		return err
	}
	return expect(step, p, out, val)
}

func expect(ctx context.Context, p *Peer, out string, want protocol.Value) error {
	got, err := p.Recv(ctx, out)
	if err != nil {
		return err
	}
	if !got.Equal(want) {
		return fmt.Errorf("%w: %s got %s want %s", ErrMismatch, out, got, want)
	}
	return nil
}

func soakAnalog(ctx context.Context, p *Peer, cfg SoakConfig, rng *rand.Rand) error {
	if cfg.InitialAo != nil {
		step, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err := expect(step, p, "ao", protocol.F64(*cfg.InitialAo))
		cancel()
		if err != nil {
			return fmt.Errorf("initial: %w", err)
		}
	}
	for i := 0; i < cfg.Attempts; i++ {
		if err := roundTrip(ctx, p, cfg, "ai", "ao", protocol.F64(rng.NormFloat64())); err != nil {
			return fmt.Errorf("attempt %d: %w", i, err)
		}
	}
	return nil
}

func soakBinary(ctx context.Context, p *Peer, cfg SoakConfig, _ *rand.Rand) error {
	for i := 0; i < cfg.Attempts; i++ {
		if err := roundTrip(ctx, p, cfg, "bi", "bo", protocol.U16(uint16(i%2))); err != nil {
			return fmt.Errorf("attempt %d: %w", i, err)
		}
	}
	return nil
}

func soakMultiBit(ctx context.Context, p *Peer, cfg SoakConfig, rng *rand.Rand) error {
	var value uint32
	for i := 0; i < cfg.Attempts; i++ {
		value ^= 1 << rng.Intn(32)
		if err := roundTrip(ctx, p, cfg, "mbbiDirect", "mbboDirect", protocol.U32(value)); err != nil {
			return fmt.Errorf("attempt %d: %w", i, err)
		}
	}
	return nil
}

func soakString(ctx context.Context, p *Peer, cfg SoakConfig, rng *rand.Rand) error {
	var prev []byte
	for i := 0; i < cfg.Attempts; i++ {
		s := make([]byte, rng.Intn(schema.StringCap+1))
		for j := range s {
			s[j] = alphanumeric[rng.Intn(len(alphanumeric))]
		}
		if bytes.Equal(s, prev) {
			continue
		}
		if err := roundTrip(ctx, p, cfg, "stringin", "stringout", protocol.Bytes(s)); err != nil {
			return fmt.Errorf("attempt %d: %w", i, err)
		}
		prev = s
	}
	return nil
}

// soakArrays alternates aai and waveform, which the host mirrors into the
// same aao variable.
func soakArrays(ctx context.Context, p *Peer, cfg SoakConfig, rng *rand.Rand) error {
	var prev []int32
	for i := 0; i < cfg.Attempts; i++ {
		for _, in := range []string{"aai", "waveform"} {
			vec := make([]int32, 1+rng.Intn(schema.ArrayCap))
			for j := range vec {
				vec[j] = int32(rng.Uint32())
			}
			if slices.Equal(vec, prev) {
				continue
			}
			if err := roundTrip(ctx, p, cfg, in, "aao", protocol.I32s(vec)); err != nil {
				return fmt.Errorf("attempt %d %s: %w", i, in, err)
			}
			prev = vec
		}
	}
	return nil
}
