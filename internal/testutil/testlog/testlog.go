package testlog

import (
	"testing"
	"time"

	"github.com/danmuck/pvbridge/internal/logging"
	"github.com/rs/zerolog/log"
)

// Start configures the test log profile and brackets the test with start and
// done events, so interleaved goroutine logs can be attributed.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	started := time.Now()
	log.Info().Str("test", t.Name()).Msg("start")
	t.Cleanup(func() {
		log.Info().
			Str("test", t.Name()).
			Bool("failed", t.Failed()).
			Dur("elapsed", time.Since(started)).
			Msg("done")
	})
}
