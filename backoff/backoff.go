// Package backoff retries an operation with exponential backoff and full
// jitter. The IPC client never retries on its own; callers wrap operations
// they want retried.
package backoff

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/ggipc/ggerr"
	"github.com/rs/zerolog/log"
)

// Config defines retry backoff behavior.
type Config struct {
	BaseDelay time.Duration
	// MaxDelay caps the jitter window. Zero means BaseDelay.
	MaxDelay time.Duration
	// MaxAttempts bounds the number of calls. Zero retries until success or
	// context cancellation.
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		MaxAttempts: 0,
	}
}

// Window returns the upper bound of the sleep after failed attempt N
// (1-based): BaseDelay doubled per attempt and capped at MaxDelay.
func Window(cfg Config, attempt int) time.Duration {
	maxDelay := cfg.MaxDelay
	if maxDelay < cfg.BaseDelay {
		maxDelay = cfg.BaseDelay
	}
	w := cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		if w <= maxDelay/2 {
			w *= 2
		} else {
			w = maxDelay
			break
		}
	}
	return w
}

// NextDelay returns the sleep after failed attempt N (1-based), uniform in
// [0, Window). A nil rng yields half the window.
func NextDelay(cfg Config, attempt int, rng *rand.Rand) time.Duration {
	w := Window(cfg, attempt)
	if w <= 0 {
		return 0
	}
	if rng == nil {
		return w / 2
	}
	return time.Duration(rng.Int63n(int64(w)))
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func jitter(cfg Config, attempt int) time.Duration {
	rngMu.Lock()
	defer rngMu.Unlock()
	return NextDelay(cfg, attempt, rng)
}

// Retry calls fn until it succeeds, MaxAttempts calls have failed, or ctx
// ends. It returns nil on success, otherwise the last error from fn (joined
// with the context error when ctx ended the loop). A zero BaseDelay is
// ggerr.Unsupported.
func Retry(ctx context.Context, cfg Config, fn func(context.Context) error) error {
	if fn == nil || cfg.BaseDelay <= 0 {
		return ggerr.Errorf(ggerr.Unsupported, "backoff: base delay must be positive and fn non-nil")
	}
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if cfg.MaxAttempts != 0 && attempt >= cfg.MaxAttempts {
			return err
		}
		delay := jitter(cfg, attempt)
		log.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("backoff: retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}
