package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bryanwahyu/contract-review/internal/domain/ai"
	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
)

// RetryConfig bounds the retries of a single model call.
type RetryConfig struct {
	MaxRetries  int           `yaml:"maxRetries"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	MaxBackoff  time.Duration `yaml:"maxBackoff"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  8 * time.Second,
	}
}

// Retrier runs a call with exponential backoff. It is safe for concurrent use.
type Retrier struct {
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetrier(cfg RetryConfig) *Retrier {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Retrier{cfg: cfg, sleep: sleepContext}
}

// Backoff returns the wait before retry number attempt (0-based):
// base, 2*base, 4*base ... capped at MaxBackoff.
func (r *Retrier) Backoff(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := r.cfg.BaseBackoff << attempt
	if r.cfg.MaxBackoff > 0 && (d > r.cfg.MaxBackoff || d <= 0) {
		d = r.cfg.MaxBackoff
	}
	return d
}

// Do calls fn until it succeeds, the context ends or MaxRetries retries have
// failed. A rejected request (ai.ErrRequestRejected) is not retried. It returns
// the number of attempts made. Exhaustion is reported as
// contracts.ErrUpstreamUnavailable, cancellation as contracts.ErrCanceled.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	var last error
	attempts := 0
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempts, fmt.Errorf("%w: %w", contracts.ErrCanceled, err)
		}
		attempts++
		last = fn(ctx)
		if last == nil {
			return attempts, nil
		}
		if ctx.Err() != nil && errors.Is(last, ctx.Err()) {
			return attempts, fmt.Errorf("%w: %w", contracts.ErrCanceled, last)
		}
		if errors.Is(last, ai.ErrRequestRejected) {
			break
		}
		if attempt == r.cfg.MaxRetries {
			break
		}
		if err := r.sleep(ctx, r.Backoff(attempt)); err != nil {
			return attempts, fmt.Errorf("%w: %w", contracts.ErrCanceled, err)
		}
	}
	return attempts, fmt.Errorf("%w after %d attempts: %w", contracts.ErrUpstreamUnavailable, attempts, last)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
