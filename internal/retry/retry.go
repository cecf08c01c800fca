// Package retry bounds extraction attempts with exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/akio-matsumoto/print-etl/internal/llm"
)

// Policy retries transient and malformed extraction failures with
// base*2^(attempt-1) backoff, capped at MaxDelay. Fatal failures and
// context cancellation short-circuit. After MaxAttempts the last failure
// is returned unchanged; the caller decides the terminal disposition.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *slog.Logger
}

// Thunk is one extraction attempt.
type Thunk func(ctx context.Context) (map[string]any, []byte, error)

// Run invokes fn up to MaxAttempts times. The returned attempt count is
// observable for logging and tests without altering the error contract.
func (p Policy) Run(ctx context.Context, fn Thunk) (fields map[string]any, raw []byte, attempts int, err error) {
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	backoff := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		backoff = retry.WithCappedDuration(p.MaxDelay, backoff)
	}
	backoff = retry.WithMaxRetries(uint64(maxAttempts-1), backoff)

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		var aerr error
		fields, raw, aerr = fn(ctx)
		if aerr == nil {
			return nil
		}
		if llm.Retryable(aerr) {
			log.Warn("extract attempt failed",
				"attempt", attempts,
				"max_attempts", maxAttempts,
				"kind", llm.Kind(aerr),
				"error", aerr,
			)
			return retry.RetryableError(aerr)
		}
		return aerr
	})
	return fields, raw, attempts, err
}
