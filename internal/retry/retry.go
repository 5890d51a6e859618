// Package retry runs single store operations under a fixed backoff policy.
package retry

import (
	"context"
	"log/slog"
	"time"

	"beaconrelay/gateway/internal/remotestore"

	"github.com/cenkalti/backoff/v4"
)

// Defaults applied by Policy.withDefaults.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Policy controls how Do spaces attempts.
type Policy struct {
	// MaxAttempts is the total number of invocations, including the first.
	// 1 means no retries.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; each further wait
	// doubles it (BaseDelay, 2*BaseDelay, 4*BaseDelay, ...). No jitter.
	BaseDelay time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	return p
}

// Do invokes op until it succeeds, a non-retryable failure occurs, or the
// attempt budget runs out. Retryability is decided by the store's error-kind
// classification; unclassified errors fail immediately. The returned error is
// the last one op produced. Do never panics past its own boundary.
func Do(ctx context.Context, logger *slog.Logger, p Policy, op func(context.Context) error) error {
	p = p.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 24 * time.Hour
	bo.MaxElapsedTime = 0
	bo.Reset()

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !remotestore.IsRetryable(err) || attempt >= p.MaxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		logger.Warn("store operation failed, backing off",
			"attempt", attempt,
			"delay", delay,
			"kind", remotestore.KindOf(err).String(),
			"error", err,
		)
	}

	return backoff.RetryNotify(wrapped, backoff.WithContext(bo, ctx), notify)
}
