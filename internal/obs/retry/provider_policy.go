package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultProviderPolicy is the retry policy for read calls against the
// remote platform API. Cancellation is never retried; everything else is,
// since the client cannot distinguish throttling from transient faults
// without provider-specific error codes.
func DefaultProviderPolicy(name string, log *zap.Logger) Policy {
	return Policy{
		Name:     name,
		Attempts: 3,
		Backoff:  ExpoJitter{Base: 250 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("provider call retry", zap.String("call", name), zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("provider call retries exhausted", zap.String("call", name), zap.Error(err))
			}
		},
	}
}
