package service

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"alcyxob/coaching-engine/internal/config"
	"alcyxob/coaching-engine/internal/metrics"
	"alcyxob/coaching-engine/internal/repository"
)

// retrier re-runs a whole unit of work on transient storage failures with
// bounded exponential backoff. Business errors end the loop at once.
type retrier struct {
	cfg config.RetryConfig
	log *zap.Logger
}

func newRetrier(cfg config.RetryConfig, log *zap.Logger) retrier {
	if cfg.Attempts == 0 {
		cfg.Attempts = 1 // retry-go treats 0 as "forever"
	}
	return retrier{cfg: cfg, log: log}
}

func (r retrier) run(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	defer func() {
		metrics.TransactionDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(r.cfg.Attempts),
		retry.Delay(r.cfg.Delay),
		retry.MaxDelay(r.cfg.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(repository.IsTransient),
		retry.OnRetry(func(n uint, err error) {
			metrics.StorageRetries.WithLabelValues(op).Inc()
			r.log.Warn("transient storage failure, retrying",
				zap.String("operation", op),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)
}
