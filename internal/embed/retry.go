package embed

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"
)

// RetryConfig holds the configuration for embedding retries.
type RetryConfig struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

func (c RetryConfig) delay(attempt int) time.Duration {
	mult := c.BackoffMultiple
	if mult <= 0 {
		mult = 2.0
	}
	d := time.Duration(float64(c.BaseDelay) * math.Pow(mult, float64(attempt)))
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

type retrySource struct {
	Source
	cfg    RetryConfig
	logger *slog.Logger
}

// WithRetry wraps src so that failed embeddings are retried with exponential
// backoff. Only errors wrapping ErrEmbeddingUnavailable are retried, and a
// cancelled context stops retrying.
func WithRetry(src Source, cfg RetryConfig, logger *slog.Logger) Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &retrySource{Source: src, cfg: cfg, logger: logger}
}

func (r *retrySource) Embed(ctx context.Context, image []byte) ([]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.delay(attempt - 1)
			r.logger.Warn("retrying embedding", "attempt", attempt+1, "max_attempts", r.cfg.MaxRetries+1, "delay", delay, "error", lastErr)

			select {
			case <-ctx.Done():
				return nil, unavailable("%v", ctx.Err())
			case <-time.After(delay):
			}
		}

		vec, err := r.Source.Embed(ctx, image)
		if err == nil {
			return vec, nil
		}
		lastErr = err

		if !errors.Is(err, ErrEmbeddingUnavailable) || ctx.Err() != nil {
			break
		}
	}

	return nil, lastErr
}
