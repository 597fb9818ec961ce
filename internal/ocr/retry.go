package ocr

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig controls WithRetry.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	Interval   time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`
}

// DefaultRetryConfig returns four retries one second apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 4, Interval: time.Second}
}

type retryBackend struct {
	next Backend
	cfg  RetryConfig
}

// WithRetry retries failed calls of next with a constant backoff. Errors
// caused by the input image or by context cancellation are not retried.
func WithRetry(next Backend, cfg RetryConfig) Backend {
	return &retryBackend{next: next, cfg: cfg}
}

func (r *retryBackend) Annotate(ctx context.Context, img Image) (*Response, error) {
	attempt := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.Interval), uint64(max(r.cfg.MaxRetries, 0))),
		ctx)

	return backoff.RetryWithData(func() (*Response, error) {
		attempt++
		resp, err := r.next.Annotate(ctx, img)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, ErrEmptyImage) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, backoff.Permanent(err)
		}
		slog.Warn("OCR call failed, retrying", "attempt", attempt, "error", err)
		return nil, err
	}, policy)
}
