package provider

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"

	"mezada/internal/domain"
)

// Retrying wraps a generator and retries transient failures
// (network errors, 5xx, 429) with exponential backoff.
type Retrying struct {
	inner      domain.Generator
	maxRetries int
	backoff    func(attempt int) time.Duration
	logger     *slog.Logger
}

// NewRetrying returns inner unchanged when maxRetries is zero.
func NewRetrying(inner domain.Generator, maxRetries int, logger *slog.Logger) domain.Generator {
	if maxRetries <= 0 {
		return inner
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{
		inner:      inner,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
	}
}

// backoff grows quadratically with jitter to prevent thundering herd.
func backoff(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * time.Second
	jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
	return base + jitter
}

func (r *Retrying) Generate(ctx context.Context, history string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			wait := r.backoff(attempt)
			r.logger.Warn("retrying generation", "attempt", attempt+1, "backoff", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return "", errors.Join(domain.ErrGeneration, ctx.Err())
			case <-time.After(wait):
			}
		}

		out, err := r.inner.Generate(ctx, history)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			return "", err
		}
	}
	return "", lastErr
}

// errEmptyCompletion marks a well-formed response with nothing in it.
var errEmptyCompletion = errors.New("empty completion")

// retryable reports whether err is worth another attempt. API errors retry
// only on 5xx and 429; errors without a status are transport failures.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, errEmptyCompletion) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}
