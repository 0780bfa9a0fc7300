package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Policy defines retry behavior for remote calls. The delay before
// attempt n is BaseDelay * BackoffFactor^(n-1) plus a uniform random
// jitter of at most MaxJitter. Only the attempt count bounds a retry
// sequence; there is no elapsed-time cap.
type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxJitter     time.Duration
}

// DefaultPolicy returns the retry policy used for ledger calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   5,
		BaseDelay:     500 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxJitter:     time.Second,
	}
}

// Classifier reports whether an error is worth retrying. Anything it
// rejects propagates immediately.
type Classifier func(error) bool

// Retrier executes operations under a shared retry policy. All remote
// call paths go through one Retrier so the backoff behavior is uniform
// and tested in one place.
type Retrier struct {
	policy   Policy
	classify Classifier
	logger   zerolog.Logger

	// OnRetry, when set, is invoked before each backoff sleep so the
	// process can surface retry counts without coupling this package
	// to a metrics client.
	OnRetry func(operation string, attempt int, err error)

	mu      sync.Mutex
	metrics Metrics
}

// Metrics tracks retry statistics.
type Metrics struct {
	TotalAttempts     int64
	SuccessfulRetries int64
	FailedSequences   int64
}

// NewRetrier creates a retrier. A zero-valued policy field falls back to
// its default.
func NewRetrier(policy Policy, classify Classifier, logger zerolog.Logger) *Retrier {
	def := DefaultPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = def.BaseDelay
	}
	if policy.BackoffFactor <= 0 {
		policy.BackoffFactor = def.BackoffFactor
	}
	if classify == nil {
		classify = func(error) bool { return false }
	}
	return &Retrier{
		policy:   policy,
		classify: classify,
		logger:   logger,
	}
}

// Execute runs fn until it succeeds, returns a non-retryable error, or
// exhausts the attempt budget. Sleeps between attempts are cancellable
// through ctx.
func (r *Retrier) Execute(ctx context.Context, operation string, fn func() error) error {
	start := time.Now()

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		r.recordAttempt()
		if err == nil {
			if attempt > 1 {
				r.recordSuccess()
				r.logger.Info().
					Str("operation", operation).
					Int("attempts", attempt).
					Dur("total_time", time.Since(start)).
					Msg("Operation succeeded after retry")
			}
			return nil
		}

		if !r.classify(err) {
			r.logger.Debug().
				Str("operation", operation).
				Err(err).
				Msg("Error is not retryable")
			return err
		}

		if attempt >= r.policy.MaxAttempts {
			r.recordFailure()
			r.logger.Error().
				Str("operation", operation).
				Int("attempts", attempt).
				Err(err).
				Msg("Operation failed after max attempts")
			return fmt.Errorf("operation failed after %d attempts: %w", attempt, err)
		}

		delay := r.delayFor(attempt)
		r.logger.Warn().
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Err(err).
			Msg("Operation failed, retrying")
		if r.OnRetry != nil {
			r.OnRetry(operation, attempt, err)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Unreachable: the loop always returns.
	return nil
}

// ExecuteWithResult runs fn with retry and returns its value.
func ExecuteWithResult[T any](ctx context.Context, r *Retrier, operation string, fn func() (T, error)) (T, error) {
	var result T
	err := r.Execute(ctx, operation, func() error {
		var fnErr error
		result, fnErr = fn()
		return fnErr
	})
	return result, err
}

// delayFor computes the backoff before the next attempt. attempt is
// 1-indexed: the first retry waits roughly BaseDelay.
func (r *Retrier) delayFor(attempt int) time.Duration {
	delay := float64(r.policy.BaseDelay) * math.Pow(r.policy.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.policy.MaxJitter > 0 {
		d += time.Duration(rand.Int63n(int64(r.policy.MaxJitter) + 1))
	}
	return d
}

func (r *Retrier) recordAttempt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics.TotalAttempts++
}

func (r *Retrier) recordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics.SuccessfulRetries++
}

func (r *Retrier) recordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics.FailedSequences++
}

// GetMetrics returns a copy of the retry statistics.
func (r *Retrier) GetMetrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}
