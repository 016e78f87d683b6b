// Package retrylimit retries calls to flaky remote services with exponential
// backoff, pacing them through an adaptive rate limit that slows down when the
// service pushes back and recovers on success.
//
//	lim := retrylimit.NewAdaptiveLimiter(2, 0.2, 5, 0.5, 0.5)
//	text, err := retrylimit.Do(ctx, lim, retrylimit.DefaultRetryConfig(), func(ctx context.Context) (string, error) {
//	    return backend.Generate(ctx, req)
//	})
package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AdaptiveLimiter is a token bucket whose rate halves (or whatever stepDown
// says) on rate limit responses and creeps back up on success.
type AdaptiveLimiter struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	minLimit  rate.Limit
	maxLimit  rate.Limit
	stepUp    rate.Limit
	stepDown  float64
	cooldown  time.Duration
	lastError time.Time
}

// NewAdaptiveLimiter creates a limiter starting at initial requests per second.
func NewAdaptiveLimiter(initial, minLimit, maxLimit, stepUp rate.Limit, stepDown float64) *AdaptiveLimiter {
	if minLimit <= 0 {
		minLimit = 0.1
	}
	if maxLimit < minLimit {
		maxLimit = minLimit
	}
	initial = clampLimit(initial, minLimit, maxLimit)
	return &AdaptiveLimiter{
		limiter:  rate.NewLimiter(initial, burstFor(initial)),
		minLimit: minLimit,
		maxLimit: maxLimit,
		stepUp:   stepUp,
		stepDown: stepDown,
		cooldown: 10 * time.Second,
	}
}

// Wait blocks until a request may start or ctx ends.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	a.mu.Lock()
	lim := a.limiter
	a.mu.Unlock()
	return lim.Wait(ctx)
}

// Success raises the rate unless the service complained recently.
func (a *AdaptiveLimiter) Success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if time.Since(a.lastError) > a.cooldown {
		a.setLocked(a.limiter.Limit() + a.stepUp)
	}
}

// RateLimited lowers the rate after the service pushed back.
func (a *AdaptiveLimiter) RateLimited() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = time.Now()
	a.setLocked(rate.Limit(float64(a.limiter.Limit()) * a.stepDown))
}

// CurrentLimit returns the current requests per second.
func (a *AdaptiveLimiter) CurrentLimit() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return float64(a.limiter.Limit())
}

func (a *AdaptiveLimiter) setLocked(l rate.Limit) {
	l = clampLimit(l, a.minLimit, a.maxLimit)
	if l != a.limiter.Limit() {
		a.limiter.SetLimit(l)
		a.limiter.SetBurst(burstFor(l))
	}
}

func clampLimit(l, lo, hi rate.Limit) rate.Limit {
	if l < lo {
		return lo
	}
	if l > hi {
		return hi
	}
	return l
}

func burstFor(l rate.Limit) int {
	return max(1, int(l))
}

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// FatalError stops the retry loop immediately.
type FatalError struct {
	Err error
}

func (f *FatalError) Error() string { return f.Err.Error() }
func (f *FatalError) Unwrap() error { return f.Err }

// Class is how an error affects the retry loop.
type Class int

const (
	Retry       Class = iota // back off and try again
	RateLimited              // slow the limiter down, then try again
	Fatal                    // give up
)

// Classifier decides the Class of an error.
type Classifier func(error) Class

// DefaultClassifier retries network failures, timeouts and 5xx, slows down on
// 429 and gives up on other 4xx, on cancellation and on FatalError.
func DefaultClassifier(err error) Class {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return Fatal
	}
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		switch {
		case code == http.StatusTooManyRequests:
			return RateLimited
		case code >= 500:
			return Retry
		case code >= 400:
			return Fatal
		}
	}
	return Retry
}

// RetryConfig configures Do.
type RetryConfig struct {
	MaxAttempts    int // total attempts including the first; values below one mean one
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	RateLimitDelay time.Duration
	Multiplier     float64
	Jitter         bool
	Classifier     Classifier
	OnRetry        func(attempt int, err error, wait time.Duration)
}

// DefaultRetryConfig returns three attempts with half-second exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		RateLimitDelay: 2 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
		Classifier:     DefaultClassifier,
	}
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, returns a fatal error, ctx ends or the attempts
// run out. lim may be nil.
func Do[T any](ctx context.Context, lim *AdaptiveLimiter, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultClassifier
	}
	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return zero, err
			}
		}
		v, err := fn(ctx)
		if err == nil {
			if lim != nil {
				lim.Success()
			}
			return v, nil
		}
		lastErr = err

		class := cfg.Classifier(err)
		if class == Fatal || ctx.Err() != nil {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := delay
		if class == RateLimited {
			if lim != nil {
				lim.RateLimited()
			}
			wait = max(cfg.RateLimitDelay, delay)
		}
		if cfg.Jitter {
			wait = addJitter(wait)
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}

		delay = time.Duration(float64(delay) * max(cfg.Multiplier, 1))
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return zero, &ExhaustedError{Attempts: cfg.MaxAttempts, Err: lastErr}
}

// addJitter adds up to 25% random delay.
func addJitter(d time.Duration) time.Duration {
	if d < 4 {
		return d
	}
	return d + time.Duration(rand.Int64N(int64(d/4)))
}
