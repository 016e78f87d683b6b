package ai

import (
	"context"
	"errors"
	"time"

	"github.com/keshon/chatmind/pkg/retrylimit"
	"go.uber.org/zap"
)

// Retrying wraps a backend so transient failures are retried with backoff and
// requests are paced by an adaptive rate limit. Streams are retried only while
// opening; once tokens flow a failure is final.
type Retrying struct {
	Backend
	lim *retrylimit.AdaptiveLimiter
	cfg retrylimit.RetryConfig
}

// NewRetrying wraps b. attempts counts the first call too.
func NewRetrying(b Backend, attempts int, log *zap.Logger) *Retrying {
	cfg := retrylimit.DefaultRetryConfig()
	cfg.MaxAttempts = attempts
	cfg.Classifier = classify
	if log != nil {
		cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
			log.Warn("backend call failed, retrying",
				zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		}
	}
	return &Retrying{
		Backend: b,
		lim:     retrylimit.NewAdaptiveLimiter(2, 0.2, 5, 0.5, 0.5),
		cfg:     cfg,
	}
}

// classify never retries unsupported operations.
func classify(err error) retrylimit.Class {
	if errors.Is(err, ErrUnsupported) {
		return retrylimit.Fatal
	}
	return retrylimit.DefaultClassifier(err)
}

func (r *Retrying) Generate(ctx context.Context, req Request) (string, error) {
	return retrylimit.Do(ctx, r.lim, r.cfg, func(ctx context.Context) (string, error) {
		return r.Backend.Generate(ctx, req)
	})
}

func (r *Retrying) StreamGenerate(ctx context.Context, req Request) (Stream, error) {
	return retrylimit.Do(ctx, r.lim, r.cfg, func(ctx context.Context) (Stream, error) {
		return r.Backend.StreamGenerate(ctx, req)
	})
}

func (r *Retrying) CountTokens(ctx context.Context, text string) (int, error) {
	return retrylimit.Do(ctx, nil, r.cfg, func(ctx context.Context) (int, error) {
		return r.Backend.CountTokens(ctx, text)
	})
}

// StopGeneration forwards to the wrapped backend when it can stop.
func (r *Retrying) StopGeneration(ctx context.Context) error {
	if s, ok := r.Backend.(Stopper); ok {
		return s.StopGeneration(ctx)
	}
	return ErrUnsupported
}
