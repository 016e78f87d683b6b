package mind

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Granularity is how streamed output is grouped before it reaches the limiter.
type Granularity string

const (
	StreamOff      Granularity = ""
	StreamToken    Granularity = "token"
	StreamSentence Granularity = "sentence"
)

// Increment is the cumulative text of a streamed response so far.
type Increment struct {
	Text  string
	Final bool
}

// EmitFunc delivers a paced update to the transport.
type EmitFunc func(ctx context.Context, text string, final bool) error

// StreamLimiter paces transport updates to at most one per interval. Increments
// that arrive in between are coalesced into the latest one; the final increment
// is always delivered without waiting.
type StreamLimiter struct {
	interval time.Duration
	lim      *rate.Limiter
	pending  string
	dirty    bool
}

// NewStreamLimiter creates a limiter; a non-positive interval disables pacing.
func NewStreamLimiter(interval time.Duration) *StreamLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &StreamLimiter{interval: interval, lim: rate.NewLimiter(limit, 1)}
}

// Offer records text as the latest increment at now. It returns true when the
// increment may be emitted immediately, otherwise how long to wait before the
// next emission slot.
func (l *StreamLimiter) Offer(now time.Time, text string) (bool, time.Duration) {
	l.pending, l.dirty = text, true
	r := l.lim.ReserveN(now, 1)
	if !r.OK() {
		return true, 0
	}
	d := r.DelayFrom(now)
	if d <= 0 {
		return true, 0
	}
	return false, d
}

// Take returns the pending increment and clears it.
func (l *StreamLimiter) Take() (string, bool) {
	text, ok := l.pending, l.dirty
	l.pending, l.dirty = "", false
	return text, ok
}

// Pace reads increments from in until it is closed or a final increment arrives
// and hands paced updates to emit. When cancel fires, the latest increment is
// emitted as final and Pace returns without waiting for in.
func (l *StreamLimiter) Pace(ctx context.Context, in <-chan Increment, cancel <-chan struct{}, emit EmitFunc) error {
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		waiting bool
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timerC, waiting = nil, false
	}
	defer stopTimer()

	finish := func(last string, have bool) error {
		stopTimer()
		if !have {
			return nil
		}
		return emit(ctx, last, true)
	}

	latest, haveLatest := "", false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cancel:
			return finish(latest, haveLatest)
		case inc, ok := <-in:
			if !ok {
				return finish(latest, haveLatest)
			}
			latest, haveLatest = inc.Text, true
			if inc.Final {
				return finish(latest, haveLatest)
			}
			if waiting {
				l.pending, l.dirty = inc.Text, true
				continue
			}
			ready, wait := l.Offer(time.Now(), inc.Text)
			if ready {
				text, _ := l.Take()
				if err := emit(ctx, text, false); err != nil {
					return err
				}
				continue
			}
			timer = time.NewTimer(wait)
			timerC, waiting = timer.C, true
		case <-timerC:
			timerC, waiting = nil, false
			if text, ok := l.Take(); ok {
				if err := emit(ctx, text, false); err != nil {
					return err
				}
			}
		}
	}
}
