package mind

import "time"

// DefaultMaxPending bounds the triggers buffered in one accumulation window.
const DefaultMaxPending = 20

// QueueConfig governs how a channel batches triggers before responding.
type QueueConfig struct {
	Window         time.Duration // accumulation window; 0 hands triggers off immediately
	EarlyFlush     int           // flush once this many triggers are buffered; 0 disables
	LatestOnly     bool          // answer only the most recent trigger of a window
	SkipInProgress bool          // a new trigger cancels the response in progress
	MaxPending     int           // oldest triggers are dropped beyond this; 0 uses DefaultMaxPending
}

// ChannelQueue is the debouncing buffer of one channel. It is driven by the
// channel actor: Enqueue on admitted triggers, Fire when the window timer the
// queue scheduled reports back.
type ChannelQueue struct {
	cfg      QueueConfig
	sched    Scheduler
	onWindow func(gen uint64)

	buf   []Trigger
	open  bool
	gen   uint64
	timer Timer
}

// NewChannelQueue creates a queue. onWindow is called from the scheduler's
// goroutine when a window elapses and must hand the generation back to the actor.
func NewChannelQueue(cfg QueueConfig, sched Scheduler, onWindow func(gen uint64)) *ChannelQueue {
	if sched == nil {
		sched = RealScheduler
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	return &ChannelQueue{cfg: cfg, sched: sched, onWindow: onWindow}
}

// Enqueue buffers t. It returns the triggers to hand off right away, which is
// non-empty when there is no window or the early flush threshold is reached.
func (q *ChannelQueue) Enqueue(t Trigger) []Trigger {
	q.buf = append(q.buf, t)
	if over := len(q.buf) - q.cfg.MaxPending; over > 0 {
		q.buf = append(q.buf[:0], q.buf[over:]...)
	}
	if q.cfg.Window <= 0 {
		return q.drain()
	}
	if q.cfg.EarlyFlush > 0 && len(q.buf) >= q.cfg.EarlyFlush {
		return q.drain()
	}
	if !q.open {
		q.open = true
		q.gen++
		gen := q.gen
		q.timer = q.sched.AfterFunc(q.cfg.Window, func() {
			if q.onWindow != nil {
				q.onWindow(gen)
			}
		})
	}
	return nil
}

// Fire closes the window of generation gen and returns its triggers. Stale
// generations, left over from windows that were flushed early, return nothing.
func (q *ChannelQueue) Fire(gen uint64) []Trigger {
	if !q.open || gen != q.gen {
		return nil
	}
	return q.drain()
}

// Len is the number of buffered triggers.
func (q *ChannelQueue) Len() int { return len(q.buf) }

// Open reports whether an accumulation window is running.
func (q *ChannelQueue) Open() bool { return q.open }

// Clear drops the buffer and cancels the pending window.
func (q *ChannelQueue) Clear() int {
	n := len(q.buf)
	q.closeWindow()
	q.buf = nil
	return n
}

func (q *ChannelQueue) drain() []Trigger {
	q.closeWindow()
	out := q.buf
	q.buf = nil
	if q.cfg.LatestOnly && len(out) > 1 {
		out = out[len(out)-1:]
	}
	return out
}

func (q *ChannelQueue) closeWindow() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.open = false
}
