package mind

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(ts []Trigger) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.MessageID)
	}
	return out
}

func newTestQueue(cfg QueueConfig) (*ChannelQueue, *manualScheduler, *[]uint64) {
	sched := &manualScheduler{}
	var fired []uint64
	q := NewChannelQueue(cfg, sched, func(gen uint64) { fired = append(fired, gen) })
	return q, sched, &fired
}

func TestQueueEarlyFlush(t *testing.T) {
	q, sched, fired := newTestQueue(QueueConfig{Window: 2 * time.Second, EarlyFlush: 3})

	assert.Empty(t, q.Enqueue(Trigger{MessageID: "1"}))
	assert.Empty(t, q.Enqueue(Trigger{MessageID: "2"}))
	require.Equal(t, 1, sched.count(), "one window for the whole batch")
	assert.Equal(t, 2*time.Second, sched.timers[0].d)

	out := q.Enqueue(Trigger{MessageID: "3"})
	assert.Equal(t, []string{"1", "2", "3"}, ids(out), "third trigger flushes without waiting")
	assert.False(t, q.Open())
	assert.False(t, sched.fire(0), "window timer was cancelled")
	assert.Empty(t, *fired)
}

func TestQueueFullWindow(t *testing.T) {
	q, sched, fired := newTestQueue(QueueConfig{Window: 2 * time.Second, EarlyFlush: 3})

	q.Enqueue(Trigger{MessageID: "1"})
	q.Enqueue(Trigger{MessageID: "2"})
	assert.Equal(t, 2, q.Len())

	require.True(t, sched.fire(0))
	require.Len(t, *fired, 1)
	out := q.Fire((*fired)[0])
	assert.Equal(t, []string{"1", "2"}, ids(out))
	assert.Zero(t, q.Len())
}

func TestQueueStaleWindow(t *testing.T) {
	q, sched, fired := newTestQueue(QueueConfig{Window: time.Second, EarlyFlush: 2})

	q.Enqueue(Trigger{MessageID: "1"})
	stale := uint64(1)
	q.Enqueue(Trigger{MessageID: "2"})
	q.Enqueue(Trigger{MessageID: "3"})
	require.Equal(t, 2, sched.count())

	assert.Nil(t, q.Fire(stale), "a flushed window cannot fire again")
	require.True(t, sched.fire(1))
	assert.Equal(t, []string{"3"}, ids(q.Fire((*fired)[0])))
}

func TestQueueLatestOnly(t *testing.T) {
	q, sched, fired := newTestQueue(QueueConfig{Window: time.Second, LatestOnly: true})
	for _, id := range []string{"1", "2", "3"} {
		q.Enqueue(Trigger{MessageID: id})
	}
	require.True(t, sched.fire(0))
	assert.Equal(t, []string{"3"}, ids(q.Fire((*fired)[0])))
}

func TestQueueNoWindow(t *testing.T) {
	q, sched, _ := newTestQueue(QueueConfig{})
	assert.Equal(t, []string{"1"}, ids(q.Enqueue(Trigger{MessageID: "1"})))
	assert.Zero(t, sched.count())
}

func TestQueueMaxPendingAndClear(t *testing.T) {
	q, _, _ := newTestQueue(QueueConfig{Window: time.Second, MaxPending: 2})
	q.Enqueue(Trigger{MessageID: "1"})
	q.Enqueue(Trigger{MessageID: "2"})
	q.Enqueue(Trigger{MessageID: "3"})
	assert.Equal(t, 2, q.Len(), "oldest dropped")

	assert.Equal(t, 2, q.Clear())
	assert.False(t, q.Open())
	assert.Zero(t, q.Len())
}
