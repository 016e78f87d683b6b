package mind

import "time"

// Timer is a pending deferred call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. Channel actors use it for accumulation windows;
// tests substitute a manual implementation.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Clock supplies the current time.
type Clock func() time.Time

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler schedules on the runtime timers.
var RealScheduler Scheduler = realScheduler{}
