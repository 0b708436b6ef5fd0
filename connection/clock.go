package connection

import "time"

// Timer is a cancellable one-shot callback.
type Timer interface {
	Stop() bool
}

// Clock supplies time and timers to the engine.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

func stopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}
