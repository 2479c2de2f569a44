package realtime

import "time"

// Clock schedules the keepalive and reconnect timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled call.
type Timer interface {
	Stop() bool
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc.
func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// timerSlot holds at most one pending timer. Arming always cancels the
// previous one first. Every arm/cancel bumps the generation so a callback that
// raced with Stop can tell it is stale. Callers hold the client lock.
type timerSlot struct {
	timer Timer
	gen   uint64
}

func (s *timerSlot) arm(clock Clock, d time.Duration, fire func(gen uint64)) {
	s.cancel()
	gen := s.gen
	s.timer = clock.AfterFunc(d, func() { fire(gen) })
}

func (s *timerSlot) cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

// claim reports whether gen is the pending timer and, if so, releases the slot.
func (s *timerSlot) claim(gen uint64) bool {
	if s.timer == nil || s.gen != gen {
		return false
	}
	s.timer = nil
	s.gen++
	return true
}

func (s *timerSlot) pending() bool {
	return s.timer != nil
}
