package trip

import (
	"sort"
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer, false if it had already fired or been stopped.
	Stop() bool
}

// Scheduler runs callbacks after a delay and tells the current time.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemScheduler schedules on the wall clock.
type SystemScheduler struct{}

// Now returns the current wall-clock time.
func (SystemScheduler) Now() time.Time {
	return time.Now()
}

// AfterFunc calls f in its own goroutine after d.
func (SystemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualScheduler is a virtual clock. Time only moves when Advance is called,
// and due callbacks run synchronously on the caller's goroutine in deadline order.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	s   *ManualScheduler
	at  time.Time
	seq uint64
	f   func()
}

// NewManualScheduler creates a virtual clock starting at start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

// Now returns the virtual time.
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// AfterFunc registers f to run once virtual time reaches now+d.
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	t := &manualTimer{s: s, at: s.now.Add(d), seq: s.seq, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Stop removes the timer if it is still pending.
func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.remove(t)
}

func (s *ManualScheduler) remove(t *manualTimer) bool {
	for i, pending := range s.timers {
		if pending == t {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Advance moves virtual time forward by d, firing every callback that falls
// due, including callbacks scheduled by earlier callbacks within the window.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		next := s.nextDue(target)
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.remove(next)
		s.now = next.at
		s.mu.Unlock()

		next.f()
	}
}

func (s *ManualScheduler) nextDue(target time.Time) *manualTimer {
	if len(s.timers) == 0 {
		return nil
	}
	sort.SliceStable(s.timers, func(i, j int) bool {
		if s.timers[i].at.Equal(s.timers[j].at) {
			return s.timers[i].seq < s.timers[j].seq
		}
		return s.timers[i].at.Before(s.timers[j].at)
	})
	if s.timers[0].at.After(target) {
		return nil
	}
	return s.timers[0]
}

// Pending returns the number of callbacks waiting to fire.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
