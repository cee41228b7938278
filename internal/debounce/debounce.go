// Package debounce runs a callback once a key has been quiet for a delay.
// Rescheduling a key cancels its pending callback, so only the last
// schedule in a burst fires.
package debounce

import (
	"sync"
	"time"
)

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// Clock creates timers. System is the wall clock; tests use Fake.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// System returns the wall clock.
func System() Clock { return systemClock{} }

type entry struct {
	gen   uint64
	timer Timer
}

// Scheduler keeps at most one pending callback per key.
type Scheduler struct {
	clock Clock

	mu      sync.Mutex
	gen     uint64
	entries map[string]*entry
	stopped bool
}

// New creates a Scheduler. A nil clock means System.
func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = System()
	}
	return &Scheduler{clock: clock, entries: make(map[string]*entry)}
}

// Schedule arms fn to run after d unless key is rescheduled or cancelled
// first. fn runs on the clock's goroutine, never under the scheduler lock.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if e, ok := s.entries[key]; ok {
		e.timer.Stop()
	}
	s.gen++
	gen := s.gen
	e := &entry{gen: gen}
	s.entries[key] = e
	e.timer = s.clock.AfterFunc(d, func() { s.fire(key, gen, fn) })
}

// fire runs fn only if gen is still the latest schedule for key. A timer
// whose Stop lost the race ends up here with a stale gen and does nothing.
func (s *Scheduler) fire(key string, gen uint64, fn func()) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	s.mu.Unlock()
	fn()
}

// Cancel drops the pending callback for key and reports whether there was
// one.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, key)
	return true
}

// Pending returns the number of armed keys.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every pending callback. Later calls to Schedule are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, key)
	}
}
