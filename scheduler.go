package aisearch

import (
	"sync"
	"time"
)

// Scheduler runs a function repeatedly at a fixed interval.
type Scheduler interface {
	// Every calls fn every d until the returned Task is cancelled.
	Every(d time.Duration, fn func()) Task
}

// Task is a scheduled repetition.
type Task interface {
	// Cancel stops future calls. Safe to call more than once and from within fn.
	Cancel()
}

// RealScheduler schedules on the wall clock with time.Ticker.
type RealScheduler struct{}

// Every starts a goroutine that calls fn on every tick.
func (RealScheduler) Every(d time.Duration, fn func()) Task {
	if d <= 0 {
		d = time.Nanosecond
	}
	t := &tickerTask{
		ticker: time.NewTicker(d),
		stop:   make(chan struct{}),
	}
	go t.run(fn)
	return t
}

type tickerTask struct {
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (t *tickerTask) run(fn func()) {
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C:
			select {
			case <-t.stop:
				return
			default:
			}
			fn()
		}
	}
}

func (t *tickerTask) Cancel() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.stop)
	})
}

// ManualScheduler is a virtual clock. Scheduled functions run only inside
// Advance, on the caller's goroutine.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []*manualTask
}

type manualTask struct {
	s     *ManualScheduler
	every time.Duration
	next  time.Duration
	fn    func()
}

// NewManualScheduler returns a virtual clock at zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Every registers fn to run every d of virtual time.
func (s *ManualScheduler) Every(d time.Duration, fn func()) Task {
	if d <= 0 {
		d = time.Nanosecond
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &manualTask{s: s, every: d, next: s.now + d, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

// Advance moves the clock forward by d, running every task that comes due in
// order of due time.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		var due *manualTask
		for _, t := range s.tasks {
			if t.next <= target && (due == nil || t.next < due.next) {
				due = t
			}
		}
		if due == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = due.next
		due.next += due.every
		s.mu.Unlock()

		due.fn()
	}
}

// Now returns the virtual time elapsed since creation.
func (s *ManualScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Pending returns the number of tasks not yet cancelled.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (t *manualTask) Cancel() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i, other := range t.s.tasks {
		if other == t {
			t.s.tasks = append(t.s.tasks[:i], t.s.tasks[i+1:]...)
			return
		}
	}
}
