package aisearch

import (
	"slices"
	"sync"
	"time"
)

// Revealer shows a target string one rune at a time.
//
// Extending the target continues from the current position. Any other
// change snaps straight to the new target. An empty target resets the
// display. OnDone fires exactly once each time the display catches up with
// a target.
type Revealer struct {
	mu sync.Mutex

	sched Scheduler
	delay time.Duration

	target []rune
	pos    int
	task   Task
	gen    int
	done   bool
	closed bool

	onUpdate func(string)
	onDone   func(string)
}

// RevealerOption configures a Revealer.
type RevealerOption func(*Revealer)

// OnUpdate is called with the displayed text after every change.
func OnUpdate(fn func(displayed string)) RevealerOption {
	return func(r *Revealer) {
		r.onUpdate = fn
	}
}

// OnDone is called with the full text when the display reaches the target.
func OnDone(fn func(text string)) RevealerOption {
	return func(r *Revealer) {
		r.onDone = fn
	}
}

// NewRevealer creates an idle Revealer that reveals one rune per delay.
// A delay <= 0 displays every target immediately.
func NewRevealer(sched Scheduler, delay time.Duration, opts ...RevealerOption) *Revealer {
	r := &Revealer{sched: sched, delay: delay}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// revealEvent is a callback to deliver once the lock is released.
type revealEvent struct {
	displayed string
	update    bool
	done      bool
}

// SetTarget changes the text being revealed.
func (r *Revealer) SetTarget(s string) {
	r.mu.Lock()
	ev := r.setTargetLocked([]rune(s))
	r.mu.Unlock()

	r.emit(ev)
}

func (r *Revealer) setTargetLocked(next []rune) revealEvent {
	if r.closed {
		return revealEvent{}
	}

	if len(next) == 0 {
		hadText := r.pos > 0
		r.stopLocked()
		r.target, r.pos, r.done = nil, 0, false
		return revealEvent{update: hadText}
	}

	if slices.Equal(next, r.target) {
		return revealEvent{}
	}

	revealed := r.target[:r.pos]
	if len(next) >= r.pos && slices.Equal(next[:r.pos], revealed) && r.delay > 0 {
		r.target = next
		if r.pos == len(next) {
			return r.finishLocked()
		}
		r.done = false
		if r.task == nil {
			r.gen++
			gen := r.gen
			r.task = r.sched.Every(r.delay, func() { r.tick(gen) })
		}
		return revealEvent{}
	}

	// Shorter, diverging, or instant: show it all at once.
	r.stopLocked()
	r.target = next
	r.pos = len(next)
	r.done = false
	ev := r.finishLocked()
	ev.update = true
	return ev
}

// tick advances one rune. Ticks from a cancelled task are ignored.
func (r *Revealer) tick(gen int) {
	r.mu.Lock()
	if r.closed || r.task == nil || gen != r.gen || r.pos >= len(r.target) {
		r.mu.Unlock()
		return
	}

	r.pos++
	ev := revealEvent{update: true, displayed: string(r.target[:r.pos])}
	if r.pos == len(r.target) {
		done := r.finishLocked()
		ev.done = done.done
	}
	r.mu.Unlock()

	r.emit(ev)
}

// finishLocked stops the timer and marks the current target done.
func (r *Revealer) finishLocked() revealEvent {
	r.stopLocked()
	if r.done {
		return revealEvent{displayed: string(r.target)}
	}
	r.done = true
	return revealEvent{displayed: string(r.target), done: true}
}

func (r *Revealer) stopLocked() {
	if r.task != nil {
		r.task.Cancel()
		r.task = nil
	}
}

func (r *Revealer) emit(ev revealEvent) {
	if ev.update && r.onUpdate != nil {
		r.onUpdate(ev.displayed)
	}
	if ev.done && r.onDone != nil {
		r.onDone(ev.displayed)
	}
}

// Displayed returns the text revealed so far.
func (r *Revealer) Displayed() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.target[:r.pos])
}

// Done reports whether the display has caught up with a non-empty target.
func (r *Revealer) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Close stops the timer. No callback fires after Close returns, except one
// already in progress on another goroutine.
func (r *Revealer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.closed = true
}
