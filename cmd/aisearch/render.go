package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/haowjy/meridian-aisearch-go"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	nodeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statsStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1)
)

// terminal prints workflow progress and reveals the answer with a typewriter.
type terminal struct {
	out      io.Writer
	mu       sync.Mutex
	printed  string
	revealer *aisearch.Revealer
	done     chan struct{}
	once     sync.Once
	finished bool
}

func newTerminal(out io.Writer, delay time.Duration) *terminal {
	t := &terminal{out: out, done: make(chan struct{})}
	t.revealer = aisearch.NewRevealer(aisearch.RealScheduler{}, delay,
		aisearch.OnUpdate(t.update),
		aisearch.OnDone(t.onDone),
	)
	return t
}

// observe is an aisearch.EventObserver.
func (t *terminal) observe(s *aisearch.Session, ev aisearch.StreamEvent) {
	switch e := ev.(type) {
	case aisearch.NodeStarted:
		t.println(nodeStyle.Render(fmt.Sprintf("  > %s", e.Title)))
	case aisearch.NodeFinished:
		t.println(nodeStyle.Render(fmt.Sprintf("  ✓ %s (%s)", e.Title, e.Status)))
	case aisearch.Message, aisearch.WorkflowFinished:
		if conv, ok := s.Conversation(); ok {
			t.revealer.SetTarget(conv.AnswerText)
		}
	}
	if _, ok := ev.(aisearch.WorkflowFinished); ok {
		t.mu.Lock()
		t.finished = true
		t.mu.Unlock()
	}
}

func (t *terminal) println(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.printed != "" {
		fmt.Fprintln(t.out)
		t.printed = ""
	}
	fmt.Fprintln(t.out, s)
}

// update prints only the newly revealed suffix, or the whole text on a snap.
func (t *terminal) update(displayed string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if strings.HasPrefix(displayed, t.printed) {
		fmt.Fprint(t.out, displayed[len(t.printed):])
	} else {
		fmt.Fprint(t.out, "\n"+displayed)
	}
	t.printed = displayed
}

func (t *terminal) onDone(string) {
	t.mu.Lock()
	finished := t.finished
	t.mu.Unlock()
	if finished {
		t.once.Do(func() { close(t.done) })
	}
}

// wait blocks until the reveal catches up with the final answer, or timeout.
// Call it once the run has returned.
func (t *terminal) wait(timeout time.Duration) {
	t.mu.Lock()
	t.finished = true
	t.mu.Unlock()

	if t.revealer.Done() {
		t.once.Do(func() { close(t.done) })
	}
	select {
	case <-t.done:
	case <-time.After(timeout):
	}
	t.revealer.Close()
	fmt.Fprintln(t.out)
}

func (t *terminal) summary(out *aisearch.Outcome, runErr error) {
	if runErr != nil {
		fmt.Fprintln(t.out, errorStyle.Render(fmt.Sprintf("Error: %v", runErr)))
	}
	if out == nil {
		return
	}
	state := doneStyle.Render("stored")
	switch {
	case out.Abandoned:
		state = errorStyle.Render("abandoned")
	case !out.Accepted:
		state = errorStyle.Render("not stored")
	}
	fmt.Fprintln(t.out, statsStyle.Render(fmt.Sprintf(
		"conversation %s | %d events, %d skipped | %d nodes | %s",
		out.ConversationID, out.Stats.Events, out.Stats.Skipped, len(out.Status.Completed), state)))
}
