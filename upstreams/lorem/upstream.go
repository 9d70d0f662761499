// Package lorem is a mock upstream that streams lorem ipsum answers in the
// workflow API's wire format. Used for testing and demos without an API key.
package lorem

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"
	"github.com/google/uuid"

	"github.com/haowjy/meridian-aisearch-go"
)

// Upstream generates one workflow run per Open.
type Upstream struct {
	generator *loremgen.Lorem
	delay     time.Duration
	words     int
	malformed bool
	pings     bool
}

// Option configures an Upstream.
type Option func(*Upstream)

// WithDelay overrides the per-fragment delay derived from the model name.
func WithDelay(d time.Duration) Option {
	return func(u *Upstream) {
		u.delay = d
	}
}

// WithWords sets the number of answer words (default 40).
func WithWords(n int) Option {
	return func(u *Upstream) {
		u.words = n
	}
}

// WithMalformedFrame injects one invalid JSON frame in the middle of the answer.
func WithMalformedFrame() Option {
	return func(u *Upstream) {
		u.malformed = true
	}
}

// WithPings interleaves keep-alive lines that carry no data frame.
func WithPings() Option {
	return func(u *Upstream) {
		u.pings = true
	}
}

// New creates a lorem upstream. model picks the speed, like "lorem-fast"
// or "lorem-slow".
func New(model string, opts ...Option) *Upstream {
	u := &Upstream{
		generator: loremgen.New(),
		delay:     getStreamDelay(model),
		words:     40,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Name returns the upstream identifier.
func (u *Upstream) Name() aisearch.UpstreamID {
	return aisearch.UpstreamLorem
}

// getStreamDelay returns the delay between words based on the model name.
// - lorem-slow: 2 words/second (500ms per word)
// - lorem-fast: 30 words/second (33ms per word)
// - lorem-instant: no delay
// - default: 10 words/second
func getStreamDelay(model string) time.Duration {
	switch {
	case strings.Contains(model, "instant"):
		return 0
	case strings.Contains(model, "slow"):
		return 500 * time.Millisecond
	case strings.Contains(model, "fast"):
		return 33 * time.Millisecond
	default:
		return 100 * time.Millisecond
	}
}

// node is one step of the mock workflow.
type node struct {
	id, nodeType, title string
}

var workflowNodes = []node{
	{"start", "start", "Start"},
	{"retrieve", "knowledge-retrieval", "Knowledge Retrieval"},
	{"answer", "llm", "Answer"},
}

// Open starts streaming a run for q. The stream ends with data: [DONE].
func (u *Upstream) Open(ctx context.Context, q *aisearch.Query) (io.ReadCloser, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	conversationID := q.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	text := u.generateTextWords(u.words)

	pr, pw := io.Pipe()
	go func() {
		err := u.stream(ctx, pw, conversationID, text)
		pw.CloseWithError(err)
	}()

	return pr, nil
}

func (u *Upstream) stream(ctx context.Context, w io.Writer, conversationID, text string) error {
	started := time.Now()
	runID := uuid.NewString()
	workflowID := "wf-lorem"

	f := &frameWriter{w: w}

	f.event(map[string]any{
		"event":           aisearch.KindWorkflowStarted,
		"conversation_id": conversationID,
		"workflow_run_id": runID,
		"data": map[string]any{
			"id":          runID,
			"workflow_id": workflowID,
			"created_at":  started.Unix(),
		},
	})

	for i, n := range workflowNodes {
		data := map[string]any{
			"node_id":   n.id,
			"node_type": n.nodeType,
			"title":     n.title,
			"index":     i + 1,
		}
		f.event(map[string]any{"event": aisearch.KindNodeStarted, "conversation_id": conversationID, "data": data})

		if n.nodeType == "llm" {
			if err := u.streamAnswer(ctx, f, conversationID, text); err != nil {
				return err
			}
		}

		finished := maps.Clone(data)
		finished["status"] = "succeeded"
		f.event(map[string]any{"event": aisearch.KindNodeFinished, "conversation_id": conversationID, "data": finished})
	}

	words := len(strings.Fields(text))
	elapsed := time.Since(started).Seconds()

	f.event(map[string]any{
		"event":           aisearch.KindWorkflowFinished,
		"conversation_id": conversationID,
		"data": map[string]any{
			"id":               runID,
			"workflow_id":      workflowID,
			"status":           "succeeded",
			"outputs":          map[string]any{"answer": text},
			"elapsed_time":     elapsed,
			"total_tokens":     words * 2,
			"total_steps":      len(workflowNodes),
			"exceptions_count": 0,
			"created_by":       map[string]any{"id": "lorem"},
			"created_at":       started.Unix(),
			"finished_at":      time.Now().Unix(),
		},
	})

	f.event(map[string]any{
		"event":           aisearch.KindMessageEnd,
		"conversation_id": conversationID,
		"metadata": map[string]any{
			"usage": map[string]any{
				"prompt_tokens":     words,
				"completion_tokens": words,
				"total_tokens":      words * 2,
				"total_price":       fmt.Sprintf("%.7f", float64(words*2)*0.000002),
				"currency":          "USD",
				"latency":           elapsed,
			},
		},
	})

	f.line("data: [DONE]")
	return f.err
}

// streamAnswer sends text one word per message frame.
func (u *Upstream) streamAnswer(ctx context.Context, f *frameWriter, conversationID, text string) error {
	words := strings.Fields(text)
	for i, word := range words {
		if i > 0 {
			word = " " + word
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		f.event(map[string]any{"event": aisearch.KindMessage, "conversation_id": conversationID, "answer": word})

		if u.malformed && i == len(words)/2 {
			f.line(`data: {"event":"message","answer":`)
		}
		if u.pings && i%10 == 0 {
			f.line("event: ping")
		}
		if f.err != nil {
			return f.err
		}

		if u.delay > 0 {
			select {
			case <-time.After(u.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// generateTextWords generates lorem ipsum text with approximately targetWords words.
func (u *Upstream) generateTextWords(targetWords int) string {
	var sb strings.Builder
	wordCount := 0

	for wordCount < targetWords {
		sentence := u.generator.Sentence(5, 15)
		sb.WriteString(sentence)
		sb.WriteString(" ")
		wordCount += len(strings.Fields(sentence))
	}

	return strings.TrimSpace(sb.String())
}

// frameWriter writes SSE lines, remembering the first error.
type frameWriter struct {
	w   io.Writer
	err error
}

func (f *frameWriter) event(payload map[string]any) {
	if f.err != nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		f.err = err
		return
	}
	f.line("data: " + string(b))
}

func (f *frameWriter) line(s string) {
	if f.err != nil {
		return
	}
	_, f.err = io.WriteString(f.w, s+"\n\n")
}
