package aisearch

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Test helper functions shared across test files

func stringPtr(s string) *string {
	return &s
}

// frames joins payloads into data frames.
func frames(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: ")
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	return b.String()
}

// sse is frames terminated by [DONE].
func sse(payloads ...string) string {
	return frames(payloads...) + "data: [DONE]\n\n"
}

// scenarioPayloads is a complete, well-formed run for conversation c1.
var scenarioPayloads = []string{
	`{"event":"workflow_started","conversation_id":"c1","workflow_run_id":"r1","data":{"id":"r1","workflow_id":"w1","created_at":1700000000}}`,
	`{"event":"node_started","conversation_id":"c1","data":{"node_id":"n1","node_type":"llm","title":"Analyze","index":1}}`,
	`{"event":"node_finished","conversation_id":"c1","data":{"node_id":"n1","node_type":"llm","title":"Analyze","index":1,"status":"succeeded"}}`,
	`{"event":"message","conversation_id":"c1","answer":"42"}`,
	`{"event":"workflow_finished","conversation_id":"c1","data":{"id":"r1","workflow_id":"w1","status":"succeeded","outputs":{},"elapsed_time":1.5,"total_tokens":10,"total_steps":3,"exceptions_count":0,"created_by":{"id":"u1"},"created_at":1700000000,"finished_at":1700000002}}`,
	`{"event":"message_end","conversation_id":"c1","metadata":{"usage":{"prompt_tokens":4,"completion_tokens":6,"total_tokens":10,"total_price":"0.0001","currency":"USD","latency":1.25}}}`,
}

// recordingStore is a RecordStore that remembers every call.
type recordingStore struct {
	mu      sync.Mutex
	records []*Record
	result  *StoreResult
	err     error
	block   chan struct{}
}

func newRecordingStore() *recordingStore {
	return &recordingStore{result: &StoreResult{Accepted: true, ID: "rec-1"}}
}

func (s *recordingStore) Store(ctx context.Context, rec *Record) (*StoreResult, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.result, s.err
}

func (s *recordingStore) calls() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Record(nil), s.records...)
}

// fixedClock returns a clock that advances by step on every call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(step)
		return t
	}
}
