package aisearch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccumulator(store RecordStore, opts ...AccumulatorOption) *Accumulator {
	start := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	opts = append([]AccumulatorOption{WithClock(fixedClock(start, time.Second))}, opts...)
	return NewAccumulator(store, opts...)
}

func applyAll(t *testing.T, acc *Accumulator, localID string, events ...StreamEvent) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, acc.Apply(localID, ev))
	}
}

func TestAccumulator_MessageOrderMatters(t *testing.T) {
	fragments := []StreamEvent{Message{Answer: "a"}, Message{Answer: "b"}, Message{Answer: "c"}}
	permutations := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	answers := make(map[string]bool)
	for _, perm := range permutations {
		acc := newTestAccumulator(newRecordingStore())
		acc.Start("l1", "q", nil, "u")
		for _, i := range perm {
			require.NoError(t, acc.Apply("l1", fragments[i]))
		}
		state, ok := acc.Get("l1")
		require.True(t, ok)
		answers[state.AnswerText] = true
	}

	assert.Len(t, answers, len(permutations), "every ordering must give a distinct answer")
	assert.True(t, answers["abc"])
}

func TestAccumulator_StartIsIdempotent(t *testing.T) {
	acc := newTestAccumulator(newRecordingStore())

	first := acc.Start("l1", "what is 6x7", map[string]any{"lang": "en"}, "guest-1")
	applyAll(t, acc, "l1", Message{Answer: "4"})

	second := acc.Start("l1", "another query", nil, "guest-2")

	assert.Equal(t, "l1", second.LocalID)
	assert.Equal(t, "4", second.AnswerText)
	assert.Equal(t, "what is 6x7", second.Query)
	assert.Equal(t, "guest-1", second.User)
	assert.Equal(t, first.StartedAt, second.StartedAt)
	assert.Equal(t, []string{"l1"}, acc.Active())
}

func TestAccumulator_RemoteIDFirstWriteWins(t *testing.T) {
	acc := newTestAccumulator(newRecordingStore())
	acc.Start("l1", "q", nil, "u")

	applyAll(t, acc, "l1",
		Message{Answer: "x"},
		Message{Conversation: "c1", Answer: "y"},
		Message{Conversation: "c2", Answer: "z"},
		Message{Conversation: "c1"},
	)

	state, ok := acc.Get("l1")
	require.True(t, ok)
	assert.Equal(t, "c1", state.RemoteID)
	assert.Equal(t, "c1", state.CanonicalID())
	assert.Equal(t, 1, state.RemoteIDConflicts)
	assert.Equal(t, 4, state.EventCount)
}

func TestAccumulator_ReplacementVsAccumulation(t *testing.T) {
	acc := newTestAccumulator(newRecordingStore())
	acc.Start("l1", "q", nil, "u")

	applyAll(t, acc, "l1", Message{Answer: "Hello "}, Message{Answer: "world"})
	state, _ := acc.Get("l1")
	assert.Equal(t, "Hello world", state.AnswerText)

	applyAll(t, acc, "l1", WorkflowFinished{OutputsAnswer: stringPtr("Final answer."), Summary: WorkflowSummary{Status: "succeeded"}})
	state, _ = acc.Get("l1")
	assert.Equal(t, "Final answer.", state.AnswerText)
	require.NotNil(t, state.Summary)
	assert.Equal(t, "succeeded", state.Summary.Status)

	// Fragments after a replacement append to the replaced text.
	applyAll(t, acc, "l1", Message{Answer: " More."})
	state, _ = acc.Get("l1")
	assert.Equal(t, "Final answer. More.", state.AnswerText)
}

func TestAccumulator_WorkflowFinishedWithoutAnswerKeepsText(t *testing.T) {
	acc := newTestAccumulator(newRecordingStore())
	acc.Start("l1", "q", nil, "u")

	applyAll(t, acc, "l1", Message{Answer: "42"}, WorkflowFinished{})

	state, _ := acc.Get("l1")
	assert.Equal(t, "42", state.AnswerText)
	assert.NotNil(t, state.Summary)
}

func TestAccumulator_SummarySetOnce(t *testing.T) {
	acc := newTestAccumulator(newRecordingStore())
	acc.Start("l1", "q", nil, "u")

	applyAll(t, acc, "l1",
		WorkflowFinished{Summary: WorkflowSummary{WorkflowRunID: "r1", Status: "succeeded"}},
		WorkflowFinished{OutputsAnswer: stringPtr("later"), Summary: WorkflowSummary{WorkflowRunID: "r2", Status: "failed"}},
	)

	state, _ := acc.Get("l1")
	require.NotNil(t, state.Summary)
	assert.Equal(t, "r1", state.Summary.WorkflowRunID)
	assert.Equal(t, "succeeded", state.Summary.Status)
	assert.Equal(t, "later", state.AnswerText)
}

func TestAccumulator_NilEvent(t *testing.T) {
	acc := newTestAccumulator(newRecordingStore())

	assert.ErrorIs(t, acc.Apply("missing", nil), ErrUnknownEventKind)

	acc.Start("l1", "q", nil, "u")
	assert.ErrorIs(t, acc.Apply("l1", nil), ErrUnknownEventKind)

	state, _ := acc.Get("l1")
	assert.Zero(t, state.EventCount)
}

func TestAccumulator_UsageLastWriteWins(t *testing.T) {
	acc := newTestAccumulator(newRecordingStore())
	acc.Start("l1", "q", nil, "u")

	applyAll(t, acc, "l1",
		MessageEnd{Usage: &Usage{TotalTokens: 5}},
		MessageEnd{},
		MessageEnd{Usage: &Usage{TotalTokens: 10}},
	)

	state, _ := acc.Get("l1")
	require.NotNil(t, state.Usage)
	assert.Equal(t, 10, state.Usage.TotalTokens)
}

func TestAccumulator_UnknownConversation(t *testing.T) {
	acc := newTestAccumulator(newRecordingStore())

	err := acc.Apply("missing", Message{Answer: "x"})
	assert.ErrorIs(t, err, ErrUnknownConversation)
	assert.True(t, IsRecoverable(err))

	ok, err := acc.Finish(context.Background(), "missing")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnknownConversation)

	_, found := acc.Get("missing")
	assert.False(t, found)
}

func TestAccumulator_SnapshotsAreIsolated(t *testing.T) {
	acc := newTestAccumulator(newRecordingStore())
	acc.Start("l1", "q", map[string]any{"k": "v"}, "u")
	applyAll(t, acc, "l1", MessageEnd{Usage: &Usage{TotalTokens: 1}})

	state, _ := acc.Get("l1")
	state.Inputs["k"] = "changed"
	state.Usage.TotalTokens = 99
	state.AnswerText = "changed"

	again, _ := acc.Get("l1")
	assert.Equal(t, "v", again.Inputs["k"])
	assert.Equal(t, 1, again.Usage.TotalTokens)
	assert.Empty(t, again.AnswerText)
}

func TestAccumulator_FinishEvicts(t *testing.T) {
	tests := []struct {
		name       string
		result     *StoreResult
		err        error
		wantOK     bool
		wantErr    error
		wantLetter bool
	}{
		{"accepted", &StoreResult{Accepted: true, ID: "r1"}, nil, true, nil, false},
		{"not accepted", &StoreResult{Accepted: false}, nil, false, nil, true},
		{"nil result", nil, nil, false, nil, true},
		{"store error", nil, &StoreError{Store: "http", StatusCode: 500, Message: "down", Retryable: true, Err: ErrStoreUnavailable}, false, ErrStoreUnavailable, true},
		{"transport error", nil, fmt.Errorf("%w: dial tcp", ErrTransport), false, ErrTransport, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newRecordingStore()
			store.result, store.err = tt.result, tt.err
			dlq := NewMemoryDeadLetters(10)
			acc := newTestAccumulator(store, WithDeadLetters(dlq))

			acc.Start("l1", "q", nil, "u")
			applyAll(t, acc, "l1", Message{Conversation: "c1", Answer: "42"})

			ok, err := acc.Finish(context.Background(), "l1")
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			_, found := acc.Get("l1")
			assert.False(t, found)
			assert.Empty(t, acc.Active())
			assert.Len(t, store.calls(), 1)

			n, _ := dlq.Len(context.Background())
			if tt.wantLetter {
				assert.Equal(t, 1, n)
			} else {
				assert.Zero(t, n)
			}

			// A second finish does not reach the store.
			_, err = acc.Finish(context.Background(), "l1")
			assert.ErrorIs(t, err, ErrUnknownConversation)
			assert.Len(t, store.calls(), 1)
		})
	}
}

func TestAccumulator_FinishBuildsRecord(t *testing.T) {
	store := newRecordingStore()
	acc := newTestAccumulator(store)

	acc.Start("l1", "what is 6x7", map[string]any{"lang": "en"}, "guest-1")
	applyAll(t, acc, "l1",
		Message{Answer: "42"},
		WorkflowFinished{Summary: WorkflowSummary{WorkflowRunID: "r1", TotalSteps: 3}},
		MessageEnd{Usage: &Usage{TotalTokens: 10, TotalPrice: "0.0001"}},
	)

	ok, err := acc.Finish(context.Background(), "l1")
	require.NoError(t, err)
	require.True(t, ok)

	calls := store.calls()
	require.Len(t, calls, 1)
	rec := calls[0]

	assert.Equal(t, "l1", rec.ConversationID, "local id is used when no remote id arrived")
	assert.Equal(t, "l1", rec.LocalID)
	assert.Equal(t, "guest-1", rec.User)
	assert.Equal(t, "what is 6x7", rec.Query)
	assert.Equal(t, map[string]any{"lang": "en"}, rec.Inputs)
	assert.Equal(t, "42", rec.Answer)
	require.NotNil(t, rec.Usage)
	assert.Equal(t, 10, rec.Usage.TotalTokens)
	require.NotNil(t, rec.Workflow)
	assert.Equal(t, "r1", rec.Workflow.WorkflowRunID)
	// The clock ticks once for Start and once for Finish.
	assert.Equal(t, time.Second, rec.Elapsed)
}

func TestAccumulator_FinishPrefersRemoteID(t *testing.T) {
	store := newRecordingStore()
	acc := newTestAccumulator(store)

	acc.Start("l1", "q", nil, "u")
	applyAll(t, acc, "l1", WorkflowStarted{Conversation: "c1"})

	_, err := acc.Finish(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, "c1", store.calls()[0].ConversationID)
}

func TestAccumulator_EventsDuringFinishAreRejected(t *testing.T) {
	store := newRecordingStore()
	store.block = make(chan struct{})
	acc := newTestAccumulator(store)
	acc.Start("l1", "q", nil, "u")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = acc.Finish(context.Background(), "l1")
	}()

	require.Eventually(t, func() bool {
		return errors.Is(acc.Apply("l1", NodeStarted{Title: "late"}), ErrConversationFinishing)
	}, time.Second, time.Millisecond)

	_, err := acc.Finish(context.Background(), "l1")
	assert.ErrorIs(t, err, ErrConversationFinishing)

	close(store.block)
	<-done

	assert.Len(t, store.calls(), 1)
	_, found := acc.Get("l1")
	assert.False(t, found)
}

func TestAccumulator_Clear(t *testing.T) {
	store := newRecordingStore()
	acc := newTestAccumulator(store)

	acc.Start("l1", "q", nil, "u")
	acc.Start("l2", "q", nil, "u")
	acc.Start("l3", "q", nil, "u")
	assert.Equal(t, []string{"l1", "l2", "l3"}, acc.Active())

	acc.Clear("l2")
	assert.Equal(t, []string{"l1", "l3"}, acc.Active())
	assert.ErrorIs(t, acc.Apply("l2", Message{Answer: "x"}), ErrUnknownConversation)

	acc.Clear("never-started")

	acc.ClearAll()
	assert.Empty(t, acc.Active())
	assert.Empty(t, store.calls(), "clearing never persists")
}

func TestAccumulator_ConcurrentConversations(t *testing.T) {
	store := newRecordingStore()
	acc := newTestAccumulator(store)

	const conversations = 20
	const fragments = 50

	var wg sync.WaitGroup
	for i := range conversations {
		id := fmt.Sprintf("l%d", i)
		acc.Start(id, "q", nil, "u")
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range fragments {
				assert.NoError(t, acc.Apply(id, Message{Answer: "x"}))
				acc.Get(id)
			}
		}()
	}
	wg.Wait()

	for i := range conversations {
		state, ok := acc.Get(fmt.Sprintf("l%d", i))
		require.True(t, ok)
		assert.Equal(t, strings.Repeat("x", fragments), state.AnswerText)
	}
}

func TestAccumulator_FlushAll(t *testing.T) {
	store := newRecordingStore()
	acc := newTestAccumulator(store)

	for i := range 5 {
		acc.Start(fmt.Sprintf("l%d", i), "q", nil, "u")
	}

	n, err := acc.FlushAll(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, store.calls(), 5)
	assert.Empty(t, acc.Active())
}

func TestAccumulator_FlushAllReportsFirstError(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	store := RecordStoreFunc(func(_ context.Context, rec *Record) (*StoreResult, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if rec.LocalID == "bad" {
			return nil, &StoreError{Store: "test", StatusCode: 400, Message: "rejected", Err: ErrStoreRejected}
		}
		return &StoreResult{Accepted: true}, nil
	})
	acc := newTestAccumulator(store)
	acc.Start("bad", "q", nil, "u")
	acc.Start("good1", "q", nil, "u")
	acc.Start("good2", "q", nil, "u")

	n, err := acc.FlushAll(context.Background(), 0)
	assert.ErrorIs(t, err, ErrStoreRejected)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, calls)
	assert.Empty(t, acc.Active())
}

func TestScenario_FullStream(t *testing.T) {
	store := newRecordingStore()
	acc := newTestAccumulator(store)
	var progress Progress

	acc.Start("l1", "what is the answer", nil, "guest")

	src := strings.NewReader(sse(scenarioPayloads...))
	err := Consume(context.Background(), src, func(ev StreamEvent) error {
		progress.Apply(ev)
		return acc.Apply("l1", ev)
	}, nil, acc.logger)
	require.NoError(t, err)

	state, ok := acc.Get("l1")
	require.True(t, ok)
	assert.Equal(t, "c1", state.RemoteID)
	assert.Equal(t, "42", state.AnswerText)
	require.NotNil(t, state.Summary)
	require.NotNil(t, state.Usage)
	assert.Equal(t, 10, state.Usage.TotalTokens)

	status := progress.Status()
	assert.False(t, status.Running)
	assert.Nil(t, status.Current)
	require.Len(t, status.Completed, 1)
	assert.Equal(t, "Analyze", status.Completed[0].Title)

	ok, err = acc.Finish(context.Background(), "l1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c1", store.calls()[0].ConversationID)

	_, found := acc.Get("l1")
	assert.False(t, found)
}
