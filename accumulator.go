package aisearch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Accumulator owns the table of live conversations and folds stream events
// into them. It is safe for concurrent use: operations on one local id are
// serialized, operations on different ids proceed independently.
type Accumulator struct {
	mu            sync.RWMutex
	conversations map[string]*conversationEntry

	store       RecordStore
	deadLetters DeadLetterSink
	now         func() time.Time
	logger      zerolog.Logger
}

type conversationEntry struct {
	mu        sync.Mutex
	state     ConversationState
	answer    strings.Builder
	finishing bool
	removed   bool
}

// AccumulatorOption configures an Accumulator.
type AccumulatorOption func(*Accumulator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) AccumulatorOption {
	return func(a *Accumulator) {
		a.logger = logger
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) AccumulatorOption {
	return func(a *Accumulator) {
		a.now = now
	}
}

// WithDeadLetters sets where records go when the store does not accept them.
// Without a sink such records are logged and dropped.
func WithDeadLetters(sink DeadLetterSink) AccumulatorOption {
	return func(a *Accumulator) {
		a.deadLetters = sink
	}
}

// NewAccumulator creates an Accumulator that persists finished conversations to store.
func NewAccumulator(store RecordStore, opts ...AccumulatorOption) *Accumulator {
	a := &Accumulator{
		conversations: make(map[string]*conversationEntry),
		store:         store,
		now:           time.Now,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start creates the conversation for localID, or returns the existing one
// unchanged if it is already live.
func (a *Accumulator) Start(localID, query string, inputs map[string]any, user string) ConversationState {
	a.mu.Lock()
	entry, exists := a.conversations[localID]
	if !exists {
		entry = &conversationEntry{
			state: ConversationState{
				LocalID:   localID,
				User:      user,
				Query:     query,
				Inputs:    cloneMap(inputs),
				StartedAt: a.now(),
			},
		}
		a.conversations[localID] = entry
	}
	a.mu.Unlock()

	if exists {
		a.logger.Debug().Str("local_id", localID).Msg("conversation already started")
	} else {
		a.logger.Info().Str("local_id", localID).Str("user", user).Msg("conversation started")
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.snapshotLocked()
}

// Apply folds one event into the conversation for localID.
//
// A nil event returns ErrUnknownEventKind. Returns ErrUnknownConversation
// if localID is not live and
// ErrConversationFinishing if Finish is in progress. Both are recoverable:
// the event is dropped and logged.
func (a *Accumulator) Apply(localID string, ev StreamEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrUnknownEventKind)
	}

	entry, ok := a.lookup(localID)
	if !ok {
		a.logger.Warn().Str("local_id", localID).Str("kind", ev.Kind().String()).Msg("event for unknown conversation")
		return ErrUnknownConversation
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.removed {
		a.logger.Warn().Str("local_id", localID).Str("kind", ev.Kind().String()).Msg("event for cleared conversation")
		return ErrUnknownConversation
	}
	if entry.finishing {
		a.logger.Warn().Str("local_id", localID).Str("kind", ev.Kind().String()).Msg("event for finishing conversation")
		return ErrConversationFinishing
	}

	state := &entry.state
	state.EventCount++
	a.adoptRemoteID(state, ev.ConversationID())

	switch e := ev.(type) {
	case Message:
		entry.answer.WriteString(e.Answer)
		state.AnswerText = entry.answer.String()

	case WorkflowFinished:
		if e.OutputsAnswer != nil {
			entry.answer.Reset()
			entry.answer.WriteString(*e.OutputsAnswer)
			state.AnswerText = entry.answer.String()
		}
		if state.Summary != nil {
			a.logger.Warn().Str("local_id", localID).Msg("workflow finished twice, keeping the first summary")
			break
		}
		summary := e.Summary
		state.Summary = summary.clone()

	case MessageEnd:
		if e.Usage == nil {
			break
		}
		if state.Usage != nil {
			a.logger.Warn().Str("local_id", localID).Msg("usage reported twice, keeping the latest")
		}
		state.Usage = e.Usage.clone()

	case WorkflowStarted:
		a.logger.Debug().Str("local_id", localID).Str("workflow_run_id", e.WorkflowRunID).Msg("workflow started")

	case NodeStarted:
		a.logger.Debug().Str("local_id", localID).Str("node", e.Title).Int("index", e.Index).Msg("node started")

	case NodeFinished:
		a.logger.Debug().Str("local_id", localID).Str("node", e.Title).Int("index", e.Index).Msg("node finished")

	default:
		return fmt.Errorf("%w: %T", ErrUnknownEventKind, ev)
	}

	return nil
}

// adoptRemoteID sets the remote id the first time one is seen.
func (a *Accumulator) adoptRemoteID(state *ConversationState, remoteID string) {
	if remoteID == "" {
		return
	}
	if state.RemoteID == "" {
		state.RemoteID = remoteID
		a.logger.Debug().Str("local_id", state.LocalID).Str("remote_id", remoteID).Msg("remote conversation id assigned")
		return
	}
	if state.RemoteID != remoteID {
		state.RemoteIDConflicts++
		a.logger.Warn().
			Str("local_id", state.LocalID).
			Str("remote_id", state.RemoteID).
			Str("ignored_remote_id", remoteID).
			Msg("conflicting remote conversation id")
	}
}

// Finish persists the conversation once and then evicts it, whether or not
// the store accepted it.
//
// Returns (true, nil) when the store accepted the record, (false, nil) when
// the store answered without accepting, and (false, err) for unknown ids,
// transport failures and *StoreError responses. Records that were not
// accepted are handed to the dead-letter sink, if one is configured.
func (a *Accumulator) Finish(ctx context.Context, localID string) (bool, error) {
	entry, ok := a.lookup(localID)
	if !ok {
		return false, ErrUnknownConversation
	}

	entry.mu.Lock()
	if entry.removed {
		entry.mu.Unlock()
		return false, ErrUnknownConversation
	}
	if entry.finishing {
		entry.mu.Unlock()
		return false, ErrConversationFinishing
	}
	entry.finishing = true
	rec := entry.state.record(a.now())
	entry.mu.Unlock()

	defer a.evict(localID, entry)

	logger := a.logger.With().Str("local_id", localID).Str("conversation_id", rec.ConversationID).Logger()

	res, err := a.store.Store(ctx, rec)
	if err != nil {
		logger.Error().Err(err).Msg("failed to store conversation record")
		a.deadLetter(ctx, rec, logger)
		return false, err
	}
	if res == nil || !res.Accepted {
		logger.Warn().Msg("conversation record not accepted")
		a.deadLetter(ctx, rec, logger)
		return false, nil
	}

	logger.Info().Str("record_id", res.ID).Dur("elapsed", rec.Elapsed).Msg("conversation stored")
	return true, nil
}

func (a *Accumulator) deadLetter(ctx context.Context, rec *Record, logger zerolog.Logger) {
	if a.deadLetters == nil {
		logger.Warn().Msg("no dead-letter sink configured, dropping record")
		return
	}
	// The caller's context may already be cancelled; the record must still land.
	if err := a.deadLetters.Push(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error().Err(err).Msg("failed to push dead letter")
		return
	}
	logger.Info().Msg("record moved to dead letters")
}

// Get returns a snapshot of the conversation for localID.
func (a *Accumulator) Get(localID string) (ConversationState, bool) {
	entry, ok := a.lookup(localID)
	if !ok {
		return ConversationState{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.removed {
		return ConversationState{}, false
	}
	return entry.snapshotLocked(), true
}

// Clear drops the conversation for localID without persisting it.
func (a *Accumulator) Clear(localID string) {
	a.mu.Lock()
	entry, ok := a.conversations[localID]
	delete(a.conversations, localID)
	a.mu.Unlock()

	if ok {
		entry.mu.Lock()
		entry.removed = true
		entry.mu.Unlock()
		a.logger.Info().Str("local_id", localID).Msg("conversation abandoned")
	}
}

// ClearAll drops every conversation without persisting any.
func (a *Accumulator) ClearAll() {
	a.mu.Lock()
	entries := a.conversations
	a.conversations = make(map[string]*conversationEntry)
	a.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		entry.removed = true
		entry.mu.Unlock()
	}
	if len(entries) > 0 {
		a.logger.Info().Int("count", len(entries)).Msg("all conversations abandoned")
	}
}

// Active returns the live local ids, sorted.
func (a *Accumulator) Active() []string {
	a.mu.RLock()
	ids := make([]string, 0, len(a.conversations))
	for id := range a.conversations {
		ids = append(ids, id)
	}
	a.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// FlushAll finishes every live conversation, at most concurrency at a time
// (concurrency <= 0 means unlimited). It returns the number of records the
// store accepted and the first error encountered. One failure does not stop
// the others. Every conversation is evicted regardless; once ctx is done the
// remaining ones are abandoned.
func (a *Accumulator) FlushAll(ctx context.Context, concurrency int) (int, error) {
	var (
		mu       sync.Mutex
		accepted int
	)

	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for _, id := range a.Active() {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				a.Clear(id)
				return err
			}
			ok, err := a.Finish(ctx, id)
			if errors.Is(err, ErrUnknownConversation) || errors.Is(err, ErrConversationFinishing) {
				return nil
			}
			if ok {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
			return err
		})
	}

	err := g.Wait()
	return accepted, err
}

func (a *Accumulator) lookup(localID string) (*conversationEntry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entry, ok := a.conversations[localID]
	return entry, ok
}

// evict removes entry if it is still the one registered under localID.
func (a *Accumulator) evict(localID string, entry *conversationEntry) {
	a.mu.Lock()
	if current, ok := a.conversations[localID]; ok && current == entry {
		delete(a.conversations, localID)
	}
	a.mu.Unlock()

	entry.mu.Lock()
	entry.removed = true
	entry.mu.Unlock()
}

func (e *conversationEntry) snapshotLocked() ConversationState {
	return e.state.snapshot()
}
