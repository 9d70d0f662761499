package aisearch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultFinishTimeout bounds the store call made when a stream ends.
const DefaultFinishTimeout = 10 * time.Second

// errAbandoned stops ingestion once the conversation has been cleared.
var errAbandoned = errors.New("conversation abandoned")

// Outcome describes how a session ended.
type Outcome struct {
	LocalID        string         `json:"local_id"`
	ConversationID string         `json:"conversation_id"`
	Answer         string         `json:"answer"`
	Status         WorkflowStatus `json:"status"`
	Stats          ReaderStats    `json:"stats"`

	// Accepted reports whether the record store took the record
	Accepted bool `json:"accepted"`

	// Abandoned reports that the conversation was cleared mid-stream and not persisted
	Abandoned bool `json:"abandoned"`
}

// EventObserver sees every event after it has been applied to the session.
type EventObserver func(s *Session, ev StreamEvent)

// Pipeline wires upstream streams into an Accumulator, one Session per query.
type Pipeline struct {
	acc           *Accumulator
	logger        zerolog.Logger
	newID         func() string
	finishTimeout time.Duration
	observers     []EventObserver
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger.
func WithPipelineLogger(logger zerolog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithIDGenerator replaces the local id generator (uuid by default).
func WithIDGenerator(fn func() string) PipelineOption {
	return func(p *Pipeline) {
		p.newID = fn
	}
}

// WithFinishTimeout bounds the store call made when a stream ends.
func WithFinishTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.finishTimeout = d
	}
}

// WithObserver registers fn to see every applied event.
func WithObserver(fn EventObserver) PipelineOption {
	return func(p *Pipeline) {
		p.observers = append(p.observers, fn)
	}
}

// NewPipeline creates a Pipeline over acc.
func NewPipeline(acc *Accumulator, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		acc:           acc,
		logger:        zerolog.Nop(),
		newID:         uuid.NewString,
		finishTimeout: DefaultFinishTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Accumulator returns the accumulator sessions write to.
func (p *Pipeline) Accumulator() *Accumulator {
	return p.acc
}

// Session is one query's journey from upstream stream to stored record.
type Session struct {
	pipeline *Pipeline
	id       string
	query    *Query
	progress Progress
}

// Start validates q, allocates a local id and starts its conversation.
func (p *Pipeline) Start(q *Query) (*Session, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s := &Session{pipeline: p, id: p.newID(), query: q}
	p.acc.Start(s.id, q.Query, q.Inputs, q.User)
	return s, nil
}

// Run starts a session for q and runs it to completion on up.
func (p *Pipeline) Run(ctx context.Context, up Upstream, q *Query) (*Outcome, error) {
	s, err := p.Start(q)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, up)
}

// ID returns the local conversation id.
func (s *Session) ID() string {
	return s.id
}

// Status returns the current workflow progress.
func (s *Session) Status() WorkflowStatus {
	return s.progress.Status()
}

// Conversation returns the live conversation snapshot, if it has not been
// finished or abandoned yet.
func (s *Session) Conversation() (ConversationState, bool) {
	return s.pipeline.acc.Get(s.id)
}

// Abandon clears the conversation. A running Run stops without persisting.
func (s *Session) Abandon() {
	s.pipeline.acc.Clear(s.id)
}

// Run opens the upstream stream, applies every event, and finishes the
// conversation when the stream ends.
//
// A failed Open abandons the conversation. Once events have flowed, the
// conversation is finished even when the stream fails, so the partial
// answer is persisted or dead-lettered; the stream error is returned.
// Abandonment is not an error.
func (s *Session) Run(ctx context.Context, up Upstream) (*Outcome, error) {
	p := s.pipeline
	logger := p.logger.With().Str("local_id", s.id).Str("upstream", up.Name().String()).Logger()

	body, err := up.Open(ctx, s.query)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open upstream stream")
		p.acc.Clear(s.id)
		return nil, fmt.Errorf("open %s: %w", up.Name(), err)
	}
	defer body.Close()

	var stats ReaderStats
	streamErr := Consume(ctx, body, s.handle, func(st ReaderStats, _ error) {
		stats = st
	}, logger)

	out := &Outcome{
		LocalID: s.id,
		Status:  s.progress.Status(),
		Stats:   stats,
	}

	if errors.Is(streamErr, errAbandoned) {
		logger.Info().Int("frames", stats.Frames).Msg("session abandoned")
		out.Abandoned = true
		return out, nil
	}

	state, ok := p.acc.Get(s.id)
	if !ok {
		// Cleared after the last event.
		out.Abandoned = true
		return out, nil
	}
	out.ConversationID = state.CanonicalID()
	out.Answer = state.AnswerText

	if streamErr != nil {
		logger.Error().Err(streamErr).Int("frames", stats.Frames).Msg("stream ended with error")
	}

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.finishTimeout)
	defer cancel()

	accepted, finishErr := p.acc.Finish(finishCtx, s.id)
	if errors.Is(finishErr, ErrUnknownConversation) {
		out.Abandoned = true
		return out, streamErr
	}
	out.Accepted = accepted

	logger.Info().
		Str("conversation_id", out.ConversationID).
		Int("events", stats.Events).
		Int("skipped", stats.Skipped).
		Bool("accepted", accepted).
		Msg("session finished")

	return out, errors.Join(streamErr, finishErr)
}

func (s *Session) handle(ev StreamEvent) error {
	if err := s.pipeline.acc.Apply(s.id, ev); err != nil {
		if errors.Is(err, ErrUnknownConversation) {
			return errAbandoned
		}
		return err
	}

	s.progress.Apply(ev)
	for _, fn := range s.pipeline.observers {
		fn(s, ev)
	}
	return nil
}
