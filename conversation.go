package aisearch

import "time"

// ConversationState is the accumulated view of one conversation.
// Values returned by the Accumulator are snapshots: mutating them has no
// effect on the live state.
type ConversationState struct {
	// LocalID is the client-generated id, stable for the conversation's lifetime
	LocalID string `json:"local_id"`

	// RemoteID is the upstream conversation id, set at most once (first write wins)
	RemoteID string `json:"remote_id,omitempty"`

	// User is the originating user or guest identifier
	User string `json:"user"`

	// Query is the original query text
	Query string `json:"query"`

	// Inputs are the opaque input parameters sent with the query
	Inputs map[string]any `json:"inputs,omitempty"`

	// StartedAt is when Start was first called for LocalID
	StartedAt time.Time `json:"started_at"`

	// AnswerText is the concatenation of Message fragments, or the
	// workflow's final answer once WorkflowFinished carried one
	AnswerText string `json:"answer"`

	// Usage is set from MessageEnd (nil until then)
	Usage *Usage `json:"usage,omitempty"`

	// Summary is set from WorkflowFinished (nil until then)
	Summary *WorkflowSummary `json:"workflow,omitempty"`

	// EventCount is the number of events applied
	EventCount int `json:"event_count"`

	// RemoteIDConflicts counts events that carried a different remote id than the one kept
	RemoteIDConflicts int `json:"remote_id_conflicts,omitempty"`
}

// CanonicalID returns the id used for persistence: the remote id when known,
// the local id otherwise.
func (s *ConversationState) CanonicalID() string {
	if s.RemoteID != "" {
		return s.RemoteID
	}
	return s.LocalID
}

// snapshot returns a deep-enough copy for handing to another goroutine.
func (s *ConversationState) snapshot() ConversationState {
	c := *s
	c.Inputs = cloneMap(s.Inputs)
	c.Usage = s.Usage.clone()
	c.Summary = s.Summary.clone()
	return c
}

// record builds the persistence record for the state as of now.
func (s *ConversationState) record(now time.Time) *Record {
	return &Record{
		ConversationID: s.CanonicalID(),
		LocalID:        s.LocalID,
		User:           s.User,
		Query:          s.Query,
		Inputs:         cloneMap(s.Inputs),
		Answer:         s.AnswerText,
		Usage:          s.Usage.clone(),
		Workflow:       s.Summary.clone(),
		Elapsed:        now.Sub(s.StartedAt),
	}
}
