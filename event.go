package aisearch

import "time"

// EventKind identifies a stream event. Values are the wire names.
type EventKind string

// Known event kinds
const (
	KindWorkflowStarted  EventKind = "workflow_started"
	KindNodeStarted      EventKind = "node_started"
	KindNodeFinished     EventKind = "node_finished"
	KindMessage          EventKind = "message"
	KindWorkflowFinished EventKind = "workflow_finished"
	KindMessageEnd       EventKind = "message_end"
)

// String returns the wire name of the kind.
func (k EventKind) String() string {
	return string(k)
}

// IsValid returns true if the kind is one of the six known kinds.
func (k EventKind) IsValid() bool {
	switch k {
	case KindWorkflowStarted, KindNodeStarted, KindNodeFinished,
		KindMessage, KindWorkflowFinished, KindMessageEnd:
		return true
	default:
		return false
	}
}

// StreamEvent is a single decoded event from the workflow stream.
// The set of implementations is closed: WorkflowStarted, NodeStarted,
// NodeFinished, Message, WorkflowFinished and MessageEnd.
//
// Consumers dispatch with a type switch:
//
//	switch ev := event.(type) {
//	case Message:
//	    text.WriteString(ev.Answer)
//	case WorkflowFinished:
//	    ...
//	}
type StreamEvent interface {
	// Kind returns the event kind.
	Kind() EventKind

	// ConversationID returns the remote conversation id carried by the event (may be empty).
	ConversationID() string

	streamEvent()
}

// WorkflowStarted marks the start of a workflow run.
type WorkflowStarted struct {
	Conversation  string
	WorkflowRunID string
	WorkflowID    string
	CreatedAt     time.Time
}

// NodeStarted marks the start of one workflow node.
type NodeStarted struct {
	Conversation string
	NodeID       string
	NodeType     string
	Title        string
	Index        int
}

// NodeFinished marks the end of one workflow node.
type NodeFinished struct {
	Conversation string
	NodeID       string
	NodeType     string
	Title        string
	Index        int
	Status       string
}

// Message carries one answer fragment. Fragments are appended, never replaced.
type Message struct {
	Conversation string
	Answer       string
}

// WorkflowFinished marks the end of a workflow run.
type WorkflowFinished struct {
	Conversation string

	// OutputsAnswer is outputs.answer when the workflow produced one.
	// When set it replaces the accumulated answer text.
	OutputsAnswer *string

	Summary WorkflowSummary
}

// MessageEnd closes the message and carries usage, when the upstream reports it.
type MessageEnd struct {
	Conversation string
	Usage        *Usage
}

func (e WorkflowStarted) Kind() EventKind  { return KindWorkflowStarted }
func (e NodeStarted) Kind() EventKind      { return KindNodeStarted }
func (e NodeFinished) Kind() EventKind     { return KindNodeFinished }
func (e Message) Kind() EventKind          { return KindMessage }
func (e WorkflowFinished) Kind() EventKind { return KindWorkflowFinished }
func (e MessageEnd) Kind() EventKind       { return KindMessageEnd }

func (e WorkflowStarted) ConversationID() string  { return e.Conversation }
func (e NodeStarted) ConversationID() string      { return e.Conversation }
func (e NodeFinished) ConversationID() string     { return e.Conversation }
func (e Message) ConversationID() string          { return e.Conversation }
func (e WorkflowFinished) ConversationID() string { return e.Conversation }
func (e MessageEnd) ConversationID() string       { return e.Conversation }

func (WorkflowStarted) streamEvent()  {}
func (NodeStarted) streamEvent()      {}
func (NodeFinished) streamEvent()     {}
func (Message) streamEvent()          {}
func (WorkflowFinished) streamEvent() {}
func (MessageEnd) streamEvent()       {}

// Usage is token and cost accounting reported by MessageEnd.
type Usage struct {
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	TotalPrice       string        `json:"total_price,omitempty"` // Decimal text as reported
	Currency         string        `json:"currency,omitempty"`
	Latency          time.Duration `json:"latency_ns"`
}

// WorkflowSummary is the normalized form of a workflow_finished payload.
type WorkflowSummary struct {
	WorkflowRunID   string         `json:"workflow_run_id,omitempty"`
	WorkflowID      string         `json:"workflow_id,omitempty"`
	Status          string         `json:"status,omitempty"`
	Error           string         `json:"error,omitempty"`
	Outputs         map[string]any `json:"outputs,omitempty"`
	ElapsedTime     time.Duration  `json:"elapsed_ns"`
	TotalTokens     int            `json:"total_tokens"`
	TotalSteps      int            `json:"total_steps"`
	ExceptionsCount int            `json:"exceptions_count"`
	CreatedBy       map[string]any `json:"created_by,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	FinishedAt      time.Time      `json:"finished_at"`
}

// clone returns a copy that shares no maps with the receiver.
func (s *WorkflowSummary) clone() *WorkflowSummary {
	if s == nil {
		return nil
	}
	c := *s
	c.Outputs = cloneMap(s.Outputs)
	c.CreatedBy = cloneMap(s.CreatedBy)
	return &c
}

func (u *Usage) clone() *Usage {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
