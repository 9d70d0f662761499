package aisearch

import (
	"context"
	"encoding/json"
	"time"
)

// Record is the summarized conversation sent to a RecordStore when a
// conversation finishes.
type Record struct {
	// ConversationID is the canonical id: remote id when known, local id otherwise.
	// Stores treat repeated submissions with the same id as idempotent.
	ConversationID string `json:"conversation_id"`

	LocalID string         `json:"local_id"`
	User    string         `json:"user"`
	Query   string         `json:"query"`
	Inputs  map[string]any `json:"inputs,omitempty"`
	Answer  string         `json:"answer"`

	Usage    *Usage           `json:"usage,omitempty"`
	Workflow *WorkflowSummary `json:"workflow,omitempty"`

	// Elapsed is the time from Start to Finish. Serialized as milliseconds.
	Elapsed time.Duration `json:"-"`
}

type recordJSON Record

// MarshalJSON writes Elapsed as elapsed_ms.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		recordJSON
		ElapsedMs int64 `json:"elapsed_ms"`
	}{recordJSON(r), r.Elapsed.Milliseconds()})
}

// UnmarshalJSON reads elapsed_ms back into Elapsed.
func (r *Record) UnmarshalJSON(data []byte) error {
	var aux struct {
		recordJSON
		ElapsedMs int64 `json:"elapsed_ms"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Record(aux.recordJSON)
	r.Elapsed = time.Duration(aux.ElapsedMs) * time.Millisecond
	return nil
}

// StoreResult is a store's acknowledgment of a Record.
type StoreResult struct {
	// Accepted reports whether the store took the record
	Accepted bool `json:"success"`

	// ID is the store-assigned identifier, when the store returns one
	ID string `json:"id,omitempty"`
}

// RecordStore persists finished conversations.
//
// Implementations make one attempt per call and do not retry. A non-success
// response is reported as a *StoreError carrying the status code.
type RecordStore interface {
	Store(ctx context.Context, rec *Record) (*StoreResult, error)
}

// RecordStoreFunc adapts a function to RecordStore.
type RecordStoreFunc func(ctx context.Context, rec *Record) (*StoreResult, error)

// Store calls f.
func (f RecordStoreFunc) Store(ctx context.Context, rec *Record) (*StoreResult, error) {
	return f(ctx, rec)
}
