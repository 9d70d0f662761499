package aisearch

import (
	"strings"
	"unicode/utf8"
)

// MaxQueryLength bounds the query text, in runes.
const MaxQueryLength = 8000

// Query is one question submitted to an Upstream.
type Query struct {
	// Query is the question text
	Query string `json:"query"`

	// User identifies the end user or guest
	User string `json:"user"`

	// ConversationID continues an existing remote conversation (optional)
	ConversationID string `json:"conversation_id,omitempty"`

	// Inputs are opaque workflow input parameters (optional)
	Inputs map[string]any `json:"inputs,omitempty"`
}

// Validate checks the query before it is sent upstream.
func (q *Query) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return &ValidationError{Field: "query", Value: q.Query, Reason: "must not be empty"}
	}
	if n := utf8.RuneCountInString(q.Query); n > MaxQueryLength {
		return &ValidationError{Field: "query", Value: n, Reason: "too long"}
	}
	if strings.TrimSpace(q.User) == "" {
		return &ValidationError{Field: "user", Value: q.User, Reason: "must not be empty"}
	}
	return nil
}
