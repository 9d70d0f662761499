package aisearch

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
// These can be checked with errors.Is().
var (
	// ErrMalformedFrame indicates a data frame whose payload is not valid JSON.
	ErrMalformedFrame = errors.New("aisearch: malformed frame")

	// ErrUnknownEventKind indicates a well-formed frame with an event kind outside the known set.
	ErrUnknownEventKind = errors.New("aisearch: unknown event kind")

	// ErrTransport indicates the underlying byte source failed. Fatal to the stream.
	ErrTransport = errors.New("aisearch: transport failure")

	// ErrUnknownConversation indicates an operation on a local id that has no live state.
	// Usually a caller bug, or a conversation that was abandoned with Clear.
	ErrUnknownConversation = errors.New("aisearch: unknown conversation")

	// ErrConversationFinishing indicates the conversation is being persisted and takes no more events.
	ErrConversationFinishing = errors.New("aisearch: conversation is finishing")

	// ErrStoreRejected indicates the record store answered but did not accept the record.
	ErrStoreRejected = errors.New("aisearch: record rejected by store")

	// ErrStoreUnavailable indicates the record store could not be reached or failed.
	ErrStoreUnavailable = errors.New("aisearch: record store unavailable")

	// ErrUpstreamUnavailable indicates the workflow API could not be reached or failed.
	ErrUpstreamUnavailable = errors.New("aisearch: upstream unavailable")

	// ErrInvalidAPIKey indicates the API key is missing, malformed, or unauthorized.
	ErrInvalidAPIKey = errors.New("aisearch: invalid API key")

	// ErrInvalidRequest indicates the request parameters are invalid.
	ErrInvalidRequest = errors.New("aisearch: invalid request")

	// ErrDeadLetterEmpty is returned by Pop on an empty dead-letter queue.
	ErrDeadLetterEmpty = errors.New("aisearch: dead-letter queue empty")
)

// FrameError describes one frame that was skipped. It is recoverable:
// the reader that produced it can keep going.
type FrameError struct {
	Frame string // Raw frame payload (without the "data: " prefix)
	Kind  string // Event kind, when the payload was JSON but the kind was unknown
	Err   error  // ErrMalformedFrame or ErrUnknownEventKind, possibly wrapping a decode error
}

func (e *FrameError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("skipped frame (kind %q): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("skipped frame: %v", e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// StoreError represents a non-success response from a record store.
type StoreError struct {
	Store      string // Store name (e.g. "http")
	StatusCode int    // HTTP status code (if applicable)
	Message    string // Error message from the store
	Retryable  bool   // Whether a later redelivery may succeed
	Err        error  // Wrapped sentinel error (ErrStoreRejected, ErrStoreUnavailable)
}

func (e *StoreError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("store '%s' error (status %d): %s", e.Store, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("store '%s' error: %s", e.Store, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// UpstreamError represents an error from the workflow API that produces event streams.
type UpstreamError struct {
	Upstream   string // The upstream name
	StatusCode int    // HTTP status code (if applicable)
	Message    string // Error message from the upstream
	Retryable  bool   // Whether this error is potentially retryable
	Err        error  // Wrapped sentinel error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream '%s' error (status %d): %s", e.Upstream, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream '%s' error: %s", e.Upstream, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ValidationError represents an error in request parameter validation.
type ValidationError struct {
	Field  string // The parameter field that failed validation
	Value  any    // The invalid value
	Reason string // Human-readable explanation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for '%s' (value: %v): %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// IsRetryable checks if an error is potentially retryable.
// Returns true for store/upstream errors flagged retryable and for transport failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Retryable
	}

	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.Retryable
	}

	if errors.Is(err, ErrTransport) || errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrUpstreamUnavailable) {
		return true
	}

	return false
}

// IsRecoverable reports whether err describes an anomaly the pipeline
// absorbs locally (skipped frame, unknown conversation) rather than a
// terminal failure.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}

	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return true
	}

	return errors.Is(err, ErrUnknownConversation) || errors.Is(err, ErrConversationFinishing)
}

// IsAuthError checks if an error is related to authentication.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrInvalidAPIKey) {
		return true
	}

	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.StatusCode == 401 || upstreamErr.StatusCode == 403
	}

	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.StatusCode == 401 || storeErr.StatusCode == 403
	}

	return false
}
