package aisearch

import (
	"context"
	"io"
)

// Upstream opens event streams for queries. The returned body is a raw SSE
// byte stream for a Reader; closing it releases the connection.
//
// Implementations live in upstreams/<name>.
type Upstream interface {
	// Open submits q and returns the streaming response body.
	// Non-success responses are reported as *UpstreamError.
	Open(ctx context.Context, q *Query) (io.ReadCloser, error)

	// Name returns the upstream identifier
	Name() UpstreamID
}

// UpstreamID represents a unique upstream identifier.
type UpstreamID string

// Known upstream identifiers
const (
	// UpstreamWorkflowAPI is the hosted workflow chat API
	UpstreamWorkflowAPI UpstreamID = "workflowapi"

	// UpstreamLorem is the mock upstream for testing and demos
	UpstreamLorem UpstreamID = "lorem"
)

// String returns the string representation of the upstream ID
func (u UpstreamID) String() string {
	return string(u)
}

// IsValid returns true if the upstream ID is a known upstream
func (u UpstreamID) IsValid() bool {
	switch u {
	case UpstreamWorkflowAPI, UpstreamLorem:
		return true
	default:
		return false
	}
}
