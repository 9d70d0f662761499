// Package workflowapi opens streaming chat-messages requests against a
// hosted workflow orchestration API.
package workflowapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haowjy/meridian-aisearch-go"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "https://api.dify.ai/v1"

// Client implements aisearch.Upstream for the chat-messages endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (no trailing slash needed).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a Client authenticating with apiKey.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, aisearch.ErrInvalidAPIKey
	}

	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		// No overall timeout: streams last as long as the workflow runs.
		// Cancellation comes from the request context.
		httpClient: &http.Client{Transport: &http.Transport{
			ResponseHeaderTimeout: 60 * time.Second,
		}},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the upstream identifier.
func (c *Client) Name() aisearch.UpstreamID {
	return aisearch.UpstreamWorkflowAPI
}

// chatRequest is the chat-messages request body.
type chatRequest struct {
	Query          string         `json:"query"`
	Inputs         map[string]any `json:"inputs"`
	ResponseMode   string         `json:"response_mode"`
	User           string         `json:"user"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

// Open posts q and returns the event stream body.
func (c *Client) Open(ctx context.Context, q *aisearch.Query) (io.ReadCloser, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	inputs := q.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	body, err := json.Marshal(chatRequest{
		Query:          q.Query,
		Inputs:         inputs,
		ResponseMode:   "streaming",
		User:           q.User,
		ConversationID: q.ConversationID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat-messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &aisearch.UpstreamError{
			Upstream:  c.Name().String(),
			Message:   err.Error(),
			Retryable: true,
			Err:       fmt.Errorf("%w: %w", aisearch.ErrUpstreamUnavailable, err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.handleErrorResponse(resp)
	}

	return resp.Body, nil
}

// handleErrorResponse maps a non-200 response to *aisearch.UpstreamError.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		message = errResp.Message
		if errResp.Code != "" {
			message = errResp.Code + ": " + message
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	upErr := &aisearch.UpstreamError{
		Upstream:   c.Name().String(),
		StatusCode: resp.StatusCode,
		Message:    message,
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		upErr.Err = aisearch.ErrInvalidAPIKey
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		upErr.Err = aisearch.ErrInvalidRequest
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		upErr.Retryable = true
		upErr.Err = aisearch.ErrUpstreamUnavailable
	default:
		upErr.Err = aisearch.ErrUpstreamUnavailable
	}

	return upErr
}
