// Package httpstore sends finished conversation records to a remote
// record intake endpoint over HTTP.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/haowjy/meridian-aisearch-go"
)

// RecordsPath is appended to the base URL.
const RecordsPath = "/conversations/records"

const storeName = "http"

// Store implements aisearch.RecordStore with one POST per record.
type Store struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Store.
type Option func(*Store)

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(s *Store) {
		s.token = token
	}
}

// WithTimeout bounds each request (default 30s).
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Store) {
		s.httpClient = hc
	}
}

// WithRateLimit caps requests per second, with the given burst.
// Store blocks for a token, bounded by the request context.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Store) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// New creates a Store posting to baseURL + RecordsPath.
func New(baseURL string, opts ...Option) (*Store, error) {
	if baseURL == "" {
		return nil, &aisearch.ValidationError{Field: "base_url", Value: baseURL, Reason: "must not be empty"}
	}

	s := &Store{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store posts rec once. A non-2xx status returns *aisearch.StoreError; a
// 2xx body without "success": true returns an unaccepted result.
func (s *Store) Store(ctx context.Context, rec *aisearch.Record) (*aisearch.StoreResult, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit %s: %w", storeName, err)
		}
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+RecordsPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, &aisearch.StoreError{
			Store:     storeName,
			Message:   err.Error(),
			Retryable: true,
			Err:       fmt.Errorf("%w: %w", aisearch.ErrStoreUnavailable, err),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", aisearch.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, handleErrorResponse(resp.StatusCode, respBody)
	}

	var result aisearch.StoreResult
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return &result, nil
}

// handleErrorResponse maps a non-2xx response to *aisearch.StoreError.
func handleErrorResponse(status int, body []byte) error {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errResp); err == nil {
		switch {
		case errResp.Error != "":
			message = errResp.Error
		case errResp.Message != "":
			message = errResp.Message
		}
	}
	if message == "" {
		message = http.StatusText(status)
	}

	storeErr := &aisearch.StoreError{
		Store:      storeName,
		StatusCode: status,
		Message:    message,
		Err:        aisearch.ErrStoreRejected,
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		storeErr.Retryable = true
		storeErr.Err = aisearch.ErrStoreUnavailable
	}
	return storeErr
}
