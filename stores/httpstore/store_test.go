package httpstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haowjy/meridian-aisearch-go"
)

func testRecord() *aisearch.Record {
	return &aisearch.Record{
		ConversationID: "conv-1",
		LocalID:        "local-1",
		User:           "guest",
		Query:          "q",
		Answer:         "a",
		Elapsed:        250 * time.Millisecond,
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, aisearch.ErrInvalidRequest)
}

func TestStore_Accepted(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api"+RecordsPath, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"success":true,"id":"rec-9"}`)
	}))
	defer srv.Close()

	s, err := New(srv.URL+"/api/", WithToken("secret"))
	require.NoError(t, err)

	res, err := s.Store(context.Background(), testRecord())
	require.NoError(t, err)
	assert.Equal(t, &aisearch.StoreResult{Accepted: true, ID: "rec-9"}, res)

	assert.Equal(t, "conv-1", got["conversation_id"])
	assert.Equal(t, float64(250), got["elapsed_ms"])
}

func TestStore_NotAccepted(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"success false", `{"success":false}`},
		{"no success field", `{"id":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			s, err := New(srv.URL)
			require.NoError(t, err)

			res, err := s.Store(context.Background(), testRecord())
			require.NoError(t, err)
			assert.False(t, res.Accepted)
		})
	}
}

func TestStore_ErrorStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		retryable bool
		message   string
	}{
		{"bad request", http.StatusBadRequest, `{"error":"answer required"}`, aisearch.ErrStoreRejected, false, "answer required"},
		{"unauthorized", http.StatusUnauthorized, `{"message":"bad token"}`, aisearch.ErrStoreRejected, false, "bad token"},
		{"rate limited", http.StatusTooManyRequests, "", aisearch.ErrStoreUnavailable, true, "Too Many Requests"},
		{"unavailable", http.StatusServiceUnavailable, "maintenance", aisearch.ErrStoreUnavailable, true, "maintenance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			s, err := New(srv.URL)
			require.NoError(t, err)

			res, err := s.Store(context.Background(), testRecord())
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)

			var storeErr *aisearch.StoreError
			require.ErrorAs(t, err, &storeErr)
			assert.Equal(t, tt.status, storeErr.StatusCode)
			assert.Equal(t, tt.message, storeErr.Message)
			assert.Equal(t, tt.retryable, aisearch.IsRetryable(err))
		})
	}
}

func TestStore_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s, err := New(url)
	require.NoError(t, err)

	_, err = s.Store(context.Background(), testRecord())
	assert.ErrorIs(t, err, aisearch.ErrStoreUnavailable)
	assert.True(t, aisearch.IsRetryable(err))
}

func TestStore_SingleAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := New(srv.URL)
	require.NoError(t, err)

	_, err = s.Store(context.Background(), testRecord())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStore_RateLimitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true}`)
	}))
	defer srv.Close()

	s, err := New(srv.URL, WithRateLimit(0.001, 1))
	require.NoError(t, err)

	_, err = s.Store(context.Background(), testRecord())
	require.NoError(t, err)

	// The single burst token is spent; the next wait exceeds the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Store(ctx, testRecord())
	assert.Error(t, err)
}
