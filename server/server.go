// Package server exposes the search pipeline and the record intake over
// HTTP and WebSocket.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/haowjy/meridian-aisearch-go"
)

// RecordIntake accepts records from remote pipelines and serves them back.
type RecordIntake interface {
	aisearch.RecordStore
	Get(ctx context.Context, conversationID string) (*aisearch.Record, error)
}

// Handler handles HTTP requests.
type Handler struct {
	pipeline *aisearch.Pipeline
	upstream aisearch.Upstream
	records  RecordIntake
	logger   zerolog.Logger

	watchInterval time.Duration
	retention     time.Duration
	now           func() time.Time
	upgrader      websocket.Upgrader

	mu       sync.RWMutex
	searches map[string]*search

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// search tracks one background session. Fields other than session and
// done are guarded by Handler.mu.
type search struct {
	session    *aisearch.Session
	done       chan struct{}
	outcome    *aisearch.Outcome
	err        error
	abandoned  bool
	finishedAt time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithWatchInterval sets how often watch sockets receive a snapshot (default 100ms).
func WithWatchInterval(d time.Duration) Option {
	return func(h *Handler) {
		h.watchInterval = d
	}
}

// WithRetention sets how long a finished search stays readable (default 5m).
func WithRetention(d time.Duration) Option {
	return func(h *Handler) {
		h.retention = d
	}
}

// NewHandler creates a handler. records may be nil, which disables the
// record intake routes.
func NewHandler(pipeline *aisearch.Pipeline, upstream aisearch.Upstream, records RecordIntake, opts ...Option) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		pipeline:      pipeline,
		upstream:      upstream,
		records:       records,
		logger:        zerolog.Nop(),
		watchInterval: 100 * time.Millisecond,
		retention:     5 * time.Minute,
		now:           time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		searches: make(map[string]*search),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/searches", h.StartSearch)
	e.GET("/v1/searches/:id", h.GetSearch)
	e.GET("/v1/searches/:id/status", h.GetSearchStatus)
	e.GET("/v1/searches/:id/watch", h.WatchSearch)
	e.DELETE("/v1/searches/:id", h.AbandonSearch)

	if h.records != nil {
		e.POST("/v1/conversations/records", h.StoreRecord)
		e.GET("/v1/conversations/records/:conversation_id", h.GetRecord)
	}

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	h.mu.RLock()
	n := len(h.searches)
	h.mu.RUnlock()

	return c.JSON(http.StatusOK, map[string]any{
		"status":   "healthy",
		"searches": n,
		"active":   len(h.pipeline.Accumulator().Active()),
	})
}

// Close cancels running searches and waits for them to finish, or for ctx.
// Cancelled searches still persist what they received.
func (h *Handler) Close(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewServer creates the echo server with middleware and routes.
func NewServer(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(requestLogger(h.logger))

	h.RegisterRoutes(e)

	return e
}

// Instrument wraps the server for OpenTelemetry HTTP tracing and metrics.
func Instrument(e *echo.Echo) http.Handler {
	return otelhttp.NewHandler(e, "aisearch-api")
}

// requestLogger logs each request with zerolog.
func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := logger.Info()
			if v.Error != nil {
				ev = logger.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	})
}
