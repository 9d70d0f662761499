package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/haowjy/meridian-aisearch-go"
)

// StartSearch validates the query and runs it in the background.
func (h *Handler) StartSearch(c echo.Context) error {
	var q aisearch.Query
	if err := c.Bind(&q); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	session, err := h.pipeline.Start(&q)
	if err != nil {
		var validationErr *aisearch.ValidationError
		if errors.As(err, &validationErr) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": validationErr.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	s := &search{session: session, done: make(chan struct{})}
	h.mu.Lock()
	h.pruneLocked()
	h.searches[session.ID()] = s
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer close(s.done)

		outcome, err := session.Run(h.ctx, h.upstream)

		h.mu.Lock()
		s.outcome, s.err = outcome, err
		s.finishedAt = h.now()
		h.mu.Unlock()

		if err != nil {
			h.logger.Error().Err(err).Str("local_id", session.ID()).Msg("search failed")
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"local_id": session.ID()})
}

// searchView is the JSON shape of a search.
type searchView struct {
	LocalID      string                      `json:"local_id"`
	State        string                      `json:"state"`
	Status       aisearch.WorkflowStatus     `json:"status"`
	Conversation *aisearch.ConversationState `json:"conversation,omitempty"`
	Outcome      *aisearch.Outcome           `json:"outcome,omitempty"`
	Error        string                      `json:"error,omitempty"`
}

const (
	stateRunning   = "running"
	stateFinished  = "finished"
	stateFailed    = "failed"
	stateAbandoned = "abandoned"
)

func (h *Handler) view(id string, s *search) searchView {
	v := searchView{LocalID: id, Status: s.session.Status()}

	select {
	case <-s.done:
		h.mu.RLock()
		v.Outcome, v.State = s.outcome, stateFinished
		if s.err != nil {
			v.State, v.Error = stateFailed, s.err.Error()
		} else if s.outcome != nil && s.outcome.Abandoned {
			v.State = stateAbandoned
		}
		h.mu.RUnlock()
	default:
		// The conversation leaves the accumulator before Run returns, so
		// only an explicit abandon ends the running state early.
		h.mu.RLock()
		abandoned := s.abandoned
		h.mu.RUnlock()

		v.State = stateRunning
		if abandoned {
			v.State = stateAbandoned
		} else if conv, ok := s.session.Conversation(); ok {
			v.Conversation = &conv
		}
	}
	return v
}

// pruneLocked drops searches whose retention has passed.
func (h *Handler) pruneLocked() {
	now := h.now()
	for id, s := range h.searches {
		if h.expiredLocked(s, now) {
			delete(h.searches, id)
		}
	}
}

func (h *Handler) expiredLocked(s *search, now time.Time) bool {
	return !s.finishedAt.IsZero() && !s.finishedAt.Add(h.retention).After(now)
}

func (h *Handler) lookup(id string) (*search, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.searches[id]
	if !ok || h.expiredLocked(s, h.now()) {
		return nil, false
	}
	return s, true
}

// GetSearch returns a snapshot of the search.
func (h *Handler) GetSearch(c echo.Context) error {
	id := c.Param("id")
	s, ok := h.lookup(id)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "search not found"})
	}
	return c.JSON(http.StatusOK, h.view(id, s))
}

// GetSearchStatus returns the workflow progress only.
func (h *Handler) GetSearchStatus(c echo.Context) error {
	s, ok := h.lookup(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "search not found"})
	}
	return c.JSON(http.StatusOK, s.session.Status())
}

// AbandonSearch stops ingestion without persisting.
func (h *Handler) AbandonSearch(c echo.Context) error {
	s, ok := h.lookup(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "search not found"})
	}
	h.mu.Lock()
	s.abandoned = true
	h.mu.Unlock()
	s.session.Abandon()
	return c.NoContent(http.StatusNoContent)
}

// WatchSearch streams snapshots over a WebSocket until the search ends or
// the client goes away.
func (h *Handler) WatchSearch(c echo.Context) error {
	id := c.Param("id")
	s, ok := h.lookup(id)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "search not found"})
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("local_id", id).Msg("failed to upgrade websocket")
		return nil
	}
	defer ws.Close()

	// Drain client frames so close and ping control messages are processed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.watchInterval)
	defer ticker.Stop()

	for {
		v := h.view(id, s)
		ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := ws.WriteJSON(v); err != nil {
			return nil
		}
		if v.State != stateRunning {
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, v.State),
				time.Now().Add(time.Second))
			return nil
		}

		select {
		case <-ticker.C:
		case <-s.done:
		case <-gone:
			return nil
		case <-h.ctx.Done():
			return nil
		}
	}
}
