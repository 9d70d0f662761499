package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/haowjy/meridian-aisearch-go"
)

// StoreRecord accepts a finished conversation record. Storing the same
// conversation id twice succeeds and returns the first record id.
func (h *Handler) StoreRecord(c echo.Context) error {
	var rec aisearch.Record
	if err := c.Bind(&rec); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if rec.ConversationID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "conversation_id is required"})
	}

	res, err := h.records.Store(c.Request().Context(), &rec)
	if err != nil {
		var validationErr *aisearch.ValidationError
		if errors.As(err, &validationErr) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": validationErr.Error()})
		}
		h.logger.Error().Err(err).Str("conversation_id", rec.ConversationID).Msg("failed to store record")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "record store unavailable"})
	}

	return c.JSON(http.StatusOK, res)
}

// GetRecord returns a stored record.
func (h *Handler) GetRecord(c echo.Context) error {
	rec, err := h.records.Get(c.Request().Context(), c.Param("conversation_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if rec == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "record not found"})
	}
	return c.JSON(http.StatusOK, rec)
}
