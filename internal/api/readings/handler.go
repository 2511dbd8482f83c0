// Package readings serves stored sensor readings.
package readings

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/pondwatch/internal/api/httpx"
	"github.com/good-yellow-bee/pondwatch/internal/models"
	"github.com/good-yellow-bee/pondwatch/internal/storage"
)

const (
	defaultLimit  = 100
	maxLimit      = 1000
	defaultWindow = 24 * time.Hour
)

// Handler handles reading endpoints.
type Handler struct {
	readings storage.ReadingRepository
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler creates a reading handler. timeout bounds each storage call.
func NewHandler(repo storage.ReadingRepository, timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{readings: repo, timeout: timeout, logger: logger, now: time.Now}
}

// Latest returns the newest reading for a pond.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	pondID, perr := httpx.PondID(r)
	if perr != nil {
		httpx.JSONError(w, perr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	reading, err := h.readings.Latest(ctx, pondID)
	if err != nil {
		h.logger.Error("latest reading", zap.String("pond_id", pondID), zap.Error(err))
		httpx.JSONError(w, httpx.ErrInternalServer)
		return
	}
	if reading == nil {
		httpx.JSONError(w, httpx.NewNotFound("no readings for pond "+pondID))
		return
	}
	httpx.OK(w, reading)
}

// History returns a pond's readings since a point in time, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	pondID, perr := httpx.PondID(r)
	if perr != nil {
		httpx.JSONError(w, perr)
		return
	}
	since, perr := httpx.Since(r, h.now(), defaultWindow)
	if perr != nil {
		httpx.JSONError(w, perr)
		return
	}
	limit, perr := httpx.Limit(r, defaultLimit, maxLimit)
	if perr != nil {
		httpx.JSONError(w, perr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	list, err := h.readings.ListSince(ctx, pondID, since, limit)
	if err != nil {
		h.logger.Error("list readings", zap.String("pond_id", pondID), zap.Error(err))
		httpx.JSONError(w, httpx.ErrInternalServer)
		return
	}
	if list == nil {
		list = []*models.Reading{}
	}
	httpx.List(w, list, len(list))
}
