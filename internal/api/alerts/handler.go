// Package alerts serves alert history and the acknowledge/resolve lifecycle.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/pondwatch/internal/api/httpx"
	"github.com/good-yellow-bee/pondwatch/internal/models"
	"github.com/good-yellow-bee/pondwatch/internal/storage"
)

const (
	defaultWindow = 7 * 24 * time.Hour
	defaultActor  = "api"
	maxActorLen   = 64
	maxBodyBytes  = 4096
)

// Handler handles alert endpoints.
type Handler struct {
	alerts  storage.AlertRepository
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewHandler creates an alert handler. timeout bounds each storage call.
func NewHandler(repo storage.AlertRepository, timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{alerts: repo, timeout: timeout, logger: logger, now: time.Now}
}

// ActionRequest is the optional body of acknowledge and resolve.
type ActionRequest struct {
	By string `json:"by"`
}

// ListByPond returns a pond's alerts. With active=true it returns the
// unresolved ones regardless of age; otherwise those created since "since".
func (h *Handler) ListByPond(w http.ResponseWriter, r *http.Request) {
	pondID, perr := httpx.PondID(r)
	if perr != nil {
		httpx.JSONError(w, perr)
		return
	}
	active, perr := httpx.Bool(r, "active")
	if perr != nil {
		httpx.JSONError(w, perr)
		return
	}
	since, perr := httpx.Since(r, h.now(), defaultWindow)
	if perr != nil {
		httpx.JSONError(w, perr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var list []*models.Alert
	var err error
	if active {
		list, err = h.alerts.ListActive(ctx, pondID)
	} else {
		list, err = h.alerts.ListSince(ctx, pondID, since)
	}
	if err != nil {
		h.logger.Error("list alerts", zap.String("pond_id", pondID), zap.Error(err))
		httpx.JSONError(w, httpx.ErrInternalServer)
		return
	}
	writeList(w, list)
}

// ListActive returns unresolved alerts across every pond.
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	list, err := h.alerts.ListActive(ctx, "")
	if err != nil {
		h.logger.Error("list active alerts", zap.Error(err))
		httpx.JSONError(w, httpx.ErrInternalServer)
		return
	}
	writeList(w, list)
}

// Get returns one alert.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, perr := httpx.AlertID(r)
	if perr != nil {
		httpx.JSONError(w, perr)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	h.writeAlert(ctx, w, id)
}

// Acknowledge marks an alert as seen by an operator.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "acknowledge", h.alerts.Acknowledge)
}

// Resolve closes an alert.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "resolve", h.alerts.Resolve)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, action string,
	apply func(ctx context.Context, id, by string, at time.Time) error) {
	id, perr := httpx.AlertID(r)
	if perr != nil {
		httpx.JSONError(w, perr)
		return
	}
	by, perr := decodeActor(r)
	if perr != nil {
		httpx.JSONError(w, perr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := apply(ctx, id, by, h.now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.JSONError(w, httpx.NewNotFound("alert not found"))
			return
		}
		h.logger.Error(action+" alert", zap.String("alert_id", id), zap.Error(err))
		httpx.JSONError(w, httpx.ErrInternalServer)
		return
	}
	h.logger.Info("alert "+action+"d", zap.String("alert_id", id), zap.String("by", by))
	h.writeAlert(ctx, w, id)
}

func (h *Handler) writeAlert(ctx context.Context, w http.ResponseWriter, id string) {
	alert, err := h.alerts.Get(ctx, id)
	if err != nil {
		h.logger.Error("get alert", zap.String("alert_id", id), zap.Error(err))
		httpx.JSONError(w, httpx.ErrInternalServer)
		return
	}
	if alert == nil {
		httpx.JSONError(w, httpx.NewNotFound("alert not found"))
		return
	}
	httpx.OK(w, alert)
}

// decodeActor reads the optional {"by": "..."} body.
func decodeActor(r *http.Request) (string, *httpx.Error) {
	var req ActionRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", httpx.NewBadRequest("invalid request body")
	}
	by := strings.TrimSpace(req.By)
	if by == "" {
		return defaultActor, nil
	}
	if len(by) > maxActorLen {
		return "", httpx.NewValidationError("by must be at most 64 characters")
	}
	return by, nil
}

func writeList(w http.ResponseWriter, list []*models.Alert) {
	if list == nil {
		list = []*models.Alert{}
	}
	httpx.List(w, list, len(list))
}
