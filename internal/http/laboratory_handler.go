package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/lab-scheduler/internal/admission"
	"github.com/example/lab-scheduler/internal/notify"
	"github.com/example/lab-scheduler/internal/session"
)

type admissionService interface {
	Laboratories(ctx context.Context) ([]admission.LaboratoryStatus, error)
	Subscribe(ctx context.Context, labID, userID string, ch notify.Channel) (admission.Outcome, error)
	Cancel(ctx context.Context, labID, userID string) error
	Position(ctx context.Context, labID, userID string) (int, error)
	QueueSize(ctx context.Context, labID string) (int, error)
}

// StreamConfig tunes the notification channels opened by subscriptions.
type StreamConfig struct {
	Buffer         int
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type LaboratoryHandler struct {
	service   admissionService
	responder responder
	logger    *slog.Logger
	streams   StreamConfig
	upgrader  *websocket.Upgrader
}

func NewLaboratoryHandler(service admissionService, streams StreamConfig, logger *slog.Logger) *LaboratoryHandler {
	base := defaultLogger(logger)
	return &LaboratoryHandler{
		service:   service,
		responder: newResponder(base),
		logger:    base,
		streams:   streams,
		upgrader:  notify.NewUpgrader(streams.AllowedOrigins),
	}
}

func (h *LaboratoryHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "LaboratoryHandler", operation, attrs...)
}

func (h *LaboratoryHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	logger := h.log(r.Context(), "List")
	statuses, err := h.service.Laboratories(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "laboratory list failed", "error", err, "error_kind", admission.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(statuses)).DebugContext(r.Context(), "laboratories listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listLaboratoriesResponse{Laboratories: toLaboratoryDTOs(statuses)})
}

// Subscribe joins the laboratory over Server-Sent Events.
func (h *LaboratoryHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	labID, userID, ok := h.identify(w, r, "Subscribe")
	if !ok {
		return
	}
	logger := h.log(r.Context(), "Subscribe", "laboratory_id", labID, "user_id", userID, "transport", "sse")

	sink, err := notify.NewSSESink(w)
	if err != nil {
		logger.ErrorContext(r.Context(), "response writer cannot stream", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusInternalServerError, errStreamUnsupported)
		return
	}
	h.serve(w, r, notify.NewStream(sink, h.streamOptions(logger)), labID, userID, logger)
}

// SubscribeWebSocket joins the laboratory over a WebSocket. The upgrade only
// happens once the subscription was accepted.
func (h *LaboratoryHandler) SubscribeWebSocket(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	labID, userID, ok := h.identify(w, r, "SubscribeWebSocket")
	if !ok {
		return
	}
	logger := h.log(r.Context(), "SubscribeWebSocket", "laboratory_id", labID, "user_id", userID, "transport", "websocket")

	if !websocket.IsWebSocketUpgrade(r) {
		h.responder.writeCodedError(r.Context(), w, http.StatusBadRequest, "WEBSOCKET_REQUIRED", errNotWebSocket)
		return
	}
	sink := notify.UpgradeOnOpen(h.upgrader, w, r)
	h.serve(w, r, notify.NewStream(sink, h.streamOptions(logger)), labID, userID, logger)
}

// serve subscribes and then pumps the stream until it ends. Rejections are
// answered with a plain JSON error because nothing was streamed yet.
func (h *LaboratoryHandler) serve(w http.ResponseWriter, r *http.Request, stream *notify.Stream, labID, userID string, logger *slog.Logger) {
	ctx := r.Context()

	outcome, err := h.service.Subscribe(ctx, labID, userID, stream)
	switch {
	case err == nil && outcome.Queued():
		logger.InfoContext(ctx, "subscriber queued", "channel_id", stream.ID(), "position", outcome.Position)
	case err == nil:
		logger.InfoContext(ctx, "subscriber admitted", "channel_id", stream.ID(), "session_id", outcome.Admitted.ID)
	case errors.Is(err, session.ErrInvalidStateTransition):
		// The failure was pushed as an Error event; deliver it.
		logger.ErrorContext(ctx, "subscription failed mid-admission", "error", err, "error_kind", admission.ErrorKind(err))
	default:
		logger.WarnContext(ctx, "subscription rejected", "error", err, "error_kind", admission.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	if err := stream.Serve(ctx); err != nil {
		logger.DebugContext(ctx, "stream ended", "channel_id", stream.ID(), "error", err)
		return
	}
	logger.DebugContext(ctx, "stream completed", "channel_id", stream.ID())
}

func (h *LaboratoryHandler) Position(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	labID, userID, ok := h.identify(w, r, "Position")
	if !ok {
		return
	}
	logger := h.log(r.Context(), "Position", "laboratory_id", labID, "user_id", userID)

	position, err := h.service.Position(r.Context(), labID, userID)
	if err != nil {
		logger.DebugContext(r.Context(), "position lookup failed", "error", err, "error_kind", admission.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	size, err := h.service.QueueSize(r.Context(), labID)
	if err != nil {
		logger.ErrorContext(r.Context(), "queue size lookup failed", "error", err, "error_kind", admission.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	// Both reads are unlocked; never report a rank past the end.
	if size < position {
		size = position
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, positionResponse{
		LaboratoryID: labID,
		Position:     position,
		Size:         size,
	})
}

// Cancel withdraws the caller from the queue. It succeeds even when the caller
// was not queued.
func (h *LaboratoryHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	labID, userID, ok := h.identify(w, r, "Cancel")
	if !ok {
		return
	}
	logger := h.log(r.Context(), "Cancel", "laboratory_id", labID, "user_id", userID)

	if err := h.service.Cancel(r.Context(), labID, userID); err != nil {
		logger.ErrorContext(r.Context(), "cancellation failed", "error", err, "error_kind", admission.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "queue entry withdrawn")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *LaboratoryHandler) identify(w http.ResponseWriter, r *http.Request, operation string) (labID, userID string, ok bool) {
	labID, found := LaboratoryIDFromContext(r.Context())
	if !found || strings.TrimSpace(labID) == "" {
		h.log(r.Context(), operation, "error_kind", "bad_request").WarnContext(r.Context(), "missing laboratory id")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidLabID)
		return "", "", false
	}
	userID, found = UserIDFromContext(r.Context())
	if !found {
		h.log(r.Context(), operation, "error_kind", "unauthorized").WarnContext(r.Context(), "missing caller identity")
		h.responder.writeCodedError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", errMissingUser)
		return "", "", false
	}
	return labID, userID, true
}

func (h *LaboratoryHandler) streamOptions(logger *slog.Logger) notify.StreamOptions {
	return notify.StreamOptions{
		Buffer:      h.streams.Buffer,
		IdleTimeout: h.streams.IdleTimeout,
		Logger:      logger,
	}
}

type laboratoryDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	Capacity        int    `json:"capacity"`
	DurationSeconds int64  `json:"duration_seconds"`
	Occupancy       int    `json:"occupancy"`
	Queued          int    `json:"queued"`
}

type listLaboratoriesResponse struct {
	Laboratories []laboratoryDTO `json:"laboratories"`
}

type positionResponse struct {
	LaboratoryID string `json:"laboratory_id"`
	Position     int    `json:"position"`
	Size         int    `json:"size"`
}

func toLaboratoryDTOs(statuses []admission.LaboratoryStatus) []laboratoryDTO {
	dtos := make([]laboratoryDTO, 0, len(statuses))
	for _, status := range statuses {
		dtos = append(dtos, laboratoryDTO{
			ID:              status.ID,
			Name:            status.Name,
			Capacity:        status.Capacity,
			DurationSeconds: int64(status.Duration / time.Second),
			Occupancy:       status.Occupancy,
			Queued:          status.Queued,
		})
	}
	return dtos
}
