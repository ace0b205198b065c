package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/lab-scheduler/internal/admission"
	"github.com/example/lab-scheduler/internal/session"
)

type sessionService interface {
	Session(ctx context.Context, sessionID string) (session.Session, error)
	SessionsOf(ctx context.Context, ownerID string) ([]session.Session, error)
	EndSession(ctx context.Context, sessionID, ownerID string) (session.Session, error)
}

type SessionHandler struct {
	service   sessionService
	responder responder
	logger    *slog.Logger
	now       func() time.Time
}

func NewSessionHandler(service sessionService, now func() time.Time, logger *slog.Logger) *SessionHandler {
	base := defaultLogger(logger)
	if now == nil {
		now = time.Now
	}
	return &SessionHandler{service: service, responder: newResponder(base), logger: base, now: now}
}

func (h *SessionHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "SessionHandler", operation, attrs...)
}

// List returns the caller's sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		h.responder.writeCodedError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", errMissingUser)
		return
	}
	logger := h.log(r.Context(), "List", "user_id", userID)

	sessions, err := h.service.SessionsOf(r.Context(), userID)
	if err != nil {
		logger.ErrorContext(r.Context(), "session list failed", "error", err, "error_kind", admission.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	now := h.now()
	dtos := make([]sessionDTO, 0, len(sessions))
	for _, s := range sessions {
		dtos = append(dtos, toSessionDTO(s, now))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listSessionsResponse{Sessions: dtos})
}

// Get returns one of the caller's sessions. Other users' sessions are reported
// as missing.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sessionID, userID, ok := h.identify(w, r, "Get")
	if !ok {
		return
	}
	logger := h.log(r.Context(), "Get", "session_id", sessionID, "user_id", userID)

	s, err := h.service.Session(r.Context(), sessionID)
	if err == nil && s.OwnerID != userID {
		err = admission.ErrSessionNotFound
	}
	if err != nil {
		logger.DebugContext(r.Context(), "session lookup failed", "error", err, "error_kind", admission.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, sessionResponse{Session: toSessionDTO(s, h.now())})
}

// End finishes the caller's session early. Ending a completed session is a conflict.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sessionID, userID, ok := h.identify(w, r, "End")
	if !ok {
		return
	}
	logger := h.log(r.Context(), "End", "session_id", sessionID, "user_id", userID)

	ended, err := h.service.EndSession(r.Context(), sessionID, userID)
	if err != nil {
		logger.WarnContext(r.Context(), "session end rejected", "error", err, "error_kind", admission.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("laboratory_id", ended.LaboratoryID).InfoContext(r.Context(), "session ended by owner")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *SessionHandler) identify(w http.ResponseWriter, r *http.Request, operation string) (sessionID, userID string, ok bool) {
	sessionID, found := SessionIDFromContext(r.Context())
	if !found || strings.TrimSpace(sessionID) == "" {
		h.log(r.Context(), operation, "error_kind", "bad_request").WarnContext(r.Context(), "missing session id")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSessionID)
		return "", "", false
	}
	userID, found = UserIDFromContext(r.Context())
	if !found {
		h.responder.writeCodedError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", errMissingUser)
		return "", "", false
	}
	return sessionID, userID, true
}

type sessionDTO struct {
	ID               string        `json:"id"`
	LaboratoryID     string        `json:"laboratory_id"`
	HardwareID       string        `json:"hardware_id"`
	HardwareAddress  string        `json:"hardware_address,omitempty"`
	OwnerID          string        `json:"owner_id"`
	State            session.State `json:"state"`
	StartTime        string        `json:"start_time"`
	EndTime          string        `json:"end_time"`
	RemainingSeconds int64         `json:"remaining_seconds"`
}

type sessionResponse struct {
	Session sessionDTO `json:"session"`
}

type listSessionsResponse struct {
	Sessions []sessionDTO `json:"sessions"`
}

func toSessionDTO(s session.Session, now time.Time) sessionDTO {
	return sessionDTO{
		ID:               s.ID,
		LaboratoryID:     s.LaboratoryID,
		HardwareID:       s.HardwareID,
		HardwareAddress:  s.HardwareAddress,
		OwnerID:          s.OwnerID,
		State:            s.State,
		StartTime:        s.StartTime.UTC().Format(time.RFC3339Nano),
		EndTime:          s.EndTime.UTC().Format(time.RFC3339Nano),
		RemainingSeconds: int64(s.Remaining(now) / time.Second),
	}
}
