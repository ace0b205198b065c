package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/example/lab-scheduler/internal/logging"
)

// UserHeader carries the caller's identity, established by whatever sits in
// front of the scheduler.
const UserHeader = "X-User-ID"

// RequireUser resolves the caller's user id from UserHeader, or from the
// "user" query parameter for clients such as EventSource that cannot set
// headers. Requests without one are rejected with 401.
func RequireUser(logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(UserHeader))
			if userID == "" {
				userID = strings.TrimSpace(r.URL.Query().Get("user"))
			}
			if userID == "" {
				responder.writeCodedError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", errMissingUser)
				return
			}

			ctx := ContextWithUserID(r.Context(), userID)
			if logger := logging.FromContext(ctx); logger != nil {
				ctx = logging.ContextWithLogger(ctx, logger.With("user_id", userID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger attaches a per-request logger to the context. The response
// writer is passed through untouched so streaming handlers keep Flush and Hijack.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With(
				"request_id", xid.New().String(),
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := logging.ContextWithLogger(r.Context(), logger)
			start := time.Now()
			logger.DebugContext(ctx, "request started")
			next.ServeHTTP(w, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed", "duration", time.Since(start))
		})
	}
}
