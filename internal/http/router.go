package http

import (
	"context"
	"log/slog"
	"net/http"
)

type RouterConfig struct {
	Laboratories *LaboratoryHandler
	Sessions     *SessionHandler
	// Metrics serves the Prometheus exposition at /metrics when set.
	Metrics http.Handler
	// Health backs /healthz; nil always reports healthy.
	Health     func(ctx context.Context) error
	Logger     *slog.Logger
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	identified := RequireUser(cfg.Logger)

	if cfg.Laboratories != nil {
		labs := cfg.Laboratories
		mux.Handle("GET /laboratories", identified(http.HandlerFunc(labs.List)))
		mux.Handle("GET /laboratories/{id}/queue", withLaboratory(identified(http.HandlerFunc(labs.Subscribe))))
		mux.Handle("DELETE /laboratories/{id}/queue", withLaboratory(identified(http.HandlerFunc(labs.Cancel))))
		mux.Handle("GET /laboratories/{id}/queue/ws", withLaboratory(identified(http.HandlerFunc(labs.SubscribeWebSocket))))
		mux.Handle("GET /laboratories/{id}/queue/position", withLaboratory(identified(http.HandlerFunc(labs.Position))))
	}

	if cfg.Sessions != nil {
		sessions := cfg.Sessions
		mux.Handle("GET /sessions", identified(http.HandlerFunc(sessions.List)))
		mux.Handle("GET /sessions/{id}", withSession(identified(http.HandlerFunc(sessions.Get))))
		mux.Handle("POST /sessions/{id}/end", withSession(identified(http.HandlerFunc(sessions.End))))
	}

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	responder := newResponder(cfg.Logger)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r.Context()); err != nil {
				responder.writeError(r.Context(), w, http.StatusServiceUnavailable, err)
				return
			}
		}
		responder.writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	})

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}

func withLaboratory(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ContextWithLaboratoryID(r.Context(), r.PathValue("id"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ContextWithSessionID(r.Context(), r.PathValue("id"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
