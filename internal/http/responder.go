package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/lab-scheduler/internal/admission"
	"github.com/example/lab-scheduler/internal/logging"
)

var (
	errMissingUser       = errors.New("X-User-ID ヘッダーまたは user パラメータでユーザーを指定してください。")
	errInvalidLabID      = errors.New("無効な実験室 ID です。")
	errInvalidSessionID  = errors.New("無効なセッション ID です。")
	errStreamUnsupported = errors.New("この接続ではイベントストリームを利用できません。")
	errNotWebSocket      = errors.New("WebSocket ハンドシェイクが必要です。")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	r.writeCodedError(ctx, w, status, "", err)
}

func (r responder) writeCodedError(ctx context.Context, w http.ResponseWriter, status int, code string, err error) {
	message := localizedStatusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: code, Message: message})
}

// serviceFailure is how one admission error kind is reported to clients.
type serviceFailure struct {
	status  int
	message string
}

var serviceFailures = map[string]serviceFailure{
	"already_queued":           {http.StatusConflict, "既にこの実験室の待機列に並んでいます。"},
	"not_queued":               {http.StatusNotFound, "この実験室の待機列に並んでいません。"},
	"empty_queue":              {http.StatusNotFound, "待機列は空です。"},
	"laboratory_not_found":     {http.StatusNotFound, "指定された実験室が見つかりません。"},
	"session_not_found":        {http.StatusNotFound, "指定されたセッションが見つかりません。"},
	"invalid_state_transition": {http.StatusConflict, "セッションは既に終了しています。"},
	"invalid_request":          {http.StatusBadRequest, "リクエスト内容が正しくありません。"},
	"hardware_unavailable":     {http.StatusServiceUnavailable, "利用可能な機材がありません。"},
	"persistence_conflict":     {http.StatusServiceUnavailable, "混み合っています。しばらくしてから再度お試しください。"},
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	kind := admission.ErrorKind(err)
	failure, ok := serviceFailures[kind]
	if !ok {
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{
			ErrorCode: "INTERNAL_ERROR",
			Message:   "サーバー内部でエラーが発生しました。",
		})
		return
	}
	r.writeJSON(ctx, w, failure.status, errorResponse{
		ErrorCode: strings.ToUpper(kind),
		Message:   failure.message,
	})
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	return logging.OrDefault(ctx, r.logger)
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusUnauthorized:
		return "認証が必要です。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	case http.StatusServiceUnavailable:
		return "サービスを一時的に利用できません。"
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

type errorResponse struct {
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message"`
}
