package httpx

import (
	"encoding/json"
	"net/http"

	errx "github.com/ragops-session/server/internal/core/error"
	logx "github.com/ragops-session/server/pkg/logger"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondJSON writes payload as JSON with the given status.
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logx.Error().Err(err).Msg("failed to encode response")
	}
}

// RespondError writes an ErrorBody with the given status.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorBody{Code: code, Message: message})
}

// RespondAppError maps err onto its AppError status and envelope. Internal
// detail of server errors is logged, never written.
func RespondAppError(w http.ResponseWriter, err error) {
	app := errx.From(err)
	if app.Status >= http.StatusInternalServerError {
		logx.Error().Err(err).Str("code", string(app.Code)).Msg("request failed")
	}
	RespondError(w, app.Status, string(app.Code), app.Message)
}
