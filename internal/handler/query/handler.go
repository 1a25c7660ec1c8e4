// Package query serves question/answer exchanges, synchronously as JSON or
// streamed as server-sent events.
package query

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ragops-session/server/internal/session/orchestrator"
	"github.com/ragops-session/server/pkg/httpx"
	logx "github.com/ragops-session/server/pkg/logger"
)

type Handler struct {
	orch *orchestrator.Orchestrator
}

func New(orch *orchestrator.Orchestrator) *Handler {
	return &Handler{orch: orch}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/query", h.query)
	r.Post("/query/stream", h.stream)
}

type donePayload struct {
	ConversationID string `json:"conversationId"`
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.QueryRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		httpx.RespondAppError(w, err)
		return
	}

	result, err := h.orch.Query(r.Context(), &req)
	if err != nil {
		httpx.RespondAppError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, result)
}

// stream answers with JSON errors until the exchange starts. After that every
// outcome, failures included, is an event on the stream.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.RespondError(w, http.StatusInternalServerError, "SYSTEM_ERROR", "streaming unsupported")
		return
	}

	var req orchestrator.QueryRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		httpx.RespondAppError(w, err)
		return
	}

	events, err := h.orch.Stream(r.Context(), &req)
	if err != nil {
		httpx.RespondAppError(w, err)
		return
	}
	defer events.Close()

	httpx.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		ev, err := events.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			logx.Error().Err(err).Msg("stream ended unexpectedly")
			return
		}

		switch ev.Kind {
		case orchestrator.EventMessage:
			err = httpx.SendSSEText(w, flusher, string(ev.Kind), ev.Fragment)
		case orchestrator.EventDone:
			err = httpx.SendSSEEvent(w, flusher, string(ev.Kind), donePayload{ConversationID: ev.ConversationID})
		case orchestrator.EventError:
			err = httpx.SendSSEEvent(w, flusher, string(ev.Kind), httpx.ErrorBody{Code: string(ev.Err.Code), Message: ev.Err.Message})
		}
		if err != nil {
			logx.Warn().Err(err).Str("conversationID", ev.ConversationID).Msg("failed to write stream event")
			return
		}
	}
}
