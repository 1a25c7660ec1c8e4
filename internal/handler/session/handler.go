package session

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ragops-session/server/internal/session/conversations"
	"github.com/ragops-session/server/pkg/httpx"
)

// Handler exposes conversation management over HTTP.
type Handler struct {
	svc *conversations.Service
}

func New(svc *conversations.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}/history", h.history)
	r.Post("/{id}/messages", h.appendMessage)
	r.Delete("/{id}", h.delete)
}

type createRequest struct {
	OwnerID  string `json:"ownerId"`
	Metadata string `json:"metadata"`
}

type appendRequest struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Metadata string `json:"metadata"`
}

type deleteResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req, true); err != nil {
		httpx.RespondAppError(w, err)
		return
	}

	summary, err := h.svc.Create(r.Context(), req.OwnerID, req.Metadata)
	if err != nil {
		httpx.RespondAppError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, summary)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.svc.List(r.Context(), r.URL.Query().Get("ownerId"))
	if err != nil {
		httpx.RespondAppError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, summaries)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	history, err := h.svc.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondAppError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, history)
}

func (h *Handler) appendMessage(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		httpx.RespondAppError(w, err)
		return
	}

	msg, err := h.svc.Append(r.Context(), chi.URLParam(r, "id"), req.Role, req.Content, req.Metadata)
	if err != nil {
		httpx.RespondAppError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondAppError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, deleteResponse{Success: true})
}
