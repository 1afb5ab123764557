package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/Harshitk-cp/memlayer/internal/service"
	"github.com/go-chi/chi/v5"
)

type SessionHandler struct {
	svc *service.SessionService
}

func NewSessionHandler(svc *service.SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

type startSessionRequest struct {
	ID       string         `json:"id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type sessionListResponse struct {
	Sessions []domain.Session `json:"sessions"`
	Count    int              `json:"count"`
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req startSessionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	sess, err := h.svc.Start(r.Context(), actor, req.ID, req.Metadata)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeServiceError(w, err)
		return
	}

	list, err := h.svc.List(r.Context(), actor, r.URL.Query().Get("owner_id"), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionListResponse{Sessions: list, Count: len(list)})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	sess, err := h.svc.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	sess, err := h.svc.End(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
