package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/memlayer/internal/service"
)

type ContextHandler struct {
	svc *service.ContextService
}

func NewContextHandler(svc *service.ContextService) *ContextHandler {
	return &ContextHandler{svc: svc}
}

func (h *ContextHandler) Reconstruct(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var q service.ContextQuery
	if err := decodeOptionalJSON(r, &q); err != nil {
		writeServiceError(w, err)
		return
	}

	res, err := h.svc.Reconstruct(r.Context(), actor, q)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
