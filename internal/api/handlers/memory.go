package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/Harshitk-cp/memlayer/internal/service"
)

type MemoryHandler struct {
	lifecycle *service.LifecycleService
	audit     *service.AuditService
}

func NewMemoryHandler(lifecycle *service.LifecycleService, audit *service.AuditService) *MemoryHandler {
	return &MemoryHandler{lifecycle: lifecycle, audit: audit}
}

type memoryResponse struct {
	*domain.Memory
	Strength float64 `json:"strength"`
}

func newMemoryResponse(m *domain.Memory) memoryResponse {
	return memoryResponse{Memory: m, Strength: domain.Strength(m, time.Now().UTC())}
}

type editMemoryRequest struct {
	Content    string   `json:"content"`
	Importance *float64 `json:"importance,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Version    int64    `json:"version,omitempty"`
}

type transitionRequest struct {
	Reason  string `json:"reason,omitempty"`
	Version int64  `json:"version,omitempty"`
}

type auditTrailResponse struct {
	Entries []domain.AuditLogEntry `json:"entries"`
	Count   int                    `json:"count"`
}

func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
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

	q := r.URL.Query()
	res, err := h.lifecycle.List(r.Context(), actor, service.ListQuery{
		OwnerID:   q.Get("owner_id"),
		SessionID: queryString(r, "session_id"),
		Tag:       q.Get("tag"),
		Status:    q.Get("status"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "memory")
	if !ok {
		return
	}

	m, err := h.lifecycle.Get(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMemoryResponse(m))
}

func (h *MemoryHandler) Edit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "memory")
	if !ok {
		return
	}

	var req editMemoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	version, err := versionFrom(r, req.Version)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	m, err := h.lifecycle.Edit(r.Context(),
		service.Mutation{MemoryID: id, Actor: actor, Reason: req.Reason, Version: version},
		service.EditInput{Content: req.Content, Importance: req.Importance, Tags: req.Tags},
	)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMemoryResponse(m))
}

func (h *MemoryHandler) Verify(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Verify)
}

func (h *MemoryHandler) Unverify(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Unverify)
}

func (h *MemoryHandler) Redact(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Redact)
}

func (h *MemoryHandler) Unredact(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Unredact)
}

func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Delete)
}

type transitionFunc func(ctx context.Context, mut service.Mutation) (*domain.Memory, error)

func (h *MemoryHandler) transition(w http.ResponseWriter, r *http.Request, op transitionFunc) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "memory")
	if !ok {
		return
	}

	var req transitionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	if req.Reason == "" {
		req.Reason = r.URL.Query().Get("reason")
	}
	version, err := versionFrom(r, req.Version)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	m, err := op(r.Context(), service.Mutation{MemoryID: id, Actor: actor, Reason: req.Reason, Version: version})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMemoryResponse(m))
}

type clearResponse struct {
	Deleted int `json:"deleted"`
}

// Clear deletes every live memory of the owner, or of one session.
func (h *MemoryHandler) Clear(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	reason := q.Get("reason")
	if reason == "" {
		reason = "cleared"
	}
	n, err := h.lifecycle.Clear(r.Context(), actor, q.Get("owner_id"), queryString(r, "session_id"), reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clearResponse{Deleted: n})
}

func (h *MemoryHandler) Audit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "memory")
	if !ok {
		return
	}

	entries, err := h.audit.Trail(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auditTrailResponse{Entries: entries, Count: len(entries)})
}
