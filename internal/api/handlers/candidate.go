package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/Harshitk-cp/memlayer/internal/service"
)

type CandidateHandler struct {
	gate  *service.GateService
	audit *service.AuditService
}

func NewCandidateHandler(gate *service.GateService, audit *service.AuditService) *CandidateHandler {
	return &CandidateHandler{gate: gate, audit: audit}
}

type approveRequest struct {
	Content    *string  `json:"content,omitempty"`
	Importance *float64 `json:"importance,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

type rejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type candidateListResponse struct {
	Candidates []domain.PendingCandidate `json:"candidates"`
	Count      int                       `json:"count"`
}

// Submit runs a candidate through the confidence gate. A committed memory
// answers 201, a queued candidate 202 and a discarded one 200.
func (h *CandidateHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req service.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	res, err := h.gate.Submit(r.Context(), actor, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	switch res.Outcome {
	case service.OutcomeCommitted:
		status = http.StatusCreated
	case service.OutcomeQueued:
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (h *CandidateHandler) List(w http.ResponseWriter, r *http.Request) {
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

	list, err := h.gate.ListPending(r.Context(), actor, r.URL.Query().Get("owner_id"), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candidateListResponse{Candidates: list, Count: len(list)})
}

func (h *CandidateHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "candidate")
	if !ok {
		return
	}

	c, err := h.gate.GetCandidate(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CandidateHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "candidate")
	if !ok {
		return
	}

	var req approveRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	m, err := h.gate.Approve(r.Context(), id, service.ApproveInput{
		Content:    req.Content,
		Importance: req.Importance,
		Tags:       req.Tags,
	}, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMemoryResponse(m))
}

func (h *CandidateHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "candidate")
	if !ok {
		return
	}

	var req rejectRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	if err := h.gate.Reject(r.Context(), id, actor, req.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CandidateHandler) Audit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "candidate")
	if !ok {
		return
	}

	entries, err := h.audit.CandidateTrail(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auditTrailResponse{Entries: entries, Count: len(entries)})
}
