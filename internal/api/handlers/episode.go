package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/Harshitk-cp/memlayer/internal/service"
)

type EpisodeHandler struct {
	svc *service.EpisodicService
}

func NewEpisodeHandler(svc *service.EpisodicService) *EpisodeHandler {
	return &EpisodeHandler{svc: svc}
}

type episodesResponse struct {
	Episodes []service.Episode `json:"episodes"`
	Count    int               `json:"count"`
}

// View serves the timeline. Filters: owner_id, session_id, tag, ticket_id,
// since (RFC 3339) and limit.
func (h *EpisodeHandler) View(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeServiceError(w, err)
		return
	}

	q := r.URL.Query()
	query := service.EpisodeQuery{
		OwnerID:   q.Get("owner_id"),
		SessionID: queryString(r, "session_id"),
		Tag:       q.Get("tag"),
		TicketID:  queryString(r, "ticket_id"),
		Limit:     limit,
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeServiceError(w, fmt.Errorf("%w: since must be an RFC 3339 timestamp", domain.ErrValidation))
			return
		}
		query.CreatedAfter = &since
	}

	eps, err := h.svc.View(r.Context(), actor, query)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, episodesResponse{Episodes: eps, Count: len(eps)})
}
