package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Harshitk-cp/memlayer/internal/auth"
	"github.com/Harshitk-cp/memlayer/internal/domain"
	"go.uber.org/zap"
)

type contextKey string

const (
	actorContextKey contextKey = "actor"
	actorHolderKey  contextKey = "actor_holder"
)

// actorHolder lets outer middleware see the actor resolved further in.
type actorHolder struct {
	id string
}

func withActorHolder(ctx context.Context, h *actorHolder) context.Context {
	return context.WithValue(ctx, actorHolderKey, h)
}

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorContextKey).(domain.Actor)
	return a, ok
}

// WithActor stores an actor in ctx. Handlers read it back with
// ActorFromContext.
func WithActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, a)
}

// Authenticate resolves the bearer credential into an actor. Role lookups
// that fail on storage surface as 503 so clients retry instead of
// re-authenticating.
func Authenticate(resolver auth.Resolver, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.ExtractToken(r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error(), "unauthorized")
				return
			}

			actor, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				if errors.Is(err, domain.ErrStorage) {
					logger.Error("actor resolution failed", zap.Error(err))
					writeError(w, http.StatusServiceUnavailable, "identity lookup unavailable", domain.ErrorCode(err))
					return
				}
				writeError(w, http.StatusUnauthorized, "invalid token", "unauthorized")
				return
			}

			if h, ok := r.Context().Value(actorHolderKey).(*actorHolder); ok {
				h.id = actor.ID
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
