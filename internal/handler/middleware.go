// internal/handler/middleware.go
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/mailroomhq/mailroom-backend/internal/repository"
)

type contextKey string

const teamIDKey contextKey = "teamID"

// TeamFromContext returns the team resolved by the auth middleware.
func TeamFromContext(ctx context.Context) (int64, bool) {
	teamID, ok := ctx.Value(teamIDKey).(int64)
	return teamID, ok
}

// WithTeam injects a team id directly; used by tests.
func WithTeam(ctx context.Context, teamID int64) context.Context {
	return context.WithValue(ctx, teamIDKey, teamID)
}

// APIKeyAuth resolves the Bearer token to a team and stores it on the request
// context. Requests without a valid key never reach the handlers.
func APIKeyAuth(keys repository.ApiKeyRepositoryInterface) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				WriteErrorCode(w, "UNAUTHORIZED", "missing or malformed Authorization header")
				return
			}

			teamID, found, err := keys.ResolveTeam(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}
			if !found {
				WriteErrorCode(w, "UNAUTHORIZED", "invalid api key")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTeam(r.Context(), teamID)))
		})
	}
}
