package rbac

import (
	"log/slog"
	"net/http"

	"github.com/agora-forum/agora/internal/platform/httpx"
	"github.com/agora-forum/agora/internal/shared"
)

// Middleware wires role guards for admin HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// RequireRole ensures the current actor holds one of the listed roles.
func (m Middleware) RequireRole(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			if _, ok := allowed[Role(actor.Role)]; ok {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Warn("rbac role rejected", slog.Int64("actor_id", actor.ID), slog.String("role", actor.Role), slog.String("path", r.URL.Path))
			}
			httpx.RespondError(w, shared.ErrDenied)
		})
	}
}
