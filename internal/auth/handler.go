package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agora-forum/agora/internal/platform/httpx"
	"github.com/agora-forum/agora/internal/shared"
)

// Handler wires operator authentication into HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.Middleware)
		r.Get("/whoami", h.whoami)
	})
}

// Middleware rejects requests without a valid operator token and stores the
// acting account in the request context.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.service.Authenticate(r.Header.Get("Authorization")); err != nil {
			h.logger.Warn("operator token rejected", slog.String("path", r.URL.Path), slog.String("remote", r.RemoteAddr))
			httpx.RespondError(w, err)
			return
		}
		actor, err := h.service.ResolveActor(r.Context(), r.Header.Get(ActorHeader))
		if err != nil {
			h.logger.Warn("actor rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

func (h *Handler) whoami(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": actor.ID, "role": actor.Role})
}
