package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agora-forum/agora/internal/access"
	"github.com/agora-forum/agora/internal/auth"
	"github.com/agora-forum/agora/internal/bans"
	"github.com/agora-forum/agora/internal/blocks"
	"github.com/agora-forum/agora/internal/observability"
	"github.com/agora-forum/agora/internal/rbac"
	"github.com/agora-forum/agora/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	AuthHandler         *auth.Handler
	CapabilitiesHandler *rbac.CapabilitiesHandler
	BansHandler         *bans.Handler
	BlocksHandler       *blocks.Handler
	AccessHandler       *access.Handler
	JobHandler          *jobs.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with Agora defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.AuthHandler == nil {
		return r
	}

	r.Route("/auth", params.AuthHandler.MountRoutes)
	r.Group(func(r chi.Router) {
		r.Use(params.AuthHandler.Middleware)
		if params.CapabilitiesHandler != nil {
			r.Route("/capabilities", params.CapabilitiesHandler.MountRoutes)
		}
		if params.BansHandler != nil {
			r.Route("/bans", params.BansHandler.MountRoutes)
		}
		if params.BlocksHandler != nil {
			r.Route("/blocks", params.BlocksHandler.MountRoutes)
		}
		if params.AccessHandler != nil {
			r.Route("/authorize", params.AccessHandler.MountRoutes)
		}
		r.Route("/accounts/{id}", func(r chi.Router) {
			if params.BansHandler != nil {
				params.BansHandler.MountAccountRoutes(r)
			}
			if params.BlocksHandler != nil {
				params.BlocksHandler.MountAccountRoutes(r)
			}
		})
	})
	return r
}
