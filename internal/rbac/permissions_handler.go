package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agora-forum/agora/internal/platform/httpx"
)

// CapabilitiesHandler exposes the capability table to operators.
type CapabilitiesHandler struct {
	logger *slog.Logger
	table  Table
	rbac   Middleware
}

// NewCapabilitiesHandler builds CapabilitiesHandler instance.
func NewCapabilitiesHandler(logger *slog.Logger, table Table, rbac Middleware) *CapabilitiesHandler {
	return &CapabilitiesHandler{logger: logger, table: table, rbac: rbac}
}

// MountRoutes registers capability routes.
func (h *CapabilitiesHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(RoleAdmin, RoleModerator))
		r.Get("/", h.listCapabilities)
	})
}

func (h *CapabilitiesHandler) listCapabilities(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": h.table.Matrix()})
}
