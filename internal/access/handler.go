package access

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/agora-forum/agora/internal/platform/httpx"
	"github.com/agora-forum/agora/internal/rbac"
)

// Handler exposes a dry-run of Authorize to operators.
type Handler struct {
	logger    *slog.Logger
	gate      *Gate
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, gate *Gate, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, gate: gate, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers /authorize.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleAdmin, rbac.RoleModerator))
		r.Post("/", h.authorize)
	})
}

type authorizeRequest struct {
	ActorID int64  `json:"actor_id" validate:"required,gt=0"`
	Action  string `json:"action" validate:"required"`
	BoardID *int64 `json:"board_id" validate:"omitempty,gt=0"`
	TopicID *int64 `json:"topic_id" validate:"omitempty,gt=0"`
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ValidationError(err))
		return
	}
	action, _ := rbac.ParseAction(req.Action)
	if action == "" {
		action = rbac.Action(req.Action)
	}
	decision, err := h.gate.Authorize(r.Context(), Request{
		ActorID: req.ActorID,
		Action:  action,
		BoardID: req.BoardID,
		TopicID: req.TopicID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decision)
}
