package blocks

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/agora-forum/agora/internal/platform/httpx"
	"github.com/agora-forum/agora/internal/rbac"
	"github.com/agora-forum/agora/internal/shared"
)

// Handler exposes block relations on the admin surface.
type Handler struct {
	logger    *slog.Logger
	store     *Store
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, store *Store, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, store: store, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers /blocks routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleAdmin, rbac.RoleModerator))
		r.Get("/", h.search)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleAdmin, rbac.RoleModerator, rbac.RoleUser))
		r.Post("/", h.block)
		r.Delete("/", h.unblock)
	})
}

// MountAccountRoutes registers routes nested under /accounts/{id}.
func (h *Handler) MountAccountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleAdmin, rbac.RoleModerator))
		r.Get("/blocked", h.listBlocked)
		r.Get("/blockers", h.listBlockers)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleAdmin))
		r.Delete("/blocks", h.purge)
	})
}

type blockRequest struct {
	BlockerID int64  `json:"blocker_id" validate:"omitempty,gt=0"`
	BlockedID int64  `json:"blocked_id" validate:"required,gt=0"`
	Reason    string `json:"reason" validate:"max=2048"`
}

func (h *Handler) block(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ValidationError(err))
		return
	}
	blockerID, err := onBehalfOf(r, req.BlockerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rel, err := h.store.Block(r.Context(), blockerID, req.BlockedID, req.Reason)
	if err != nil {
		h.logFailure(r, "block", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rel)
}

func (h *Handler) unblock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ValidationError(err))
		return
	}
	blockerID, err := onBehalfOf(r, req.BlockerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	removed, err := h.store.Unblock(r.Context(), blockerID, req.BlockedID)
	if err != nil {
		h.logFailure(r, "unblock", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	blockerID, err := httpx.OptionalID(q.Get("blocker_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	blockedID, err := httpx.OptionalID(q.Get("blocked_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, page, err := h.store.Search(r.Context(), Filter{
		BlockerID: blockerID,
		BlockedID: blockedID,
		State:     State(q.Get("state")),
		Page:      httpx.QueryInt(r, "page", 1),
		PerPage:   httpx.QueryInt(r, "per_page", 0),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []Relation{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": page})
}

func (h *Handler) listBlocked(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ids, err := h.store.ListBlockedBy(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"account_id": id, "blocked": nonNil(ids)})
}

func (h *Handler) listBlockers(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ids, err := h.store.ListBlockers(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"account_id": id, "blockers": nonNil(ids)})
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	n, err := h.store.PurgeAccount(r.Context(), id, actor.ID)
	if err != nil {
		h.logFailure(r, "purge", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"purged": n})
}

// onBehalfOf resolves the blocker. Only admins may act for another account.
func onBehalfOf(r *http.Request, requested int64) (int64, error) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		return 0, shared.ErrUnauthorized
	}
	if requested == 0 || requested == actor.ID {
		return actor.ID, nil
	}
	if rbac.Role(actor.Role) != rbac.RoleAdmin {
		return 0, shared.ErrDenied
	}
	return requested, nil
}

func (h *Handler) logFailure(r *http.Request, op string, err error) {
	if h.logger == nil {
		return
	}
	h.logger.Warn("block request failed", slog.String("op", op), slog.String("path", r.URL.Path), slog.Any("error", err))
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
