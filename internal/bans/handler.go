package bans

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/agora-forum/agora/internal/accounts"
	"github.com/agora-forum/agora/internal/platform/httpx"
	"github.com/agora-forum/agora/internal/rbac"
	"github.com/agora-forum/agora/internal/shared"
)

// IdempotencyPort guards replayed admin writes.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

const idempotencyModule = "bans"

// Handler exposes the ledger on the admin surface.
type Handler struct {
	logger       *slog.Logger
	ledger       *Ledger
	accounts     AccountPort
	idempotency  IdempotencyPort
	rbac         rbac.Middleware
	validator    *validator.Validate
	sweepTimeout time.Duration
}

// NewHandler builds Handler instance. idempotency may be nil.
func NewHandler(logger *slog.Logger, ledger *Ledger, accounts AccountPort, idempotency IdempotencyPort, rbac rbac.Middleware, sweepTimeout time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if sweepTimeout <= 0 {
		sweepTimeout = 2 * time.Minute
	}
	return &Handler{
		logger:       logger,
		ledger:       ledger,
		accounts:     accounts,
		idempotency:  idempotency,
		rbac:         rbac,
		validator:    validator.New(),
		sweepTimeout: sweepTimeout,
	}
}

// MountRoutes registers /bans routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleAdmin, rbac.RoleModerator))
		r.Get("/", h.search)
		r.Get("/{id}", h.get)
		r.Post("/", h.issue)
		r.Post("/{id}/lift", h.lift)
		r.Post("/batch-lift", h.batchLift)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleAdmin))
		r.Delete("/{id}", h.delete)
		r.Post("/sweep", h.sweep)
	})
}

// MountAccountRoutes registers routes nested under /accounts/{id}.
func (h *Handler) MountAccountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleAdmin, rbac.RoleModerator))
		r.Get("/bans", h.history)
		r.Get("/ban-status", h.status)
		r.Post("/bans/lift-all", h.liftAll)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleAdmin))
		r.Post("/ban-status/reconcile", h.reconcile)
	})
}

type issueRequest struct {
	AccountID int64  `json:"account_id" validate:"required,gt=0"`
	Reason    string `json:"reason" validate:"required,max=2048"`
	Duration  string `json:"duration"`
	BoardID   *int64 `json:"board_id" validate:"omitempty,gt=0"`
}

type batchLiftRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,max=500"`
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ValidationError(err))
		return
	}
	duration, err := parseDuration(req.Duration)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	var rec Record
	err = h.idempotent(r, func(ctx context.Context) error {
		var err error
		rec, err = h.ledger.Issue(ctx, IssueInput{
			AccountID: req.AccountID,
			IssuerID:  actor.ID,
			Reason:    req.Reason,
			Duration:  duration,
			BoardID:   req.BoardID,
		})
		return err
	})
	if err != nil {
		h.logFailure(r, "issue", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) lift(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	id, err := httpx.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lifted, err := h.ledger.Lift(r.Context(), id, actor.ID)
	if err != nil {
		h.logFailure(r, "lift", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"lifted": lifted})
}

func (h *Handler) batchLift(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var req batchLiftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ValidationError(err))
		return
	}
	var result BatchLiftResult
	err := h.idempotent(r, func(ctx context.Context) error {
		var err error
		result, err = h.ledger.BatchLift(ctx, req.IDs, actor.ID)
		return err
	})
	if err != nil {
		h.logFailure(r, "batch_lift", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) liftAll(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	accountID, err := httpx.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	count, err := h.ledger.LiftAllForAccount(r.Context(), accountID, actor.ID)
	if err != nil {
		h.logFailure(r, "lift_all", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"lifted": count})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	id, err := httpx.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.ledger.Delete(r.Context(), id, actor.ID); err != nil {
		h.logFailure(r, "delete", err)
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.sweepTimeout)
	defer cancel()
	result, err := h.ledger.SweepExpired(ctx)
	if err != nil {
		h.logFailure(r, "sweep", err)
		httpx.RespondError(w, shared.Unavailable(err))
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accountID, err := httpx.OptionalID(q.Get("account_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	boardID, err := httpx.OptionalID(q.Get("board_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, page, err := h.ledger.Search(r.Context(), Filter{
		AccountID: accountID,
		BoardID:   boardID,
		State:     State(strings.ToUpper(q.Get("state"))),
		Page:      httpx.QueryInt(r, "page", 1),
		PerPage:   httpx.QueryInt(r, "per_page", 0),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []Record{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": page})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	accountID, err := httpx.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.ledger.History(r.Context(), accountID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []Record{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"account_id": accountID, "items": items})
}

type statusResponse struct {
	AccountID int64           `json:"account_id"`
	Banned    bool            `json:"banned"`
	Status    accounts.Status `json:"status"`
	Current   *Record         `json:"current,omitempty"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	accountID, err := httpx.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.accounts.Get(r.Context(), accountID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	banned, err := h.ledger.IsBanned(r.Context(), accountID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	current, err := h.ledger.CurrentRecord(r.Context(), accountID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, statusResponse{AccountID: accountID, Banned: banned, Status: acc.Status, Current: current})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	accountID, err := httpx.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status, err := h.ledger.Reconcile(r.Context(), accountID)
	if err != nil {
		h.logFailure(r, "reconcile", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"account_id": accountID, "status": status})
}

// idempotent runs fn once per Idempotency-Key. The key is released again
// when fn fails so the client can retry.
func (h *Handler) idempotent(r *http.Request, fn func(context.Context) error) error {
	key, err := shared.ParseIdempotencyKey(r.Header.Get(shared.IdempotencyHeader))
	if err != nil {
		return err
	}
	if key == "" || h.idempotency == nil {
		return fn(r.Context())
	}
	if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
		return err
	}
	if err := fn(r.Context()); err != nil {
		if delErr := h.idempotency.Delete(context.WithoutCancel(r.Context()), key); delErr != nil {
			h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
		}
		return err
	}
	return nil
}

func (h *Handler) logFailure(r *http.Request, op string, err error) {
	h.logger.Warn("ban request failed", slog.String("op", op), slog.String("path", r.URL.Path), slog.Any("error", err))
}

// parseDuration accepts Go duration strings plus a "d" day suffix. Empty
// and zero mean permanent.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		d, err := time.ParseDuration(days + "h")
		if err != nil {
			return 0, shared.InvalidInput("invalid duration %q", raw)
		}
		if d > math.MaxInt64/24 || d < math.MinInt64/24 {
			return 0, shared.InvalidInput("duration %q out of range", raw)
		}
		return d * 24, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, shared.InvalidInput("invalid duration %q", raw)
	}
	return d, nil
}
