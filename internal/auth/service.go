package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/agora-forum/agora/internal/accounts"
	"github.com/agora-forum/agora/internal/platform/httpx"
	"github.com/agora-forum/agora/internal/shared"
)

// AccountResolver loads the acting account.
type AccountResolver interface {
	Get(ctx context.Context, id int64) (accounts.Account, error)
}

// BanChecker reports global bans for the acting account.
type BanChecker interface {
	IsBanned(ctx context.Context, accountID int64) (bool, error)
}

// Service wraps operator authentication rules.
type Service struct {
	tokenHash []byte
	accounts  AccountResolver
	bans      BanChecker
}

// NewService constructs a new Service. tokenHash is a bcrypt hash of the
// operator token.
func NewService(tokenHash string, accounts AccountResolver, bans BanChecker) *Service {
	return &Service{tokenHash: []byte(strings.TrimSpace(tokenHash)), accounts: accounts, bans: bans}
}

// Authenticate validates the Authorization header value.
func (s *Service) Authenticate(header string) error {
	token, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok || strings.TrimSpace(token) == "" || len(s.tokenHash) == 0 {
		return shared.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(s.tokenHash, []byte(strings.TrimSpace(token))); err != nil {
		return shared.ErrUnauthorized
	}
	return nil
}

// ResolveActor turns the actor header into an Actor. Inactive and banned
// accounts cannot act.
func (s *Service) ResolveActor(ctx context.Context, raw string) (shared.Actor, error) {
	id, err := httpx.ParseID(raw)
	if err != nil {
		return shared.Actor{}, shared.ErrUnauthorized
	}
	acc, err := s.accounts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Actor{}, shared.ErrUnauthorized
		}
		return shared.Actor{}, err
	}
	if acc.Status == accounts.StatusInactive {
		return shared.Actor{}, shared.Denied(shared.DenyInactive)
	}
	if s.bans != nil {
		banned, err := s.bans.IsBanned(ctx, acc.ID)
		if err != nil {
			return shared.Actor{}, err
		}
		if banned {
			return shared.Actor{}, shared.Denied(shared.DenyBanned)
		}
	}
	return shared.Actor{ID: acc.ID, Role: string(acc.Role)}, nil
}
