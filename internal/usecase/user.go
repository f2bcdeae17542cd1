package usecase

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/arklim/credential-gate/internal/core/domain"
	"github.com/arklim/credential-gate/internal/core/port"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// ProfileUpdate lists self-service fields to change. Nil fields stay as they are.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Bio       *string
	Phone     *string
	Location  *string
}

// AdminUpdate lists the privileged fields an administrator may change.
type AdminUpdate struct {
	Role     *domain.Role
	IsActive *bool
}

// UserService exposes profile management and administrative account operations.
type UserService struct {
	accounts port.AccountRepository
	logger   *zap.Logger
}

// NewUserService constructs a UserService.
func NewUserService(accounts port.AccountRepository, log *zap.Logger) *UserService {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserService{accounts: accounts, logger: log}
}

// GetAccount returns the sanitized account for id.
func (s *UserService) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, accountStoreError("lookup account", err)
	}
	sanitized := account.Sanitized()
	return &sanitized, nil
}

// UpdateProfile applies self-service profile changes.
func (s *UserService) UpdateProfile(ctx context.Context, id string, input ProfileUpdate) (*domain.Account, error) {
	updated, err := s.accounts.Update(ctx, id, func(current *domain.Account) (bool, error) {
		changed := false
		apply := func(dst *string, src *string) {
			if src == nil {
				return
			}
			value := strings.TrimSpace(*src)
			if *dst != value {
				*dst = value
				changed = true
			}
		}
		apply(&current.Profile.FirstName, input.FirstName)
		apply(&current.Profile.LastName, input.LastName)
		apply(&current.Profile.Bio, input.Bio)
		apply(&current.Profile.Phone, input.Phone)
		apply(&current.Profile.Location, input.Location)
		return changed, nil
	})
	if err != nil {
		return nil, accountStoreError("update profile", err)
	}
	sanitized := updated.Sanitized()
	return &sanitized, nil
}

// ListAccounts pages through accounts ordered by creation time.
func (s *UserService) ListAccounts(ctx context.Context, offset, limit int) ([]domain.Account, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	accounts, err := s.accounts.List(ctx, offset, limit)
	if err != nil {
		return nil, storeFault("list accounts", err)
	}
	for i := range accounts {
		accounts[i] = accounts[i].Sanitized()
	}
	return accounts, nil
}

// AdminUpdate changes the role or active flag of target on behalf of actor.
// Administrators cannot change their own role or deactivate themselves.
func (s *UserService) AdminUpdate(ctx context.Context, actorID, targetID string, input AdminUpdate) (*domain.Account, error) {
	if input.Role != nil && !input.Role.Valid() {
		return nil, ErrInvalidRole
	}

	updated, err := s.accounts.Update(ctx, targetID, func(current *domain.Account) (bool, error) {
		changed := false
		if input.Role != nil && *input.Role != current.Role {
			if current.ID == actorID {
				return false, ErrCannotModifySelf
			}
			current.Role = *input.Role
			changed = true
		}
		if input.IsActive != nil && *input.IsActive != current.IsActive {
			if current.ID == actorID && !*input.IsActive {
				return false, ErrCannotModifySelf
			}
			current.IsActive = *input.IsActive
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		if errors.Is(err, ErrCannotModifySelf) {
			return nil, err
		}
		return nil, accountStoreError("update account", err)
	}

	s.logger.Info("account updated by administrator",
		zap.String("actor_id", actorID),
		zap.String("account_id", updated.ID),
		zap.String("role", string(updated.Role)),
		zap.Bool("is_active", updated.IsActive),
	)
	sanitized := updated.Sanitized()
	return &sanitized, nil
}

// Deactivate disables target. Accounts are never deleted.
func (s *UserService) Deactivate(ctx context.Context, actorID, targetID string) (*domain.Account, error) {
	if actorID == targetID {
		return nil, ErrCannotModifySelf
	}

	updated, err := s.accounts.Update(ctx, targetID, func(current *domain.Account) (bool, error) {
		if !current.IsActive {
			return false, nil
		}
		current.IsActive = false
		return true, nil
	})
	if err != nil {
		return nil, accountStoreError("deactivate account", err)
	}

	s.logger.Info("account deactivated", zap.String("actor_id", actorID), zap.String("account_id", updated.ID))
	sanitized := updated.Sanitized()
	return &sanitized, nil
}
