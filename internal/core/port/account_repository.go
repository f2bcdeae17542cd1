package port

import (
	"context"

	"github.com/arklim/credential-gate/internal/core/domain"
)

// AccountMutation edits a freshly read account in place and reports whether
// the result must be written back. Returning an error aborts the update.
type AccountMutation func(account *domain.Account) (bool, error)

// AccountRepository exposes persistence behavior for accounts.
type AccountRepository interface {
	// Create stores a new account, assigning its identifier and creation time.
	// Duplicate usernames or emails yield a repository.UniqueViolationError.
	Create(ctx context.Context, account domain.Account) (*domain.Account, error)
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	// Update serialises read-modify-write cycles on a single account. The
	// mutation observes the latest committed state and no concurrent Update
	// for the same id interleaves with it.
	Update(ctx context.Context, id string, mutate AccountMutation) (*domain.Account, error)
	List(ctx context.Context, offset, limit int) ([]domain.Account, error)
}
