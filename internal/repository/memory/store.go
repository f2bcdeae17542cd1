// Package memory provides mutex-guarded repositories for development mode and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	uuid "github.com/google/uuid"

	"github.com/arklim/credential-gate/internal/core/domain"
	"github.com/arklim/credential-gate/internal/core/port"
	"github.com/arklim/credential-gate/internal/repository"
)

// AccountRepository keeps accounts in process memory.
type AccountRepository struct {
	mu         sync.Mutex
	byID       map[string]domain.Account
	byUsername map[string]string
	byEmail    map[string]string
	now        func() time.Time
}

// NewAccountRepository constructs an empty in-memory account store.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		byID:       make(map[string]domain.Account),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		now:        time.Now,
	}
}

// Create stores a new account, rejecting duplicate usernames and emails.
func (r *AccountRepository) Create(_ context.Context, account domain.Account) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[account.Email]; taken {
		return nil, &repository.UniqueViolationError{Field: "email"}
	}
	if _, taken := r.byUsername[account.Username]; taken {
		return nil, &repository.UniqueViolationError{Field: "username"}
	}

	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = r.now().UTC()
	}
	if account.Role == "" {
		account.Role = domain.RoleUser
	}

	r.byID[account.ID] = clone(account)
	r.byUsername[account.Username] = account.ID
	r.byEmail[account.Email] = account.ID

	out := clone(account)
	return &out, nil
}

// GetByID retrieves an account by identifier.
func (r *AccountRepository) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(id)
}

// GetByUsername retrieves an account by username.
func (r *AccountRepository) GetByUsername(_ context.Context, username string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(r.byUsername[username])
}

// GetByEmail retrieves an account by email.
func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(r.byEmail[email])
}

// Update runs mutate under the store lock so concurrent updates never interleave.
func (r *AccountRepository) Update(_ context.Context, id string, mutate port.AccountMutation) (*domain.Account, error) {
	if mutate == nil {
		return nil, fmt.Errorf("account mutation is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	account, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	previousEmail := account.Email

	changed, err := mutate(account)
	if err != nil {
		return nil, err
	}
	if !changed {
		return account, nil
	}

	if account.Email != previousEmail {
		if owner, taken := r.byEmail[account.Email]; taken && owner != id {
			return nil, &repository.UniqueViolationError{Field: "email"}
		}
		delete(r.byEmail, previousEmail)
		r.byEmail[account.Email] = id
	}

	updatedAt := r.now().UTC()
	account.UpdatedAt = &updatedAt
	r.byID[id] = clone(*account)

	out := clone(*account)
	return &out, nil
}

// List returns accounts ordered by creation time.
func (r *AccountRepository) List(_ context.Context, offset, limit int) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]domain.Account, 0, len(r.byID))
	for _, account := range r.byID {
		all = append(all, clone(account))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []domain.Account{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *AccountRepository) lookup(id string) (*domain.Account, error) {
	if id == "" {
		return nil, repository.ErrNotFound
	}
	account, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := clone(account)
	return &out, nil
}

func clone(account domain.Account) domain.Account {
	if account.LockedUntil != nil {
		until := *account.LockedUntil
		account.LockedUntil = &until
	}
	if account.UpdatedAt != nil {
		updated := *account.UpdatedAt
		account.UpdatedAt = &updated
	}
	return account
}

// OTPRepository keeps passcode records in process memory.
type OTPRepository struct {
	mu      sync.Mutex
	records []domain.OTPRecord
	now     func() time.Time
}

// NewOTPRepository constructs an empty in-memory passcode store.
func NewOTPRepository() *OTPRepository {
	return &OTPRepository{now: time.Now}
}

// Find returns the newest record matching the query.
func (r *OTPRepository) Find(_ context.Context, query port.OTPQuery) (*domain.OTPRecord, error) {
	email := strings.TrimSpace(query.Email)
	if email == "" && query.Purpose == "" && query.Code == "" && query.Used == nil {
		return nil, fmt.Errorf("otp query requires at least one filter")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var found *domain.OTPRecord
	for i := range r.records {
		record := r.records[i]
		if email != "" && record.Email != email {
			continue
		}
		if query.Purpose != "" && record.Purpose != query.Purpose {
			continue
		}
		if query.Code != "" && record.Code != query.Code {
			continue
		}
		if query.Used != nil && record.IsUsed != *query.Used {
			continue
		}
		if found == nil || !record.CreatedAt.Before(found.CreatedAt) {
			match := record
			found = &match
		}
	}

	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

// Insert stores a new record.
func (r *OTPRepository) Insert(_ context.Context, record domain.OTPRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(record)
}

// InvalidateAll marks every outstanding record for the pair as used.
func (r *OTPRepository) InvalidateAll(_ context.Context, email string, purpose domain.OTPPurpose) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invalidateLocked(email, purpose), nil
}

// Rotate supersedes outstanding records and inserts record under one lock acquisition.
func (r *OTPRepository) Rotate(_ context.Context, record domain.OTPRecord) (*domain.OTPRecord, int, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now().UTC()
	}
	record.IsUsed = false

	r.mu.Lock()
	defer r.mu.Unlock()

	superseded := r.invalidateLocked(record.Email, record.Purpose)
	if err := r.insertLocked(record); err != nil {
		return nil, 0, err
	}
	return &record, superseded, nil
}

// MarkUsed flips an unused record to used.
func (r *OTPRepository) MarkUsed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.records {
		if r.records[i].ID == id && !r.records[i].IsUsed {
			r.records[i].IsUsed = true
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *OTPRepository) insertLocked(record domain.OTPRecord) error {
	if !record.IsUsed {
		for _, existing := range r.records {
			if !existing.IsUsed && existing.Email == record.Email && existing.Purpose == record.Purpose {
				return fmt.Errorf("insert otp: %w", repository.ErrConflict)
			}
		}
	}
	r.records = append(r.records, record)
	return nil
}

func (r *OTPRepository) invalidateLocked(email string, purpose domain.OTPPurpose) int {
	count := 0
	for i := range r.records {
		if r.records[i].Email == email && r.records[i].Purpose == purpose && !r.records[i].IsUsed {
			r.records[i].IsUsed = true
			count++
		}
	}
	return count
}

var (
	_ port.AccountRepository = (*AccountRepository)(nil)
	_ port.OTPRepository     = (*OTPRepository)(nil)
)
