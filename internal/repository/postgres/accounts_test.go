package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/arklim/credential-gate/internal/core/domain"
	"github.com/arklim/credential-gate/internal/repository"
)

func accountRow(fixed time.Time, failed int, lockedUntil any) *pgxmock.Rows {
	return pgxmock.NewRows(accountColumns).AddRow(
		"acc-1", "ada", "ada@example.com", "argon2id$hash", true, true, failed, lockedUntil, "user",
		"Ada", nil, nil, nil, nil, fixed, nil,
	)
}

func TestAccountRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccountRepository(mock)

	createdAt := time.Date(2025, 10, 24, 9, 0, 0, 0, time.UTC)
	account := domain.Account{
		ID:           "acc-1",
		Username:     "ada",
		Email:        "ada@example.com",
		PasswordHash: "argon2id$hash",
		IsActive:     true,
		Role:         domain.RoleUser,
		CreatedAt:    createdAt,
	}

	mock.ExpectExec(`INSERT INTO gate\.accounts`).
		WithArgs(
			"acc-1", "ada", "ada@example.com", "argon2id$hash", true, false, 0, nil, "user",
			nil, nil, nil, nil, nil, createdAt, nil,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	created, err := repo.Create(context.Background(), account)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.ID != "acc-1" {
		t.Fatalf("expected id acc-1, got %s", created.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountRepository_CreateDuplicateEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccountRepository(mock)

	mock.ExpectExec(`INSERT INTO gate\.accounts`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"})

	_, err = repo.Create(context.Background(), domain.Account{
		ID:        "acc-2",
		Username:  "ada2",
		Email:     "ada@example.com",
		CreatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	var uniqueErr *repository.UniqueViolationError
	if !errors.As(err, &uniqueErr) || uniqueErr.Field != "email" {
		t.Fatalf("expected email unique violation, got %v", err)
	}
}

func TestAccountRepository_GetByUsernameNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccountRepository(mock)

	mock.ExpectQuery(`SELECT .* FROM gate\.accounts WHERE username = \$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.GetByUsername(context.Background(), "ghost"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountRepository_GetByEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccountRepository(mock)
	fixed := time.Date(2025, 10, 24, 9, 0, 0, 0, time.UTC)
	lockedUntil := fixed.Add(30 * time.Minute)

	mock.ExpectQuery(`SELECT .* FROM gate\.accounts WHERE email = \$1`).
		WithArgs("ada@example.com").
		WillReturnRows(accountRow(fixed, 5, lockedUntil))

	account, err := repo.GetByEmail(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("GetByEmail returned error: %v", err)
	}
	if account.FailedAttempts != 5 {
		t.Fatalf("expected 5 failed attempts, got %d", account.FailedAttempts)
	}
	if account.LockedUntil == nil || !account.LockedUntil.Equal(lockedUntil) {
		t.Fatalf("expected locked_until %v, got %v", lockedUntil, account.LockedUntil)
	}
	if account.Profile.FirstName != "Ada" || account.Profile.LastName != "" {
		t.Fatalf("unexpected profile: %+v", account.Profile)
	}
	if account.Role != domain.RoleUser {
		t.Fatalf("expected user role, got %s", account.Role)
	}
}

func TestAccountRepository_UpdateLocksAndPersists(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccountRepository(mock)
	fixed := time.Date(2025, 10, 24, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM gate\.accounts WHERE id = \$1 LIMIT 1 FOR UPDATE`).
		WithArgs("acc-1").
		WillReturnRows(accountRow(fixed, 1, nil))
	mock.ExpectExec(`UPDATE gate\.accounts SET`).
		WithArgs(
			"ada@example.com", "argon2id$hash", true, true, 2, nil, "user",
			"Ada", nil, nil, nil, nil, fixed, "acc-1",
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	updated, err := repo.Update(context.Background(), "acc-1", func(account *domain.Account) (bool, error) {
		account.FailedAttempts++
		return true, nil
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.FailedAttempts != 2 {
		t.Fatalf("expected failed attempts 2, got %d", updated.FailedAttempts)
	}
	if updated.UpdatedAt == nil || !updated.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected updated_at %v, got %v", fixed, updated.UpdatedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountRepository_UpdateSkipsWriteWhenUnchanged(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccountRepository(mock)
	fixed := time.Date(2025, 10, 24, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM gate\.accounts WHERE id = \$1 LIMIT 1 FOR UPDATE`).
		WithArgs("acc-1").
		WillReturnRows(accountRow(fixed, 0, nil))
	mock.ExpectCommit()

	if _, err := repo.Update(context.Background(), "acc-1", func(*domain.Account) (bool, error) {
		return false, nil
	}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountRepository_UpdateRollsBackOnMutationError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccountRepository(mock)
	fixed := time.Date(2025, 10, 24, 9, 0, 0, 0, time.UTC)
	sentinel := errors.New("mutation rejected")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM gate\.accounts WHERE id = \$1 LIMIT 1 FOR UPDATE`).
		WithArgs("acc-1").
		WillReturnRows(accountRow(fixed, 0, nil))
	mock.ExpectRollback()

	_, err = repo.Update(context.Background(), "acc-1", func(*domain.Account) (bool, error) {
		return false, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected mutation error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountRepository_UpdateMissingAccount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccountRepository(mock)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM gate\.accounts WHERE id = \$1 LIMIT 1 FOR UPDATE`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err = repo.Update(context.Background(), "missing", func(*domain.Account) (bool, error) {
		t.Fatal("mutation must not run for a missing account")
		return false, nil
	})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccountRepository_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewAccountRepository(mock)
	fixed := time.Date(2025, 10, 24, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM gate\.accounts ORDER BY created_at ASC LIMIT 10 OFFSET 20`).
		WillReturnRows(accountRow(fixed, 0, nil))

	accounts, err := repo.List(context.Background(), 20, 10)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Username != "ada" {
		t.Fatalf("unexpected accounts: %+v", accounts)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
