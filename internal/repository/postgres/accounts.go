package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	uuid "github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/credential-gate/internal/core/domain"
	"github.com/arklim/credential-gate/internal/core/port"
	"github.com/arklim/credential-gate/internal/repository"
)

const accountsTable = "gate.accounts"

var accountColumns = []string{
	"id",
	"username",
	"email",
	"password_hash",
	"is_active",
	"is_verified",
	"failed_attempts",
	"locked_until",
	"role",
	"first_name",
	"last_name",
	"bio",
	"phone",
	"location",
	"created_at",
	"updated_at",
}

// AccountRepository implements port.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db      txBeginner
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewAccountRepository wires a PostgreSQL-backed account repository.
func NewAccountRepository(db txBeginner) *AccountRepository {
	return &AccountRepository{
		db:      db,
		exec:    db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     time.Now,
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *AccountRepository) WithTx(tx pgx.Tx) *AccountRepository {
	if tx == nil {
		return r
	}
	return &AccountRepository{
		db:      r.db,
		exec:    tx,
		builder: r.builder,
		now:     r.now,
	}
}

// Create inserts a new account row.
func (r *AccountRepository) Create(ctx context.Context, account domain.Account) (*domain.Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = r.now().UTC()
	}
	if account.Role == "" {
		account.Role = domain.RoleUser
	}

	stmt, args, err := r.builder.Insert(accountsTable).
		Columns(accountColumns...).
		Values(
			account.ID,
			account.Username,
			account.Email,
			account.PasswordHash,
			account.IsActive,
			account.IsVerified,
			account.FailedAttempts,
			optionalTime(account.LockedUntil),
			string(account.Role),
			optionalString(account.Profile.FirstName),
			optionalString(account.Profile.LastName),
			optionalString(account.Profile.Bio),
			optionalString(account.Profile.Phone),
			optionalString(account.Profile.Location),
			account.CreatedAt,
			optionalTime(account.UpdatedAt),
		).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if pgErr, ok := uniqueViolation(err); ok {
			return nil, &repository.UniqueViolationError{Field: fieldForConstraint(pgErr.ConstraintName)}
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}

	return &account, nil
}

// GetByID retrieves an account by identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id}, false)
}

// GetByUsername retrieves an account by its unique username.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.Eq{"username": username}, false)
}

// GetByEmail retrieves an account by its unique email address.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.Eq{"email": email}, false)
}

// Update locks the account row, applies mutate and persists the result in one transaction.
func (r *AccountRepository) Update(ctx context.Context, id string, mutate port.AccountMutation) (*domain.Account, error) {
	if mutate == nil {
		return nil, fmt.Errorf("account mutation is required")
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin account update: %w", err)
	}
	committed := false
	defer finishTx(ctx, tx, &committed)

	txRepo := r.WithTx(tx)

	account, err := txRepo.getOne(ctx, squirrel.Eq{"id": id}, true)
	if err != nil {
		return nil, err
	}

	changed, err := mutate(account)
	if err != nil {
		return nil, err
	}

	if changed {
		updatedAt := r.now().UTC()
		account.UpdatedAt = &updatedAt
		if err := txRepo.write(ctx, *account); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit account update: %w", err)
	}
	committed = true

	return account, nil
}

// List returns accounts ordered by creation time.
func (r *AccountRepository) List(ctx context.Context, offset, limit int) ([]domain.Account, error) {
	query := r.builder.Select(accountColumns...).
		From(accountsTable).
		OrderBy("created_at ASC")

	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	if offset > 0 {
		query = query.Offset(uint64(offset))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list accounts sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	return accounts, nil
}

func (r *AccountRepository) getOne(ctx context.Context, where squirrel.Eq, forUpdate bool) (*domain.Account, error) {
	query := r.builder.Select(accountColumns...).
		From(accountsTable).
		Where(where).
		Limit(1)
	if forUpdate {
		query = query.Suffix("FOR UPDATE")
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	account, err := scanAccount(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	return account, nil
}

func (r *AccountRepository) write(ctx context.Context, account domain.Account) error {
	stmt, args, err := r.builder.Update(accountsTable).
		Set("email", account.Email).
		Set("password_hash", account.PasswordHash).
		Set("is_active", account.IsActive).
		Set("is_verified", account.IsVerified).
		Set("failed_attempts", account.FailedAttempts).
		Set("locked_until", optionalTime(account.LockedUntil)).
		Set("role", string(account.Role)).
		Set("first_name", optionalString(account.Profile.FirstName)).
		Set("last_name", optionalString(account.Profile.LastName)).
		Set("bio", optionalString(account.Profile.Bio)).
		Set("phone", optionalString(account.Profile.Phone)).
		Set("location", optionalString(account.Profile.Location)).
		Set("updated_at", optionalTime(account.UpdatedAt)).
		Where(squirrel.Eq{"id": account.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update account sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		if pgErr, ok := uniqueViolation(err); ok {
			return &repository.UniqueViolationError{Field: fieldForConstraint(pgErr.ConstraintName)}
		}
		return fmt.Errorf("update account: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account     domain.Account
		role        string
		lockedUntil sql.NullTime
		updatedAt   sql.NullTime
		firstName   sql.NullString
		lastName    sql.NullString
		bio         sql.NullString
		phone       sql.NullString
		location    sql.NullString
	)

	if err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&account.IsActive,
		&account.IsVerified,
		&account.FailedAttempts,
		&lockedUntil,
		&role,
		&firstName,
		&lastName,
		&bio,
		&phone,
		&location,
		&account.CreatedAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	account.Role = domain.Role(role)
	account.LockedUntil = nullableTimePtr(lockedUntil)
	account.UpdatedAt = nullableTimePtr(updatedAt)
	account.Profile = domain.Profile{
		FirstName: firstName.String,
		LastName:  lastName.String,
		Bio:       bio.String,
		Phone:     phone.String,
		Location:  location.String,
	}

	return &account, nil
}

func fieldForConstraint(name string) string {
	switch {
	case strings.Contains(name, "email"):
		return "email"
	case strings.Contains(name, "username"):
		return "username"
	default:
		return name
	}
}

var _ port.AccountRepository = (*AccountRepository)(nil)
