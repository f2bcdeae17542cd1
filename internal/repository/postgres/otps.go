package postgres

import (
	"context"
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

const otpTable = "gate.otp_codes"

var otpColumns = []string{
	"id",
	"email",
	"code",
	"purpose",
	"expires_at",
	"is_used",
	"created_at",
}

// OTPRepository implements port.OTPRepository using PostgreSQL.
type OTPRepository struct {
	db      txBeginner
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewOTPRepository wires a PostgreSQL-backed passcode repository.
func NewOTPRepository(db txBeginner) *OTPRepository {
	return &OTPRepository{
		db:      db,
		exec:    db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     time.Now,
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *OTPRepository) WithTx(tx pgx.Tx) *OTPRepository {
	if tx == nil {
		return r
	}
	return &OTPRepository{
		db:      r.db,
		exec:    tx,
		builder: r.builder,
		now:     r.now,
	}
}

// Find returns the newest record matching the query.
func (r *OTPRepository) Find(ctx context.Context, query port.OTPQuery) (*domain.OTPRecord, error) {
	where := squirrel.Eq{}
	if email := strings.TrimSpace(query.Email); email != "" {
		where["email"] = email
	}
	if query.Purpose != "" {
		where["purpose"] = string(query.Purpose)
	}
	if query.Code != "" {
		where["code"] = query.Code
	}
	if query.Used != nil {
		where["is_used"] = *query.Used
	}
	if len(where) == 0 {
		return nil, fmt.Errorf("otp query requires at least one filter")
	}

	stmt, args, err := r.builder.Select(otpColumns...).
		From(otpTable).
		Where(where).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select otp sql: %w", err)
	}

	var (
		record  domain.OTPRecord
		purpose string
	)
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&record.ID,
		&record.Email,
		&record.Code,
		&purpose,
		&record.ExpiresAt,
		&record.IsUsed,
		&record.CreatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan otp: %w", err)
	}
	record.Purpose = domain.OTPPurpose(purpose)

	return &record, nil
}

// Insert stores a new record.
func (r *OTPRepository) Insert(ctx context.Context, record domain.OTPRecord) error {
	stmt, args, err := r.builder.Insert(otpTable).
		Columns(otpColumns...).
		Values(
			record.ID,
			record.Email,
			record.Code,
			string(record.Purpose),
			record.ExpiresAt.UTC(),
			record.IsUsed,
			record.CreatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert otp sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if _, ok := uniqueViolation(err); ok {
			return fmt.Errorf("insert otp: %w", repository.ErrConflict)
		}
		return fmt.Errorf("insert otp: %w", err)
	}

	return nil
}

// InvalidateAll marks every outstanding record for the pair as used.
func (r *OTPRepository) InvalidateAll(ctx context.Context, email string, purpose domain.OTPPurpose) (int, error) {
	stmt, args, err := r.builder.Update(otpTable).
		Set("is_used", true).
		Where(squirrel.Eq{
			"email":   email,
			"purpose": string(purpose),
			"is_used": false,
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build invalidate otp sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("invalidate otp: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

// Rotate supersedes outstanding records for the pair and stores record in one transaction.
// Rotations for the same pair are serialised with a transaction-scoped advisory lock.
func (r *OTPRepository) Rotate(ctx context.Context, record domain.OTPRecord) (*domain.OTPRecord, int, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now().UTC()
	}
	record.IsUsed = false

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("begin otp rotation: %w", err)
	}
	committed := false
	defer finishTx(ctx, tx, &committed)

	lockKey := record.Email + ":" + string(record.Purpose)
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", lockKey); err != nil {
		return nil, 0, fmt.Errorf("lock otp pair: %w", err)
	}

	txRepo := r.WithTx(tx)

	superseded, err := txRepo.InvalidateAll(ctx, record.Email, record.Purpose)
	if err != nil {
		return nil, 0, err
	}

	if err := txRepo.Insert(ctx, record); err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("commit otp rotation: %w", err)
	}
	committed = true

	return &record, superseded, nil
}

// MarkUsed flips an unused record to used. Only one caller can win for a given id.
func (r *OTPRepository) MarkUsed(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Update(otpTable).
		Set("is_used", true).
		Where(squirrel.Eq{"id": id, "is_used": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark otp used sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark otp used: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

var _ port.OTPRepository = (*OTPRepository)(nil)
