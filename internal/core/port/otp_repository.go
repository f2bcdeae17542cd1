package port

import (
	"context"

	"github.com/arklim/credential-gate/internal/core/domain"
)

// OTPQuery narrows lookups of issued passcodes. Empty fields are ignored.
type OTPQuery struct {
	Email   string
	Purpose domain.OTPPurpose
	Code    string
	Used    *bool
}

// OTPRepository manages one-time passcode records.
type OTPRepository interface {
	// Find returns the most recently created record matching the query.
	Find(ctx context.Context, query OTPQuery) (*domain.OTPRecord, error)
	Insert(ctx context.Context, record domain.OTPRecord) error
	// InvalidateAll marks every unused record for the pair as used.
	InvalidateAll(ctx context.Context, email string, purpose domain.OTPPurpose) (int, error)
	// Rotate invalidates outstanding records for the pair and inserts record
	// as a single atomic step. It returns the stored record and the number
	// of records superseded.
	Rotate(ctx context.Context, record domain.OTPRecord) (*domain.OTPRecord, int, error)
	// MarkUsed flips an unused record to used. A record that is already used
	// or missing yields repository.ErrNotFound.
	MarkUsed(ctx context.Context, id string) error
}
