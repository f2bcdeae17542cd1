package usecase

import (
	"context"
	"errors"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/credential-gate/internal/core/domain"
	"github.com/arklim/credential-gate/internal/core/port"
	"github.com/arklim/credential-gate/internal/infra/logger"
)

// LockoutConfig sets how many consecutive failures lock an account and for how long.
type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
}

// LockoutPolicy tracks consecutive login failures and temporarily locks accounts.
// Every state change goes through AccountRepository.Update so concurrent
// failures for one account are serialised by the store.
type LockoutPolicy struct {
	accounts port.AccountRepository
	events   port.EventPublisher
	cfg      LockoutConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewLockoutPolicy constructs a lockout policy. events may be nil.
func NewLockoutPolicy(accounts port.AccountRepository, cfg LockoutConfig, events port.EventPublisher, log *zap.Logger) *LockoutPolicy {
	if log == nil {
		log = zap.NewNop()
	}
	return &LockoutPolicy{
		accounts: accounts,
		events:   events,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (p *LockoutPolicy) WithClock(now func() time.Time) *LockoutPolicy {
	if now != nil {
		p.now = now
	}
	return p
}

// CheckAndMaybeReset reports whether a login attempt may proceed. An elapsed
// lockout window is cleared along with the failure counter before returning.
func (p *LockoutPolicy) CheckAndMaybeReset(ctx context.Context, account *domain.Account) (bool, *domain.Account, error) {
	now := p.now()
	if account.LockedUntil == nil {
		return true, account, nil
	}
	if account.IsLocked(now) {
		return false, account, nil
	}

	updated, err := p.accounts.Update(ctx, account.ID, func(current *domain.Account) (bool, error) {
		if !current.LockExpired(now) {
			return false, nil
		}
		current.ClearLockout()
		return true, nil
	})
	if err != nil {
		return false, nil, accountStoreError("reset expired lockout", err)
	}

	return !updated.IsLocked(now), updated, nil
}

// RecordFailure counts a failed login and opens a lockout window once the
// counter reaches the configured maximum. alreadyLocked reports that another
// attempt locked the row before this failure was counted.
func (p *LockoutPolicy) RecordFailure(ctx context.Context, account *domain.Account) (updated *domain.Account, alreadyLocked bool, err error) {
	now := p.now()
	var lockedNow bool

	updated, err = p.accounts.Update(ctx, account.ID, func(current *domain.Account) (bool, error) {
		lockedNow = false
		alreadyLocked = current.IsLocked(now)
		current.FailedAttempts++
		if current.FailedAttempts >= p.cfg.MaxAttempts && !alreadyLocked {
			until := now.Add(p.cfg.Duration)
			current.LockedUntil = &until
			lockedNow = true
		}
		return true, nil
	})
	if err != nil {
		return nil, false, accountStoreError("record login failure", err)
	}

	if lockedNow {
		p.logger.Warn("account locked after repeated login failures",
			zap.String("account_id", updated.ID),
			zap.String("email", logger.MaskEmail(updated.Email)),
			zap.Int("failed_attempts", updated.FailedAttempts),
			zap.Time("locked_until", *updated.LockedUntil),
		)
		p.publishLocked(ctx, updated, now)
	}

	return updated, alreadyLocked, nil
}

// RecordSuccess clears the failure counter and any stale lockout window. The
// row is re-read under the store lock: a window opened by a concurrent failure
// after the caller's check wins and yields ErrAccountLocked.
func (p *LockoutPolicy) RecordSuccess(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	now := p.now()
	updated, err := p.accounts.Update(ctx, account.ID, func(current *domain.Account) (bool, error) {
		if current.IsLocked(now) {
			return false, ErrAccountLocked
		}
		if current.FailedAttempts == 0 && current.LockedUntil == nil {
			return false, nil
		}
		current.ClearLockout()
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrAccountLocked) {
			return nil, ErrAccountLocked
		}
		return nil, accountStoreError("clear login failures", err)
	}
	return updated, nil
}

func (p *LockoutPolicy) publishLocked(ctx context.Context, account *domain.Account, now time.Time) {
	if p.events == nil {
		return
	}
	event := domain.AccountLockedEvent{
		EventID:        uuid.NewString(),
		AccountID:      account.ID,
		FailedAttempts: account.FailedAttempts,
		LockedAt:       now.UTC(),
		LockedUntil:    account.LockedUntil.UTC(),
	}
	if err := p.events.PublishAccountLocked(ctx, event); err != nil {
		p.logger.Warn("publish account locked event", zap.String("account_id", account.ID), zap.Error(err))
	}
}
