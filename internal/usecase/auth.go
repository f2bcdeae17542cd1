package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/credential-gate/internal/core/domain"
	"github.com/arklim/credential-gate/internal/core/port"
	"github.com/arklim/credential-gate/internal/infra/logger"
	"github.com/arklim/credential-gate/internal/repository"
)

const (
	passwordChangeReasonReset  = "password_reset"
	passwordChangeReasonChange = "password_change"

	dummyPassword = "credential-gate-timing-equaliser"

	resetDeliveryTimeout = 30 * time.Second
)

// RegisterInput carries the fields accepted at sign-up.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Profile  domain.Profile
}

// AuthService coordinates login, registration and password recovery flows.
type AuthService struct {
	accounts port.AccountRepository
	hasher   port.PasswordHasher
	policy   port.PasswordPolicyValidator
	lockout  *LockoutPolicy
	otps     *OTPService
	events   port.EventPublisher
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string

	deliveries sync.WaitGroup
}

// NewAuthService constructs an AuthService. policy and events may be nil.
func NewAuthService(
	accounts port.AccountRepository,
	hasher port.PasswordHasher,
	policy port.PasswordPolicyValidator,
	lockout *LockoutPolicy,
	otps *OTPService,
	events port.EventPublisher,
	log *zap.Logger,
) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		accounts: accounts,
		hasher:   hasher,
		policy:   policy,
		lockout:  lockout,
		otps:     otps,
		events:   events,
		logger:   log,
		now:      time.Now,
	}
}

// WithMetrics attaches login counters.
func (s *AuthService) WithMetrics(m *Metrics) *AuthService {
	s.metrics = m
	return s
}

// WithClock overrides the time source used for event timestamps.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	if now != nil {
		s.now = now
	}
	return s
}

// Login checks credentials and the lockout state. Unknown usernames and wrong
// passwords are indistinguishable to the caller. Token issuance is left to
// the transport layer.
func (s *AuthService) Login(ctx context.Context, username, password string) (*domain.Account, error) {
	account, err := s.accounts.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.equaliseTiming(password)
			s.metrics.login(LoginOutcomeInvalidCredentials)
			return nil, ErrInvalidCredentials
		}
		s.metrics.login(LoginOutcomeError)
		return nil, storeFault("lookup account", err)
	}

	allowed, account, err := s.lockout.CheckAndMaybeReset(ctx, account)
	if err != nil {
		s.metrics.login(LoginOutcomeError)
		return nil, err
	}
	if !allowed {
		s.metrics.login(LoginOutcomeLocked)
		return nil, ErrAccountLocked
	}

	ok, err := s.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		s.logger.Error("stored password digest is unreadable", zap.String("account_id", account.ID), zap.Error(err))
		ok = false
	}
	if !ok {
		_, alreadyLocked, err := s.lockout.RecordFailure(ctx, account)
		if err != nil {
			s.metrics.login(LoginOutcomeError)
			return nil, err
		}
		if alreadyLocked {
			s.metrics.login(LoginOutcomeLocked)
			return nil, ErrAccountLocked
		}
		s.metrics.login(LoginOutcomeInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	account, err = s.lockout.RecordSuccess(ctx, account)
	if err != nil {
		if errors.Is(err, ErrAccountLocked) {
			s.metrics.login(LoginOutcomeLocked)
		} else {
			s.metrics.login(LoginOutcomeError)
		}
		return nil, err
	}

	if !account.IsVerified {
		s.metrics.login(LoginOutcomeUnverified)
		return nil, ErrEmailNotVerified
	}
	if !account.IsActive {
		s.metrics.login(LoginOutcomeDeactivated)
		return nil, ErrAccountDeactivated
	}

	s.metrics.login(LoginOutcomeSuccess)
	sanitized := account.Sanitized()
	return &sanitized, nil
}

// Register creates an unverified account and emails a registration code. If
// the code cannot be issued or delivered the created account is returned
// together with the error so callers can point the user at a resend.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.Account, error) {
	username := strings.TrimSpace(input.Username)
	email := normalizeEmail(input.Email)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	if _, err := s.accounts.GetByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, storeFault("lookup email", err)
	}
	if _, err := s.accounts.GetByUsername(ctx, username); err == nil {
		return nil, ErrDuplicateUsername
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, storeFault("lookup username", err)
	}

	if err := s.validatePassword(input.Password, username, email); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.accounts.Create(ctx, domain.Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		IsVerified:   false,
		Role:         domain.RoleUser,
		Profile:      input.Profile,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		var unique *repository.UniqueViolationError
		if errors.As(err, &unique) {
			switch unique.Field {
			case "email":
				return nil, ErrDuplicateEmail
			case "username":
				return nil, ErrDuplicateUsername
			}
		}
		return nil, storeFault("create account", err)
	}

	if s.events != nil {
		event := domain.AccountRegisteredEvent{
			EventID:      uuid.NewString(),
			AccountID:    created.ID,
			Username:     created.Username,
			Email:        created.Email,
			RegisteredAt: created.CreatedAt,
		}
		if err := s.events.PublishAccountRegistered(ctx, event); err != nil {
			s.logger.Warn("publish account registered event", zap.String("account_id", created.ID), zap.Error(err))
		}
	}

	sanitized := created.Sanitized()
	if _, err := s.otps.Issue(ctx, email, domain.OTPPurposeRegistration); err != nil {
		return &sanitized, err
	}
	return &sanitized, nil
}

// ConfirmRegistration redeems a registration code and marks the account verified.
func (s *AuthService) ConfirmRegistration(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)
	ok, err := s.otps.Redeem(ctx, email, code, domain.OTPPurposeRegistration)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidOrExpiredCode
	}

	account, err := s.lookupByEmail(ctx, email)
	if err != nil {
		return err
	}

	var verifiedNow bool
	updated, err := s.accounts.Update(ctx, account.ID, func(current *domain.Account) (bool, error) {
		verifiedNow = false
		if current.IsVerified {
			return false, nil
		}
		current.IsVerified = true
		verifiedNow = true
		return true, nil
	})
	if err != nil {
		return accountStoreError("mark account verified", err)
	}

	if verifiedNow && s.events != nil {
		event := domain.AccountVerifiedEvent{
			EventID:    uuid.NewString(),
			AccountID:  updated.ID,
			Email:      updated.Email,
			VerifiedAt: s.now().UTC(),
		}
		if err := s.events.PublishAccountVerified(ctx, event); err != nil {
			s.logger.Warn("publish account verified event", zap.String("account_id", updated.ID), zap.Error(err))
		}
	}
	return nil
}

// ResendVerification issues a fresh registration code for an unverified account.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	account, err := s.lookupByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if account.IsVerified {
		return ErrAlreadyVerified
	}
	_, err = s.otps.Issue(ctx, account.Email, domain.OTPPurposeRegistration)
	return err
}

// RequestPasswordReset emails a reset code when the address belongs to an
// account. The outcome is the same for unknown addresses, throttled requests
// and failed deliveries; only a failing account lookup is reported. Issuing
// and delivering the code run in the background so the response time does
// not depend on whether the account exists.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Debug("password reset requested for unknown email", zap.String("email", logger.MaskEmail(email)))
			return nil
		}
		return storeFault("lookup account", err)
	}

	accountID, address := account.ID, account.Email
	s.deliveries.Add(1)
	go func() {
		defer s.deliveries.Done()
		deliveryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resetDeliveryTimeout)
		defer cancel()

		if _, err := s.otps.Issue(deliveryCtx, address, domain.OTPPurposePasswordReset); err != nil {
			s.logger.Warn("password reset code not sent",
				zap.String("account_id", accountID),
				zap.String("email", logger.MaskEmail(address)),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// WaitForDeliveries blocks until background reset deliveries have finished.
func (s *AuthService) WaitForDeliveries() {
	s.deliveries.Wait()
}

// ResetPassword redeems a reset code, stores the new password and clears any lockout.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = normalizeEmail(email)
	if err := s.validatePassword(newPassword, email); err != nil {
		return err
	}

	ok, err := s.otps.Redeem(ctx, email, code, domain.OTPPurposePasswordReset)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidOrExpiredCode
	}

	account, err := s.lookupByEmail(ctx, email)
	if err != nil {
		return err
	}
	return s.storePassword(ctx, account.ID, newPassword, passwordChangeReasonReset)
}

// ChangePassword replaces the password of an authenticated account. A wrong
// current password leaves the account untouched.
func (s *AuthService) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return accountStoreError("lookup account", err)
	}

	ok, err := s.hasher.Verify(currentPassword, account.PasswordHash)
	if err != nil {
		s.logger.Error("stored password digest is unreadable", zap.String("account_id", account.ID), zap.Error(err))
		return ErrInvalidCurrentPassword
	}
	if !ok {
		return ErrInvalidCurrentPassword
	}

	if err := s.validatePassword(newPassword, account.Username, account.Email); err != nil {
		return err
	}
	return s.storePassword(ctx, account.ID, newPassword, passwordChangeReasonChange)
}

func (s *AuthService) storePassword(ctx context.Context, accountID, password, reason string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if _, err := s.accounts.Update(ctx, accountID, func(current *domain.Account) (bool, error) {
		current.PasswordHash = hash
		current.ClearLockout()
		return true, nil
	}); err != nil {
		return accountStoreError("store password", err)
	}

	if s.events != nil {
		event := domain.PasswordChangedEvent{
			EventID:   uuid.NewString(),
			AccountID: accountID,
			ChangedAt: s.now().UTC(),
			Reason:    reason,
		}
		if err := s.events.PublishPasswordChanged(ctx, event); err != nil {
			s.logger.Warn("publish password changed event", zap.String("account_id", accountID), zap.Error(err))
		}
	}
	return nil
}

func (s *AuthService) validatePassword(password string, userInputs ...string) error {
	if s.policy == nil {
		if password == "" {
			return fmt.Errorf("%w: password is required", ErrPasswordPolicyViolation)
		}
		return nil
	}
	if err := s.policy.Validate(password, userInputs...); err != nil {
		return fmt.Errorf("%w: %w", ErrPasswordPolicyViolation, err)
	}
	return nil
}

func (s *AuthService) lookupByEmail(ctx context.Context, email string) (*domain.Account, error) {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, accountStoreError("lookup account", err)
	}
	return account, nil
}

// equaliseTiming spends one verification on a throwaway digest so unknown
// usernames cost about as much as wrong passwords.
func (s *AuthService) equaliseTiming(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.logger.Warn("prepare dummy password digest", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash == "" {
		return
	}
	_, _ = s.hasher.Verify(password, s.dummyHash)
}

func accountStoreError(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrAccountNotFound
	}
	return storeFault(op, err)
}
