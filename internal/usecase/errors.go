package usecase

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials indicates the username is unknown or the password does not match.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrAccountLocked indicates the account is inside an active lockout window.
	ErrAccountLocked = errors.New("account is temporarily locked")
	// ErrEmailNotVerified indicates the account has not redeemed its registration code yet.
	ErrEmailNotVerified = errors.New("email address is not verified")
	// ErrAccountDeactivated indicates an administrator disabled the account.
	ErrAccountDeactivated = errors.New("account is deactivated")
	// ErrDuplicateEmail indicates another account already owns the email address.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateUsername indicates another account already owns the username.
	ErrDuplicateUsername = errors.New("username already taken")
	// ErrInvalidOrExpiredCode indicates a one-time code could not be redeemed.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	// ErrInvalidCurrentPassword indicates the current password supplied for a change is wrong.
	ErrInvalidCurrentPassword = errors.New("current password is incorrect")
	// ErrVerificationDeliveryFailed indicates a code was issued but its email could not be sent.
	ErrVerificationDeliveryFailed = errors.New("failed to deliver verification email")
	// ErrStoreUnavailable indicates the backing store rejected or failed an operation.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrAccountNotFound indicates no account matches the supplied identifier.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAlreadyVerified indicates the account already confirmed its email address.
	ErrAlreadyVerified = errors.New("email is already verified")
	// ErrPasswordPolicyViolation indicates the password does not satisfy the configured policy.
	ErrPasswordPolicyViolation = errors.New("password does not meet policy requirements")
	// ErrCannotModifySelf indicates an administrator tried to demote or deactivate their own account.
	ErrCannotModifySelf = errors.New("cannot modify own account")
	// ErrInvalidRole indicates a role outside the user/moderator/admin hierarchy.
	ErrInvalidRole = errors.New("invalid role")
)

// RateLimitExceededError reports a throttled operation and when it may be retried.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Scope, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Scope)
}

func storeFault(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
