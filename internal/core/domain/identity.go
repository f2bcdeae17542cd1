package domain

import "time"

// Profile carries optional self-service fields shown on the account page.
type Profile struct {
	FirstName string
	LastName  string
	Bio       string
	Phone     string
	Location  string
}

// Account mirrors the persisted representation in the accounts table.
type Account struct {
	ID             string
	Username       string
	Email          string
	PasswordHash   string
	IsActive       bool
	IsVerified     bool
	FailedAttempts int
	LockedUntil    *time.Time
	Role           Role
	Profile        Profile
	CreatedAt      time.Time
	UpdatedAt      *time.Time
}

// IsLocked reports whether a lockout window is still open at now.
func (a Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// LockExpired reports whether a recorded lockout window has elapsed at now.
func (a Account) LockExpired(now time.Time) bool {
	return a.LockedUntil != nil && !now.Before(*a.LockedUntil)
}

// ClearLockout zeroes the failure counter and drops any lockout window.
func (a *Account) ClearLockout() {
	a.FailedAttempts = 0
	a.LockedUntil = nil
}

// Sanitized returns a copy safe to hand to callers outside the service layer.
func (a Account) Sanitized() Account {
	a.PasswordHash = ""
	if a.LockedUntil != nil {
		until := *a.LockedUntil
		a.LockedUntil = &until
	}
	return a
}

// OTPPurpose scopes a one-time passcode to a single flow.
type OTPPurpose string

const (
	OTPPurposeRegistration  OTPPurpose = "registration"
	OTPPurposePasswordReset OTPPurpose = "password_reset"
)

// Valid reports whether the purpose is one the service issues codes for.
func (p OTPPurpose) Valid() bool {
	switch p {
	case OTPPurposeRegistration, OTPPurposePasswordReset:
		return true
	default:
		return false
	}
}

// OTPRecord represents a one-time passcode issued to an email address.
type OTPRecord struct {
	ID        string
	Email     string
	Code      string
	Purpose   OTPPurpose
	ExpiresAt time.Time
	IsUsed    bool
	CreatedAt time.Time
}
