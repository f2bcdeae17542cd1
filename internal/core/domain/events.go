package domain

import "time"

// AccountRegisteredEvent represents the payload for gate.account.registered messages.
type AccountRegisteredEvent struct {
	EventID      string
	AccountID    string
	Username     string
	Email        string
	RegisteredAt time.Time
}

// AccountVerifiedEvent represents the payload for gate.account.verified messages.
type AccountVerifiedEvent struct {
	EventID    string
	AccountID  string
	Email      string
	VerifiedAt time.Time
}

// AccountLockedEvent represents the payload for gate.account.locked messages.
type AccountLockedEvent struct {
	EventID        string
	AccountID      string
	FailedAttempts int
	LockedAt       time.Time
	LockedUntil    time.Time
}

// PasswordChangedEvent represents the payload for gate.account.password.changed messages.
type PasswordChangedEvent struct {
	EventID   string
	AccountID string
	ChangedAt time.Time
	// Reason is either "password_reset" or "password_change".
	Reason string
}
