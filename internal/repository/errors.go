package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a uniqueness constraint rejected the write.
	ErrConflict = errors.New("repository: conflict")
)

// UniqueViolationError names the column whose uniqueness constraint was violated.
type UniqueViolationError struct {
	Field string
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("repository: duplicate %s", e.Field)
}

// Unwrap lets errors.Is match ErrConflict.
func (e *UniqueViolationError) Unwrap() error {
	return ErrConflict
}
