// Package storeerrors provides a generic sentinel error vocabulary for store
// backends, plus small input-validation and pagination helpers for
// admin-facing list operations. No store backend in this module imports it;
// each reports its own errors.
package storeerrors

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when appending a duplicate key.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned on a failed compare-and-set (e.g. an outbox
	// claim attempt that lost the race).
	ErrConflict = errors.New("conflict")

	// ErrStoreUnavailable is returned for transport/connectivity failures
	// against a backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// NotFoundError wraps ErrNotFound with identifying context.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s with id %q not found", e.Entity, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Entity)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error is a compare-and-set conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

var alphanumericRegex = regexp.MustCompile(`^[a-zA-Z0-9_:.-]+$`)

// ValidateKey validates a domain key or entry id used as a store lookup key.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidInput)
	}
	if len(key) > 256 {
		return fmt.Errorf("%w: key too long", ErrInvalidInput)
	}
	if !alphanumericRegex.MatchString(key) {
		return fmt.Errorf("%w: invalid key format", ErrInvalidInput)
	}
	return nil
}

// SanitizeString strips control characters and trims whitespace, used when
// persisting free-form payload strings.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// PaginationParams holds pagination parameters for DLQ/outbox admin listing.
type PaginationParams struct {
	Limit  int
	Offset int
}

// DefaultPagination returns default pagination parameters.
func DefaultPagination() PaginationParams {
	return PaginationParams{Limit: 50, Offset: 0}
}

// NewPagination creates validated pagination parameters.
func NewPagination(limit, offset int) PaginationParams {
	return PaginationParams{
		Limit:  ValidateLimit(limit, 50, 1000),
		Offset: ValidateOffset(offset),
	}
}

// ValidateLimit validates and normalizes a limit parameter.
func ValidateLimit(limit, defaultLimit, maxLimit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// ValidateOffset validates an offset parameter.
func ValidateOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
