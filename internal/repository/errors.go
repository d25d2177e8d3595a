package repository

import "errors"

// Common repository errors. Implementations map driver errors onto these so
// the service layer can match with errors.Is without knowing the backend.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry indicates a write violated a unique constraint.
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
)

// Per-resource aliases, kept for readable call sites.
var (
	ErrUserNotFound        = ErrNotFound
	ErrSessionNotFound     = ErrNotFound
	ErrParticipantNotFound = ErrNotFound
	ErrCodeNotFound        = ErrNotFound
)
