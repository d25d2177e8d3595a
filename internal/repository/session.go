package repository

import (
	"context"

	"github.com/ibachev/codeeditor/internal/domain"
)

// SessionRepository stores and retrieves collaborative sessions. All lookups
// key on the short opaque SessionID string, not the numeric primary key.
type SessionRepository interface {
	// FindBySessionID returns the session with creator, participants and code
	// record loaded, or ErrSessionNotFound.
	FindBySessionID(ctx context.Context, sessionID string) (*domain.Session, error)

	// FindByCreator returns sessions created by the given user.
	FindByCreator(ctx context.Context, userID uint) ([]domain.Session, error)

	// FindJoinedByUser returns sessions the user participates in but did not
	// create.
	FindJoinedByUser(ctx context.Context, userID uint) ([]domain.Session, error)

	// Save creates the session when its ID is zero, updates it otherwise.
	// Returns ErrDuplicateEntry on a session id collision.
	Save(ctx context.Context, session *domain.Session) error

	// SetLock persists the lock flag. Returns ErrSessionNotFound when no such
	// session exists.
	SetLock(ctx context.Context, sessionID string, locked bool) error

	// Delete removes the session and its dependent rows.
	Delete(ctx context.Context, sessionID string) error

	// IsSessionIDTaken reports whether a session id is already in use.
	IsSessionIDTaken(ctx context.Context, sessionID string) (bool, error)
}
