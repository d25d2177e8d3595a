package repository

import (
	"context"

	"github.com/ibachev/codeeditor/internal/domain"
)

// ParticipantRepository stores the per-(session, user) moderation state.
type ParticipantRepository interface {
	// Find returns the participant row for (sessionID, username), or
	// ErrParticipantNotFound.
	Find(ctx context.Context, sessionID, username string) (*domain.SessionParticipant, error)

	// FindBySession returns every participant of a session.
	FindBySession(ctx context.Context, sessionID string) ([]domain.SessionParticipant, error)

	// Upsert creates the participant row on first join, otherwise updates its
	// online flag. Moderation flags are never touched here.
	Upsert(ctx context.Context, sessionID string, userID uint, username string, online bool) (*domain.SessionParticipant, error)

	// SetMuted persists the muted flag for (sessionID, username).
	SetMuted(ctx context.Context, sessionID, username string, muted bool) error

	// SetKicked persists the kicked flag for (sessionID, username).
	SetKicked(ctx context.Context, sessionID, username string, kicked bool) error

	// SetOnline persists the denormalized online flag for (sessionID, username).
	SetOnline(ctx context.Context, sessionID, username string, online bool) error

	// SessionsWithOnline returns the distinct session ids that currently have
	// at least one participant row with online=true. Used by the presence
	// reconcile task to repair the mirror after restarts.
	SessionsWithOnline(ctx context.Context) ([]string, error)

	// OnlineUsernames returns the usernames marked online for a session.
	OnlineUsernames(ctx context.Context, sessionID string) ([]string, error)
}
