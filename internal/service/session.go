package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ibachev/codeeditor/internal/domain"
	"github.com/ibachev/codeeditor/internal/repository"
)

// sessionIDLength is the length of the short opaque session identifier.
const sessionIDLength = 12

// SessionService handles session lifecycle and moderation state.
type SessionService struct {
	sessionRepo     repository.SessionRepository
	participantRepo repository.ParticipantRepository
}

// NewSessionService creates a SessionService.
func NewSessionService(sessionRepo repository.SessionRepository, participantRepo repository.ParticipantRepository) *SessionService {
	if sessionRepo == nil {
		panic("SessionRepository cannot be nil for SessionService")
	}
	if participantRepo == nil {
		panic("ParticipantRepository cannot be nil for SessionService")
	}
	return &SessionService{
		sessionRepo:     sessionRepo,
		participantRepo: participantRepo,
	}
}

// CreateSession creates a named session owned by creatorID, with a freshly
// generated unique session id.
func (s *SessionService) CreateSession(ctx context.Context, creatorID uint, name string) (*domain.Session, error) {
	logCtx := logrus.WithFields(logrus.Fields{"creator_id": creatorID, "name": name})

	sessionID, err := s.generateUniqueSessionID(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate unique session id")
		return nil, ErrInternalServer
	}
	logCtx = logCtx.WithField("session_id", sessionID)

	session := &domain.Session{
		SessionID: sessionID,
		Name:      name,
		CreatorID: creatorID,
	}
	if err := s.sessionRepo.Save(ctx, session); err != nil {
		logCtx.WithError(err).Error("Failed to save new session")
		return nil, ErrInternalServer
	}

	logCtx.Info("Session created successfully")
	return session, nil
}

// GetSession returns a session with creator, participants and code loaded.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.sessionRepo.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to load session")
		return nil, ErrInternalServer
	}
	return session, nil
}

// SessionsByUser returns the sessions the user created and the ones it joined.
func (s *SessionService) SessionsByUser(ctx context.Context, userID uint) (created, joined []domain.Session, err error) {
	logCtx := logrus.WithField("user_id", userID)

	created, err = s.sessionRepo.FindByCreator(ctx, userID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list created sessions")
		return nil, nil, ErrInternalServer
	}
	joined, err = s.sessionRepo.FindJoinedByUser(ctx, userID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list joined sessions")
		return nil, nil, ErrInternalServer
	}
	return created, joined, nil
}

// Participants returns every participant row of a session.
func (s *SessionService) Participants(ctx context.Context, sessionID string) ([]domain.SessionParticipant, error) {
	participants, err := s.participantRepo.FindBySession(ctx, sessionID)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to list participants")
		return nil, ErrInternalServer
	}
	return participants, nil
}

// JoinSession upserts the participant row for a connecting user. The creator
// gets a row too so moderation flags apply uniformly.
func (s *SessionService) JoinSession(ctx context.Context, identity Identity, sessionID string) error {
	_, err := s.participantRepo.Upsert(ctx, sessionID, identity.UserID, identity.Username, true)
	if err != nil {
		return fmt.Errorf("join session %q as %q: %w", sessionID, identity.Username, err)
	}
	return nil
}

// KickFromSession flips the kicked flag to true for the target user. Unlike
// the realtime toggle, this HTTP path is creator-only.
func (s *SessionService) KickFromSession(ctx context.Context, actor Identity, sessionID string, targetUserID uint) error {
	logCtx := logrus.WithFields(logrus.Fields{
		"session_id":  sessionID,
		"actor":       actor.Username,
		"target_user": targetUserID,
	})

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.CreatorID != actor.UserID {
		logCtx.Warn("Kick rejected: actor is not the session creator")
		return ErrForbidden
	}

	var target *domain.SessionParticipant
	for i := range session.Participants {
		if session.Participants[i].UserID == targetUserID {
			target = &session.Participants[i]
			break
		}
	}
	if target == nil {
		return ErrParticipantNotFound
	}

	if err := s.participantRepo.SetKicked(ctx, sessionID, target.Username, true); err != nil {
		logCtx.WithError(err).Error("Failed to persist kick")
		return ErrInternalServer
	}
	logCtx.Info("Participant kicked via HTTP endpoint")
	return nil
}

// SetLock persists the session lock flag.
func (s *SessionService) SetLock(ctx context.Context, sessionID string, locked bool) error {
	if err := s.sessionRepo.SetLock(ctx, sessionID, locked); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to persist lock state")
		return ErrInternalServer
	}
	return nil
}

// DeleteSession removes the session and everything attached to it.
func (s *SessionService) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.sessionRepo.Delete(ctx, sessionID); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to delete session")
		return ErrInternalServer
	}
	return nil
}

// generateUniqueSessionID derives a short hex id from random bytes, retrying
// on the (unlikely) collision.
func (s *SessionService) generateUniqueSessionID(ctx context.Context) (string, error) {
	const maxAttempts = 10

	for attempt := 0; attempt < maxAttempts; attempt++ {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		sum := sha256.Sum256(buf)
		id := hex.EncodeToString(sum[:])[:sessionIDLength]

		taken, err := s.sessionRepo.IsSessionIDTaken(ctx, id)
		if err != nil {
			return "", fmt.Errorf("database error checking session id: %w", err)
		}
		if !taken {
			return id, nil
		}
		logrus.WithField("session_id", id).Warnf("Generated session id already exists, retrying (attempt %d)", attempt+1)
	}
	return "", fmt.Errorf("failed to generate a unique session id after %d attempts", maxAttempts)
}
