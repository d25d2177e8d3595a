package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ibachev/codeeditor/internal/domain"
	"github.com/ibachev/codeeditor/internal/repository"
)

// GormParticipantRepository implements repository.ParticipantRepository.
type GormParticipantRepository struct {
	db *gorm.DB
}

// NewGormParticipantRepository creates a GormParticipantRepository.
func NewGormParticipantRepository(db *gorm.DB) *GormParticipantRepository {
	if db == nil {
		panic("database connection cannot be nil for GormParticipantRepository")
	}
	return &GormParticipantRepository{db: db}
}

func (r *GormParticipantRepository) Find(ctx context.Context, sessionID, username string) (*domain.SessionParticipant, error) {
	var participant domain.SessionParticipant
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND username = ?", sessionID, username).
		First(&participant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("gorm: find participant (session: %s, username: %s): %w", sessionID, username, err)
	}
	return &participant, nil
}

func (r *GormParticipantRepository) FindBySession(ctx context.Context, sessionID string) ([]domain.SessionParticipant, error) {
	var participants []domain.SessionParticipant
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id").
		Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find participants of session %q: %w", sessionID, err)
	}
	return participants, nil
}

func (r *GormParticipantRepository) Upsert(ctx context.Context, sessionID string, userID uint, username string, online bool) (*domain.SessionParticipant, error) {
	participant, err := r.Find(ctx, sessionID, username)
	if err == nil {
		participant.Online = online
		if saveErr := r.db.WithContext(ctx).Save(participant).Error; saveErr != nil {
			return nil, fmt.Errorf("gorm: update participant (session: %s, username: %s): %w", sessionID, username, saveErr)
		}
		return participant, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	participant = &domain.SessionParticipant{
		SessionID: sessionID,
		Username:  username,
		UserID:    userID,
		Online:    online,
	}
	if createErr := r.db.WithContext(ctx).Create(participant).Error; createErr != nil {
		if isDuplicateEntry(createErr) {
			// Lost a create race with a concurrent join; the row exists now.
			return r.Find(ctx, sessionID, username)
		}
		return nil, fmt.Errorf("gorm: create participant (session: %s, username: %s): %w", sessionID, username, createErr)
	}
	return participant, nil
}

func (r *GormParticipantRepository) SetMuted(ctx context.Context, sessionID, username string, muted bool) error {
	return r.setFlag(ctx, sessionID, username, "muted", muted)
}

func (r *GormParticipantRepository) SetKicked(ctx context.Context, sessionID, username string, kicked bool) error {
	return r.setFlag(ctx, sessionID, username, "kicked", kicked)
}

func (r *GormParticipantRepository) SetOnline(ctx context.Context, sessionID, username string, online bool) error {
	return r.setFlag(ctx, sessionID, username, "online", online)
}

func (r *GormParticipantRepository) setFlag(ctx context.Context, sessionID, username, column string, value bool) error {
	result := r.db.WithContext(ctx).
		Model(&domain.SessionParticipant{}).
		Where("session_id = ? AND username = ?", sessionID, username).
		Update(column, value)
	if result.Error != nil {
		return fmt.Errorf("gorm: set %s for participant (session: %s, username: %s): %w", column, sessionID, username, result.Error)
	}
	return nil
}

func (r *GormParticipantRepository) SessionsWithOnline(ctx context.Context) ([]string, error) {
	var sessionIDs []string
	err := r.db.WithContext(ctx).
		Model(&domain.SessionParticipant{}).
		Where("online = ?", true).
		Distinct().
		Pluck("session_id", &sessionIDs).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list sessions with online participants: %w", err)
	}
	return sessionIDs, nil
}

func (r *GormParticipantRepository) OnlineUsernames(ctx context.Context, sessionID string) ([]string, error) {
	var usernames []string
	err := r.db.WithContext(ctx).
		Model(&domain.SessionParticipant{}).
		Where("session_id = ? AND online = ?", sessionID, true).
		Pluck("username", &usernames).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list online usernames of session %q: %w", sessionID, err)
	}
	return usernames, nil
}
