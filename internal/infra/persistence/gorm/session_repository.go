package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ibachev/codeeditor/internal/domain"
	"github.com/ibachev/codeeditor/internal/repository"
)

// GormSessionRepository implements repository.SessionRepository.
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a GormSessionRepository.
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSessionRepository")
	}
	return &GormSessionRepository{db: db}
}

func (r *GormSessionRepository) FindBySessionID(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).
		Preload("Creator").
		Preload("Participants").
		Preload("Code").
		Where("session_id = ?", sessionID).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("gorm: find session by session id %q: %w", sessionID, err)
	}
	return &session, nil
}

func (r *GormSessionRepository) FindByCreator(ctx context.Context, userID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Preload("Creator").
		Preload("Participants").
		Where("creator_id = ?", userID).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find sessions by creator %d: %w", userID, err)
	}
	return sessions, nil
}

func (r *GormSessionRepository) FindJoinedByUser(ctx context.Context, userID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Preload("Creator").
		Preload("Participants").
		Joins("JOIN session_participants ON session_participants.session_id = sessions.session_id").
		Where("session_participants.user_id = ? AND sessions.creator_id <> ?", userID, userID).
		Distinct().
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find joined sessions for user %d: %w", userID, err)
	}
	return sessions, nil
}

func (r *GormSessionRepository) Save(ctx context.Context, session *domain.Session) error {
	// Omit associations so saving a session never cascades into participant
	// or code rows owned by their own repositories.
	err := r.db.WithContext(ctx).Omit("Creator", "Participants", "Code").Save(session).Error
	if err != nil {
		if isDuplicateEntry(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save session (id: %d, session_id: %s): %w", session.ID, session.SessionID, err)
	}
	return nil
}

func (r *GormSessionRepository) SetLock(ctx context.Context, sessionID string, locked bool) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("session_id = ?", sessionID).
		Update("is_locked", locked)
	if result.Error != nil {
		return fmt.Errorf("gorm: set lock for session %q: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		// Also zero when the flag already holds the requested value; check
		// existence before reporting not-found.
		taken, err := r.IsSessionIDTaken(ctx, sessionID)
		if err != nil {
			return err
		}
		if !taken {
			return repository.ErrSessionNotFound
		}
	}
	return nil
}

func (r *GormSessionRepository) Delete(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&domain.SessionParticipant{}).Error; err != nil {
			return fmt.Errorf("gorm: delete participants of session %q: %w", sessionID, err)
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&domain.CodeRecord{}).Error; err != nil {
			return fmt.Errorf("gorm: delete code record of session %q: %w", sessionID, err)
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&domain.Session{}).Error; err != nil {
			return fmt.Errorf("gorm: delete session %q: %w", sessionID, err)
		}
		return nil
	})
}

func (r *GormSessionRepository) IsSessionIDTaken(ctx context.Context, sessionID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count sessions by session id %q: %w", sessionID, err)
	}
	return count > 0, nil
}
