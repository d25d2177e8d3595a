package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ibachev/codeeditor/internal/domain"
	"github.com/ibachev/codeeditor/internal/repository"
)

// GormCodeRepository implements repository.CodeRepository.
type GormCodeRepository struct {
	db *gorm.DB
}

// NewGormCodeRepository creates a GormCodeRepository.
func NewGormCodeRepository(db *gorm.DB) *GormCodeRepository {
	if db == nil {
		panic("database connection cannot be nil for GormCodeRepository")
	}
	return &GormCodeRepository{db: db}
}

func (r *GormCodeRepository) FindBySessionID(ctx context.Context, sessionID string) (*domain.CodeRecord, error) {
	var record domain.CodeRecord
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrCodeNotFound
		}
		return nil, fmt.Errorf("gorm: find code record for session %q: %w", sessionID, err)
	}
	return &record, nil
}

func (r *GormCodeRepository) Save(ctx context.Context, record *domain.CodeRecord) error {
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		if isDuplicateEntry(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save code record (session: %s): %w", record.SessionID, err)
	}
	return nil
}
