package repository

import (
	"context"

	"github.com/ibachev/codeeditor/internal/domain"
)

// CodeRepository stores the persisted code buffer of each session.
type CodeRepository interface {
	// FindBySessionID returns the code record of a session, or ErrCodeNotFound
	// when nothing has been saved yet.
	FindBySessionID(ctx context.Context, sessionID string) (*domain.CodeRecord, error)

	// Save creates the record on first save, updates it afterwards.
	Save(ctx context.Context, record *domain.CodeRecord) error
}
