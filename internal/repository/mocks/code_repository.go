package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ibachev/codeeditor/internal/domain"
)

// CodeRepository is a mock of repository.CodeRepository.
type CodeRepository struct {
	mock.Mock
}

func (m *CodeRepository) FindBySessionID(ctx context.Context, sessionID string) (*domain.CodeRecord, error) {
	args := m.Called(ctx, sessionID)
	var record *domain.CodeRecord
	if args.Get(0) != nil {
		record = args.Get(0).(*domain.CodeRecord)
	}
	return record, args.Error(1)
}

func (m *CodeRepository) Save(ctx context.Context, record *domain.CodeRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}
