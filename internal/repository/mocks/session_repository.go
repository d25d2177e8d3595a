package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ibachev/codeeditor/internal/domain"
)

// SessionRepository is a mock of repository.SessionRepository.
type SessionRepository struct {
	mock.Mock
}

func (m *SessionRepository) FindBySessionID(ctx context.Context, sessionID string) (*domain.Session, error) {
	args := m.Called(ctx, sessionID)
	var session *domain.Session
	if args.Get(0) != nil {
		session = args.Get(0).(*domain.Session)
	}
	return session, args.Error(1)
}

func (m *SessionRepository) FindByCreator(ctx context.Context, userID uint) ([]domain.Session, error) {
	args := m.Called(ctx, userID)
	var sessions []domain.Session
	if args.Get(0) != nil {
		sessions = args.Get(0).([]domain.Session)
	}
	return sessions, args.Error(1)
}

func (m *SessionRepository) FindJoinedByUser(ctx context.Context, userID uint) ([]domain.Session, error) {
	args := m.Called(ctx, userID)
	var sessions []domain.Session
	if args.Get(0) != nil {
		sessions = args.Get(0).([]domain.Session)
	}
	return sessions, args.Error(1)
}

func (m *SessionRepository) Save(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *SessionRepository) SetLock(ctx context.Context, sessionID string, locked bool) error {
	args := m.Called(ctx, sessionID, locked)
	return args.Error(0)
}

func (m *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *SessionRepository) IsSessionIDTaken(ctx context.Context, sessionID string) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}
