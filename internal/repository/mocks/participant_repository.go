package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ibachev/codeeditor/internal/domain"
)

// ParticipantRepository is a mock of repository.ParticipantRepository.
type ParticipantRepository struct {
	mock.Mock
}

func (m *ParticipantRepository) Find(ctx context.Context, sessionID, username string) (*domain.SessionParticipant, error) {
	args := m.Called(ctx, sessionID, username)
	var p *domain.SessionParticipant
	if args.Get(0) != nil {
		p = args.Get(0).(*domain.SessionParticipant)
	}
	return p, args.Error(1)
}

func (m *ParticipantRepository) FindBySession(ctx context.Context, sessionID string) ([]domain.SessionParticipant, error) {
	args := m.Called(ctx, sessionID)
	var ps []domain.SessionParticipant
	if args.Get(0) != nil {
		ps = args.Get(0).([]domain.SessionParticipant)
	}
	return ps, args.Error(1)
}

func (m *ParticipantRepository) Upsert(ctx context.Context, sessionID string, userID uint, username string, online bool) (*domain.SessionParticipant, error) {
	args := m.Called(ctx, sessionID, userID, username, online)
	var p *domain.SessionParticipant
	if args.Get(0) != nil {
		p = args.Get(0).(*domain.SessionParticipant)
	}
	return p, args.Error(1)
}

func (m *ParticipantRepository) SetMuted(ctx context.Context, sessionID, username string, muted bool) error {
	args := m.Called(ctx, sessionID, username, muted)
	return args.Error(0)
}

func (m *ParticipantRepository) SetKicked(ctx context.Context, sessionID, username string, kicked bool) error {
	args := m.Called(ctx, sessionID, username, kicked)
	return args.Error(0)
}

func (m *ParticipantRepository) SetOnline(ctx context.Context, sessionID, username string, online bool) error {
	args := m.Called(ctx, sessionID, username, online)
	return args.Error(0)
}

func (m *ParticipantRepository) SessionsWithOnline(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	var ids []string
	if args.Get(0) != nil {
		ids = args.Get(0).([]string)
	}
	return ids, args.Error(1)
}

func (m *ParticipantRepository) OnlineUsernames(ctx context.Context, sessionID string) ([]string, error) {
	args := m.Called(ctx, sessionID)
	var names []string
	if args.Get(0) != nil {
		names = args.Get(0).([]string)
	}
	return names, args.Error(1)
}
