package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ibachev/codeeditor/internal/domain"
	"github.com/ibachev/codeeditor/internal/infra/piston"
	"github.com/ibachev/codeeditor/internal/repository"
)

// Executor submits source code to the remote sandbox and returns its output.
type Executor interface {
	Execute(ctx context.Context, language, source string) (string, error)
}

// CodeService handles explicit code saves and remote execution.
type CodeService struct {
	codeRepo    repository.CodeRepository
	sessionRepo repository.SessionRepository
	executor    Executor
}

// NewCodeService creates a CodeService.
func NewCodeService(codeRepo repository.CodeRepository, sessionRepo repository.SessionRepository, executor Executor) *CodeService {
	if codeRepo == nil {
		panic("CodeRepository cannot be nil for CodeService")
	}
	if sessionRepo == nil {
		panic("SessionRepository cannot be nil for CodeService")
	}
	if executor == nil {
		panic("Executor cannot be nil for CodeService")
	}
	return &CodeService{
		codeRepo:    codeRepo,
		sessionRepo: sessionRepo,
		executor:    executor,
	}
}

// SaveCode flushes the given buffer into the session's code record, creating
// the record on first save.
func (s *CodeService) SaveCode(ctx context.Context, sessionID, code string) (*domain.CodeRecord, error) {
	logCtx := logrus.WithField("session_id", sessionID)

	record, err := s.codeRepo.FindBySessionID(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, repository.ErrCodeNotFound) {
			logCtx.WithError(err).Error("Failed to load code record")
			return nil, ErrInternalServer
		}
		// First save for this session; make sure it exists before attaching
		// a record to it.
		taken, existsErr := s.sessionRepo.IsSessionIDTaken(ctx, sessionID)
		if existsErr != nil {
			logCtx.WithError(existsErr).Error("Failed to check session existence")
			return nil, ErrInternalServer
		}
		if !taken {
			return nil, ErrSessionNotFound
		}
		record = &domain.CodeRecord{SessionID: sessionID}
	}

	record.Code = code
	if err := s.codeRepo.Save(ctx, record); err != nil {
		logCtx.WithError(err).Error("Failed to save code record")
		return nil, ErrInternalServer
	}
	logCtx.Debug("Code record saved")
	return record, nil
}

// RunCode executes the buffer remotely, persists both the buffer and the
// trimmed output, and returns the output. Timeouts surface as
// ErrExecutionTimeout, other upstream failures as ErrExecutionFailed.
func (s *CodeService) RunCode(ctx context.Context, sessionID, language, code string) (string, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "language": language})

	output, err := s.executor.Execute(ctx, language, code)
	if err != nil {
		if errors.Is(err, piston.ErrTimeout) {
			logCtx.Warn("Code execution timed out")
			return "", ErrExecutionTimeout
		}
		logCtx.WithError(err).Warn("Code execution failed")
		return "", ErrExecutionFailed
	}
	result := strings.TrimSpace(output)

	record, err := s.SaveCode(ctx, sessionID, code)
	if err != nil {
		return "", err
	}
	record.Result = result
	if err := s.codeRepo.Save(ctx, record); err != nil {
		logCtx.WithError(err).Error("Failed to persist execution result")
		return "", ErrInternalServer
	}

	logCtx.Debug("Code executed and result persisted")
	return result, nil
}
