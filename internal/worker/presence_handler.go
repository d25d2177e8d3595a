package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ibachev/codeeditor/internal/presence"
	"github.com/ibachev/codeeditor/internal/repository"
	"github.com/ibachev/codeeditor/internal/tasks"
)

// PresenceSyncHandler mirrors one online-flag change into the participants
// table.
type PresenceSyncHandler struct {
	participantRepo repository.ParticipantRepository
}

// NewPresenceSyncHandler creates a PresenceSyncHandler.
func NewPresenceSyncHandler(participantRepo repository.ParticipantRepository) *PresenceSyncHandler {
	if participantRepo == nil {
		panic("ParticipantRepository cannot be nil for PresenceSyncHandler")
	}
	return &PresenceSyncHandler{participantRepo: participantRepo}
}

// ProcessTask implements asynq.Handler.
func (h *PresenceSyncHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.PresenceSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		// Malformed payloads can never succeed; skip retries.
		return fmt.Errorf("unmarshal presence sync payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"task_type":  t.Type(),
		"session_id": payload.SessionID,
		"username":   payload.Username,
		"online":     payload.Online,
	})

	// Upsert instead of a bare update so a join racing participant creation
	// still lands.
	if _, err := h.participantRepo.Upsert(ctx, payload.SessionID, payload.UserID, payload.Username, payload.Online); err != nil {
		logCtx.WithError(err).Warn("Presence sync upsert failed")
		return fmt.Errorf("presence sync for %s/%s: %w", payload.SessionID, payload.Username, err)
	}
	logCtx.Debug("Presence mirror updated")
	return nil
}

// PresenceReconcileHandler repairs stale online flags: rows marked online in
// storage whose identity has no live connection are flipped back to offline.
type PresenceReconcileHandler struct {
	participantRepo repository.ParticipantRepository
	registry        *presence.Registry
}

// NewPresenceReconcileHandler creates a PresenceReconcileHandler.
func NewPresenceReconcileHandler(participantRepo repository.ParticipantRepository, registry *presence.Registry) *PresenceReconcileHandler {
	if participantRepo == nil {
		panic("ParticipantRepository cannot be nil for PresenceReconcileHandler")
	}
	if registry == nil {
		panic("presence Registry cannot be nil for PresenceReconcileHandler")
	}
	return &PresenceReconcileHandler{participantRepo: participantRepo, registry: registry}
}

// ProcessTask implements asynq.Handler.
func (h *PresenceReconcileHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())
	logCtx.Info("Running presence reconcile...")

	scanCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	sessionIDs, err := h.participantRepo.SessionsWithOnline(scanCtx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list sessions with online participants")
		return fmt.Errorf("list sessions with online participants: %w", err)
	}
	if len(sessionIDs) == 0 {
		logCtx.Debug("No online-flagged sessions, nothing to reconcile")
		return nil
	}

	repaired := 0
	for _, sessionID := range sessionIDs {
		usernames, err := h.participantRepo.OnlineUsernames(scanCtx, sessionID)
		if err != nil {
			logCtx.WithError(err).WithField("session_id", sessionID).Warn("Failed to list online usernames, skipping session")
			continue
		}
		for _, username := range usernames {
			if h.registry.IsOnline(sessionID, username) {
				continue
			}
			if err := h.participantRepo.SetOnline(scanCtx, sessionID, username, false); err != nil {
				logCtx.WithError(err).WithFields(logrus.Fields{
					"session_id": sessionID,
					"username":   username,
				}).Warn("Failed to repair stale online flag")
				continue
			}
			repaired++
		}
	}

	logCtx.WithField("repaired", repaired).Info("Presence reconcile completed")
	return nil
}
