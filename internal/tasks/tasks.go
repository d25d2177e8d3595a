// Package tasks defines the asynq task types shared by the enqueuing side
// (hub, scheduler) and the worker.
package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// TypePresenceSync mirrors a single identity's online flag into the
	// participants table.
	TypePresenceSync = "presence:sync"

	// TypePresenceReconcile repairs stale online flags left behind by crashed
	// connections or dropped sync tasks. Enqueued periodically.
	TypePresenceReconcile = "presence:reconcile"
)

// PresenceSyncPayload carries one online-flag change.
type PresenceSyncPayload struct {
	SessionID string `json:"session_id"`
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
	Online    bool   `json:"online"`
}

// NewPresenceSyncTask builds a presence:sync task.
func NewPresenceSyncTask(sessionID string, userID uint, username string, online bool) (*asynq.Task, error) {
	payload, err := json.Marshal(PresenceSyncPayload{
		SessionID: sessionID,
		UserID:    userID,
		Username:  username,
		Online:    online,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal presence sync payload: %w", err)
	}
	return asynq.NewTask(TypePresenceSync, payload), nil
}

// NewPresenceReconcileTask builds a presence:reconcile task. It carries no
// payload; the worker scans all sessions flagged online in storage.
func NewPresenceReconcileTask() *asynq.Task {
	return asynq.NewTask(TypePresenceReconcile, nil)
}
