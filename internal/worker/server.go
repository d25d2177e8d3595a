// Package worker runs the asynq server processing background tasks: the
// presence mirror sync and the periodic presence reconcile.
package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ibachev/codeeditor/internal/presence"
	"github.com/ibachev/codeeditor/internal/repository"
	"github.com/ibachev/codeeditor/internal/tasks"
)

// WorkerServer wraps the asynq server lifecycle.
type WorkerServer struct {
	server          *asynq.Server
	log             *logrus.Entry
	participantRepo repository.ParticipantRepository
	registry        *presence.Registry
}

// NewWorkerServer creates a WorkerServer.
func NewWorkerServer(redisOpt asynq.RedisClientOpt, participantRepo repository.ParticipantRepository, registry *presence.Registry, logger *logrus.Logger) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID := ""
				if rw := task.ResultWriter(); rw != nil {
					taskID = rw.TaskID()
				}
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID,
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	return &WorkerServer{
		server:          server,
		log:             logEntry,
		participantRepo: participantRepo,
		registry:        registry,
	}
}

// Start runs the worker server. Call it from its own goroutine.
func (ws *WorkerServer) Start() {
	mux := asynq.NewServeMux()

	syncHandler := NewPresenceSyncHandler(ws.participantRepo)
	mux.HandleFunc(tasks.TypePresenceSync, syncHandler.ProcessTask)

	reconcileHandler := NewPresenceReconcileHandler(ws.participantRepo, ws.registry)
	mux.HandleFunc(tasks.TypePresenceReconcile, reconcileHandler.ProcessTask)

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(mux); err != nil {
		if !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		} else {
			ws.log.Info("Worker server stopped.")
		}
	}
}

// Shutdown gracefully stops the worker server.
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
