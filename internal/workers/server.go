package workers

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/queue"
	"github.com/brandlens/backend/internal/sentry"
)

// Server is the Asynq worker server
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewServer creates a new worker server
func NewServer(redisOpt asynq.RedisClientOpt, syncHandler *SyncHandler, webhookHandler *WebhookHandler) *Server {
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			// Scheduled syncs only hand jobs to the runner, which applies its own bound
			Concurrency: 10,
			// Queue priorities
			Queues: map[string]int{
				queue.QueueCritical: 6,
				queue.QueueDefault:  3,
				queue.QueueLow:      1,
			},
			// Error handler
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error().
					Err(err).
					Str("task_type", task.Type()).
					Bytes("payload", task.Payload()).
					Msg("Task failed")
				sentry.CaptureTaskError(ctx, task.Type(), err)
			}),
			// Logger
			Logger: &asynqLogger{},
		},
	)

	return &Server{
		server: server,
		mux:    NewMux(syncHandler, webhookHandler),
	}
}

// NewMux routes every task type to its handler.
func NewMux(syncHandler *SyncHandler, webhookHandler *WebhookHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()

	// Sync tasks
	mux.HandleFunc(queue.TypeSyncScheduled, syncHandler.HandleScheduledSync)

	// Webhook tasks
	mux.HandleFunc(queue.TypeWebhookSync, webhookHandler.HandleSyncWebhook)

	// Cleanup tasks
	mux.HandleFunc(queue.TypeCleanupJobs, syncHandler.HandleCleanupJobs)

	return mux
}

// Start runs the worker server in the background.
func (s *Server) Start() error {
	log.Info().Msg("Starting Asynq worker server")
	return s.server.Start(s.mux)
}

// Stop gracefully stops the worker server
func (s *Server) Stop() {
	log.Info().Msg("Stopping Asynq worker server")
	s.server.Shutdown()
}

// asynqLogger implements asynq.Logger interface
type asynqLogger struct{}

func (l *asynqLogger) Debug(args ...interface{}) {
	log.Debug().Msgf("%v", args)
}

func (l *asynqLogger) Info(args ...interface{}) {
	log.Info().Msgf("%v", args)
}

func (l *asynqLogger) Warn(args ...interface{}) {
	log.Warn().Msgf("%v", args)
}

func (l *asynqLogger) Error(args ...interface{}) {
	log.Error().Msgf("%v", args)
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	log.Fatal().Msgf("%v", args)
}
