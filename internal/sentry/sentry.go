package sentry

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// InitSentry configures error tracking and returns the fiber middleware
// that captures request panics. A blank dsn disables tracking and returns
// a nil handler.
func InitSentry(dsn string, environment string, release string) (fiber.Handler, error) {
	if dsn == "" {
		log.Warn().Msg("Sentry DSN not configured; error tracking disabled")
		return nil, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		TracesSampleRate: 0.1,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			if event.Level == sentry.LevelFatal {
				if event.Tags == nil {
					event.Tags = make(map[string]string)
				}
				event.Tags["error_type"] = "unhandled_panic"
			}
			return event
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Sentry: %w", err)
	}

	log.Info().Str("environment", environment).Msg("Sentry initialized for error tracking")
	handler := sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         5 * time.Second,
	})

	return handler, nil
}

// CaptureErrorWithContext reports a request error together with its route.
func CaptureErrorWithContext(c *fiber.Ctx, err error, statusCode int, operation string) {
	if hub := sentryfiber.GetHubFromContext(c); hub != nil {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("operation", operation)
			scope.SetTag("http_status", fmt.Sprintf("%d", statusCode))
			scope.SetExtra("request_method", c.Method())
			scope.SetExtra("request_path", c.Path())
			hub.CaptureException(err)
		})
	}
}

// CaptureJobPanic reports a panic recovered inside a sync job. It matches
// the runner's panic handler signature.
func CaptureJobPanic(jobID string, recovered any, stack []byte) {
	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		scope.SetTag("job_id", jobID)
		scope.SetTag("operation", "sync_job")
		scope.SetExtra("stack", string(stack))
		hub.Recover(recovered)
	})
}

// CaptureTaskError reports a failed queue task.
func CaptureTaskError(ctx context.Context, taskType string, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("operation", "task")
		scope.SetTag("task_type", taskType)
		hub.CaptureException(err)
	})
}

// Flush waits for buffered events to be delivered.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}
