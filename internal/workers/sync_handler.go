package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/jobs"
	"github.com/brandlens/backend/internal/metrics"
	"github.com/brandlens/backend/internal/models"
	"github.com/brandlens/backend/internal/queue"
)

// DefaultRetentionDays applies when a cleanup task carries no window.
const DefaultRetentionDays = 90

// SyncHandler handles sync-related tasks
type SyncHandler struct {
	ledger *jobs.Ledger
	runner *jobs.Runner
	orch   *Orchestrator
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(ledger *jobs.Ledger, runner *jobs.Runner, orch *Orchestrator) *SyncHandler {
	return &SyncHandler{ledger: ledger, runner: runner, orch: orch}
}

// StartSync records a job and hands it to the runner. It is shared by the
// HTTP trigger and scheduled tasks.
func StartSync(ctx context.Context, ledger *jobs.Ledger, runner *jobs.Runner, orch *Orchestrator, syncType models.SyncType, params models.SyncParams, userRef *string) (string, *jobs.Handle, error) {
	jobID, err := ledger.CreateJob(ctx, syncType, userRef, params.Map())
	if err != nil {
		return "", nil, err
	}

	handle, err := runner.Start(jobID, orch.Job(jobID, syncType, params))
	if err != nil {
		jobs.BestEffort("fail_unstarted", func() error {
			return ledger.Fail(context.WithoutCancel(ctx), jobID, "failed to start job: "+err.Error())
		})
		return jobID, nil, err
	}

	metrics.JobsStarted.WithLabelValues(string(syncType)).Inc()
	log.Info().
		Str("job_id", jobID).
		Str("sync_type", string(syncType)).
		Msg("Sync job started")
	return jobID, handle, nil
}

// HandleScheduledSync creates a job for the scheduled sync and blocks until
// it ends. The job outcome lives in the ledger, so only failures to start
// the job fail the task.
func (h *SyncHandler) HandleScheduledSync(ctx context.Context, task *asynq.Task) error {
	var payload queue.ScheduledSyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	syncType, err := models.ParseSyncType(string(payload.SyncType))
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	var requestedBy *string
	if payload.RequestedBy != "" {
		requestedBy = models.String(payload.RequestedBy)
	}

	jobID, handle, err := StartSync(ctx, h.ledger, h.runner, h.orch, syncType, payload.Params, requestedBy)
	if err != nil {
		return fmt.Errorf("failed to start scheduled sync: %w", err)
	}

	if err := handle.Wait(ctx); err != nil {
		// The task deadline or a worker shutdown ended the wait
		if _, cerr := h.runner.Cancel(context.WithoutCancel(ctx), jobID); cerr != nil {
			log.Error().Err(cerr).Str("job_id", jobID).Msg("Failed to cancel abandoned scheduled sync")
		}
		return err
	}

	job, err := h.ledger.GetJob(ctx, jobID)
	if err == nil && job != nil {
		log.Info().
			Str("job_id", jobID).
			Str("sync_type", string(syncType)).
			Str("status", string(job.Status)).
			Msg("Scheduled sync finished")
	}
	return nil
}

// HandleCleanupJobs deletes finished jobs past the retention window.
func (h *SyncHandler) HandleCleanupJobs(ctx context.Context, task *asynq.Task) error {
	var payload queue.CleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	days := payload.OlderThanDays
	if days <= 0 {
		days = DefaultRetentionDays
	}

	deleted, err := h.ledger.Sweep(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("failed to sweep jobs: %w", err)
	}

	log.Info().
		Int64("deleted", deleted).
		Int("older_than_days", days).
		Msg("Cleaned up finished sync jobs")
	return nil
}
