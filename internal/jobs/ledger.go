// Package jobs holds the sync job ledger and the runner that executes
// sync work as cancellable background tasks.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/models"
)

// ErrJobNotFound is returned when a job id is unknown to the ledger.
var ErrJobNotFound = errors.New("sync job not found")

// Store persists sync jobs. UpdateJob must serialize concurrent updates to
// the same id: fn sees the committed row and its patch is applied atomically.
// GetJob and UpdateJob return nil without error for an unknown id.
type Store interface {
	InsertJob(ctx context.Context, job *models.SyncJob) error
	GetJob(ctx context.Context, id string) (*models.SyncJob, error)
	UpdateJob(ctx context.Context, id string, fn func(*models.SyncJob) (*models.JobPatch, error)) (*models.SyncJob, error)
	ListJobs(ctx context.Context, filter models.JobFilter) ([]models.SyncJob, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Notification is emitted after every persisted job update.
type Notification struct {
	JobID     string           `json:"job_id"`
	SyncType  models.SyncType  `json:"sync_type"`
	TenantRef string           `json:"tenant_ref,omitempty"`
	Status    models.JobStatus `json:"status"`
	Message   string           `json:"message"`
	Progress  int              `json:"progress"`
}

// Notifier receives job status signals.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// StatusUpdate is a partial status change. An empty Status keeps the
// current one.
type StatusUpdate struct {
	Status         models.JobStatus
	Progress       *int
	CurrentStep    *string
	TotalSteps     *int
	CompletedSteps *int
	ErrorMessage   *string
}

// Ledger is the source of truth for sync job state.
type Ledger struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

// NewLedger creates a ledger. notifier may be nil.
func NewLedger(store Store, notifier Notifier) *Ledger {
	return &Ledger{store: store, notifier: notifier, now: time.Now}
}

// CreateJob records a new pending job and returns its id.
func (l *Ledger) CreateJob(ctx context.Context, syncType models.SyncType, userRef *string, params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	job := &models.SyncJob{
		ID:         uuid.New().String(),
		SyncType:   syncType,
		UserRef:    userRef,
		Status:     models.JobStatusPending,
		Progress:   0,
		Parameters: params,
		CreatedAt:  l.now().UTC(),
	}
	if err := l.store.InsertJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create sync job: %w", err)
	}

	log.Info().
		Str("job_id", job.ID).
		Str("sync_type", string(syncType)).
		Msg("Sync job created")

	l.notify(ctx, job, "Sync queued")
	return job.ID, nil
}

// UpdateStatus applies a status and progress change. Updates to a terminal
// job are ignored.
func (l *Ledger) UpdateStatus(ctx context.Context, id string, u StatusUpdate) error {
	message := ""
	if u.CurrentStep != nil {
		message = *u.CurrentStep
	}
	return l.transition(ctx, id, u.Status, message, func(job *models.SyncJob, p *models.JobPatch) {
		if u.Progress != nil {
			progress := clampProgress(*u.Progress)
			if progress < job.Progress {
				progress = job.Progress
			}
			p.Progress = &progress
		}
		p.CurrentStep = u.CurrentStep
		p.TotalSteps = u.TotalSteps
		p.CompletedSteps = u.CompletedSteps
		p.ErrorMessage = u.ErrorMessage
	})
}

// Complete finishes a job with a result payload. status defaults to completed.
func (l *Ledger) Complete(ctx context.Context, id string, result map[string]any, status models.JobStatus) error {
	if status == "" {
		status = models.JobStatusCompleted
	}
	if !status.IsTerminal() {
		return fmt.Errorf("%w: complete with non-terminal status %s", ErrInvalidTransition, status)
	}
	return l.transition(ctx, id, status, "Sync "+string(status), func(job *models.SyncJob, p *models.JobPatch) {
		if result == nil {
			result = map[string]any{}
		}
		p.Result = result
		if status == models.JobStatusCompleted {
			full := 100
			p.Progress = &full
			total := job.TotalSteps
			p.CompletedSteps = &total
		}
	})
}

// FailWithResult finishes a job as failed while keeping its result payload.
func (l *Ledger) FailWithResult(ctx context.Context, id, errorMessage string, result map[string]any) error {
	return l.transition(ctx, id, models.JobStatusFailed, errorMessage, func(_ *models.SyncJob, p *models.JobPatch) {
		p.ErrorMessage = &errorMessage
		p.Result = result
	})
}

// Fail finishes a job as failed with a contextualized error message.
func (l *Ledger) Fail(ctx context.Context, id, errorMessage string) error {
	return l.transition(ctx, id, models.JobStatusFailed, errorMessage, func(_ *models.SyncJob, p *models.JobPatch) {
		p.ErrorMessage = &errorMessage
	})
}

// MarkCancelled finishes a job as cancelled. result may carry the partial
// summary gathered before cancellation.
func (l *Ledger) MarkCancelled(ctx context.Context, id, reason string, result map[string]any) error {
	return l.transition(ctx, id, models.JobStatusCancelled, reason, func(_ *models.SyncJob, p *models.JobPatch) {
		if result == nil {
			result = map[string]any{"cancelled": true}
		}
		if reason != "" {
			result["reason"] = reason
		}
		p.Result = result
	})
}

// GetJob returns the job, or nil when it does not exist.
func (l *Ledger) GetJob(ctx context.Context, id string) (*models.SyncJob, error) {
	return l.store.GetJob(ctx, id)
}

// ListJobs returns jobs matching filter, newest first.
func (l *Ledger) ListJobs(ctx context.Context, filter models.JobFilter) ([]models.SyncJob, error) {
	return l.store.ListJobs(ctx, filter)
}

// Sweep deletes terminal jobs that completed more than olderThan ago.
func (l *Ledger) Sweep(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := l.now().Add(-olderThan)
	n, err := l.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sync jobs: %w", err)
	}
	return n, nil
}

// transition validates and persists a status change, then emits a
// notification. A terminal job is left untouched without error.
func (l *Ledger) transition(ctx context.Context, id string, to models.JobStatus, message string, fill func(*models.SyncJob, *models.JobPatch)) error {
	changed := false
	job, err := l.store.UpdateJob(ctx, id, func(current *models.SyncJob) (*models.JobPatch, error) {
		if current.Status.IsTerminal() {
			return nil, nil
		}
		target := to
		if target == "" {
			target = current.Status
		}
		if err := checkTransition(current.Status, target); err != nil {
			return nil, err
		}

		now := l.now().UTC()
		patch := &models.JobPatch{Status: &target}
		if target == models.JobStatusRunning && current.StartedAt == nil {
			patch.StartedAt = &now
		}
		if target.IsTerminal() {
			patch.CompletedAt = &now
		}
		fill(current, patch)
		changed = true
		return patch, nil
	})
	if err != nil {
		return fmt.Errorf("failed to update sync job %s: %w", id, err)
	}
	if job == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !changed {
		log.Debug().Str("job_id", id).Str("status", string(job.Status)).Msg("Ignoring update to terminal sync job")
		return nil
	}

	if job.Status.IsTerminal() {
		log.Info().
			Str("job_id", id).
			Str("status", string(job.Status)).
			Msg("Sync job finished")
	}
	l.notify(ctx, job, message)
	return nil
}

func (l *Ledger) notify(ctx context.Context, job *models.SyncJob, message string) {
	if l.notifier == nil {
		return
	}
	n := Notification{
		JobID:     job.ID,
		SyncType:  job.SyncType,
		TenantRef: tenantRef(job.Parameters),
		Status:    job.Status,
		Message:   message,
		Progress:  job.Progress,
	}
	BestEffort("notify", func() error {
		return l.notifier.Notify(ctx, n)
	})
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// tenantRef derives a tenant reference from job parameters.
func tenantRef(params map[string]any) string {
	for _, key := range []string{"client_id", "brand_id"} {
		v, ok := params[key]
		if !ok || v == nil {
			continue
		}
		prefix := key[:len(key)-3]
		switch n := v.(type) {
		case float64:
			return prefix + ":" + strconv.FormatInt(int64(n), 10)
		case int64:
			return prefix + ":" + strconv.FormatInt(n, 10)
		case int:
			return prefix + ":" + strconv.Itoa(n)
		case string:
			return prefix + ":" + n
		}
	}
	return ""
}
