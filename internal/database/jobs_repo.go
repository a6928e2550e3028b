package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/brandlens/backend/internal/jobs"
	"github.com/brandlens/backend/internal/models"
)

var jobColumns = []string{
	"id", "sync_type", "user_ref", "status", "progress", "current_step",
	"total_steps", "completed_steps", "parameters", "result", "error_message",
	"created_at", "started_at", "completed_at",
}

// SyncJobRepository persists sync jobs in the sync_jobs table.
type SyncJobRepository struct {
	db *DB
}

var _ jobs.Store = (*SyncJobRepository)(nil)

// NewSyncJobRepository creates a new sync job repository
func NewSyncJobRepository(db *DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

func scanJob(row rowScanner) (*models.SyncJob, error) {
	var (
		job      models.SyncJob
		syncType string
		status   string
	)
	err := row.Scan(
		&job.ID, &syncType, &job.UserRef, &status, &job.Progress, &job.CurrentStep,
		&job.TotalSteps, &job.CompletedSteps, &job.Parameters, &job.Result, &job.ErrorMessage,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.SyncType = models.SyncType(syncType)
	job.Status = models.JobStatus(status)
	return &job, nil
}

// InsertJob stores a new pending job
func (r *SyncJobRepository) InsertJob(ctx context.Context, job *models.SyncJob) error {
	query, args, err := psql.Insert("sync_jobs").
		Columns(jobColumns...).
		Values(
			job.ID, string(job.SyncType), job.UserRef, string(job.Status), job.Progress, job.CurrentStep,
			job.TotalSteps, job.CompletedSteps, job.Parameters, job.Result, job.ErrorMessage,
			job.CreatedAt, job.StartedAt, job.CompletedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}
	if _, err := r.db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert sync job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns a job by id, or nil when it does not exist
func (r *SyncJobRepository) GetJob(ctx context.Context, id string) (*models.SyncJob, error) {
	query, args, err := psql.Select(jobColumns...).From("sync_jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}
	job, err := scanJob(r.db.Pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sync job %s: %w", id, err)
	}
	return job, nil
}

// UpdateJob locks the row, lets fn compute a patch from the committed state
// and applies it in the same transaction.
func (r *SyncJobRepository) UpdateJob(ctx context.Context, id string, fn func(*models.SyncJob) (*models.JobPatch, error)) (*models.SyncJob, error) {
	var updated *models.SyncJob

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		query, args, err := psql.Select(jobColumns...).
			From("sync_jobs").
			Where(sq.Eq{"id": id}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build select: %w", err)
		}
		job, err := scanJob(tx.QueryRow(ctx, query, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock sync job %s: %w", id, err)
		}

		patch, err := fn(job)
		if err != nil {
			return err
		}
		if patch == nil || patch.Empty() {
			updated = job
			return nil
		}

		query, args, err = psql.Update("sync_jobs").
			SetMap(patchColumns(*patch)).
			Where(sq.Eq{"id": id}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build update: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to update sync job %s: %w", id, err)
		}
		job.Apply(*patch)
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func patchColumns(p models.JobPatch) map[string]any {
	set := map[string]any{}
	if p.Status != nil {
		set["status"] = string(*p.Status)
	}
	if p.Progress != nil {
		set["progress"] = *p.Progress
	}
	if p.CurrentStep != nil {
		set["current_step"] = *p.CurrentStep
	}
	if p.TotalSteps != nil {
		set["total_steps"] = *p.TotalSteps
	}
	if p.CompletedSteps != nil {
		set["completed_steps"] = *p.CompletedSteps
	}
	if p.ErrorMessage != nil {
		set["error_message"] = *p.ErrorMessage
	}
	if p.Result != nil {
		set["result"] = p.Result
	}
	if p.StartedAt != nil {
		set["started_at"] = *p.StartedAt
	}
	if p.CompletedAt != nil {
		set["completed_at"] = *p.CompletedAt
	}
	return set
}

// ListJobs returns jobs newest first
func (r *SyncJobRepository) ListJobs(ctx context.Context, f models.JobFilter) ([]models.SyncJob, error) {
	builder := psql.Select(jobColumns...).From("sync_jobs").OrderBy("created_at DESC")
	if f.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.SyncType != "" {
		builder = builder.Where(sq.Eq{"sync_type": string(f.SyncType)})
	}
	if f.UserRef != "" {
		builder = builder.Where(sq.Eq{"user_ref": f.UserRef})
	}
	if f.Limit > 0 {
		builder = builder.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		builder = builder.Offset(uint64(f.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync jobs: %w", err)
	}
	defer rows.Close()

	out := []models.SyncJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync job: %w", err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// DeleteTerminalBefore removes finished jobs completed before cutoff
func (r *SyncJobRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := psql.Delete("sync_jobs").
		Where(sq.Eq{"status": []string{
			string(models.JobStatusCompleted),
			string(models.JobStatusFailed),
			string(models.JobStatusCancelled),
		}}).
		Where(sq.Lt{"completed_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build delete: %w", err)
	}
	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sync jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
