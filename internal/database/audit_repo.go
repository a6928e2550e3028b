package database

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/models"
)

// AuditRepository writes sync outcomes to sync_audit_logs.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit log repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record inserts one audit event
func (r *AuditRepository) Record(ctx context.Context, event models.AuditEvent) error {
	query, args, err := psql.Insert("sync_audit_logs").
		Columns("event_type", "job_id", "actor_ref", "status", "details", "error_message", "created_at").
		Values(event.EventType, event.JobID, event.ActorRef, event.Status, event.Details, event.ErrorMessage, event.CreatedAt).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := r.db.Pool.Exec(ctx, query, args...); err != nil {
		log.Error().
			Err(err).
			Str("job_id", event.JobID).
			Str("event", event.EventType).
			Msg("Failed to write audit event")
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	log.Debug().
		Str("job_id", event.JobID).
		Str("event", event.EventType).
		Str("status", event.Status).
		Msg("Audit event recorded")
	return nil
}

// ListByJob returns the audit trail of one job, oldest first
func (r *AuditRepository) ListByJob(ctx context.Context, jobID string) ([]models.AuditEvent, error) {
	query, args, err := psql.Select("event_type", "job_id", "actor_ref", "status", "details", "error_message", "created_at").
		From("sync_audit_logs").
		Where(sq.Eq{"job_id": jobID}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, err
	}
	return collect(ctx, r.db, query, args, func(row rowScanner) (models.AuditEvent, error) {
		var e models.AuditEvent
		err := row.Scan(&e.EventType, &e.JobID, &e.ActorRef, &e.Status, &e.Details, &e.ErrorMessage, &e.CreatedAt)
		return e, err
	})
}
