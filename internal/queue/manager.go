// Package queue defines the asynq task types of the sync backend and the
// helpers that enqueue them.
package queue

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"

	"github.com/brandlens/backend/internal/models"
)

// Task types
const (
	TypeSyncScheduled = "sync:scheduled"
	TypeCleanupJobs   = "cleanup:jobs"
	TypeWebhookSync   = "webhook:sync"
)

// Queue names (for priority)
const (
	QueueCritical = "critical" // Webhooks for finished jobs
	QueueDefault  = "default"  // Scheduled syncs
	QueueLow      = "low"      // Retention cleanup
)

// Enqueuer is the part of *asynq.Client the manager needs.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Manager handles task enqueueing
type Manager struct {
	client Enqueuer
}

// NewManager creates a new queue manager
func NewManager(client Enqueuer) *Manager {
	return &Manager{client: client}
}

// ScheduledSyncPayload asks a worker to create and run a sync job.
type ScheduledSyncPayload struct {
	SyncType    models.SyncType   `json:"sync_type"`
	Params      models.SyncParams `json:"params"`
	RequestedBy string            `json:"requested_by,omitempty"`
}

// CleanupPayload controls the job retention sweep.
type CleanupPayload struct {
	OlderThanDays int `json:"older_than_days"`
}

// WebhookPayload is a finished job announced to an external URL.
type WebhookPayload struct {
	URL       string           `json:"url"`
	Event     string           `json:"event"`
	JobID     string           `json:"job_id"`
	SyncType  models.SyncType  `json:"sync_type"`
	TenantRef string           `json:"tenant_ref,omitempty"`
	Status    models.JobStatus `json:"status"`
	Message   string           `json:"message,omitempty"`
	Progress  int              `json:"progress"`
}

// EnqueueScheduledSync enqueues a sync of syncType. Identical schedules
// inside the uniqueness window collapse into one task.
func (m *Manager) EnqueueScheduledSync(payload ScheduledSyncPayload) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return m.client.Enqueue(asynq.NewTask(TypeSyncScheduled, data),
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Timeout(2*time.Hour),
		asynq.Unique(10*time.Minute),
	)
}

// EnqueueCleanupJobs enqueues the job retention sweep
func (m *Manager) EnqueueCleanupJobs(olderThanDays int) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(CleanupPayload{OlderThanDays: olderThanDays})
	if err != nil {
		return nil, err
	}

	return m.client.Enqueue(asynq.NewTask(TypeCleanupJobs, data),
		asynq.Queue(QueueLow),
		asynq.MaxRetry(1),
		asynq.Timeout(5*time.Minute),
	)
}

// EnqueueWebhook enqueues a webhook dispatch task
func (m *Manager) EnqueueWebhook(payload WebhookPayload) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return m.client.Enqueue(asynq.NewTask(TypeWebhookSync, data),
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(5),
		asynq.Timeout(10*time.Second),
	)
}
