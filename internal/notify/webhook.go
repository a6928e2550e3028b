package notify

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/jobs"
	"github.com/brandlens/backend/internal/queue"
)

// WebhookEnqueuer queues webhook deliveries.
type WebhookEnqueuer interface {
	EnqueueWebhook(payload queue.WebhookPayload) (*asynq.TaskInfo, error)
}

// Webhook announces finished jobs to an external URL through the task
// queue, so delivery retries never hold up the ledger.
type Webhook struct {
	url   string
	queue WebhookEnqueuer
}

// NewWebhook creates a webhook notifier. An empty url disables it.
func NewWebhook(url string, q WebhookEnqueuer) *Webhook {
	return &Webhook{url: url, queue: q}
}

// Notify implements jobs.Notifier. Only terminal statuses are sent.
func (w *Webhook) Notify(_ context.Context, n jobs.Notification) error {
	if w.url == "" || w.queue == nil || !n.Status.IsTerminal() {
		return nil
	}

	info, err := w.queue.EnqueueWebhook(queue.WebhookPayload{
		URL:       w.url,
		Event:     "sync." + string(n.Status),
		JobID:     n.JobID,
		SyncType:  n.SyncType,
		TenantRef: n.TenantRef,
		Status:    n.Status,
		Message:   n.Message,
		Progress:  n.Progress,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue sync webhook: %w", err)
	}

	log.Debug().
		Str("job_id", n.JobID).
		Str("task_id", info.ID).
		Str("status", string(n.Status)).
		Msg("Sync webhook queued")
	return nil
}
