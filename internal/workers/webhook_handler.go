package workers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/models"
	"github.com/brandlens/backend/internal/queue"
)

// WebhookHandler handles webhook dispatch tasks
type WebhookHandler struct {
	httpClient *http.Client
	now        func() time.Time
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(httpClient *http.Client) *WebhookHandler {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 10 * time.Second,
		}
	}
	return &WebhookHandler{httpClient: httpClient, now: time.Now}
}

// SyncWebhookEvent is the body posted for a finished job.
type SyncWebhookEvent struct {
	Event     string           `json:"event"`
	JobID     string           `json:"job_id"`
	SyncType  models.SyncType  `json:"sync_type"`
	TenantRef string           `json:"tenant_ref,omitempty"`
	Status    models.JobStatus `json:"status"`
	Message   string           `json:"message,omitempty"`
	Progress  int              `json:"progress"`
	SentAt    time.Time        `json:"sent_at"`
}

// HandleSyncWebhook posts a finished-job event. Rate limiting and server
// errors are retried by the queue; other rejections are dropped.
func (h *WebhookHandler) HandleSyncWebhook(ctx context.Context, task *asynq.Task) error {
	var payload queue.WebhookPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.URL == "" {
		return fmt.Errorf("webhook payload has no url: %w", asynq.SkipRetry)
	}

	jsonBody, err := json.Marshal(SyncWebhookEvent{
		Event:     payload.Event,
		JobID:     payload.JobID,
		SyncType:  payload.SyncType,
		TenantRef: payload.TenantRef,
		Status:    payload.Status,
		Message:   payload.Message,
		Progress:  payload.Progress,
		SentAt:    h.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.URL, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %v: %w", err, asynq.SkipRetry)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sync-Event", payload.Event)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("rate limited by webhook receiver")
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook receiver returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("webhook receiver rejected event with status %d: %w", resp.StatusCode, asynq.SkipRetry)
	}

	log.Info().
		Str("job_id", payload.JobID).
		Str("event", payload.Event).
		Int("status", resp.StatusCode).
		Msg("Sync webhook sent successfully")

	return nil
}
