package handlers

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/jobs"
	"github.com/brandlens/backend/internal/models"
	"github.com/brandlens/backend/internal/types"
)

// Subscriber hands out live job notifications.
type Subscriber interface {
	Subscribe(jobID string) (<-chan jobs.Notification, func())
}

// SyncStreamHandler streams live sync progress via Server-Sent Events.
type SyncStreamHandler struct {
	ledger    *jobs.Ledger
	updates   Subscriber
	heartbeat time.Duration
}

// NewSyncStreamHandler creates a new SyncStreamHandler.
func NewSyncStreamHandler(ledger *jobs.Ledger, updates Subscriber) *SyncStreamHandler {
	return &SyncStreamHandler{
		ledger:    ledger,
		updates:   updates,
		heartbeat: 15 * time.Second,
	}
}

// StreamJobProgress streams job updates via Server-Sent Events until the
// job reaches a terminal state.
//
// @Summary Stream sync progress (SSE)
// @Description Streams live sync job updates as Server-Sent Events until the job finishes
// @Tags Sync
// @Produce text/event-stream
// @Param id path string true "Job ID"
// @Param token query string false "Bearer JWT token for EventSource clients"
// @Router /api/v1/sync/jobs/{id}/stream [get]
func (h *SyncStreamHandler) StreamJobProgress(c *fiber.Ctx) error {
	jobID := c.Params("id")

	job, err := h.ledger.GetJob(c.UserContext(), jobID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(types.NewError("Failed to read sync job", types.CodeInternal))
	}
	if job == nil {
		return c.Status(fiber.StatusNotFound).JSON(types.NewError("Sync job not found", types.CodeNotFound))
	}

	// --- SSE headers ---
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // disable nginx buffering

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		updates, unsubscribe := h.updates.Subscribe(jobID)
		defer unsubscribe()

		if !writeEvent(w, "connected", fiber.Map{"job_id": jobID}) {
			return
		}

		// Read the job again after subscribing so no transition falls
		// between the snapshot and the first notification.
		job, err := h.ledger.GetJob(context.Background(), jobID)
		if err != nil || job == nil {
			log.Error().Err(err).Str("job_id", jobID).Msg("SSE: failed to fetch sync job")
			writeEvent(w, "error", fiber.Map{"error": "job not found"})
			return
		}
		current := snapshotOf(job)
		if !writeEvent(w, "update", current) {
			return
		}
		if current.Status.IsTerminal() {
			writeEvent(w, "done", current)
			return
		}

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case n, ok := <-updates:
				if !ok {
					return
				}
				if !writeEvent(w, "update", n) {
					return
				}
				if n.Status.IsTerminal() {
					writeEvent(w, "done", n)
					return
				}
			case <-ticker.C:
				// Keep proxies from closing an idle stream
				fmt.Fprint(w, ": ping\n\n")
				if err := w.Flush(); err != nil {
					return
				}
				// A slow subscriber may have missed the terminal update.
				job, err := h.ledger.GetJob(context.Background(), jobID)
				if err != nil || job == nil || !job.Status.IsTerminal() {
					continue
				}
				final := snapshotOf(job)
				if writeEvent(w, "update", final) {
					writeEvent(w, "done", final)
				}
				return
			}
		}
	})

	return nil
}

func snapshotOf(job *models.SyncJob) jobs.Notification {
	n := jobs.Notification{
		JobID:    job.ID,
		SyncType: job.SyncType,
		Status:   job.Status,
		Progress: job.Progress,
	}
	switch {
	case job.ErrorMessage != nil:
		n.Message = *job.ErrorMessage
	case job.CurrentStep != nil:
		n.Message = *job.CurrentStep
	}
	return n
}

// writeEvent reports false once the client has gone away.
func writeEvent(w *bufio.Writer, event string, data any) bool {
	payload, err := json.Marshal(data)
	if err != nil {
		return false
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return w.Flush() == nil
}
