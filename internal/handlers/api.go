// Package handlers provides HTTP handlers for the BrandLens sync API.
//
// @title BrandLens Sync API
// @version 1.0.0
// @description Sync job control, live progress and KPI reads for the BrandLens dashboard
// @host localhost:8080
// @basePath /
// @schemes http https
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @securityDefinitions.http BearerAuth
// @scheme bearer
// @bearerFormat JWT
package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/jobs"
	"github.com/brandlens/backend/internal/models"
	"github.com/brandlens/backend/internal/types"
	"github.com/brandlens/backend/internal/workers"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 200
	cancelTimeout   = 15 * time.Second
)

// SyncAPIHandler handles sync-related API requests
type SyncAPIHandler struct {
	ledger       *jobs.Ledger
	runner       *jobs.Runner
	orchestrator *workers.Orchestrator
}

// NewSyncAPIHandler creates a new sync API handler
func NewSyncAPIHandler(ledger *jobs.Ledger, runner *jobs.Runner, orchestrator *workers.Orchestrator) *SyncAPIHandler {
	return &SyncAPIHandler{
		ledger:       ledger,
		runner:       runner,
		orchestrator: orchestrator,
	}
}

// TriggerSync starts a sync job
// @Summary Trigger sync
// @Description Creates a sync job of the given type and starts it in the background
// @Tags Sync
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param type path string true "Sync type" Enums(brands, prompts, responses, ga4, agency_analytics, all)
// @Param payload body models.SyncParams false "Sync parameters"
// @Success 202 {object} types.SuccessResponse{data=types.JobAccepted} "Sync job accepted"
// @Failure 400 {object} types.ErrorResponse "Invalid sync type or parameters"
// @Failure 500 {object} types.ErrorResponse "Internal server error"
// @Router /api/v1/sync/{type} [post]
func (h *SyncAPIHandler) TriggerSync(c *fiber.Ctx) error {
	syncType, err := models.ParseSyncType(c.Params("type"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.NewError(err.Error(), types.CodeBadRequest))
	}

	var params models.SyncParams
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&params); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(types.NewError("Invalid request body", types.CodeBadRequest))
		}
	}
	if _, _, err := params.Window(time.Now(), 1); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.NewError(err.Error(), types.CodeBadRequest))
	}
	if params.Mode != "" && params.Mode != models.SyncModeFull && params.Mode != models.SyncModeIncremental {
		return c.Status(fiber.StatusBadRequest).JSON(types.NewError("mode must be full or incremental", types.CodeBadRequest))
	}

	jobID, _, err := workers.StartSync(c.UserContext(), h.ledger, h.runner, h.orchestrator, syncType, params, userRef(c))
	if err != nil {
		log.Error().Err(err).Str("sync_type", string(syncType)).Msg("Failed to start sync job")
		status := fiber.StatusInternalServerError
		code := types.CodeInternal
		if errors.Is(err, jobs.ErrRunnerClosed) {
			status, code = fiber.StatusServiceUnavailable, types.CodeUnavailable
		}
		return c.Status(status).JSON(types.NewError("Failed to start sync job", code))
	}

	return c.Status(fiber.StatusAccepted).JSON(types.NewSuccess(types.JobAccepted{JobID: jobID}, "Sync job accepted"))
}

// GetJob returns one sync job
// @Summary Get sync job
// @Description Returns the current state of a sync job
// @Tags Sync
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Job ID"
// @Success 200 {object} types.SuccessResponse{data=models.SyncJob} "Sync job"
// @Failure 404 {object} types.ErrorResponse "Job not found"
// @Router /api/v1/sync/jobs/{id} [get]
func (h *SyncAPIHandler) GetJob(c *fiber.Ctx) error {
	job, err := h.ledger.GetJob(c.UserContext(), c.Params("id"))
	if err != nil {
		log.Error().Err(err).Str("job_id", c.Params("id")).Msg("Failed to read sync job")
		return c.Status(fiber.StatusInternalServerError).JSON(types.NewError("Failed to read sync job", types.CodeInternal))
	}
	if job == nil {
		return c.Status(fiber.StatusNotFound).JSON(types.NewError("Sync job not found", types.CodeNotFound))
	}
	return c.JSON(types.NewSuccess(job, ""))
}

// ListJobs returns recent sync jobs
// @Summary List sync jobs
// @Description Lists sync jobs, newest first
// @Tags Sync
// @Produce json
// @Security ApiKeyAuth
// @Param status query string false "Filter by status"
// @Param sync_type query string false "Filter by sync type"
// @Param user_ref query string false "Filter by initiating user"
// @Param limit query int false "Limit results (default 50)" Default(50) Minimum(1) Maximum(200)
// @Param offset query int false "Offset for pagination" Default(0)
// @Success 200 {object} types.SuccessResponse{data=types.JobList} "Sync jobs"
// @Failure 400 {object} types.ErrorResponse "Invalid filter"
// @Router /api/v1/sync/jobs [get]
func (h *SyncAPIHandler) ListJobs(c *fiber.Ctx) error {
	filter := models.JobFilter{
		Status:  models.JobStatus(c.Query("status")),
		UserRef: c.Query("user_ref"),
		Limit:   c.QueryInt("limit", defaultJobLimit),
		Offset:  c.QueryInt("offset", 0),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(types.NewError("unknown status "+string(filter.Status), types.CodeBadRequest))
	}
	if raw := c.Query("sync_type"); raw != "" {
		syncType, err := models.ParseSyncType(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(types.NewError(err.Error(), types.CodeBadRequest))
		}
		filter.SyncType = syncType
	}
	if filter.Limit < 1 || filter.Limit > maxJobLimit {
		filter.Limit = defaultJobLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	list, err := h.ledger.ListJobs(c.UserContext(), filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list sync jobs")
		return c.Status(fiber.StatusInternalServerError).JSON(types.NewError("Failed to list sync jobs", types.CodeInternal))
	}

	return c.JSON(types.NewSuccess(types.JobList{Jobs: list, Limit: filter.Limit, Offset: filter.Offset}, ""))
}

// CancelJob cancels a running or pending sync job
// @Summary Cancel sync job
// @Description Requests cancellation and waits for the job to stop. Unknown and finished jobs report cancelled=false.
// @Tags Sync
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Job ID"
// @Success 200 {object} types.SuccessResponse{data=types.CancelResult} "Cancellation outcome"
// @Failure 500 {object} types.ErrorResponse "Internal server error"
// @Router /api/v1/sync/jobs/{id}/cancel [post]
func (h *SyncAPIHandler) CancelJob(c *fiber.Ctx) error {
	jobID := c.Params("id")

	ctx, cancel := context.WithTimeout(c.UserContext(), cancelTimeout)
	defer cancel()

	cancelled, err := h.runner.Cancel(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel sync job")
		return c.Status(fiber.StatusInternalServerError).JSON(types.NewError("Failed to cancel sync job", types.CodeInternal))
	}

	log.Info().
		Str("job_id", jobID).
		Bool("cancelled", cancelled).
		Str("requested_by", caller(c)).
		Msg("Sync cancel requested")

	return c.JSON(types.NewSuccess(types.CancelResult{Cancelled: cancelled}, ""))
}
