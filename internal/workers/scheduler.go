package workers

import (
	"errors"
	"strconv"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/config"
	"github.com/brandlens/backend/internal/models"
	"github.com/brandlens/backend/internal/queue"
)

// TaskEnqueuer queues the recurring tasks.
type TaskEnqueuer interface {
	EnqueueScheduledSync(payload queue.ScheduledSyncPayload) (*asynq.TaskInfo, error)
	EnqueueCleanupJobs(olderThanDays int) (*asynq.TaskInfo, error)
}

// Scheduler handles scheduled/cron jobs
type Scheduler struct {
	cron  *cron.Cron
	tasks TaskEnqueuer
	cfg   *config.Config
}

// NewScheduler creates a new scheduler
func NewScheduler(tasks TaskEnqueuer, cfg *config.Config) *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithSeconds()),
		tasks: tasks,
		cfg:   cfg,
	}
}

// Start registers the recurring jobs and starts the scheduler
func (s *Scheduler) Start() error {
	log.Info().Msg("Starting scheduler")

	// Auto-sync job (if enabled)
	if s.cfg.AutoSyncEnabled {
		interval := s.cfg.AutoSyncInterval
		if interval < 1 {
			interval = 1 // Minimum 1 minute
		}

		cronSpec := "@every " + strconv.Itoa(interval) + "m"
		if _, err := s.cron.AddFunc(cronSpec, s.autoSync); err != nil {
			return err
		}
		log.Info().Int("interval_minutes", interval).Msg("Scheduled auto-sync job")
	}

	// Daily job retention sweep at 3 AM
	if _, err := s.cron.AddFunc("0 0 3 * * *", s.cleanup); err != nil {
		return err
	}

	s.cron.Start()
	log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")

	return nil
}

// Entries reports how many recurring jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) autoSync() {
	log.Info().Msg("Triggering scheduled auto-sync")

	_, err := s.tasks.EnqueueScheduledSync(queue.ScheduledSyncPayload{
		SyncType:    models.SyncTypeAll,
		Params:      models.SyncParams{Mode: models.SyncModeIncremental},
		RequestedBy: "scheduler",
	})
	if errors.Is(err, asynq.ErrDuplicateTask) {
		log.Debug().Msg("Previous auto-sync still queued")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to enqueue auto-sync")
	}
}

func (s *Scheduler) cleanup() {
	log.Info().Msg("Triggering daily job cleanup")

	if _, err := s.tasks.EnqueueCleanupJobs(s.cfg.JobRetentionDays); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue job cleanup")
	}
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	log.Info().Msg("Stopping scheduler")
	ctx := s.cron.Stop()
	<-ctx.Done()
}
