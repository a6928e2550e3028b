package workers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/jobs"
	"github.com/brandlens/backend/internal/metrics"
	"github.com/brandlens/backend/internal/models"
	"github.com/brandlens/backend/internal/store"
)

// BrandSource is the Scrunch AI side of a sync.
type BrandSource interface {
	FetchBrands(ctx context.Context) ([]models.Brand, error)
	FetchPrompts(ctx context.Context, brandID int64) ([]models.Prompt, error)
	FetchResponses(ctx context.Context, brandID int64, since time.Time) ([]models.Response, error)
}

// TrafficSource is the GA4 side of a sync.
type TrafficSource interface {
	FetchTraffic(ctx context.Context, propertyID string, start, end time.Time) ([]models.TrafficRow, error)
	FetchDimensions(ctx context.Context, propertyID, dimension string, start, end time.Time) ([]models.DimensionRow, error)
}

// RankingSource is the Agency Analytics side of a sync.
type RankingSource interface {
	FetchCampaigns(ctx context.Context) ([]models.Campaign, error)
	FetchRankings(ctx context.Context, campaignID int64, start, end time.Time) ([]models.RankingRow, error)
}

// AuditSink receives every terminal job outcome.
type AuditSink interface {
	Record(ctx context.Context, event models.AuditEvent) error
}

// CancelChecker reports cooperative cancellation requests.
type CancelChecker interface {
	IsCancelled(jobID string) bool
}

// SnapshotRefresher rebuilds cached KPI snapshots after new GA4 rows land.
type SnapshotRefresher interface {
	RefreshSnapshot(ctx context.Context, scope models.TenantScope, propertyID string, end time.Time) (*models.KPISnapshot, error)
}

// OrchestratorDeps wires an Orchestrator. Audit, Cancel and KPIs are optional.
type OrchestratorDeps struct {
	Ledger  *jobs.Ledger
	Store   store.Store
	Scrunch BrandSource
	GA4     TrafficSource
	AA      RankingSource
	Audit   AuditSink
	Cancel  CancelChecker
	KPIs    SnapshotRefresher

	LookbackDays int
	Dimensions   []string
}

// Orchestrator drives a multi-step, multi-entity sync for one job.
type Orchestrator struct {
	OrchestratorDeps
	now func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.LookbackDays <= 0 {
		deps.LookbackDays = 30
	}
	if deps.Dimensions == nil {
		deps.Dimensions = []string{
			models.DimensionPagePath,
			models.DimensionSource,
			models.DimensionCountry,
			models.DimensionDevice,
		}
	}
	return &Orchestrator{OrchestratorDeps: deps, now: time.Now}
}

// entity is one isolated unit inside a fan-out step.
type entity struct {
	id  string
	run func(ctx context.Context) (map[models.RecordType]int, error)
}

// step expands into entities. An expand error fails the whole job.
type step struct {
	name   string
	label  string
	weight int
	expand func(ctx context.Context, r *syncRun) ([]entity, error)
}

// syncRun is the per-job state threaded through the steps.
type syncRun struct {
	jobID    string
	syncType models.SyncType
	params   models.SyncParams
	start    time.Time
	end      time.Time
	actor    *string

	weightDone  int
	weightTotal int
}

const (
	stepBrands    = "brands"
	stepPrompts   = "prompts"
	stepResponses = "responses"
	stepGA4       = "ga4"
	stepCampaigns = "campaigns"
	stepRankings  = "rankings"
)

func (o *Orchestrator) plan(syncType models.SyncType) ([]step, error) {
	steps := map[string]step{
		stepBrands:    {name: stepBrands, label: "Syncing brands", weight: 10, expand: o.brandEntities},
		stepPrompts:   {name: stepPrompts, label: "Syncing prompts", weight: 20, expand: o.promptEntities},
		stepResponses: {name: stepResponses, label: "Syncing responses", weight: 30, expand: o.responseEntities},
		stepGA4:       {name: stepGA4, label: "Syncing GA4 traffic", weight: 25, expand: o.ga4Entities},
		stepCampaigns: {name: stepCampaigns, label: "Syncing campaigns", weight: 5, expand: o.campaignEntities},
		stepRankings:  {name: stepRankings, label: "Syncing keyword rankings", weight: 10, expand: o.rankingEntities},
	}

	var names []string
	switch syncType {
	case models.SyncTypeBrands:
		names = []string{stepBrands}
	case models.SyncTypePrompts:
		names = []string{stepPrompts}
	case models.SyncTypeResponses:
		names = []string{stepResponses}
	case models.SyncTypeGA4:
		names = []string{stepGA4}
	case models.SyncTypeAgencyAnalytics:
		names = []string{stepCampaigns, stepRankings}
	case models.SyncTypeAll:
		names = []string{stepBrands, stepPrompts, stepResponses, stepGA4, stepCampaigns, stepRankings}
	default:
		return nil, fmt.Errorf("unknown sync type %q", syncType)
	}

	plan := make([]step, len(names))
	for i, n := range names {
		plan[i] = steps[n]
	}
	return plan, nil
}

// Job adapts Run into a unit of work for the runner and hands the result
// to the ledger.
func (o *Orchestrator) Job(jobID string, syncType models.SyncType, params models.SyncParams) jobs.UnitOfWork {
	return func(ctx context.Context) error {
		result, err := o.Run(ctx, jobID, syncType, params)
		if err != nil {
			return err
		}
		payload, err := result.Map()
		if err != nil {
			return fmt.Errorf("failed to encode sync result: %w", err)
		}
		if result.Status == models.ResultError {
			msg := fmt.Sprintf("all %d entities failed", len(result.Entities))
			return o.Ledger.FailWithResult(context.WithoutCancel(ctx), jobID, msg, payload)
		}
		return o.Ledger.Complete(context.WithoutCancel(ctx), jobID, payload, models.JobStatusCompleted)
	}
}

// Run executes every step of syncType in order. A cancelled run returns a
// *jobs.CancelledError carrying the partial result; a step that cannot
// start returns a plain error.
func (o *Orchestrator) Run(ctx context.Context, jobID string, syncType models.SyncType, params models.SyncParams) (*models.JobResult, error) {
	started := o.now()
	result := models.NewJobResult()

	run := &syncRun{jobID: jobID, syncType: syncType, params: params}
	if job, err := o.Ledger.GetJob(ctx, jobID); err == nil && job != nil {
		run.actor = job.UserRef
	}

	log.Info().
		Str("job_id", jobID).
		Str("sync_type", string(syncType)).
		Msg("Starting sync")

	plan, err := o.plan(syncType)
	if err != nil {
		return result, o.stepFailed(ctx, run, result, "plan", err)
	}
	run.start, run.end, err = params.Window(started, o.LookbackDays)
	if err != nil {
		return result, o.stepFailed(ctx, run, result, "plan", err)
	}
	for _, s := range plan {
		run.weightTotal += s.weight
	}

	o.update(ctx, jobID, jobs.StatusUpdate{
		Status:         models.JobStatusRunning,
		Progress:       intPtr(0),
		CurrentStep:    models.String("Starting"),
		TotalSteps:     intPtr(len(plan)),
		CompletedSteps: intPtr(0),
	})

	for i, s := range plan {
		if o.cancelled(ctx, jobID) {
			return result, o.finishCancelled(ctx, run, result, started, "Cancelled before "+s.name)
		}

		o.update(ctx, jobID, jobs.StatusUpdate{
			Status:         models.JobStatusRunning,
			CurrentStep:    models.String(s.label),
			CompletedSteps: intPtr(i),
			Progress:       intPtr(run.progress(0)),
		})

		entities, err := s.expand(ctx, run)
		if err != nil {
			if o.cancelled(ctx, jobID) {
				return result, o.finishCancelled(ctx, run, result, started, "Cancelled during "+s.name)
			}
			return result, o.stepFailed(ctx, run, result, s.name, err)
		}

		stepResult, stopped := o.fanOut(ctx, run, s, entities, result)
		result.Steps = append(result.Steps, stepResult)
		if stopped {
			return result, o.finishCancelled(ctx, run, result, started, "Cancelled during "+s.name)
		}

		run.weightDone += s.weight
		o.update(ctx, jobID, jobs.StatusUpdate{
			Status:         models.JobStatusRunning,
			CompletedSteps: intPtr(i + 1),
			Progress:       intPtr(run.progress(0)),
		})
	}

	result.Finalize(o.now().Sub(started))
	metrics.JobDuration.WithLabelValues(string(syncType), string(result.Status)).Observe(result.Duration)

	log.Info().
		Str("job_id", jobID).
		Str("status", string(result.Status)).
		Int("entities", len(result.Entities)).
		Int("failed", result.Failed()).
		Int("total_count", result.TotalCount).
		Float64("duration_seconds", result.Duration).
		Msg("Sync finished")

	o.audit(ctx, run, string(result.Status), result, nil)
	return result, nil
}

// fanOut runs every entity in isolation. It reports stopped when a
// cancellation request interrupted the loop.
func (o *Orchestrator) fanOut(ctx context.Context, run *syncRun, s step, entities []entity, result *models.JobResult) (models.StepResult, bool) {
	sr := models.StepResult{Name: s.name}
	var errs *multierror.Error

	for i, e := range entities {
		if o.cancelled(ctx, run.jobID) {
			sr.Status = stepStatus(sr)
			return sr, true
		}

		counts, err := e.run(ctx)
		if err != nil && o.cancelled(ctx, run.jobID) {
			// The call was cut short by cancellation, not by the provider.
			sr.Status = stepStatus(sr)
			return sr, true
		}

		er := models.EntityResult{Step: s.name, EntityID: e.id, Counts: counts}
		if err != nil {
			er.Status = models.ResultError
			er.Error = err.Error()
			errs = multierror.Append(errs, err)
			sr.Failed++
			metrics.EntitySyncs.WithLabelValues(s.name, "error").Inc()
			log.Warn().Err(err).
				Str("job_id", run.jobID).
				Str("step", s.name).
				Str("entity_id", e.id).
				Msg("Entity sync failed")
		} else {
			er.Status = models.ResultSuccess
			sr.Succeeded++
			metrics.EntitySyncs.WithLabelValues(s.name, "success").Inc()
		}
		result.Add(er)

		o.update(ctx, run.jobID, jobs.StatusUpdate{
			Status:   models.JobStatusRunning,
			Progress: intPtr(run.progress(s.weight * (i + 1) / len(entities))),
		})
	}

	sr.Status = stepStatus(sr)
	if err := errs.ErrorOrNil(); err != nil {
		log.Warn().Err(err).
			Str("job_id", run.jobID).
			Str("step", s.name).
			Int("failed", sr.Failed).
			Int("succeeded", sr.Succeeded).
			Msg("Step finished with entity failures")
	}
	return sr, false
}

func stepStatus(sr models.StepResult) models.ResultStatus {
	if sr.Failed == 0 {
		return models.ResultSuccess
	}
	return models.ResultPartial
}

// progress maps completed weight plus extra onto 0..100.
func (r *syncRun) progress(extra int) int {
	if r.weightTotal == 0 {
		return 0
	}
	return (r.weightDone + extra) * 100 / r.weightTotal
}

func (o *Orchestrator) cancelled(ctx context.Context, jobID string) bool {
	if ctx.Err() != nil {
		return true
	}
	return o.Cancel != nil && o.Cancel.IsCancelled(jobID)
}

func (o *Orchestrator) update(ctx context.Context, jobID string, u jobs.StatusUpdate) {
	jobs.BestEffort("ledger_update", func() error {
		return o.Ledger.UpdateStatus(context.WithoutCancel(ctx), jobID, u)
	})
}

func (o *Orchestrator) finishCancelled(ctx context.Context, run *syncRun, result *models.JobResult, started time.Time, reason string) error {
	result.Cancelled = true
	result.Finalize(o.now().Sub(started))
	log.Info().Str("job_id", run.jobID).Str("reason", reason).Msg("Sync cancelled")

	o.audit(ctx, run, string(models.JobStatusCancelled), result, nil)
	payload, err := result.Map()
	if err != nil {
		payload = nil
	}
	return &jobs.CancelledError{Reason: reason, Result: payload}
}

func (o *Orchestrator) stepFailed(ctx context.Context, run *syncRun, result *models.JobResult, stepName string, err error) error {
	wrapped := fmt.Errorf("%s step: %w", stepName, err)
	log.Error().Err(err).Str("job_id", run.jobID).Str("step", stepName).Msg("Sync step failed")

	msg := wrapped.Error()
	o.audit(ctx, run, string(models.JobStatusFailed), result, &msg)
	return wrapped
}

func (o *Orchestrator) audit(ctx context.Context, run *syncRun, status string, result *models.JobResult, errMsg *string) {
	if o.Audit == nil {
		return
	}
	details, err := result.Map()
	if err != nil {
		details = map[string]any{"encode_error": err.Error()}
	}
	details["job_id"] = run.jobID
	details["params"] = run.params

	event := models.AuditEvent{
		EventType:    "sync." + string(run.syncType),
		JobID:        run.jobID,
		ActorRef:     run.actor,
		Status:       status,
		Details:      details,
		ErrorMessage: errMsg,
		CreatedAt:    o.now().UTC(),
	}
	jobs.BestEffort("audit", func() error {
		return o.Audit.Record(context.WithoutCancel(ctx), event)
	})
}

// write stores a batch and records metrics for it.
func (o *Orchestrator) write(ctx context.Context, batch models.RecordBatch) (int, error) {
	started := time.Now()
	n, err := store.Upsert(ctx, o.Store, batch)
	metrics.StoreBatchDuration.WithLabelValues(string(batch.RecordType())).Observe(time.Since(started).Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", batch.RecordType(), err)
	}
	metrics.RecordsWritten.WithLabelValues(string(batch.RecordType())).Add(float64(n))
	return n, nil
}

func intPtr(v int) *int { return &v }

func idString(id int64) string { return strconv.FormatInt(id, 10) }
