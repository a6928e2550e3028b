package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/brandlens/backend/internal/metrics"
	"github.com/brandlens/backend/internal/models"
)

var (
	// ErrJobAlreadyRunning is returned by Start when the id already has a live task.
	ErrJobAlreadyRunning = errors.New("sync job already running")
	// ErrCancelled reports cooperative cancellation. It is not a failure.
	ErrCancelled = errors.New("sync job cancelled")
	// ErrRunnerClosed is returned by Start after Shutdown.
	ErrRunnerClosed = errors.New("job runner is shut down")
)

// panicError is the failure recorded for a unit of work that panicked.
type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("internal error: %v", e.value) }

// CancelledError carries the partial result of a cancelled unit of work.
type CancelledError struct {
	Reason string
	Result map[string]any
}

func (e *CancelledError) Error() string { return "sync job cancelled: " + e.Reason }
func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

// UnitOfWork is the body of a background job. It is expected to write its
// own terminal status on success. Returning an error fails the job;
// returning ErrCancelled (or a *CancelledError) cancels it.
type UnitOfWork func(ctx context.Context) error

// Handle tracks one started task.
type Handle struct {
	JobID string
	done  chan struct{}
}

// Done is closed once the task has finished and its final status is written.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type task struct {
	handle    *Handle
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	final     sync.Once
}

// PanicHandler is told about a recovered panic inside a unit of work.
type PanicHandler func(jobID string, recovered any, stack []byte)

// AuditSink receives terminal outcomes the runner decides on its own:
// panics, work that never reported a result, and cancellations that the
// unit of work did not report itself.
type AuditSink interface {
	Record(ctx context.Context, event models.AuditEvent) error
}

// Runner executes units of work as cancellable background tasks, at most
// one per job id, bounded by a semaphore.
type Runner struct {
	ledger  *Ledger
	sem     *semaphore.Weighted
	onPanic PanicHandler
	audit   AuditSink

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPanicHandler reports recovered panics, e.g. to error tracking.
func WithPanicHandler(h PanicHandler) RunnerOption {
	return func(r *Runner) { r.onPanic = h }
}

// WithAuditSink forwards runner-decided terminal outcomes to sink.
func WithAuditSink(sink AuditSink) RunnerOption {
	return func(r *Runner) { r.audit = sink }
}

// NewRunner creates a runner that runs at most maxConcurrent jobs at a time.
func NewRunner(ledger *Ledger, maxConcurrent int, opts ...RunnerOption) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	base, stop := context.WithCancel(context.Background())
	r := &Runner{
		ledger: ledger,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		base:   base,
		stop:   stop,
		tasks:  make(map[string]*task),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start schedules work under jobID and returns immediately.
func (r *Runner) Start(jobID string, work UnitOfWork) (*Handle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRunnerClosed
	}
	if _, ok := r.tasks[jobID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobAlreadyRunning, jobID)
	}
	ctx, cancel := context.WithCancel(r.base)
	t := &task{
		handle: &Handle{JobID: jobID, done: make(chan struct{})},
		ctx:    ctx,
		cancel: cancel,
	}
	r.tasks[jobID] = t
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(t, work)
	return t.handle, nil
}

// IsCancelled reports whether cancellation was requested for a live job.
func (r *Runner) IsCancelled(jobID string) bool {
	r.mu.Lock()
	t := r.tasks[jobID]
	r.mu.Unlock()
	return t != nil && t.cancelled.Load()
}

// Running lists the ids of live tasks.
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	return ids
}

// Cancel stops a job and waits for its task to end. It returns true when
// the job ends up cancelled and false for unknown or already finished jobs.
func (r *Runner) Cancel(ctx context.Context, jobID string) (bool, error) {
	r.mu.Lock()
	t := r.tasks[jobID]
	r.mu.Unlock()

	if t == nil {
		// No live task: a queued or orphaned job can still be cancelled
		// directly in the ledger.
		job, err := r.ledger.GetJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		if job == nil || job.Status.IsTerminal() {
			return false, nil
		}
		if err := r.ledger.MarkCancelled(ctx, jobID, "Cancelled by request", nil); err != nil {
			return false, err
		}
		r.recordOutcome(ctx, jobID, models.JobStatusCancelled, "Cancelled by request")
		return r.endedCancelled(ctx, jobID)
	}

	t.cancelled.Store(true)
	t.cancel()

	select {
	case <-t.handle.done:
	case <-ctx.Done():
		// Stop waiting but still record the outcome.
		final := context.WithoutCancel(ctx)
		r.finishCancelled(final, t, "Cancelled by request", nil, true)
		return r.endedCancelled(final, jobID)
	}
	r.finishCancelled(ctx, t, "Cancelled by request", nil, true)
	return r.endedCancelled(ctx, jobID)
}

func (r *Runner) endedCancelled(ctx context.Context, jobID string) (bool, error) {
	job, err := r.ledger.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job != nil && job.Status == models.JobStatusCancelled, nil
}

// Shutdown cancels every live task and waits for them to finish.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, t := range r.tasks {
		t.cancelled.Store(true)
	}
	r.mu.Unlock()
	r.stop()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) run(t *task, work UnitOfWork) {
	jobID := t.handle.JobID
	defer r.wg.Done()
	defer close(t.handle.done)
	defer r.deregister(t)
	// Final ledger writes must land even though t.ctx is cancelled.
	final := context.WithoutCancel(t.ctx)

	if err := r.sem.Acquire(t.ctx, 1); err != nil {
		r.finishCancelled(final, t, "Cancelled before start", nil, true)
		return
	}
	defer r.sem.Release(1)
	metrics.JobsRunning.Inc()
	defer metrics.JobsRunning.Dec()

	err := r.invoke(t, work)

	var (
		cancelled *CancelledError
		panicked  *panicError
	)
	switch {
	case errors.As(err, &cancelled):
		// The unit of work reported and audited its own cancellation.
		r.finishCancelled(final, t, cancelled.Reason, cancelled.Result, false)
	case errors.Is(err, ErrCancelled) || (err != nil && t.ctx.Err() != nil):
		r.finishCancelled(final, t, "Cancelled by request", nil, true)
	case err != nil:
		log.Error().Err(err).Str("job_id", jobID).Msg("Sync job failed")
		metrics.JobsFinished.WithLabelValues(string(models.JobStatusFailed)).Inc()
		BestEffort("ledger_fail", func() error {
			return r.ledger.Fail(final, jobID, err.Error())
		})
		if errors.As(err, &panicked) {
			r.recordOutcome(final, jobID, models.JobStatusFailed, err.Error())
		}
	default:
		r.ensureTerminal(final, t)
	}
}

// invoke runs work, converting a panic into an error.
func (r *Runner) invoke(t *task, work UnitOfWork) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			stack := debug.Stack()
			log.Error().
				Str("job_id", t.handle.JobID).
				Interface("panic", rec).
				Bytes("stack", stack).
				Msg("Sync job panicked")
			if r.onPanic != nil {
				r.onPanic(t.handle.JobID, rec, stack)
			}
			err = &panicError{value: rec}
		}
	}()
	return work(t.ctx)
}

// ensureTerminal closes out a job whose work returned cleanly without
// writing a terminal status, so nothing is left running.
func (r *Runner) ensureTerminal(ctx context.Context, t *task) {
	jobID := t.handle.JobID
	job, err := r.ledger.GetJob(ctx, jobID)
	if err != nil || job == nil {
		return
	}
	if job.Status.IsTerminal() {
		metrics.JobsFinished.WithLabelValues(string(job.Status)).Inc()
		return
	}
	if t.cancelled.Load() {
		r.finishCancelled(ctx, t, "Cancelled by request", nil, true)
		return
	}
	const msg = "sync finished without reporting a result"
	metrics.JobsFinished.WithLabelValues(string(models.JobStatusFailed)).Inc()
	BestEffort("ledger_fail", func() error {
		return r.ledger.Fail(ctx, jobID, msg)
	})
	r.recordOutcome(ctx, jobID, models.JobStatusFailed, msg)
}

// finishCancelled writes the cancelled status at most once per task. A job
// that already reached a terminal status is left alone. audit is false when
// the unit of work recorded the outcome itself.
func (r *Runner) finishCancelled(ctx context.Context, t *task, reason string, result map[string]any, audit bool) {
	t.final.Do(func() {
		jobID := t.handle.JobID
		if job, err := r.ledger.GetJob(ctx, jobID); err == nil && job != nil && job.Status.IsTerminal() {
			return
		}
		log.Info().Str("job_id", jobID).Str("reason", reason).Msg("Sync job cancelled")
		metrics.JobsFinished.WithLabelValues(string(models.JobStatusCancelled)).Inc()
		written := true
		BestEffort("ledger_cancel", func() error {
			err := r.ledger.MarkCancelled(ctx, jobID, reason, result)
			written = err == nil
			return err
		})
		if written && audit {
			r.recordOutcome(ctx, jobID, models.JobStatusCancelled, reason)
		}
	})
}

// recordOutcome audits a terminal status written by the runner.
func (r *Runner) recordOutcome(ctx context.Context, jobID string, status models.JobStatus, message string) {
	if r.audit == nil {
		return
	}
	BestEffort("audit", func() error {
		event := models.AuditEvent{
			EventType: "sync",
			JobID:     jobID,
			Status:    string(status),
			Details:   map[string]any{"job_id": jobID, "source": "runner"},
			CreatedAt: time.Now().UTC(),
		}
		if status == models.JobStatusFailed {
			event.ErrorMessage = &message
		} else {
			event.Details["reason"] = message
		}
		job, err := r.ledger.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job != nil {
			event.EventType = "sync." + string(job.SyncType)
			event.ActorRef = job.UserRef
		}
		return r.audit.Record(ctx, event)
	})
}

func (r *Runner) deregister(t *task) {
	t.cancel()
	r.mu.Lock()
	if r.tasks[t.handle.JobID] == t {
		delete(r.tasks, t.handle.JobID)
	}
	r.mu.Unlock()
}
