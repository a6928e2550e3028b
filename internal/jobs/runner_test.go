package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandlens/backend/internal/models"
	"github.com/brandlens/backend/internal/store/memstore"
)

func newRunningJob(t *testing.T, ledger *Ledger) string {
	t.Helper()
	id, err := ledger.CreateJob(context.Background(), models.SyncTypeBrands, nil, nil)
	require.NoError(t, err)
	return id
}

func newAuditedRunner(t *testing.T, maxConcurrent int) (*Ledger, *Runner, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	ledger := NewLedger(st, nil)
	return ledger, NewRunner(ledger, maxConcurrent, WithAuditSink(st)), st
}

func waitFor(t *testing.T, h *Handle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))
}

func TestRunnerCompletesJob(t *testing.T) {
	ledger, _ := newTestLedger(t)
	runner := NewRunner(ledger, 2)
	id := newRunningJob(t, ledger)

	h, err := runner.Start(id, func(ctx context.Context) error {
		if err := ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning}); err != nil {
			return err
		}
		return ledger.Complete(ctx, id, map[string]any{"total_count": 1}, "")
	})
	require.NoError(t, err)
	waitFor(t, h)

	job, _ := ledger.GetJob(context.Background(), id)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Empty(t, runner.Running())
}

func TestRunnerRejectsDuplicateJob(t *testing.T) {
	ledger, _ := newTestLedger(t)
	runner := NewRunner(ledger, 2)
	id := newRunningJob(t, ledger)

	release := make(chan struct{})
	h, err := runner.Start(id, func(ctx context.Context) error {
		<-release
		return ledger.Complete(ctx, id, nil, models.JobStatusFailed)
	})
	require.NoError(t, err)

	_, err = runner.Start(id, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrJobAlreadyRunning)

	close(release)
	waitFor(t, h)
}

func TestRunnerErrorFailsJob(t *testing.T) {
	ledger, _ := newTestLedger(t)
	runner := NewRunner(ledger, 1)
	id := newRunningJob(t, ledger)

	h, err := runner.Start(id, func(ctx context.Context) error {
		_ = ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning})
		return errors.New("brands step: failed to fetch brands: 502 bad gateway")
	})
	require.NoError(t, err)
	waitFor(t, h)

	job, _ := ledger.GetJob(context.Background(), id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "502 bad gateway")
}

func TestRunnerRecoversPanic(t *testing.T) {
	ledger, _ := newTestLedger(t)
	var reported string
	runner := NewRunner(ledger, 1, WithPanicHandler(func(jobID string, _ any, _ []byte) {
		reported = jobID
	}))
	id := newRunningJob(t, ledger)

	h, err := runner.Start(id, func(ctx context.Context) error {
		_ = ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning})
		var m map[string]int
		m["boom"]++
		return nil
	})
	require.NoError(t, err)
	waitFor(t, h)

	job, _ := ledger.GetJob(context.Background(), id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "internal error")
	assert.Equal(t, id, reported)
}

func TestRunnerFailsJobLeftRunning(t *testing.T) {
	ledger, _ := newTestLedger(t)
	runner := NewRunner(ledger, 1)
	id := newRunningJob(t, ledger)

	h, err := runner.Start(id, func(ctx context.Context) error {
		return ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning})
	})
	require.NoError(t, err)
	waitFor(t, h)

	job, _ := ledger.GetJob(context.Background(), id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
}

func TestCancelRunningJob(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	runner := NewRunner(ledger, 1)
	id := newRunningJob(t, ledger)

	started := make(chan struct{})
	h, err := runner.Start(id, func(ctx context.Context) error {
		_ = ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning})
		close(started)
		for {
			if runner.IsCancelled(id) {
				return &CancelledError{Reason: "stopped between entities", Result: map[string]any{"total_count": 2}}
			}
			time.Sleep(time.Millisecond)
		}
	})
	require.NoError(t, err)
	<-started

	ok, err := runner.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	waitFor(t, h)

	job, _ := ledger.GetJob(ctx, id)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.EqualValues(t, 2, job.Result["total_count"])
	assert.False(t, runner.IsCancelled(id))
}

func TestCancelBlockedOnContext(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	runner := NewRunner(ledger, 1)
	id := newRunningJob(t, ledger)

	started := make(chan struct{})
	_, err := runner.Start(id, func(ctx context.Context) error {
		_ = ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning})
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	ok, err := runner.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	job, _ := ledger.GetJob(ctx, id)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
}

func TestCancelCompletedJobReturnsFalse(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	runner := NewRunner(ledger, 1)
	id := newRunningJob(t, ledger)

	h, err := runner.Start(id, func(ctx context.Context) error {
		_ = ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning})
		return ledger.Complete(ctx, id, nil, "")
	})
	require.NoError(t, err)
	waitFor(t, h)

	ok, err := runner.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	job, _ := ledger.GetJob(ctx, id)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestCancelUnknownJob(t *testing.T) {
	ledger, _ := newTestLedger(t)
	runner := NewRunner(ledger, 1)
	ok, err := runner.Cancel(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelQueuedJob(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	runner := NewRunner(ledger, 1)

	blocker := newRunningJob(t, ledger)
	release := make(chan struct{})
	started := make(chan struct{})
	hb, err := runner.Start(blocker, func(ctx context.Context) error {
		_ = ledger.UpdateStatus(ctx, blocker, StatusUpdate{Status: models.JobStatusRunning})
		close(started)
		<-release
		return ledger.Complete(ctx, blocker, nil, "")
	})
	require.NoError(t, err)
	<-started

	queued := newRunningJob(t, ledger)
	ran := false
	hq, err := runner.Start(queued, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)

	ok, err := runner.Cancel(ctx, queued)
	require.NoError(t, err)
	assert.True(t, ok)
	waitFor(t, hq)

	close(release)
	waitFor(t, hb)

	assert.False(t, ran)
	job, _ := ledger.GetJob(ctx, queued)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.Nil(t, job.StartedAt)
}

func TestCancelPendingJobWithoutTask(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	runner := NewRunner(ledger, 1)
	id := newRunningJob(t, ledger)

	ok, err := runner.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	job, _ := ledger.GetJob(ctx, id)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
}

func TestConcurrentCancelWritesOnce(t *testing.T) {
	ctx := context.Background()
	ledger, notes := newTestLedger(t)
	runner := NewRunner(ledger, 1)
	id := newRunningJob(t, ledger)

	started := make(chan struct{})
	h, err := runner.Start(id, func(ctx context.Context) error {
		_ = ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning})
		close(started)
		<-ctx.Done()
		return ErrCancelled
	})
	require.NoError(t, err)
	<-started

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = runner.Cancel(ctx, id)
		}()
	}
	wg.Wait()
	waitFor(t, h)

	cancelled := 0
	for _, s := range notes.statuses() {
		if s == models.JobStatusCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
}

func TestShutdownCancelsLiveJobs(t *testing.T) {
	ledger, _ := newTestLedger(t)
	runner := NewRunner(ledger, 2)
	id := newRunningJob(t, ledger)

	started := make(chan struct{})
	_, err := runner.Start(id, func(ctx context.Context) error {
		_ = ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning})
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, runner.Shutdown(ctx))

	job, _ := ledger.GetJob(context.Background(), id)
	assert.Equal(t, models.JobStatusCancelled, job.Status)

	_, err = runner.Start("another", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrRunnerClosed)
}

func TestCancelAfterTimeoutReportsCompletedJob(t *testing.T) {
	ledger, runner, st := newAuditedRunner(t, 1)
	id := newRunningJob(t, ledger)

	completed := make(chan struct{})
	release := make(chan struct{})
	h, err := runner.Start(id, func(ctx context.Context) error {
		_ = ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning})
		_ = ledger.Complete(context.WithoutCancel(ctx), id, nil, "")
		close(completed)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-completed

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ok, err := runner.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	close(release)
	waitFor(t, h)

	job, _ := ledger.GetJob(context.Background(), id)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Empty(t, st.AuditEvents())
}

func TestRunnerAuditsOwnOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		work       func(ledger *Ledger, id string) UnitOfWork
		wantStatus models.JobStatus
		wantError  string
	}{
		{
			name: "panic",
			work: func(ledger *Ledger, id string) UnitOfWork {
				return func(ctx context.Context) error {
					_ = ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning})
					var m map[string]int
					m["boom"]++
					return nil
				}
			},
			wantStatus: models.JobStatusFailed,
			wantError:  "internal error",
		},
		{
			name: "no result reported",
			work: func(ledger *Ledger, id string) UnitOfWork {
				return func(ctx context.Context) error {
					return ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning})
				}
			},
			wantStatus: models.JobStatusFailed,
			wantError:  "without reporting a result",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, runner, st := newAuditedRunner(t, 1)
			id := newRunningJob(t, ledger)

			h, err := runner.Start(id, tt.work(ledger, id))
			require.NoError(t, err)
			waitFor(t, h)

			events := st.AuditEvents()
			require.Len(t, events, 1)
			assert.Equal(t, id, events[0].JobID)
			assert.Equal(t, "sync.brands", events[0].EventType)
			assert.Equal(t, string(tt.wantStatus), events[0].Status)
			require.NotNil(t, events[0].ErrorMessage)
			assert.Contains(t, *events[0].ErrorMessage, tt.wantError)
		})
	}
}

func TestRunnerAuditsQueuedCancel(t *testing.T) {
	ctx := context.Background()
	ledger, runner, st := newAuditedRunner(t, 2)

	release := make(chan struct{})
	var blockers []*Handle
	for i := 0; i < 2; i++ {
		id := newRunningJob(t, ledger)
		started := make(chan struct{})
		h, err := runner.Start(id, func(ctx context.Context) error {
			_ = ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning})
			close(started)
			<-release
			return ledger.Complete(context.WithoutCancel(ctx), id, nil, "")
		})
		require.NoError(t, err)
		<-started
		blockers = append(blockers, h)
	}

	queued := newRunningJob(t, ledger)
	hq, err := runner.Start(queued, func(context.Context) error { return nil })
	require.NoError(t, err)

	ok, err := runner.Cancel(ctx, queued)
	require.NoError(t, err)
	assert.True(t, ok)
	waitFor(t, hq)

	close(release)
	for _, h := range blockers {
		waitFor(t, h)
	}

	events := st.AuditEvents()
	require.Len(t, events, 1)
	assert.Equal(t, queued, events[0].JobID)
	assert.Equal(t, string(models.JobStatusCancelled), events[0].Status)
	assert.Equal(t, "Cancelled before start", events[0].Details["reason"])
}

func TestRunnerAuditsCancelWithoutTask(t *testing.T) {
	ctx := context.Background()
	ledger, runner, st := newAuditedRunner(t, 1)
	id := newRunningJob(t, ledger)

	ok, err := runner.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	events := st.AuditEvents()
	require.Len(t, events, 1)
	assert.Equal(t, string(models.JobStatusCancelled), events[0].Status)
}

func TestRunnerLeavesReportedCancelToWork(t *testing.T) {
	ctx := context.Background()
	ledger, runner, st := newAuditedRunner(t, 1)
	id := newRunningJob(t, ledger)

	started := make(chan struct{})
	h, err := runner.Start(id, func(ctx context.Context) error {
		_ = ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning})
		close(started)
		<-ctx.Done()
		return &CancelledError{Reason: "stopped between entities"}
	})
	require.NoError(t, err)
	<-started

	ok, err := runner.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	waitFor(t, h)

	assert.Empty(t, st.AuditEvents())
}
