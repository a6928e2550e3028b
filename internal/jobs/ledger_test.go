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

type recordingNotifier struct {
	mu   sync.Mutex
	seen []Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, note)
	return n.err
}

func (n *recordingNotifier) statuses() []models.JobStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.JobStatus, len(n.seen))
	for i, note := range n.seen {
		out[i] = note.Status
	}
	return out
}

func intPtr(v int) *int { return &v }

func newTestLedger(t *testing.T) (*Ledger, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	return NewLedger(memstore.New(), n), n
}

func TestCreateJobStartsPending(t *testing.T) {
	ctx := context.Background()
	ledger, notes := newTestLedger(t)

	id, err := ledger.CreateJob(ctx, models.SyncTypePrompts, models.String("user-1"), map[string]any{"brand_id": 42})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := ledger.GetJob(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
	assert.Equal(t, []models.JobStatus{models.JobStatusPending}, notes.statuses())
	assert.Equal(t, "brand:42", notes.seen[0].TenantRef)
}

func TestGetJobMissingReturnsNil(t *testing.T) {
	ledger, _ := newTestLedger(t)
	job, err := ledger.GetJob(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestStartedAtSetOnce(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	id, err := ledger.CreateJob(ctx, models.SyncTypeBrands, nil, nil)
	require.NoError(t, err)

	require.NoError(t, ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning}))
	first, _ := ledger.GetJob(ctx, id)
	require.NotNil(t, first.StartedAt)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning, Progress: intPtr(40)}))
	second, _ := ledger.GetJob(ctx, id)
	assert.True(t, first.StartedAt.Equal(*second.StartedAt))
	assert.Equal(t, 40, second.Progress)
}

func TestProgressClampedAndMonotonic(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	id, _ := ledger.CreateJob(ctx, models.SyncTypeBrands, nil, nil)

	steps := []struct {
		in   int
		want int
	}{
		{in: 30, want: 30},
		{in: 10, want: 30},
		{in: 250, want: 100},
		{in: -5, want: 100},
	}
	for _, s := range steps {
		require.NoError(t, ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning, Progress: intPtr(s.in)}))
		job, _ := ledger.GetJob(ctx, id)
		assert.Equal(t, s.want, job.Progress, "after progress %d", s.in)
	}
}

func TestTerminalStatusIsImmutable(t *testing.T) {
	ctx := context.Background()
	ledger, notes := newTestLedger(t)
	id, _ := ledger.CreateJob(ctx, models.SyncTypeBrands, nil, nil)

	require.NoError(t, ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning}))
	require.NoError(t, ledger.Complete(ctx, id, map[string]any{"total_count": 3}, ""))

	done, _ := ledger.GetJob(ctx, id)
	require.Equal(t, models.JobStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, 100, done.Progress)

	// Every later write is a silent no-op.
	assert.NoError(t, ledger.Fail(ctx, id, "boom"))
	assert.NoError(t, ledger.MarkCancelled(ctx, id, "late", nil))
	assert.NoError(t, ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning, Progress: intPtr(5)}))
	assert.NoError(t, ledger.Complete(ctx, id, map[string]any{"total_count": 99}, models.JobStatusFailed))

	after, _ := ledger.GetJob(ctx, id)
	assert.Equal(t, models.JobStatusCompleted, after.Status)
	assert.True(t, done.CompletedAt.Equal(*after.CompletedAt))
	assert.Nil(t, after.ErrorMessage)
	assert.EqualValues(t, 3, after.Result["total_count"])
	assert.Equal(t, []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusRunning,
		models.JobStatusCompleted,
	}, notes.statuses())
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    models.JobStatus
		to      models.JobStatus
		wantErr bool
	}{
		{name: "pending to running", from: models.JobStatusPending, to: models.JobStatusRunning},
		{name: "pending to cancelled", from: models.JobStatusPending, to: models.JobStatusCancelled},
		{name: "pending to failed", from: models.JobStatusPending, to: models.JobStatusFailed},
		{name: "pending to completed", from: models.JobStatusPending, to: models.JobStatusCompleted, wantErr: true},
		{name: "running to running", from: models.JobStatusRunning, to: models.JobStatusRunning},
		{name: "running to completed", from: models.JobStatusRunning, to: models.JobStatusCompleted},
		{name: "running to failed", from: models.JobStatusRunning, to: models.JobStatusFailed},
		{name: "running to cancelled", from: models.JobStatusRunning, to: models.JobStatusCancelled},
		{name: "running to pending", from: models.JobStatusRunning, to: models.JobStatusPending, wantErr: true},
		{name: "completed to running", from: models.JobStatusCompleted, to: models.JobStatusRunning, wantErr: true},
		{name: "cancelled to failed", from: models.JobStatusCancelled, to: models.JobStatusFailed, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCompleteFromPendingIsRejected(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	id, _ := ledger.CreateJob(ctx, models.SyncTypeBrands, nil, nil)

	err := ledger.Complete(ctx, id, nil, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = ledger.Complete(ctx, id, nil, models.JobStatusRunning)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateUnknownJob(t *testing.T) {
	ledger, _ := newTestLedger(t)
	err := ledger.Fail(context.Background(), "missing", "x")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestNotifierFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{err: errors.New("socket closed")}
	ledger := NewLedger(memstore.New(), n)

	id, err := ledger.CreateJob(ctx, models.SyncTypeBrands, nil, nil)
	require.NoError(t, err)
	require.NoError(t, ledger.UpdateStatus(ctx, id, StatusUpdate{Status: models.JobStatusRunning}))
	require.NoError(t, ledger.Fail(ctx, id, "provider down"))

	job, _ := ledger.GetJob(ctx, id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "provider down", *job.ErrorMessage)
}

func TestListJobsFilters(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	a, _ := ledger.CreateJob(ctx, models.SyncTypeBrands, models.String("alice"), nil)
	_, _ = ledger.CreateJob(ctx, models.SyncTypeGA4, models.String("bob"), nil)
	require.NoError(t, ledger.UpdateStatus(ctx, a, StatusUpdate{Status: models.JobStatusRunning}))

	running, err := ledger.ListJobs(ctx, models.JobFilter{Status: models.JobStatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, a, running[0].ID)

	bobs, err := ledger.ListJobs(ctx, models.JobFilter{UserRef: "bob"})
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, models.SyncTypeGA4, bobs[0].SyncType)
}

func TestSweepRemovesOldTerminalJobs(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	old, _ := ledger.CreateJob(ctx, models.SyncTypeBrands, nil, nil)
	live, _ := ledger.CreateJob(ctx, models.SyncTypeBrands, nil, nil)
	require.NoError(t, ledger.Fail(ctx, old, "x"))

	ledger.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	n, err := ledger.Sweep(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	gone, _ := ledger.GetJob(ctx, old)
	assert.Nil(t, gone)
	kept, _ := ledger.GetJob(ctx, live)
	assert.NotNil(t, kept)
}
