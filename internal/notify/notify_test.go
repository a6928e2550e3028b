package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandlens/backend/internal/jobs"
	"github.com/brandlens/backend/internal/models"
	"github.com/brandlens/backend/internal/queue"
)

func note(jobID string, status models.JobStatus, progress int) jobs.Notification {
	return jobs.Notification{JobID: jobID, SyncType: models.SyncTypeGA4, Status: status, Progress: progress}
}

func TestBroadcasterRoutesByJob(t *testing.T) {
	b := NewBroadcaster(4)
	mine, stopMine := b.Subscribe("job-1")
	all, stopAll := b.Subscribe(AllJobs)
	defer stopAll()

	ctx := context.Background()
	require.NoError(t, b.Notify(ctx, note("job-1", models.JobStatusRunning, 10)))
	require.NoError(t, b.Notify(ctx, note("job-2", models.JobStatusRunning, 50)))

	got := <-mine
	assert.Equal(t, 10, got.Progress)
	select {
	case extra := <-mine:
		t.Fatalf("received notification for another job: %+v", extra)
	default:
	}

	assert.Equal(t, "job-1", (<-all).JobID)
	assert.Equal(t, "job-2", (<-all).JobID)

	stopMine()
	stopMine()
	_, open := <-mine
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers("job-1"))
	assert.Equal(t, 1, b.Subscribers(AllJobs))
}

func TestBroadcasterNeverBlocks(t *testing.T) {
	b := NewBroadcaster(1)
	ch, stop := b.Subscribe("job-1")
	defer stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Notify(context.Background(), note("job-1", models.JobStatusRunning, i*10)))
	}
	assert.Equal(t, 0, (<-ch).Progress, "the first notification stays buffered")
}

type fakeQueue struct {
	payloads []queue.WebhookPayload
	err      error
}

func (f *fakeQueue) EnqueueWebhook(p queue.WebhookPayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, p)
	return &asynq.TaskInfo{ID: "task-1"}, nil
}

func TestWebhookSendsTerminalOnly(t *testing.T) {
	q := &fakeQueue{}
	w := NewWebhook("https://hooks.example.com/sync", q)
	ctx := context.Background()

	require.NoError(t, w.Notify(ctx, note("job-1", models.JobStatusPending, 0)))
	require.NoError(t, w.Notify(ctx, note("job-1", models.JobStatusRunning, 40)))
	require.NoError(t, w.Notify(ctx, note("job-1", models.JobStatusCompleted, 100)))

	require.Len(t, q.payloads, 1)
	assert.Equal(t, "sync.completed", q.payloads[0].Event)
	assert.Equal(t, "https://hooks.example.com/sync", q.payloads[0].URL)
	assert.Equal(t, models.SyncTypeGA4, q.payloads[0].SyncType)

	disabled := NewWebhook("", q)
	require.NoError(t, disabled.Notify(ctx, note("job-2", models.JobStatusFailed, 0)))
	assert.Len(t, q.payloads, 1)
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, jobs.Notification) error {
	f.calls++
	return errors.New("down")
}

func TestMultiCallsEveryNotifier(t *testing.T) {
	b := NewBroadcaster(2)
	ch, stop := b.Subscribe("job-1")
	defer stop()
	bad := &failingNotifier{}

	err := Multi{bad, nil, b}.Notify(context.Background(), note("job-1", models.JobStatusFailed, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, models.JobStatusFailed, (<-ch).Status)

	q := &fakeQueue{err: errors.New("redis unavailable")}
	err = Multi{NewWebhook("https://hooks.example.com", q)}.Notify(context.Background(), note("job-1", models.JobStatusCompleted, 100))
	require.Error(t, err)
}
