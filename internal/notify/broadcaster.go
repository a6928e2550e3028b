// Package notify delivers job status notifications to live progress
// streams and to external webhooks.
package notify

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/jobs"
	"github.com/brandlens/backend/internal/metrics"
)

// AllJobs subscribes to every job.
const AllJobs = ""

type subscriber struct {
	ch   chan jobs.Notification
	once sync.Once
}

// Broadcaster fans notifications out to in-process subscribers. A
// subscriber that falls behind loses notifications instead of blocking
// the job that emits them.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster whose subscriptions buffer up to
// buffer notifications.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 16
	}
	return &Broadcaster{subs: make(map[string]map[*subscriber]struct{}), buffer: buffer}
}

// Subscribe returns a channel of notifications for jobID, or for every job
// when jobID is AllJobs. The returned func ends the subscription and closes
// the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe(jobID string) (<-chan jobs.Notification, func()) {
	s := &subscriber{ch: make(chan jobs.Notification, b.buffer)}

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[*subscriber]struct{})
	}
	b.subs[jobID][s] = struct{}{}
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		delete(b.subs[jobID], s)
		if len(b.subs[jobID]) == 0 {
			delete(b.subs, jobID)
		}
		b.mu.Unlock()
		s.once.Do(func() { close(s.ch) })
	}
}

// Subscribers reports how many subscriptions are open for jobID.
func (b *Broadcaster) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

// Notify implements jobs.Notifier.
func (b *Broadcaster) Notify(_ context.Context, n jobs.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, key := range []string{n.JobID, AllJobs} {
		for s := range b.subs[key] {
			select {
			case s.ch <- n:
			default:
				metrics.BestEffortFailures.WithLabelValues("notify_stream").Inc()
				log.Debug().Str("job_id", n.JobID).Msg("Dropped notification for slow subscriber")
			}
		}
	}
	return nil
}

// Multi notifies every notifier in order and joins their errors.
type Multi []jobs.Notifier

// Notify implements jobs.Notifier.
func (m Multi) Notify(ctx context.Context, n jobs.Notification) error {
	var errs *multierror.Error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
