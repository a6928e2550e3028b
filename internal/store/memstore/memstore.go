// Package memstore is an in-process backend for the record store, the job
// ledger and the audit sink. It backs STORE_BACKEND=memory and the tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/brandlens/backend/internal/models"
	"github.com/brandlens/backend/internal/store"
)

// Store keeps everything in maps behind one mutex, so each batch is applied
// atomically with respect to every other reader and writer.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	jobs      map[string]models.SyncJob
	brands    map[int64]models.Brand
	prompts   map[int64]models.Prompt
	responses map[int64]models.Response
	campaigns map[int64]models.Campaign
	traffic   map[store.DailyKey]models.TrafficRow
	dims      map[store.DailyKey]models.DimensionRow
	rankings  map[store.DailyKey]models.RankingRow
	bindings  []models.PropertyBinding
	snapshots map[snapshotKey]models.KPISnapshot
	audit     []models.AuditEvent
}

type snapshotKey struct {
	brand    int64
	hasBrand bool
	property string
	end      time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		now:       time.Now,
		jobs:      make(map[string]models.SyncJob),
		brands:    make(map[int64]models.Brand),
		prompts:   make(map[int64]models.Prompt),
		responses: make(map[int64]models.Response),
		campaigns: make(map[int64]models.Campaign),
		traffic:   make(map[store.DailyKey]models.TrafficRow),
		dims:      make(map[store.DailyKey]models.DimensionRow),
		rankings:  make(map[store.DailyKey]models.RankingRow),
		snapshots: make(map[snapshotKey]models.KPISnapshot),
	}
}

var (
	_ store.Store = (*Store)(nil)
)

// Jobs

// InsertJob stores a new job.
func (s *Store) InsertJob(_ context.Context, job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = *job
	return nil
}

// GetJob returns a copy of the job, or nil when it does not exist.
func (s *Store) GetJob(_ context.Context, id string) (*models.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

// UpdateJob runs fn against the current job under the write lock and applies
// the patch it returns. A nil patch leaves the job untouched.
func (s *Store) UpdateJob(_ context.Context, id string, fn func(*models.SyncJob) (*models.JobPatch, error)) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	current := job
	patch, err := fn(&current)
	if err != nil {
		return nil, err
	}
	if patch != nil {
		job.Apply(*patch)
		s.jobs[id] = job
	}
	return &job, nil
}

// ListJobs returns jobs matching f, newest first.
func (s *Store) ListJobs(_ context.Context, f models.JobFilter) ([]models.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SyncJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.SyncType != "" && j.SyncType != f.SyncType {
			continue
		}
		if f.UserRef != "" && (j.UserRef == nil || *j.UserRef != f.UserRef) {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []models.SyncJob{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// DeleteTerminalBefore drops terminal jobs that completed before cutoff.
func (s *Store) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.Status.IsTerminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// Audit

// Record appends an audit event.
func (s *Store) Record(_ context.Context, event models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	s.audit = append(s.audit, event)
	return nil
}

// AuditEvents returns the recorded audit events in order.
func (s *Store) AuditEvents() []models.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AuditEvent(nil), s.audit...)
}
