package models

import (
	"time"

	"github.com/goccy/go-json"
)

// ResultStatus summarises how a step or a whole job went.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultPartial ResultStatus = "partial"
	ResultError   ResultStatus = "error"
)

// EntityResult records the outcome of one entity's sub-sync.
type EntityResult struct {
	Step     string             `json:"step"`
	EntityID string             `json:"entity_id"`
	Status   ResultStatus       `json:"status"`
	Counts   map[RecordType]int `json:"counts,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// StepResult summarises a fan-out step.
type StepResult struct {
	Name      string       `json:"name"`
	Status    ResultStatus `json:"status"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// JobResult is the structured summary handed to the ledger on completion.
type JobResult struct {
	Status     ResultStatus       `json:"status"`
	Steps      []StepResult       `json:"steps"`
	Entities   []EntityResult     `json:"entities"`
	Totals     map[RecordType]int `json:"totals"`
	TotalCount int                `json:"total_count"`
	Cancelled  bool               `json:"cancelled,omitempty"`
	Duration   float64            `json:"duration_seconds"`
}

// NewJobResult returns an empty result ready to accumulate entities.
func NewJobResult() *JobResult {
	return &JobResult{
		Steps:    []StepResult{},
		Entities: []EntityResult{},
		Totals:   map[RecordType]int{},
	}
}

// Add records an entity outcome and folds its counts into the totals.
func (r *JobResult) Add(e EntityResult) {
	r.Entities = append(r.Entities, e)
	if e.Status != ResultSuccess {
		return
	}
	for t, n := range e.Counts {
		r.Totals[t] += n
		r.TotalCount += n
	}
}

// Succeeded and Failed count entity outcomes.
func (r *JobResult) Succeeded() int { return r.count(ResultSuccess) }
func (r *JobResult) Failed() int    { return len(r.Entities) - r.count(ResultSuccess) }

func (r *JobResult) count(s ResultStatus) int {
	n := 0
	for _, e := range r.Entities {
		if e.Status == s {
			n++
		}
	}
	return n
}

// Finalize derives the overall status from the entity outcomes.
func (r *JobResult) Finalize(elapsed time.Duration) {
	r.Duration = elapsed.Seconds()
	switch failed := r.Failed(); {
	case failed == 0:
		r.Status = ResultSuccess
	case failed == len(r.Entities):
		r.Status = ResultError
	default:
		r.Status = ResultPartial
	}
}

// Map renders the result as the free-form payload stored on the job.
func (r *JobResult) Map() (map[string]any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AuditEvent is forwarded to the audit sink after every terminal job outcome.
type AuditEvent struct {
	EventType    string         `json:"event_type"`
	JobID        string         `json:"job_id"`
	ActorRef     *string        `json:"actor_ref"`
	Status       string         `json:"status"`
	Details      map[string]any `json:"details"`
	ErrorMessage *string        `json:"error_message"`
	CreatedAt    time.Time      `json:"created_at"`
}
