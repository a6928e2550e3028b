package models

import (
	"fmt"
	"time"
)

// SyncType identifies which provider data a sync job pulls.
type SyncType string

const (
	SyncTypeBrands          SyncType = "brands"
	SyncTypePrompts         SyncType = "prompts"
	SyncTypeResponses       SyncType = "responses"
	SyncTypeGA4             SyncType = "ga4"
	SyncTypeAgencyAnalytics SyncType = "agency_analytics"
	SyncTypeAll             SyncType = "all"
)

// SyncTypes lists every accepted sync type in declaration order.
var SyncTypes = []SyncType{
	SyncTypeBrands,
	SyncTypePrompts,
	SyncTypeResponses,
	SyncTypeGA4,
	SyncTypeAgencyAnalytics,
	SyncTypeAll,
}

// ParseSyncType validates a raw sync type tag.
func ParseSyncType(raw string) (SyncType, error) {
	for _, t := range SyncTypes {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown sync type %q", raw)
}

// JobStatus is the lifecycle state of a sync job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// SyncJob is the persisted record of one sync run.
type SyncJob struct {
	ID             string         `json:"id"`
	SyncType       SyncType       `json:"sync_type"`
	UserRef        *string        `json:"user_ref"`
	Status         JobStatus      `json:"status"`
	Progress       int            `json:"progress"`
	CurrentStep    *string        `json:"current_step"`
	TotalSteps     int            `json:"total_steps"`
	CompletedSteps int            `json:"completed_steps"`
	Parameters     map[string]any `json:"parameters"`
	Result         map[string]any `json:"result"`
	ErrorMessage   *string        `json:"error_message"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at"`
}

// JobFilter narrows ListJobs. Zero values mean "any".
type JobFilter struct {
	Status   JobStatus
	SyncType SyncType
	UserRef  string
	Limit    int
	Offset   int
}

// JobPatch is a partial update applied atomically to a stored job.
// Nil fields are left untouched.
type JobPatch struct {
	Status         *JobStatus
	Progress       *int
	CurrentStep    *string
	TotalSteps     *int
	CompletedSteps *int
	ErrorMessage   *string
	Result         map[string]any
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// SyncMode selects how far back a sync reaches.
type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

// SyncParams are the caller-supplied knobs of a sync job.
type SyncParams struct {
	Mode         SyncMode `json:"mode,omitempty"`
	BrandID      *int64   `json:"brand_id,omitempty"`
	ClientID     *int64   `json:"client_id,omitempty"`
	LookbackDays int      `json:"lookback_days,omitempty"`
	StartDate    string   `json:"start_date,omitempty"`
	EndDate      string   `json:"end_date,omitempty"`
}

// Map flattens p into the job parameters blob.
func (p SyncParams) Map() map[string]any {
	m := make(map[string]any)
	if p.Mode != "" {
		m["mode"] = string(p.Mode)
	}
	if p.BrandID != nil {
		m["brand_id"] = *p.BrandID
	}
	if p.ClientID != nil {
		m["client_id"] = *p.ClientID
	}
	if p.LookbackDays > 0 {
		m["lookback_days"] = p.LookbackDays
	}
	if p.StartDate != "" {
		m["start_date"] = p.StartDate
	}
	if p.EndDate != "" {
		m["end_date"] = p.EndDate
	}
	return m
}

// DateLayout is the calendar date format used for params and daily rows.
const DateLayout = "2006-01-02"

// Window resolves the date range a sync covers. Explicit dates win over
// the lookback; the lookback falls back to defaultDays.
func (p SyncParams) Window(now time.Time, defaultDays int) (time.Time, time.Time, error) {
	end := Day(now)
	if p.EndDate != "" {
		t, err := time.Parse(DateLayout, p.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date: %w", err)
		}
		end = t
	}

	days := p.LookbackDays
	if days <= 0 {
		days = defaultDays
	}
	start := end.AddDate(0, 0, -(days - 1))
	if p.StartDate != "" {
		t, err := time.Parse(DateLayout, p.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date: %w", err)
		}
		start = t
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date %s is after end_date %s", start.Format(DateLayout), end.Format(DateLayout))
	}
	return start, end, nil
}

// Day truncates t to a UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Apply copies the non-nil fields of p onto j.
func (j *SyncJob) Apply(p JobPatch) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Progress != nil {
		j.Progress = *p.Progress
	}
	if p.CurrentStep != nil {
		j.CurrentStep = p.CurrentStep
	}
	if p.TotalSteps != nil {
		j.TotalSteps = *p.TotalSteps
	}
	if p.CompletedSteps != nil {
		j.CompletedSteps = *p.CompletedSteps
	}
	if p.ErrorMessage != nil {
		j.ErrorMessage = p.ErrorMessage
	}
	if p.Result != nil {
		j.Result = p.Result
	}
	if p.StartedAt != nil {
		j.StartedAt = p.StartedAt
	}
	if p.CompletedAt != nil {
		j.CompletedAt = p.CompletedAt
	}
}

// Empty reports whether the patch changes nothing.
func (p JobPatch) Empty() bool {
	return p.Status == nil && p.Progress == nil && p.CurrentStep == nil &&
		p.TotalSteps == nil && p.CompletedSteps == nil && p.ErrorMessage == nil &&
		p.Result == nil && p.StartedAt == nil && p.CompletedAt == nil
}
