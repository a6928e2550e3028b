package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSyncType(t *testing.T) {
	for _, st := range SyncTypes {
		got, err := ParseSyncType(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}

	_, err := ParseSyncType("nodes")
	assert.Error(t, err)
}

func TestSyncParamsWindow(t *testing.T) {
	now := time.Date(2026, 3, 15, 17, 30, 0, 0, time.UTC)
	day := func(s string) time.Time {
		d, _ := time.Parse(DateLayout, s)
		return d
	}

	tests := []struct {
		name      string
		params    SyncParams
		wantStart time.Time
		wantEnd   time.Time
		wantErr   bool
	}{
		{
			name:      "default lookback",
			params:    SyncParams{},
			wantStart: day("2026-02-14"),
			wantEnd:   day("2026-03-15"),
		},
		{
			name:      "explicit lookback",
			params:    SyncParams{LookbackDays: 7},
			wantStart: day("2026-03-09"),
			wantEnd:   day("2026-03-15"),
		},
		{
			name:      "explicit dates",
			params:    SyncParams{StartDate: "2026-01-01", EndDate: "2026-01-31"},
			wantStart: day("2026-01-01"),
			wantEnd:   day("2026-01-31"),
		},
		{
			name:    "start after end",
			params:  SyncParams{StartDate: "2026-02-01", EndDate: "2026-01-31"},
			wantErr: true,
		},
		{
			name:    "bad date",
			params:  SyncParams{EndDate: "31/01/2026"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := tt.params.Window(now, 30)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestSyncParamsMap(t *testing.T) {
	assert.Empty(t, SyncParams{}.Map())

	m := SyncParams{Mode: SyncModeFull, ClientID: Int64(7), LookbackDays: 14}.Map()
	assert.Equal(t, map[string]any{"mode": "full", "client_id": int64(7), "lookback_days": 14}, m)
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
	assert.False(t, JobStatus("paused").Valid())
}

func TestSyncJobApply(t *testing.T) {
	job := SyncJob{Status: JobStatusPending}
	running := JobStatusRunning
	progress := 40

	assert.True(t, JobPatch{}.Empty())
	job.Apply(JobPatch{Status: &running, Progress: &progress, CurrentStep: String("brands")})

	assert.Equal(t, JobStatusRunning, job.Status)
	assert.Equal(t, 40, job.Progress)
	require.NotNil(t, job.CurrentStep)
	assert.Equal(t, "brands", *job.CurrentStep)
	assert.Nil(t, job.ErrorMessage)
}

func TestTenantScope(t *testing.T) {
	assert.ErrorIs(t, TenantScope{PropertyID: "p1"}.Validate(), ErrInvalidScope)
	assert.NoError(t, BrandScope(3, "p1").Validate())

	assert.Equal(t, "client:5", ClientScope(5, Int64(3), "p1").Ref())
	assert.Equal(t, "brand:3", BrandScope(3, "").Ref())
	assert.True(t, EqualID(nil, nil))
	assert.False(t, EqualID(Int64(1), nil))
}
