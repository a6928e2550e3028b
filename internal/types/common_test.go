package types

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeEncoding(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{
			name:     "error with code",
			value:    NewError("job not found", CodeNotFound),
			expected: `{"success":false,"error":"job not found","code":"NOT_FOUND"}`,
		},
		{
			name:     "error without code",
			value:    NewError("boom", ""),
			expected: `{"success":false,"error":"boom"}`,
		},
		{
			name:     "success with data",
			value:    NewSuccess(JobAccepted{JobID: "job-1"}, "Sync job accepted"),
			expected: `{"success":true,"data":{"job_id":"job-1"},"message":"Sync job accepted"}`,
		},
		{
			name:     "success without message",
			value:    NewSuccess(CancelResult{Cancelled: false}, ""),
			expected: `{"success":true,"data":{"cancelled":false}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.value)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(data))
		})
	}
}

func TestErrorResponseZeroValues(t *testing.T) {
	resp := ErrorResponse{}
	assert.False(t, resp.Success)
	assert.Empty(t, resp.Error)
}
