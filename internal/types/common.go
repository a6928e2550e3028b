package types

// Error codes
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL_ERROR"
	CodeUnavailable  = "UNAVAILABLE"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	// Whether the request was successful
	Success bool `json:"success" example:"false"`
	// Human-readable error message
	Error string `json:"error" example:"unknown sync type \"nodes\""`
	// Machine-readable error code
	Code string `json:"code,omitempty" example:"BAD_REQUEST"`
}

// SuccessResponse represents a standard success response
type SuccessResponse struct {
	// Whether the request was successful
	Success bool `json:"success" example:"true"`
	// Response payload
	Data any `json:"data,omitempty"`
	// Optional message
	Message string `json:"message,omitempty" example:"Sync job accepted"`
}

// NewError builds a failed envelope.
func NewError(message, code string) ErrorResponse {
	return ErrorResponse{Success: false, Error: message, Code: code}
}

// NewSuccess builds a successful envelope around data.
func NewSuccess(data any, message string) SuccessResponse {
	return SuccessResponse{Success: true, Data: data, Message: message}
}

// JobAccepted is returned when a sync job has been queued.
type JobAccepted struct {
	JobID string `json:"job_id" example:"4b8f4a8e-5f2e-4a59-9c7d-2a4e7c1d9f10"`
}

// CancelResult reports whether a cancel request ended the job.
type CancelResult struct {
	Cancelled bool `json:"cancelled" example:"true"`
}

// JobList is a page of sync jobs.
type JobList struct {
	Jobs   any `json:"jobs"`
	Limit  int `json:"limit" example:"50"`
	Offset int `json:"offset" example:"0"`
}
