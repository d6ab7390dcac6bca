package types

import "time"

// ExecutionStatus is the terminal status of one action attempt.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailure ExecutionStatus = "failure"
	StatusError   ExecutionStatus = "error"
)

// Snapshot captures diagnostic page state at the moment a result was
// produced. Failures always carry one so a run can be debugged without
// re-running it.
type Snapshot struct {
	Timestamp        time.Time `json:"timestamp"`
	URL              string    `json:"url"`
	HTMLLength       int       `json:"html_length"`
	ScreenshotBase64 string    `json:"screenshot_base64,omitempty"`
}

// ExecutionResult is the immutable record of one action attempt. The unified
// action executor is the sole producer.
type ExecutionResult struct {
	StepID    string          `json:"step_id"`
	Selector  string          `json:"selector,omitempty"`
	Status    ExecutionStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
	Snapshot  *Snapshot       `json:"snapshot,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Succeeded reports whether the attempt completed successfully.
func (r *ExecutionResult) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}
