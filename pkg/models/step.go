package models

import "time"

// StepStatus is the outcome of one node execution attempt.
type StepStatus string

const (
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusWaiting   StepStatus = "waiting"
	StepStatusTimeout   StepStatus = "timeout"
)

// StepExecution is an immutable per-node-execution audit record. It is
// append-only: once written with a completed or failed status it is never
// mutated again.
type StepExecution struct {
	ID         string   `json:"id"`
	SessionID  string   `json:"session_id"`
	NodeID     string   `json:"node_id"`
	NodeType   NodeType `json:"node_type"`
	OrderIndex int      `json:"order_index"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs int64      `json:"duration_ms"`

	Status StepStatus `json:"status"`

	Input  map[string]any `json:"input,omitempty"`
	Output map[string]any `json:"output,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`
	MaxRetries   int    `json:"max_retries"`
}

// Finish stamps the end time, duration and final status.
func (s *StepExecution) Finish(status StepStatus, now time.Time) {
	s.FinishedAt = &now
	s.DurationMs = now.Sub(s.StartedAt).Milliseconds()
	s.Status = status
}
