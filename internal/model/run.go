package model

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// PhaseStatus is the outcome of a single pipeline stage.
type PhaseStatus string

const (
	PhaseStatusRunning PhaseStatus = "running"
	PhaseStatusSuccess PhaseStatus = "success"
	PhaseStatusFailed  PhaseStatus = "failed"
	PhaseStatusSkipped PhaseStatus = "skipped"
)

// Run is one execution of a contract pipeline.
type Run struct {
	ID          string         `json:"id"`
	Contract    string         `json:"contract"`
	TargetTable string         `json:"target_table"`
	Strategy    string         `json:"strategy"`
	Status      RunStatus      `json:"status"`
	Stats       *PipelineStats `json:"stats,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// RunPhase is one stage execution within a run.
type RunPhase struct {
	ID        string      `json:"id"`
	RunID     string      `json:"run_id"`
	Name      string      `json:"name"`
	Status    PhaseStatus `json:"status"`
	Error     string      `json:"error,omitempty"`
	Duration  int64       `json:"duration_ms"`
	StartedAt time.Time   `json:"started_at"`
}

// PhaseResult is returned by a stage for phase bookkeeping.
type PhaseResult struct {
	Name     string      `json:"name"`
	Status   PhaseStatus `json:"status"`
	Error    string      `json:"error,omitempty"`
	Duration int64       `json:"duration_ms"`
	RowsIn   int         `json:"rows_in"`
	RowsOut  int         `json:"rows_out"`
}
