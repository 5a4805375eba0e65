package dagmodel

import "time"

// Status is the terminal or interim status of a TaskResult.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusWarning Status = "warning"
)

// TaskResult is the outcome of dispatching one task, per spec.md §3.
// Invariant: for a terminal status, exactly one of Output/Error is set.
type TaskResult struct {
	TaskID          string    `json:"taskId"`
	Status          Status    `json:"status"`
	Output          any       `json:"output,omitempty"`
	Error           string    `json:"error,omitempty"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	StartedAt       time.Time `json:"startedAt"`
	EndedAt         time.Time `json:"endedAt"`
}

// WorkflowStatus is the overall run status carried in WorkflowState.
type WorkflowStatus string

const (
	WorkflowRunning          WorkflowStatus = "running"
	WorkflowAwaitingDecision WorkflowStatus = "awaiting_decision"
	WorkflowAborted          WorkflowStatus = "aborted"
	WorkflowComplete         WorkflowStatus = "complete"
)

// WorkflowState is the complete, checkpoint-able execution state of one
// run, per spec.md §3.
type WorkflowState struct {
	DAGID        string         `json:"dagId"`
	CurrentLayer int            `json:"currentLayer"`
	Layers       [][]Task       `json:"layers"`
	Tasks        []TaskResult   `json:"tasks"`
	StartedAt    time.Time      `json:"startedAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	Status       WorkflowStatus `json:"status"`
}

// Clone returns a deep copy of the state suitable for writing to a
// Checkpoint without aliasing the Executor's live state (spec.md §3
// "Ownership & lifecycle": a WorkflowState is cloned into a Checkpoint).
func (s *WorkflowState) Clone() *WorkflowState {
	clone := *s

	clone.Layers = make([][]Task, len(s.Layers))
	for i, layer := range s.Layers {
		clone.Layers[i] = append([]Task(nil), layer...)
	}

	clone.Tasks = append([]TaskResult(nil), s.Tasks...)

	return &clone
}

// CompletedMap indexes Tasks by TaskID for dependency resolution.
func (s *WorkflowState) CompletedMap() map[string]TaskResult {
	m := make(map[string]TaskResult, len(s.Tasks))
	for _, r := range s.Tasks {
		m[r.TaskID] = r
	}
	return m
}
