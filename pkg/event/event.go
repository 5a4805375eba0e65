// Package event defines ExecutionEvent, the tagged-variant output stream
// of the Controlled Executor (spec.md §3), and Stream, the bounded
// blocking-emit pipe the Executor pushes events through (spec.md §9: "the
// Executor must never lose events on consumer back-pressure ... recommend
// bounded-blocking to preserve invariants").
package event

import "time"

// Kind discriminates an ExecutionEvent's payload, mirroring the kinds
// enumerated in spec.md §3.
type Kind string

const (
	KindWorkflowStart    Kind = "workflow_start"
	KindLayerStart       Kind = "layer_start"
	KindTaskStart        Kind = "task_start"
	KindTaskComplete     Kind = "task_complete"
	KindTaskError        Kind = "task_error"
	KindTaskWarning      Kind = "task_warning"
	KindStateUpdated     Kind = "state_updated"
	KindCheckpoint       Kind = "checkpoint"
	KindDecisionRequired Kind = "decision_required"
	KindWorkflowComplete Kind = "workflow_complete"
	KindWorkflowAbort    Kind = "workflow_abort"
)

// DecisionType discriminates a decision_required event's decision loop.
type DecisionType string

const (
	DecisionHIL DecisionType = "HIL"
	DecisionAIL DecisionType = "AIL"
)

// Event is one entry of the execution event stream. Every event carries a
// Timestamp and a Kind; only the fields relevant to that Kind are
// populated. Modeled as one struct with a discriminator, matching the
// tagged-variant convention spec.md §9 asks for, rather than an interface
// with a type switch per payload — the payload shapes here are small and
// flat enough that one struct stays simpler to marshal to the wire JSON
// format in spec.md §6.
type Event struct {
	Kind      Kind      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// workflow_start
	TotalLayers int `json:"totalLayers,omitempty"`

	// layer_start
	LayerIndex int `json:"layerIndex,omitempty"`

	// task_start, task_complete, task_error, task_warning
	TaskID string `json:"taskId,omitempty"`

	// task_complete
	Result any `json:"result,omitempty"`

	// task_error, workflow_abort
	Error string `json:"error,omitempty"`

	// task_warning
	Message string `json:"message,omitempty"`

	// state_updated
	State any `json:"state,omitempty"`

	// checkpoint
	CheckpointID string `json:"checkpointId,omitempty"`

	// decision_required
	DecisionType DecisionType   `json:"decisionType,omitempty"`
	Context      map[string]any `json:"context,omitempty"`

	// workflow_complete
	SuccessfulTasks int `json:"successfulTasks,omitempty"`
	FailedTasks     int `json:"failedTasks,omitempty"`
}
