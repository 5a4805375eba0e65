package queue

import "fmt"

// DecisionCommand is the tagged-variant input to the engine (spec.md §3).
// Kind selects which optional fields are meaningful; unknown fields in the
// wire form are tolerated for forward compatibility (spec.md §9).
type Kind string

const (
	KindApprovalResponse           Kind = "approval_response"
	KindContinue                   Kind = "continue"
	KindAbort                      Kind = "abort"
	KindReplanDAG                  Kind = "replan_dag"
	KindPermissionEscalationResp   Kind = "permission_escalation_response"
)

// DecisionCommand carries every optional field any variant uses; only the
// fields relevant to Kind are meaningful, following the sum-type-in-disguise
// guidance in spec.md §9.
type DecisionCommand struct {
	Kind Kind `json:"kind"`

	// approval_response / permission_escalation_response
	Approved bool   `json:"approved,omitempty"`
	Feedback string `json:"feedback,omitempty"`

	// approval_response
	CheckpointID string `json:"checkpointId,omitempty"`

	// continue / abort
	Reason string `json:"reason,omitempty"`

	// replan_dag
	NewRequirement string `json:"new_requirement,omitempty"`
}

// Validate implements the isDecisionCommand guard from spec.md §9: kind
// must be a non-empty known value. Unknown keys in the original JSON are
// already tolerated by virtue of DecisionCommand's fixed Go struct shape;
// this only checks the discriminator itself.
func (c DecisionCommand) Validate() error {
	if c.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidCommand)
	}
	switch c.Kind {
	case KindApprovalResponse, KindContinue, KindAbort, KindReplanDAG, KindPermissionEscalationResp:
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, c.Kind)
	}
}
