// Package decision implements the HIL and AIL decision loops from
// spec.md §4.7 as the two-step *prepare → yield → await* primitive: build
// a decision context, emit a decision_required event, then await a
// command on the Command Queue. Both loops share the same await/interpret
// machinery; only their trigger conditions and command vocabularies
// differ.
//
// Grounded on kadirpekel-hector's v2/task/awaiter.go (InputRequirement /
// InputResponse is the same prepare-then-wait shape, generalized here
// from a per-task human-input wait to a per-layer HIL/AIL gate backed by
// the Command Queue rather than a private channel map) and
// v2/tool/approvaltool (the approve/deny vocabulary).
package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/dagrunner/config"
	"github.com/kadirpekel/dagrunner/pkg/dagmodel"
	"github.com/kadirpekel/dagrunner/pkg/event"
	"github.com/kadirpekel/dagrunner/pkg/permission"
	"github.com/kadirpekel/dagrunner/pkg/queue"
)

// Outcome is the result of a completed decision loop.
type Outcome string

const (
	OutcomeProceed Outcome = "proceed"
	OutcomeAbort   Outcome = "abort"
	OutcomeReplan  Outcome = "replan"
)

// Result reports what the Executor must do after a decision loop
// concludes.
type Result struct {
	Outcome        Outcome
	Reason         string
	NewRequirement string // set only when Outcome == OutcomeReplan
	Err            error  // set only when Outcome == OutcomeAbort
}

// HILEligible implements the trigger condition resolution from spec.md §9:
// HIL fires iff approvalRequired is "always", OR any non-pure task in the
// upcoming layer resolves to a permission decision of ask (which includes
// the Unknown-defaults-to-ask case, already folded into Resolve) —
// regardless of approvalRequired otherwise.
func HILEligible(layer dagmodel.Layer, resolver *permission.Resolver, approvalRequired config.ApprovalRequired) bool {
	if approvalRequired == config.ApprovalAlways {
		return true
	}
	if resolver == nil {
		return false
	}
	for _, task := range layer {
		if task.Kind == dagmodel.KindCode || task.Tool == "" {
			continue
		}
		if task.IsPure() {
			continue
		}
		if resolver.Resolve(task.Tool) == permission.Ask {
			return true
		}
	}
	return false
}

// AILEligible implements the AIL trigger condition from spec.md §4.7:
// per_layer always fires, on_error fires only when the just-finished
// layer had a failed task, manual never fires automatically.
func AILEligible(decisionPoints config.DecisionPoints, layerHadError bool) bool {
	switch decisionPoints {
	case config.DecisionPerLayer:
		return true
	case config.DecisionOnError:
		return layerHadError
	default:
		return false
	}
}

// RunHIL executes one HIL decision: it emits a decision_required event
// through stream and then awaits an approval_response (or abort) command
// on q, honoring timeout. The emit happens before the await begins, so a
// concurrent observer of the event can always unblock the wait (spec.md
// §9's deferred pattern, and property 7 in spec.md §8).
func RunHIL(ctx context.Context, q *queue.Queue, stream *event.Stream, layerIndex int, taskIDs []string, reason, checkpointID string, timeout time.Duration) Result {
	stream.Emit(event.Event{
		Kind:         event.KindDecisionRequired,
		Timestamp:    time.Now(),
		DecisionType: event.DecisionHIL,
		CheckpointID: checkpointID,
		Context: map[string]any{
			"layerIndex": layerIndex,
			"taskIds":    taskIDs,
			"reason":     reason,
		},
	})

	cmd, ok := q.Await(timeout)
	if !ok {
		return Result{Outcome: OutcomeAbort, Reason: "aborted by HIL timeout", Err: dagmodel.ErrHILTimeout}
	}

	switch cmd.Kind {
	case queue.KindApprovalResponse:
		if cmd.Approved {
			return Result{Outcome: OutcomeProceed}
		}
		reason := "aborted by human"
		if cmd.Feedback != "" {
			reason = fmt.Sprintf("%s: %s", reason, cmd.Feedback)
		}
		return Result{Outcome: OutcomeAbort, Reason: reason, Err: dagmodel.ErrHILRejected}
	case queue.KindAbort:
		return Result{Outcome: OutcomeAbort, Reason: abortReason(cmd, "aborted by human"), Err: dagmodel.ErrHILRejected}
	default:
		return Result{Outcome: OutcomeAbort, Reason: "aborted by human: unexpected command for HIL", Err: dagmodel.ErrHILRejected}
	}
}

// RunAIL executes one AIL decision, mirroring RunHIL's deferred pattern
// with the continue/abort/replan_dag vocabulary from spec.md §4.7.
func RunAIL(ctx context.Context, q *queue.Queue, stream *event.Stream, layerIndex int, reason, checkpointID string, timeout time.Duration, defaultOnTimeout string) Result {
	stream.Emit(event.Event{
		Kind:         event.KindDecisionRequired,
		Timestamp:    time.Now(),
		DecisionType: event.DecisionAIL,
		CheckpointID: checkpointID,
		Context: map[string]any{
			"layerIndex": layerIndex,
			"reason":     reason,
		},
	})

	cmd, ok := q.Await(timeout)
	if !ok {
		if defaultOnTimeout == "continue" {
			return Result{Outcome: OutcomeProceed}
		}
		return Result{Outcome: OutcomeAbort, Reason: "aborted by AIL timeout", Err: dagmodel.ErrAILTimeout}
	}

	switch cmd.Kind {
	case queue.KindContinue:
		return Result{Outcome: OutcomeProceed}
	case queue.KindAbort:
		return Result{Outcome: OutcomeAbort, Reason: abortReason(cmd, "aborted by agent"), Err: dagmodel.ErrAILAbort}
	case queue.KindReplanDAG:
		return Result{Outcome: OutcomeReplan, NewRequirement: cmd.NewRequirement}
	default:
		return Result{Outcome: OutcomeAbort, Reason: "aborted by agent: unexpected command for AIL", Err: dagmodel.ErrAILAbort}
	}
}

func abortReason(cmd queue.DecisionCommand, fallback string) string {
	if cmd.Reason != "" {
		return fmt.Sprintf("%s: %s", fallback, cmd.Reason)
	}
	return fallback
}
