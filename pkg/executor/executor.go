// Package executor implements the Controlled Executor from spec.md §4.8,
// the orchestrator wiring every other component together: it stratifies a
// DAG into layers, fires the HIL and AIL decision loops around each
// layer, fans a layer's tasks out through the Task Router with bounded
// concurrency, resolves dependency payloads between layers, checkpoints
// progress, and emits the execution event stream a caller drains.
//
// State machine (spec.md §4.8): for each layer,
//
//	LayerPrep -> AwaitHIL? -> LayerRun -> LayerCommit -> AwaitAIL? -> next layer
//
// AwaitHIL gates entry to the layer when it is eligible (an ask-resolving
// tool in the layer, or approval_required=always). AwaitAIL reviews the
// layer that just committed, gating entry to the next one, when the
// configured decision points call for it. Exactly one decision loop is
// ever outstanding at a time.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/dagrunner/config"
	"github.com/kadirpekel/dagrunner/pkg/checkpoint"
	"github.com/kadirpekel/dagrunner/pkg/dagmodel"
	"github.com/kadirpekel/dagrunner/pkg/decision"
	"github.com/kadirpekel/dagrunner/pkg/depresolve"
	"github.com/kadirpekel/dagrunner/pkg/event"
	"github.com/kadirpekel/dagrunner/pkg/logger"
	"github.com/kadirpekel/dagrunner/pkg/permission"
	"github.com/kadirpekel/dagrunner/pkg/queue"
	"github.com/kadirpekel/dagrunner/pkg/router"
	"github.com/kadirpekel/dagrunner/pkg/tracing"
)

// Executor runs one DAG to completion, abort, or replan.
type Executor struct {
	DAG dagmodel.DAG

	Router     *router.Router
	Permission *permission.Resolver
	Queue      *queue.Queue
	Checkpoint checkpoint.Store // nil disables checkpointing entirely
	Config     config.EngineConfig
	Metrics    *Metrics

	// StreamCapacity sizes the bounded event buffer handed to event.NewStream.
	// Zero uses a small default; the stream still blocks the run on a full,
	// un-drained buffer rather than dropping events (spec.md §9).
	StreamCapacity int
}

// Start stratifies e.DAG, optionally rehydrates from resume, and runs the
// workflow to completion on a new goroutine, returning immediately with
// the event stream the caller must drain until it closes. The stream's
// final event is always workflow_complete or workflow_abort.
func (e *Executor) Start(ctx context.Context, resume *checkpoint.Checkpoint) *event.Stream {
	capacity := e.StreamCapacity
	if capacity <= 0 {
		capacity = 16
	}
	stream := event.NewStream(capacity)

	go func() {
		defer stream.Close()
		e.run(ctx, resume, stream)
	}()

	return stream
}

func (e *Executor) run(ctx context.Context, resume *checkpoint.Checkpoint, stream *event.Stream) {
	layers, err := dagmodel.Stratify(&e.DAG)
	if err != nil {
		stream.Emit(event.Event{Kind: event.KindWorkflowStart, Timestamp: time.Now()})
		stream.Emit(event.Event{Kind: event.KindWorkflowAbort, Timestamp: time.Now(), Error: err.Error()})
		return
	}

	state, completed, checkpointID := e.initialState(resume, layers)

	stream.Emit(event.Event{Kind: event.KindWorkflowStart, Timestamp: time.Now(), TotalLayers: len(layers)})

	successCount, failCount := 0, 0
	for _, r := range state.Tasks {
		if r.Status == dagmodel.StatusSuccess {
			successCount++
		} else {
			failCount++
		}
	}

	for layerIndex := state.CurrentLayer; layerIndex < len(layers); layerIndex++ {
		layer := layers[layerIndex]

		stream.Emit(event.Event{Kind: event.KindLayerStart, Timestamp: time.Now(), LayerIndex: layerIndex})

		if e.Config.HIL.Enabled && decision.HILEligible(layer, e.Permission, e.Config.HIL.ApprovalRequired) {
			state.Status = dagmodel.WorkflowAwaitingDecision
			res := decision.RunHIL(ctx, e.Queue, stream, layerIndex, taskIDs(layer), "layer contains a tool requiring human approval", checkpointID, e.Config.HIL.Timeout)
			e.Metrics.recordDecision("hil", string(res.Outcome))
			if res.Outcome != decision.OutcomeProceed {
				e.abort(stream, &state, res.Err, res.Reason)
				return
			}
			state.Status = dagmodel.WorkflowRunning
		}

		layerStart := time.Now()
		results, layerHadError := e.runLayer(ctx, layerIndex, layer, completed, stream)
		e.Metrics.recordLayer(time.Since(layerStart))

		for _, r := range results {
			completed[r.TaskID] = r
			state.Tasks = append(state.Tasks, r)
			if r.Status == dagmodel.StatusSuccess {
				successCount++
			} else {
				failCount++
			}
		}

		state.CurrentLayer = layerIndex + 1
		state.UpdatedAt = time.Now()
		stream.Emit(event.Event{Kind: event.KindStateUpdated, Timestamp: time.Now(), State: state.Clone()})

		if e.Checkpoint != nil {
			id, err := e.Checkpoint.Save(ctx, *state.Clone())
			if err != nil {
				e.Metrics.recordCheckpoint("error")
				// Checkpoint-I/O errors never cancel the run (spec.md §7):
				// the in-memory state remains authoritative for the rest
				// of this process's lifetime, we just skip this layer's
				// checkpoint event and try again after the next layer.
				logger.Get().Error("checkpoint save failed, continuing in-memory",
					"dag_id", e.DAG.ID, "layer_index", layerIndex, "error", err)
			} else {
				e.Metrics.recordCheckpoint("success")
				checkpointID = id
				stream.Emit(event.Event{Kind: event.KindCheckpoint, Timestamp: time.Now(), CheckpointID: id, LayerIndex: layerIndex})
			}
		}

		isLastLayer := layerIndex == len(layers)-1
		if !isLastLayer && e.Config.AIL.Enabled && decision.AILEligible(e.Config.AIL.DecisionPoints, layerHadError) {
			res := decision.RunAIL(ctx, e.Queue, stream, layerIndex, "layer review", checkpointID, e.Config.AIL.Timeout, e.Config.AIL.DefaultOnTimeout)
			e.Metrics.recordDecision("ail", string(res.Outcome))
			switch res.Outcome {
			case decision.OutcomeAbort:
				e.abort(stream, &state, res.Err, res.Reason)
				return
			case decision.OutcomeReplan:
				e.abort(stream, &state, dagmodel.ErrWorkflowAbort, fmt.Sprintf("replan requested: %s", res.NewRequirement))
				return
			case decision.OutcomeProceed:
				state.Status = dagmodel.WorkflowRunning
			}
		}
	}

	state.Status = dagmodel.WorkflowComplete
	state.UpdatedAt = time.Now()
	stream.Emit(event.Event{Kind: event.KindWorkflowComplete, Timestamp: time.Now(), SuccessfulTasks: successCount, FailedTasks: failCount})
}

func (e *Executor) abort(stream *event.Stream, state *dagmodel.WorkflowState, err error, reason string) {
	state.Status = dagmodel.WorkflowAborted
	state.UpdatedAt = time.Now()
	msg := reason
	if err != nil {
		msg = fmt.Sprintf("%s (%v)", reason, err)
	}
	stream.Emit(event.Event{Kind: event.KindWorkflowAbort, Timestamp: time.Now(), Error: msg})
}

// initialState rehydrates a WorkflowState (and its completed-task index)
// from a checkpoint if supplied, or starts a fresh one. Layers are always
// recomputed from the DAG rather than trusted from a stored checkpoint
// (spec.md §4.8 resume semantics), so a re-stratification that changes
// layer membership can never silently diverge from what is persisted.
func (e *Executor) initialState(resume *checkpoint.Checkpoint, layers []dagmodel.Layer) (dagmodel.WorkflowState, map[string]dagmodel.TaskResult, string) {
	wireLayers := make([][]dagmodel.Task, len(layers))
	for i, l := range layers {
		wireLayers[i] = []dagmodel.Task(l)
	}

	if resume == nil {
		state := dagmodel.WorkflowState{
			DAGID:        e.DAG.ID,
			CurrentLayer: 0,
			Layers:       wireLayers,
			StartedAt:    time.Now(),
			Status:       dagmodel.WorkflowRunning,
		}
		return state, map[string]dagmodel.TaskResult{}, ""
	}

	state := *resume.State.Clone()
	state.Layers = wireLayers
	return state, state.CompletedMap(), resume.ID
}

// runLayer fans layer's tasks out concurrently, bounded by
// Config.LayerParallelism (0 means unbounded), and reports whether any
// task in the layer terminated with a non-safe-to-fail error. A task's
// own error never cancels its siblings in the same layer (spec.md §7).
func (e *Executor) runLayer(ctx context.Context, layerIndex int, layer dagmodel.Layer, completed map[string]dagmodel.TaskResult, stream *event.Stream) ([]dagmodel.TaskResult, bool) {
	ctx, span := tracing.Tracer().Start(ctx, tracing.SpanLayerRun,
		oteltrace.WithAttributes(
			attribute.Int(tracing.AttrLayerIndex, layerIndex),
			attribute.Int(tracing.AttrLayerSize, len(layer)),
		))
	defer span.End()

	results := make([]dagmodel.TaskResult, len(layer))

	var g errgroup.Group
	if e.Config.LayerParallelism > 0 {
		g.SetLimit(e.Config.LayerParallelism)
	}

	for i, task := range layer {
		i, task := i, task
		g.Go(func() error {
			results[i] = e.runTask(ctx, task, completed, stream)
			return nil
		})
	}
	_ = g.Wait() // runTask never returns a non-nil error; classification lives in TaskResult.Status

	hadError := false
	for _, r := range results {
		if r.Status == dagmodel.StatusError {
			hadError = true
		}
	}
	return results, hadError
}

// runTask resolves task's dependencies and dispatches it through Router,
// emitting task_start before anything else and exactly one terminal
// event (task_complete, task_warning, or task_error) after.
func (e *Executor) runTask(ctx context.Context, task dagmodel.Task, completed map[string]dagmodel.TaskResult, stream *event.Stream) dagmodel.TaskResult {
	ctx, span := tracing.Tracer().Start(ctx, tracing.SpanTaskRun,
		oteltrace.WithAttributes(
			attribute.String(tracing.AttrTaskID, task.ID),
			attribute.String(tracing.AttrTaskKind, string(task.Kind)),
		))
	defer span.End()

	started := time.Now()
	stream.Emit(event.Event{Kind: event.KindTaskStart, Timestamp: started, TaskID: task.ID})

	resolvedDeps, err := depresolve.Resolve(task, completed)
	if err != nil {
		ended := time.Now()
		tr := dagmodel.TaskResult{
			TaskID:          task.ID,
			Status:          dagmodel.StatusError,
			Error:           err.Error(),
			StartedAt:       started,
			EndedAt:         ended,
			ExecutionTimeMs: ended.Sub(started).Milliseconds(),
		}
		stream.Emit(event.Event{Kind: event.KindTaskError, Timestamp: ended, TaskID: task.ID, Error: err.Error()})
		e.Metrics.recordTask(string(task.Kind), string(tr.Status), ended.Sub(started))
		span.SetAttributes(attribute.String(tracing.AttrTaskStatus, string(tr.Status)))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return tr
	}

	result := e.Router.Run(ctx, task, resolvedDeps)
	e.Metrics.recordTask(string(task.Kind), string(result.Status), time.Duration(result.ExecutionTimeMs)*time.Millisecond)
	span.SetAttributes(attribute.String(tracing.AttrTaskStatus, string(result.Status)))

	switch result.Status {
	case dagmodel.StatusSuccess:
		stream.Emit(event.Event{Kind: event.KindTaskComplete, Timestamp: result.EndedAt, TaskID: task.ID, Result: result.Output})
	case dagmodel.StatusWarning:
		stream.Emit(event.Event{Kind: event.KindTaskWarning, Timestamp: result.EndedAt, TaskID: task.ID, Message: result.Error})
		span.SetStatus(codes.Ok, result.Error)
	default:
		stream.Emit(event.Event{Kind: event.KindTaskError, Timestamp: result.EndedAt, TaskID: task.ID, Error: result.Error})
		span.SetStatus(codes.Error, result.Error)
	}
	return result
}

func taskIDs(layer dagmodel.Layer) []string {
	ids := make([]string, len(layer))
	for i, t := range layer {
		ids[i] = t.ID
	}
	return ids
}
