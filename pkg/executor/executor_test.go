package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/dagrunner/config"
	"github.com/kadirpekel/dagrunner/pkg/checkpoint"
	"github.com/kadirpekel/dagrunner/pkg/dagmodel"
	"github.com/kadirpekel/dagrunner/pkg/event"
	"github.com/kadirpekel/dagrunner/pkg/permission"
	"github.com/kadirpekel/dagrunner/pkg/queue"
	"github.com/kadirpekel/dagrunner/pkg/router"
	"github.com/kadirpekel/dagrunner/pkg/sandbox"
)

// fakeSandbox echoes back whatever Result its constructor was fed, keyed
// by the task's code string, so tests can drive specific per-task
// outcomes without a real goja runtime.
type fakeSandbox struct {
	byCode map[string]sandbox.Result
	delay  time.Duration
}

func (f fakeSandbox) Execute(ctx context.Context, code string, deps, args map[string]any, toolDefs []sandbox.ToolDef, timeout time.Duration) sandbox.Result {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if res, ok := f.byCode[code]; ok {
		return res
	}
	return sandbox.Result{Success: true, Result: nil}
}

type fakeMCP struct{}

func (fakeMCP) Invoke(ctx context.Context, server, tool string, args map[string]any) (map[string]any, error) {
	return map[string]any{"server": server, "tool": tool}, nil
}

func drain(t *testing.T, stream *event.Stream, timeout time.Duration) []event.Event {
	t.Helper()
	var events []event.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("timed out draining event stream")
			return nil
		}
	}
}

func kinds(events []event.Event) []event.Kind {
	out := make([]event.Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

// Scenario A (spec.md §8): a 2-layer DAG with HIL and AIL both disabled
// runs straight through and emits the documented event sequence, ending
// in workflow_complete with both tasks successful.
func TestExecutor_ScenarioA_HappyPath(t *testing.T) {
	dag := dagmodel.DAG{ID: "d1", Tasks: []dagmodel.Task{
		{ID: "t1", Kind: dagmodel.KindMCPTool, Tool: "files:read"},
		{ID: "t2", Kind: dagmodel.KindMCPTool, Tool: "files:write", DependsOn: []string{"t1"}},
	}}

	ex := &Executor{
		DAG:        dag,
		Router:     &router.Router{Permission: permission.New(config.PermissionConfig{}), MCP: fakeMCP{}},
		Permission: permission.New(config.PermissionConfig{}),
		Queue:      queue.New(),
		Config:     config.EngineConfig{},
	}
	ex.Config.SetDefaults()

	stream := ex.Start(context.Background(), nil)
	events := drain(t, stream, 5*time.Second)

	got := kinds(events)
	assert.Equal(t, event.KindWorkflowStart, got[0])
	assert.Equal(t, event.KindWorkflowComplete, got[len(got)-1])

	last := events[len(events)-1]
	assert.Equal(t, 2, last.SuccessfulTasks)
	assert.Equal(t, 0, last.FailedTasks)

	assert.Contains(t, got, event.KindLayerStart)
	assert.Contains(t, got, event.KindTaskComplete)
	assert.NotContains(t, got, event.KindDecisionRequired)
}

// Scenario B (spec.md §8): resuming a checkpoint must re-fire HIL for
// every remaining eligible layer — approving each resumes execution.
func TestExecutor_ScenarioB_HILRefiresOnResume(t *testing.T) {
	dag := dagmodel.DAG{ID: "d2", Tasks: []dagmodel.Task{
		{ID: "t1", Kind: dagmodel.KindMCPTool, Tool: "net:fetch"},
		{ID: "t2", Kind: dagmodel.KindMCPTool, Tool: "net:fetch", DependsOn: []string{"t1"}},
		{ID: "t3", Kind: dagmodel.KindMCPTool, Tool: "net:fetch", DependsOn: []string{"t2"}},
	}}
	perm := permission.New(config.PermissionConfig{Ask: []string{"net:*"}})
	store := checkpoint.NewMapStore()

	cfg := config.EngineConfig{HIL: config.HILConfig{Enabled: true, ApprovalRequired: config.ApprovalAlways, TimeoutMillis: 2000}}
	cfg.SetDefaults()

	q := queue.New()
	ex := &Executor{
		DAG:        dag,
		Router:     &router.Router{Permission: perm, MCP: fakeMCP{}},
		Permission: perm,
		Queue:      q,
		Checkpoint: store,
		Config:     cfg,
	}

	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(20 * time.Millisecond)
			q.Enqueue(queue.DecisionCommand{Kind: queue.KindApprovalResponse, Approved: true})
		}
	}()

	stream := ex.Start(context.Background(), nil)
	events := drain(t, stream, 5*time.Second)
	assert.Equal(t, event.KindWorkflowComplete, events[len(events)-1].Kind)

	decisionCount := 0
	var firstCheckpointID string
	for _, e := range events {
		if e.Kind == event.KindDecisionRequired {
			decisionCount++
		}
		if e.Kind == event.KindCheckpoint && e.LayerIndex == 0 && firstCheckpointID == "" {
			firstCheckpointID = e.CheckpointID
		}
	}
	assert.Equal(t, 3, decisionCount, "HIL must fire once per layer, not once per run")
	require.NotEmpty(t, firstCheckpointID)

	// Resume from the checkpoint saved right after layer 0 committed: two
	// layers (t2, t3) remain, and HIL must fire again for each of them —
	// the security invariant that resumption never bypasses HIL/AIL.
	cp, err := store.Load(context.Background(), firstCheckpointID)
	require.NoError(t, err)

	q2 := queue.New()
	ex2 := &Executor{
		DAG:        dag,
		Router:     &router.Router{Permission: perm, MCP: fakeMCP{}},
		Permission: perm,
		Queue:      q2,
		Checkpoint: checkpoint.NewMapStore(),
		Config:     cfg,
	}

	remainingLayers := len(dag.Tasks) - cp.State.CurrentLayer
	go func() {
		for i := 0; i < remainingLayers; i++ {
			time.Sleep(20 * time.Millisecond)
			q2.Enqueue(queue.DecisionCommand{Kind: queue.KindApprovalResponse, Approved: true})
		}
	}()

	stream2 := ex2.Start(context.Background(), &cp)
	events2 := drain(t, stream2, 5*time.Second)
	assert.Equal(t, event.KindWorkflowComplete, events2[len(events2)-1].Kind)

	decisionCount2 := 0
	for _, e := range events2 {
		if e.Kind == event.KindDecisionRequired {
			decisionCount2++
		}
	}
	assert.Equal(t, remainingLayers, decisionCount2, "resume must re-fire HIL for every remaining layer, never bypassing it")
}

// Scenario C (spec.md §8): HIL times out on a fresh run when no command
// arrives, aborting the run with an error that wraps ErrHILTimeout.
func TestExecutor_ScenarioC_HILTimeoutAbortsRun(t *testing.T) {
	dag := dagmodel.DAG{ID: "d3", Tasks: []dagmodel.Task{
		{ID: "t1", Kind: dagmodel.KindMCPTool, Tool: "net:fetch"},
	}}
	perm := permission.New(config.PermissionConfig{Ask: []string{"net:*"}})

	cfg := config.EngineConfig{HIL: config.HILConfig{Enabled: true, ApprovalRequired: config.ApprovalAlways, TimeoutMillis: 150}}
	cfg.SetDefaults()

	ex := &Executor{
		DAG:        dag,
		Router:     &router.Router{Permission: perm, MCP: fakeMCP{}},
		Permission: perm,
		Queue:      queue.New(), // nothing ever enqueued
		Config:     cfg,
	}

	stream := ex.Start(context.Background(), nil)
	events := drain(t, stream, 5*time.Second)

	last := events[len(events)-1]
	assert.Equal(t, event.KindWorkflowAbort, last.Kind)
	assert.Contains(t, last.Error, "HIL timeout")
}

// Scenario D (spec.md §8): an AIL abort after the first layer must stop
// the run before the second layer's tasks ever start.
func TestExecutor_ScenarioD_AILAbortStopsNextLayer(t *testing.T) {
	dag := dagmodel.DAG{ID: "d4", Tasks: []dagmodel.Task{
		{ID: "t1", Kind: dagmodel.KindMCPTool, Tool: "files:read"},
		{ID: "t2", Kind: dagmodel.KindMCPTool, Tool: "files:read", DependsOn: []string{"t1"}},
	}}
	perm := permission.New(config.PermissionConfig{})

	cfg := config.EngineConfig{AIL: config.AILConfig{Enabled: true, DecisionPoints: config.DecisionPerLayer, TimeoutMillis: 2000}}
	cfg.SetDefaults()

	q := queue.New()
	ex := &Executor{
		DAG:        dag,
		Router:     &router.Router{Permission: perm, MCP: fakeMCP{}},
		Permission: perm,
		Queue:      q,
		Config:     cfg,
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Enqueue(queue.DecisionCommand{Kind: queue.KindAbort, Reason: "stop here"})
	}()

	stream := ex.Start(context.Background(), nil)
	events := drain(t, stream, 5*time.Second)

	last := events[len(events)-1]
	assert.Equal(t, event.KindWorkflowAbort, last.Kind)

	for _, e := range events {
		if e.Kind == event.KindTaskStart {
			assert.NotEqual(t, "t2", e.TaskID, "t2 must never start once AIL aborts after layer 0")
		}
	}
}

// Scenario E (spec.md §8): a safe-to-fail code task fails with a
// warning, and its dependent still surfaces dependency-failed without
// aborting the run.
func TestExecutor_ScenarioE_SafeToFailPropagatesDependencyFailure(t *testing.T) {
	safeToFail := true
	dag := dagmodel.DAG{ID: "d5", Tasks: []dagmodel.Task{
		{ID: "t1", Kind: dagmodel.KindCode, Code: "throw new Error('boom')", Metadata: dagmodel.Metadata{SafeToFail: &safeToFail}},
		{ID: "t2", Kind: dagmodel.KindMCPTool, Tool: "files:read", DependsOn: []string{"t1"}},
	}}
	perm := permission.New(config.PermissionConfig{})

	ex := &Executor{
		DAG: dag,
		Router: &router.Router{
			Permission: perm,
			MCP:        fakeMCP{},
			Sandbox: fakeSandbox{byCode: map[string]sandbox.Result{
				"throw new Error('boom')": {Success: false, Err: &sandbox.Error{Type: sandbox.RuntimeError, Message: "boom"}},
			}},
		},
		Permission: perm,
		Queue:      queue.New(),
		Config:     config.EngineConfig{},
	}
	ex.Config.SetDefaults()

	stream := ex.Start(context.Background(), nil)
	events := drain(t, stream, 5*time.Second)

	last := events[len(events)-1]
	assert.Equal(t, event.KindWorkflowComplete, last.Kind, "a safe-to-fail task must not abort the workflow")
	assert.GreaterOrEqual(t, last.FailedTasks, 1)

	var t1Warning, t2Error bool
	for _, e := range events {
		if e.Kind == event.KindTaskWarning && e.TaskID == "t1" {
			t1Warning = true
		}
		if e.Kind == event.KindTaskError && e.TaskID == "t2" {
			t2Error = true
			assert.Contains(t, e.Error, "t1")
		}
	}
	assert.True(t, t1Warning, "t1 must surface as a warning, not an error")
	assert.True(t, t2Error, "t2 must surface dependency-failed as an error")
}

// Scenario F (spec.md §8): four independent 50ms tasks in one layer must
// all complete in well under 4x50ms wall time, proving real concurrency.
func TestExecutor_ScenarioF_LayerParallelism(t *testing.T) {
	dag := dagmodel.DAG{ID: "d6", Tasks: []dagmodel.Task{
		{ID: "t1", Kind: dagmodel.KindCode, Code: "sleep1"},
		{ID: "t2", Kind: dagmodel.KindCode, Code: "sleep2"},
		{ID: "t3", Kind: dagmodel.KindCode, Code: "sleep3"},
		{ID: "t4", Kind: dagmodel.KindCode, Code: "sleep4"},
	}}

	ex := &Executor{
		DAG: dag,
		Router: &router.Router{
			Sandbox: fakeSandbox{delay: 50 * time.Millisecond},
		},
		Queue:  queue.New(),
		Config: config.EngineConfig{},
	}
	ex.Config.SetDefaults()

	start := time.Now()
	stream := ex.Start(context.Background(), nil)
	events := drain(t, stream, 5*time.Second)
	elapsed := time.Since(start)

	assert.Equal(t, event.KindWorkflowComplete, events[len(events)-1].Kind)
	assert.Less(t, elapsed, 150*time.Millisecond, "4 tasks x 50ms must run concurrently, not serially")
}

func TestExecutor_InvalidDAGAbortsImmediately(t *testing.T) {
	dag := dagmodel.DAG{ID: "bad", Tasks: []dagmodel.Task{
		{ID: "t1", DependsOn: []string{"ghost"}},
	}}

	ex := &Executor{DAG: dag, Queue: queue.New()}
	stream := ex.Start(context.Background(), nil)
	events := drain(t, stream, 2*time.Second)

	require.Len(t, events, 2)
	assert.Equal(t, event.KindWorkflowStart, events[0].Kind)
	assert.Equal(t, event.KindWorkflowAbort, events[1].Kind)
}

func TestExecutor_AILReplanIsTerminalNotException(t *testing.T) {
	dag := dagmodel.DAG{ID: "d7", Tasks: []dagmodel.Task{
		{ID: "t1", Kind: dagmodel.KindMCPTool, Tool: "files:read"},
		{ID: "t2", Kind: dagmodel.KindMCPTool, Tool: "files:read", DependsOn: []string{"t1"}},
	}}
	perm := permission.New(config.PermissionConfig{})

	cfg := config.EngineConfig{AIL: config.AILConfig{Enabled: true, DecisionPoints: config.DecisionPerLayer, TimeoutMillis: 2000}}
	cfg.SetDefaults()

	q := queue.New()
	ex := &Executor{
		DAG:        dag,
		Router:     &router.Router{Permission: perm, MCP: fakeMCP{}},
		Permission: perm,
		Queue:      q,
		Config:     cfg,
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Enqueue(queue.DecisionCommand{Kind: queue.KindReplanDAG, NewRequirement: "add a retry step"})
	}()

	stream := ex.Start(context.Background(), nil)
	events := drain(t, stream, 5*time.Second)

	last := events[len(events)-1]
	assert.Equal(t, event.KindWorkflowAbort, last.Kind)
	assert.Contains(t, last.Error, "add a retry step")
}

// failingCheckpointStore always fails Save, so the executor's "log and
// continue" branch (spec.md §7) is the only path exercised.
type failingCheckpointStore struct{}

func (failingCheckpointStore) Save(ctx context.Context, state dagmodel.WorkflowState) (string, error) {
	return "", assert.AnError
}

func (failingCheckpointStore) Load(ctx context.Context, id string) (checkpoint.Checkpoint, error) {
	return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
}

func (failingCheckpointStore) Latest(ctx context.Context, dagID string) (checkpoint.Checkpoint, error) {
	return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
}

// A checkpoint-save failure never aborts the run (spec.md §7): the
// workflow still completes and simply never emits a checkpoint event.
func TestExecutor_CheckpointSaveError_LogsAndContinues(t *testing.T) {
	dag := dagmodel.DAG{ID: "d8", Tasks: []dagmodel.Task{
		{ID: "t1", Kind: dagmodel.KindCode, Code: "return 1"},
	}}

	ex := &Executor{
		DAG:        dag,
		Router:     &router.Router{Sandbox: fakeSandbox{byCode: map[string]sandbox.Result{}}},
		Queue:      queue.New(),
		Checkpoint: failingCheckpointStore{},
	}

	stream := ex.Start(context.Background(), nil)
	events := drain(t, stream, 5*time.Second)

	last := events[len(events)-1]
	assert.Equal(t, event.KindWorkflowComplete, last.Kind)
	assert.Equal(t, 1, last.SuccessfulTasks)

	for _, e := range events {
		assert.NotEqual(t, event.KindCheckpoint, e.Kind, "a failed save must never emit a checkpoint event")
	}
}
