// Package router implements the Task Router from spec.md §4.4: given a
// resolved task and its dependency payload, it dispatches to either the
// Sandbox Supervisor (code tasks) or the MCP invoker (tool tasks),
// enforcing the permission decision before any external effect occurs and
// classifying the outcome as success, warning, or error per the task's
// safe-to-fail policy.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/dagrunner/pkg/dagmodel"
	"github.com/kadirpekel/dagrunner/pkg/depresolve"
	"github.com/kadirpekel/dagrunner/pkg/logger"
	"github.com/kadirpekel/dagrunner/pkg/mcpinvoke"
	"github.com/kadirpekel/dagrunner/pkg/permission"
	"github.com/kadirpekel/dagrunner/pkg/sandbox"
)

// PermissionChecker resolves whether a tool id may run or be denied
// outright. It is the single choke point every external effect (MCP call
// or sandboxed tool closure) must pass through before it runs (spec.md
// §4.2, §4.4).
//
// "ask" is deliberately not handled here: per spec.md §4.7's trigger
// condition (i), an ask-resolving tool forces the HIL decision loop to
// gate the whole layer before the Router ever runs any of its tasks.
// Once HIL has approved the layer, every task in it — including its
// ask-resolving tools — proceeds exactly like an allowed one; only a
// deny decision is Router's own, synchronous, per-call concern.
type PermissionChecker interface {
	Resolve(toolID string) permission.Decision
}

// MCPInvoker calls a named tool on a named MCP server.
type MCPInvoker interface {
	Invoke(ctx context.Context, server, tool string, args map[string]any) (map[string]any, error)
}

// SandboxRunner runs a code task to completion or timeout.
type SandboxRunner interface {
	Execute(ctx context.Context, code string, deps, args map[string]any, toolDefs []sandbox.ToolDef, timeout time.Duration) sandbox.Result
}

// Router dispatches resolved tasks to their execution target.
type Router struct {
	Permission PermissionChecker
	MCP        MCPInvoker
	Sandbox    SandboxRunner

	// SandboxToolDefs builds the tool surface available to a code task's
	// sandbox, so untrusted code only ever sees the capabilities this
	// function returns for that task (spec.md §4.5). When nil, code tasks
	// get no tools.
	SandboxToolDefs func(task dagmodel.Task) []sandbox.ToolDef

	TaskTimeout time.Duration
}

// Run executes one task given its already-resolved dependency payload and
// reports a TaskResult. It never panics: every failure mode, including a
// permission denial, becomes a classified TaskResult.
func (r *Router) Run(ctx context.Context, task dagmodel.Task, resolvedDeps map[string]dagmodel.TaskResult) dagmodel.TaskResult {
	started := time.Now()

	result, err := r.dispatch(ctx, task, resolvedDeps)

	ended := time.Now()
	tr := dagmodel.TaskResult{
		TaskID:          task.ID,
		Output:          result,
		StartedAt:       started,
		EndedAt:         ended,
		ExecutionTimeMs: ended.Sub(started).Milliseconds(),
	}

	if err == nil {
		tr.Status = dagmodel.StatusSuccess
		return tr
	}

	tr.Error = err.Error()
	if task.IsSafeToFail() {
		tr.Status = dagmodel.StatusWarning
	} else {
		tr.Status = dagmodel.StatusError
	}
	return tr
}

func (r *Router) dispatch(ctx context.Context, task dagmodel.Task, resolvedDeps map[string]dagmodel.TaskResult) (any, error) {
	switch task.Kind {
	case dagmodel.KindCode:
		return r.runCode(ctx, task, resolvedDeps)
	default:
		return r.runMCPTool(ctx, task, resolvedDeps)
	}
}

func (r *Router) runMCPTool(ctx context.Context, task dagmodel.Task, resolvedDeps map[string]dagmodel.TaskResult) (any, error) {
	toolID := task.Tool

	if err := r.checkPermission(toolID); err != nil {
		return nil, err
	}

	server, tool, err := splitToolID(toolID)
	if err != nil {
		return nil, err
	}

	args := mergeDeps(task.Args, resolvedDeps)
	return r.MCP.Invoke(ctx, server, tool, args)
}

func (r *Router) runCode(ctx context.Context, task dagmodel.Task, resolvedDeps map[string]dagmodel.TaskResult) (any, error) {
	var toolDefs []sandbox.ToolDef
	if r.SandboxToolDefs != nil {
		toolDefs = r.SandboxToolDefs(task)
	}

	for _, td := range toolDefs {
		toolID := td.Server + ":" + td.Name
		if td.Server == "" {
			toolID = td.Name
		}
		if err := r.checkPermission(toolID); err != nil {
			return nil, err
		}
	}

	deps := make(map[string]any, len(resolvedDeps))
	for id, result := range resolvedDeps {
		deps[id] = result.Output
	}

	res := r.Sandbox.Execute(ctx, task.Code, deps, task.Args, toolDefs, r.TaskTimeout)
	if !res.Success {
		return nil, res.Err
	}
	return res.Result, nil
}

// mergeDeps merges resolved dependency outputs into the MCP call's
// argument payload under depresolve.DepsContextKey, alongside the task's
// own declared Args (spec.md §4.3: "merged into the MCP tool's argument
// payload").
func mergeDeps(args map[string]any, resolvedDeps map[string]dagmodel.TaskResult) map[string]any {
	merged := make(map[string]any, len(args)+1)
	for k, v := range args {
		merged[k] = v
	}
	if len(resolvedDeps) > 0 {
		deps := make(map[string]any, len(resolvedDeps))
		for id, result := range resolvedDeps {
			deps[id] = result.Output
		}
		merged[depresolve.DepsContextKey] = deps
	}
	return merged
}

// checkPermission enforces the deny decision for one tool id. Ask and
// allow both proceed: an ask-resolving tool has already gated its whole
// layer behind a HIL decision before Router.Run was ever called for any
// task in it (spec.md §4.7). Deny is Router's own terminal, synchronous
// check.
func (r *Router) checkPermission(toolID string) error {
	if r.Permission == nil {
		return nil
	}
	if r.Permission.Resolve(toolID) == permission.Deny {
		logger.Get().Warn("permission denied tool call", "tool", toolID)
		return fmt.Errorf("%w: tool %q", dagmodel.ErrPermissionDenied, toolID)
	}
	return nil
}

func splitToolID(toolID string) (server, tool string, err error) {
	for i := 0; i < len(toolID); i++ {
		if toolID[i] == ':' {
			return toolID[:i], toolID[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("%w: tool id %q is not of the form server:tool", dagmodel.ErrInvalidDAG, toolID)
}

var _ MCPInvoker = (*mcpinvoke.Registry)(nil)
var _ SandboxRunner = (*sandbox.Supervisor)(nil)
