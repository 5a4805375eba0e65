// Package depresolve implements the Dependency Resolver from spec.md §4.3:
// given a completed-task map and a task's declared dependencies, it
// returns the resolved dependency payload or fails fast on upstream
// errors.
package depresolve

import (
	"fmt"

	"github.com/kadirpekel/dagrunner/pkg/dagmodel"
)

// DepsContextKey is the documented key under which resolved dependency
// payloads are attached: merged into the MCP tool's argument payload, or
// passed into the sandbox context (spec.md §4.3).
const DepsContextKey = "deps"

// Resolve returns the completed results of task's declared dependencies,
// or a dagmodel error if any dependency is missing or failed.
//
// A missing dependency wraps ErrMissingDependency; a dependency that did
// not terminate in success wraps ErrDependencyFailed, identifying the
// upstream task so callers can thread the failing id into a TaskResult
// error message (spec.md §8 property 8: "its error references the
// upstream task id"). This includes a safe-to-fail upstream task whose
// own status is "warning" rather than "error": safe-to-fail only
// downgrades the severity of the upstream task's own outcome, it does
// not manufacture a usable Output for anything depending on it.
func Resolve(task dagmodel.Task, completed map[string]dagmodel.TaskResult) (map[string]dagmodel.TaskResult, error) {
	resolved := make(map[string]dagmodel.TaskResult, len(task.DependsOn))

	for _, depID := range task.DependsOn {
		result, ok := completed[depID]
		if !ok {
			return nil, fmt.Errorf("%w: task %q depends on %q", dagmodel.ErrMissingDependency, task.ID, depID)
		}
		if result.Status != dagmodel.StatusSuccess {
			return nil, fmt.Errorf("%w: upstream task %q did not succeed: %s", dagmodel.ErrDependencyFailed, depID, result.Error)
		}
		resolved[depID] = result
	}

	return resolved, nil
}
