// Package dagmodel defines the DAG data model shared by every component of
// the controlled execution engine: tasks, layers, workflow state, and the
// sentinel error kinds enumerated in spec.md §7.
package dagmodel

import "errors"

// Error kinds from spec.md §7. Each is a sentinel so callers can use
// errors.Is against a stable identity regardless of the wrapping message.
var (
	ErrInvalidDAG         = errors.New("invalid-dag")
	ErrMissingDependency  = errors.New("missing-dependency")
	ErrDependencyFailed   = errors.New("dependency-failed")
	ErrPermissionDenied   = errors.New("permission-denied")
	ErrSandboxTimeout     = errors.New("sandbox-timeout")
	ErrSandboxRuntime     = errors.New("sandbox-runtime")
	ErrSandboxSyntax      = errors.New("sandbox-syntax")
	ErrCheckpointIO       = errors.New("checkpoint-io")
	ErrCommandInvalid     = errors.New("command-invalid")
	ErrHILRejected        = errors.New("hil-rejected")
	ErrHILTimeout         = errors.New("hil-timeout")
	ErrAILAbort           = errors.New("ail-abort")
	ErrAILTimeout         = errors.New("ail-timeout")
	ErrWorkflowAbort      = errors.New("workflow-abort")
)
