package dagmodel

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Kind identifies how a Task is executed.
type Kind string

const (
	// KindMCPTool routes the task to an external MCP tool invocation.
	KindMCPTool Kind = "mcp_tool"
	// KindCode routes the task to the Sandbox Supervisor.
	KindCode Kind = "code"
	// KindDefault is a task with no special execution behavior; it is
	// dispatched the same way as KindMCPTool (spec.md §4.4: "anything
	// else" routes to the external tool invoker).
	KindDefault Kind = "default"
)

// wireKindCodeExecution is the wire-level spelling used by the JSON DAG
// input schema (spec.md §6); it is normalized to KindCode on decode.
const wireKindCodeExecution = "code_execution"

// Condition gates a task on the outcome of a dependency (spec.md §3,
// Task.metadata.condition).
type Condition struct {
	RequiredOutcome string `json:"requiredOutcome" yaml:"requiredOutcome"`
}

// Metadata carries task execution hints.
type Metadata struct {
	// Pure marks a code task as side-effect free. Per spec.md §9's
	// resolution of the safe-to-fail Open Question, Pure implies
	// SafeToFail only when SafeToFail is absent; see Task.IsSafeToFail.
	Pure *bool `json:"pure,omitempty" yaml:"pure,omitempty"`

	// SafeToFail is the explicit, authoritative safe-to-fail flag.
	SafeToFail *bool `json:"safeToFail,omitempty" yaml:"safeToFail,omitempty"`

	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Task is a single node of the DAG, per the data model in spec.md §3.
type Task struct {
	ID         string         `json:"id" yaml:"id"`
	Kind       Kind           `json:"kind" yaml:"kind"`
	Tool       string         `json:"tool,omitempty" yaml:"tool,omitempty"`
	Args       map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	Code       string         `json:"code,omitempty" yaml:"code,omitempty"`
	DependsOn  []string       `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Metadata   Metadata       `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// IsPure reports whether the task's metadata marks it pure. Absent
// metadata defaults to false.
func (t *Task) IsPure() bool {
	return t.Metadata.Pure != nil && *t.Metadata.Pure
}

// IsSafeToFail reports whether a code task's failure should be treated as
// a warning rather than a fatal error.
//
// Resolution of the Open Question in spec.md §9: the explicit
// metadata.safeToFail flag is authoritative when present. When absent, the
// default is derived from purity — a pure code task is still treated as
// safe-to-fail, preserving the historical heuristic as a fallback rather
// than the sole rule.
func (t *Task) IsSafeToFail() bool {
	if t.Metadata.SafeToFail != nil {
		return *t.Metadata.SafeToFail
	}
	return t.IsPure()
}

// wireTask mirrors the JSON DAG input schema from spec.md §6, which spells
// the execution kind differently ("mcp_tool" | "code_execution") and the
// argument field "arguments" instead of "args".
type wireTask struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Tool      string         `json:"tool,omitempty"`
	Code      string         `json:"code,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	DependsOn []string       `json:"dependsOn,omitempty"`
	// Metadata arrives as a loosely-typed bag on the wire (spec.md §6
	// leaves its shape open beyond the documented hints) and is resolved
	// into the typed Metadata struct by decodeMetadata below, the same
	// two-step "weakly-typed bag, then mapstructure.Decode into a typed
	// sub-shape" pattern config/loader.go uses for its own YAML documents.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// decodeMetadata resolves a task's loosely-typed metadata bag into the
// typed Metadata struct, pulling out metadata.condition.requiredOutcome
// (and any other documented hint) with mapstructure.WeaklyTypedInput so
// that a YAML-sourced bool-as-string or int-as-float64 still decodes.
func decodeMetadata(raw map[string]any) (Metadata, error) {
	var out Metadata
	if raw == nil {
		return out, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Metadata{}, fmt.Errorf("building metadata decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return Metadata{}, fmt.Errorf("decoding task metadata: %w", err)
	}
	return out, nil
}

// encodeMetadata is decodeMetadata's inverse, used by MarshalJSON to put
// Metadata back into the loosely-typed wire shape.
func encodeMetadata(m Metadata) (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// UnmarshalJSON decodes a Task from the wire schema (spec.md §6), mapping
// "type"/"arguments" to the internal Kind/Args fields.
func (t *Task) UnmarshalJSON(data []byte) error {
	var w wireTask
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	kind := Kind(w.Type)
	if w.Type == wireKindCodeExecution {
		kind = KindCode
	}

	metadata, err := decodeMetadata(w.Metadata)
	if err != nil {
		return fmt.Errorf("task %q: %w", w.ID, err)
	}

	*t = Task{
		ID:        w.ID,
		Kind:      kind,
		Tool:      w.Tool,
		Args:      w.Arguments,
		Code:      w.Code,
		DependsOn: w.DependsOn,
		Metadata:  metadata,
	}
	return nil
}

// MarshalJSON encodes a Task back to the wire schema.
func (t Task) MarshalJSON() ([]byte, error) {
	kind := string(t.Kind)
	if t.Kind == KindCode {
		kind = wireKindCodeExecution
	}
	metadata, err := encodeMetadata(t.Metadata)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", t.ID, err)
	}
	w := wireTask{
		ID:        t.ID,
		Type:      kind,
		Tool:      t.Tool,
		Code:      t.Code,
		Arguments: t.Args,
		DependsOn: t.DependsOn,
		Metadata:  metadata,
	}
	return json.Marshal(w)
}

// DAG is the directed acyclic graph submitted to the engine.
type DAG struct {
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	Tasks []Task `json:"tasks" yaml:"tasks"`
}

// Validate checks the structural invariants from spec.md §3: unique task
// ids, resolvable dependency references, and non-empty code on code tasks.
// It does not check acyclicity; Stratify does that as a side effect of
// Kahn's algorithm and returns ErrInvalidDAG if a cycle remains.
func (d *DAG) Validate() error {
	seen := make(map[string]bool, len(d.Tasks))
	for _, t := range d.Tasks {
		if t.ID == "" {
			return fmt.Errorf("%w: task with empty id", ErrInvalidDAG)
		}
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate task id %q", ErrInvalidDAG, t.ID)
		}
		seen[t.ID] = true

		if t.Kind == KindCode && t.Code == "" {
			return fmt.Errorf("%w: code task %q has empty code", ErrInvalidDAG, t.ID)
		}
	}
	for _, t := range d.Tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("%w: task %q depends on unknown task %q", ErrInvalidDAG, t.ID, dep)
			}
		}
	}
	return nil
}
