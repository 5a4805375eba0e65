package config

import (
	"fmt"
	"time"
)

// ApprovalRequired enumerates the hil.approval_required setting from
// spec.md §6.
type ApprovalRequired string

const (
	ApprovalAlways ApprovalRequired = "always"
	ApprovalNever  ApprovalRequired = "never"
)

// DecisionPoints enumerates the ail.decision_points setting from spec.md §6.
type DecisionPoints string

const (
	DecisionPerLayer DecisionPoints = "per_layer"
	DecisionOnError  DecisionPoints = "on_error"
	DecisionManual   DecisionPoints = "manual"
)

// HILConfig configures the human-in-the-loop decision loop.
type HILConfig struct {
	Enabled           bool             `yaml:"enabled" json:"enabled"`
	ApprovalRequired  ApprovalRequired `yaml:"approval_required" json:"approval_required"`
	Timeout           time.Duration    `yaml:"-" json:"-"`
	TimeoutMillis     int64            `yaml:"timeout_ms" json:"timeout_ms"`
}

// AILConfig configures the agent-in-the-loop decision loop.
type AILConfig struct {
	Enabled         bool           `yaml:"enabled" json:"enabled"`
	DecisionPoints  DecisionPoints `yaml:"decision_points" json:"decision_points"`
	Timeout         time.Duration  `yaml:"-" json:"-"`
	TimeoutMillis   int64          `yaml:"timeout_ms" json:"timeout_ms"`
	// DefaultOnTimeout, if non-empty, names the action to take on AIL
	// timeout instead of the default "treat as abort" (spec.md §4.7).
	// Supported values: "abort", "continue".
	DefaultOnTimeout string `yaml:"default_on_timeout,omitempty" json:"default_on_timeout,omitempty"`
}

// EngineConfig is the Executor configuration enumerated in spec.md §6.
type EngineConfig struct {
	HIL              HILConfig     `yaml:"hil" json:"hil"`
	AIL              AILConfig     `yaml:"ail" json:"ail"`
	TaskTimeout       time.Duration `yaml:"-" json:"-"`
	TaskTimeoutMillis int64         `yaml:"task_timeout_ms" json:"task_timeout_ms"`
	// LayerParallelism bounds fan-out within a layer; 0 means unbounded.
	LayerParallelism int `yaml:"layer_parallelism,omitempty" json:"layer_parallelism,omitempty"`
}

// SetDefaults fills in zero-valued fields with the documented defaults.
func (c *EngineConfig) SetDefaults() {
	if c.HIL.ApprovalRequired == "" {
		c.HIL.ApprovalRequired = ApprovalNever
	}
	if c.HIL.TimeoutMillis == 0 {
		c.HIL.TimeoutMillis = 5 * 60 * 1000
	}
	c.HIL.Timeout = time.Duration(c.HIL.TimeoutMillis) * time.Millisecond

	if c.AIL.DecisionPoints == "" {
		c.AIL.DecisionPoints = DecisionManual
	}
	if c.AIL.TimeoutMillis == 0 {
		c.AIL.TimeoutMillis = 5 * 60 * 1000
	}
	c.AIL.Timeout = time.Duration(c.AIL.TimeoutMillis) * time.Millisecond

	if c.TaskTimeoutMillis == 0 {
		c.TaskTimeoutMillis = 30 * 1000
	}
	c.TaskTimeout = time.Duration(c.TaskTimeoutMillis) * time.Millisecond
}

// Validate checks the configuration for consistency.
func (c *EngineConfig) Validate() error {
	switch c.HIL.ApprovalRequired {
	case ApprovalAlways, ApprovalNever, "":
	default:
		return fmt.Errorf("hil.approval_required: invalid value %q", c.HIL.ApprovalRequired)
	}
	switch c.AIL.DecisionPoints {
	case DecisionPerLayer, DecisionOnError, DecisionManual, "":
	default:
		return fmt.Errorf("ail.decision_points: invalid value %q", c.AIL.DecisionPoints)
	}
	switch c.AIL.DefaultOnTimeout {
	case "", "abort", "continue":
	default:
		return fmt.Errorf("ail.default_on_timeout: invalid value %q", c.AIL.DefaultOnTimeout)
	}
	if c.LayerParallelism < 0 {
		return fmt.Errorf("layer_parallelism: must be >= 0, got %d", c.LayerParallelism)
	}
	return nil
}

var _ Interface = (*EngineConfig)(nil)

// PermissionConfig is the permission configuration document from spec.md
// §6: three pattern lists, one per Decision.
type PermissionConfig struct {
	Allow []string `yaml:"allow" json:"allow"`
	Ask   []string `yaml:"ask" json:"ask"`
	Deny  []string `yaml:"deny" json:"deny"`
}

// SetDefaults is a no-op; an empty PermissionConfig is valid and resolves
// every tool to "ask" (the safe default).
func (c *PermissionConfig) SetDefaults() {}

// Validate checks that no pattern appears in more than one list, since that
// would make the longest-prefix-wins rule ambiguous for identical patterns.
func (c *PermissionConfig) Validate() error {
	seen := make(map[string]string, len(c.Allow)+len(c.Ask)+len(c.Deny))
	lists := map[string][]string{"allow": c.Allow, "ask": c.Ask, "deny": c.Deny}
	for name, patterns := range lists {
		for _, p := range patterns {
			if p == "" {
				return fmt.Errorf("%s: empty pattern not allowed", name)
			}
			if owner, ok := seen[p]; ok && owner != name {
				return fmt.Errorf("pattern %q listed in both %q and %q", p, owner, name)
			}
			seen[p] = name
		}
	}
	return nil
}

var _ Interface = (*PermissionConfig)(nil)

// TracingConfig configures the process-wide OpenTelemetry tracer consulted
// by pkg/tracing, paired at the same call sites as the Prometheus metrics
// pkg/executor/metrics.go already records.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"service_name" json:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`
}

const defaultTracingServiceName = "dagrunner"

// SetDefaults fills in the documented defaults.
func (c *TracingConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = defaultTracingServiceName
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
}

// Validate checks the configuration for consistency.
func (c *TracingConfig) Validate() error {
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate: must be in [0,1], got %f", c.SamplingRate)
	}
	return nil
}

var _ Interface = (*TracingConfig)(nil)
