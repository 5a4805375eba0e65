// Package config provides configuration types for the controlled DAG
// execution engine.
package config

// Interface defines the contract every configuration type in this module
// satisfies, giving callers a consistent validate/default-fill pattern.
type Interface interface {
	// Validate checks if the configuration is valid and returns an error if not.
	Validate() error

	// SetDefaults fills in default values for any unset fields.
	SetDefaults()
}
