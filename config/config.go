package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Document is the top-level configuration document loaded from YAML: the
// engine's execution knobs plus the permission policy consulted by the
// Permission Resolver.
type Document struct {
	Engine     EngineConfig     `yaml:"engine"`
	Permission PermissionConfig `yaml:"permission"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// SetDefaults fills in defaults for every nested config.
func (d *Document) SetDefaults() {
	d.Engine.SetDefaults()
	d.Permission.SetDefaults()
	d.Tracing.SetDefaults()
}

// Validate validates every nested config.
func (d *Document) Validate() error {
	if err := d.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if err := d.Permission.Validate(); err != nil {
		return fmt.Errorf("permission config: %w", err)
	}
	if err := d.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing config: %w", err)
	}
	return nil
}

var _ Interface = (*Document)(nil)

// Load reads a YAML configuration document from path, expanding
// ${VAR}/${VAR:-default}/$VAR references against the process environment
// (after loading a .env file from the current working directory, if
// present, the way cmd/hector does).
func Load(path string) (*Document, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	expanded := ExpandEnvVars(string(raw))

	var doc Document
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	doc.SetDefaults()
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &doc, nil
}
