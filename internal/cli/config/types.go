// Package config loads gelc configuration from defaults, an optional
// gelc.yaml, GELC_* environment variables and command-line flags.
package config

import (
	"log/slog"
	"strings"

	"github.com/geldata/gel/pkg/compiler"
)

// Defaults.
const (
	DefaultOutputFormat = "native"
	DefaultLogLevel     = "warn"
	DefaultWorkers      = 4
	DefaultFixturesDir  = "testdata"
)

// Config holds all CLI configuration options.
type Config struct {
	OutputFormat       compiler.OutputFormat `koanf:"output_format"`
	Introspection      bool                  `koanf:"introspection"`
	TriggerMode        bool                  `koanf:"trigger_mode"`
	MaterializeModules []string              `koanf:"materialize_modules"`
	LogLevel           slog.Level            `koanf:"log_level"`
	Workers            int                   `koanf:"workers"`
	Verbose            bool                  `koanf:"verbose"`
	FixturesDir        string                `koanf:"fixtures_dir"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		OutputFormat: compiler.FormatNative,
		LogLevel:     slog.LevelWarn,
		Workers:      DefaultWorkers,
		FixturesDir:  DefaultFixturesDir,
	}
}

// CompilerOptions returns the compiler options the configuration
// selects.
func (c *Config) CompilerOptions(logger *slog.Logger) []compiler.Option {
	opts := []compiler.Option{
		compiler.WithOutputFormat(c.OutputFormat),
		compiler.WithIntrospection(c.Introspection),
		compiler.WithTriggerMode(c.TriggerMode),
	}
	if len(c.MaterializeModules) > 0 {
		opts = append(opts, compiler.WithMaterializeModules(c.MaterializeModules...))
	}
	if logger != nil {
		opts = append(opts, compiler.WithLogger(logger))
	}
	return opts
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return &ValidationError{Key: "workers", Message: "must be at least 1"}
	}
	for _, m := range c.MaterializeModules {
		if strings.TrimSpace(m) == "" {
			return &ValidationError{Key: "materialize_modules", Message: "module names must not be empty"}
		}
	}
	return nil
}

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Key     string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Key + ": " + e.Message
}
