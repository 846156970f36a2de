package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geldata/gel/pkg/compiler"
	"github.com/geldata/gel/pkg/ir"
)

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringP("output", "o", "", "")
	flags.Bool("introspection", false, "")
	flags.StringSlice("materialize-modules", nil, "")
	flags.String("log-level", "", "")
	flags.Int("workers", 0, "")
	flags.BoolP("verbose", "v", false, "")
	flags.String("fixtures-dir", "", "")
	return flags
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gelc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	ResetConfig()
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, compiler.FormatNative, cfg.OutputFormat)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultFixturesDir, cfg.FixturesDir)
	assert.Empty(t, cfg.MaterializeModules)
	assert.False(t, cfg.Introspection)
	assert.Empty(t, GetConfigFileUsed())
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeConfig(t, `
output_format: json
log_level: info
workers: 2
materialize_modules: [default, app]
fixtures_dir: cases
`)

	tests := []struct {
		name    string
		env     map[string]string
		args    []string
		check   func(t *testing.T, cfg *Config)
		wantErr string
	}{
		{
			name: "file overrides defaults",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, compiler.FormatJSON, cfg.OutputFormat)
				assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
				assert.Equal(t, 2, cfg.Workers)
				assert.Equal(t, []string{"default", "app"}, cfg.MaterializeModules)
				assert.Equal(t, "cases", cfg.FixturesDir)
			},
		},
		{
			name: "env overrides file",
			env: map[string]string{
				"GELC_WORKERS":             "8",
				"GELC_MATERIALIZE_MODULES": "std,sys",
				"GELC_INTROSPECTION":       "true",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8, cfg.Workers)
				assert.Equal(t, []string{"std", "sys"}, cfg.MaterializeModules)
				assert.True(t, cfg.Introspection)
				assert.Equal(t, compiler.FormatJSON, cfg.OutputFormat)
			},
		},
		{
			name: "flags override env",
			env:  map[string]string{"GELC_WORKERS": "8", "GELC_LOG_LEVEL": "error"},
			args: []string{"--workers", "3", "-o", "native", "--log-level", "debug"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3, cfg.Workers)
				assert.Equal(t, compiler.FormatNative, cfg.OutputFormat)
				assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
			},
		},
		{
			name: "unset flags do not override",
			args: []string{"--verbose"},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Verbose)
				assert.Equal(t, 2, cfg.Workers)
			},
		},
		{
			name:    "invalid output format",
			args:    []string{"-o", "xml"},
			wantErr: "unknown output format",
		},
		{
			name:    "invalid workers",
			env:     map[string]string{"GELC_WORKERS": "0"},
			wantErr: "invalid workers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetConfig()
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			flags := newFlags()
			require.NoError(t, flags.Parse(tt.args))

			cfg, err := LoadConfig(path, flags)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, path, GetConfigFileUsed())
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfig_DiscoversFile(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gelc.yml"), []byte("trigger_mode: true\n"), 0o600))
	t.Chdir(dir)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.True(t, cfg.TriggerMode)
	assert.Equal(t, "gelc.yml", GetConfigFileUsed())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	ResetConfig()
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLogger(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, GetLogger(ctx), "falls back to a discard logger")

	logger := NewLogger(&Config{LogLevel: slog.LevelError})
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.Same(t, logger, GetLogger(WithLogger(ctx, logger)))

	verbose := NewLogger(&Config{LogLevel: slog.LevelError, Verbose: true})
	assert.True(t, verbose.Enabled(ctx, slog.LevelDebug))
}

func TestConfigContext(t *testing.T) {
	ctx := context.Background()
	def := GetConfig(ctx)
	assert.Equal(t, Default(), def)
	require.NoError(t, def.Validate())

	cfg := &Config{Workers: 7}
	assert.Same(t, cfg, GetConfig(WithConfig(ctx, cfg)))
}

func TestCompilerOptions(t *testing.T) {
	cfg := &Config{OutputFormat: compiler.FormatJSON, MaterializeModules: []string{"default"}, Workers: 1}
	env := compiler.NewEnvironment(cfg.CompilerOptions(nil)...)
	assert.Equal(t, compiler.FormatJSON, env.OutputFormat)
	assert.True(t, env.NeedsCTE(&ir.TypeRef{Kind: ir.KindObject, Name: ir.ParseQualName("default::Foo")}))
	assert.False(t, env.NeedsCTE(&ir.TypeRef{Kind: ir.KindObject, Name: ir.ParseQualName("sys::Role")}))
}
