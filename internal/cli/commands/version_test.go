package commands

import (
	"testing"

	"github.com/geldata/gel/internal/cli/config"
	"github.com/geldata/gel/internal/cli/testutil"
	"github.com/geldata/gel/pkg/compiler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVersionCommand(t *testing.T) {
	tests := []struct {
		name    string
		version string
		cfg     func(*config.Config)
		wantOut []string
	}{
		{
			name:    "defaults",
			version: "0.1.0",
			wantOut: []string{
				"gelc v0.1.0",
				"output format:       native",
				"introspection:       false",
				"materialize modules: sys",
				"workers:             4",
			},
		},
		{
			name:    "configured compiler",
			version: "1.2.3",
			cfg: func(c *config.Config) {
				c.OutputFormat = compiler.FormatJSON
				c.TriggerMode = true
				c.MaterializeModules = []string{"default", "sys"}
				c.Workers = 2
			},
			wantOut: []string{
				"gelc v1.2.3",
				"output format:       json",
				"trigger mode:        true",
				"materialize modules: default, sys",
				"workers:             2",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Workers = 4
			if tt.cfg != nil {
				tt.cfg(cfg)
			}

			out, err := testutil.ExecuteCommand(t, NewVersionCommand(tt.version), cfg)
			require.NoError(t, err)
			for _, want := range tt.wantOut {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestVersionCommandMetadata(t *testing.T) {
	cmd := NewVersionCommand("test")

	assert.Equal(t, "version", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Long, "Long should not be empty")
}
