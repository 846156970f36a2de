package cli

import (
	"testing"

	"github.com/geldata/gel/internal/cli/config"
	"github.com/geldata/gel/internal/cli/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()

	assert.Equal(t, "gelc", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"version", "compile", "explain", "completion"}, names)

	flags := []string{"config", "output", "introspection", "trigger-mode", "materialize-modules",
		"log-level", "workers", "verbose", "fixtures-dir"}
	for _, flag := range flags {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestRootCmd_Execute(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantOut []string
		wantErr string
	}{
		{
			name:    "version",
			args:    []string{"version"},
			wantOut: []string{"gelc v" + Version},
		},
		{
			name:    "version reports loaded settings",
			args:    []string{"--workers", "3", "--trigger-mode", "version"},
			wantOut: []string{"workers:             3", "trigger mode:        true"},
		},
		{
			name:    "completion skips config loading",
			args:    []string{"--workers", "0", "completion", "bash"},
			wantOut: []string{"bash completion"},
		},
		{
			name:    "invalid flag value fails config loading",
			args:    []string{"--workers", "0", "version"},
			wantErr: "invalid workers",
		},
		{
			name:    "explain through the root command",
			args:    []string{"-o", "json", "explain"},
			wantErr: "accepts 1 arg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config.ResetConfig()
			t.Chdir(t.TempDir())

			out, err := testutil.ExecuteCommand(t, NewRootCmd(), nil, tt.args...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, want := range tt.wantOut {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestRootCmd_CompileCheck(t *testing.T) {
	config.ResetConfig()
	dir := testutil.FixturesDir(t)
	t.Chdir(t.TempDir())

	out, err := testutil.ExecuteCommand(t, NewRootCmd(), nil,
		"compile", "--check", "--workers", "2", "--fixtures-dir", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "ok   nested link")
	assert.NotContains(t, out, "FAIL")
}
