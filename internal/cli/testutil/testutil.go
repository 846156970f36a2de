// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/geldata/gel/internal/cli/config"
	logutil "github.com/geldata/gel/internal/testutil"
	"github.com/spf13/cobra"
)

// ExecuteCommand runs cmd with args and returns its combined output.
// A non-nil cfg is stored in the command context the way the root
// command stores the loaded configuration.
func ExecuteCommand(t *testing.T, cmd *cobra.Command, cfg *config.Config, args ...string) (string, error) {
	t.Helper()

	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	ctx := config.WithLogger(context.Background(), logutil.NewTestLogger(t))
	if cfg != nil {
		ctx = config.WithConfig(ctx, cfg)
	}
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

// WriteFixture writes a fixture file named name into dir and returns
// its path.
func WriteFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write fixture %s: %v", name, err)
	}
	return path
}

// FixturesDir returns the absolute path of the shared fixture testdata
// directory.
func FixturesDir(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}

	// Try different relative paths based on where tests are run from
	candidates := []string{
		filepath.Join(wd, "..", "fixture", "testdata"),
		filepath.Join(wd, "..", "..", "fixture", "testdata"),
		filepath.Join(wd, "..", "..", "..", "internal", "fixture", "testdata"),
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	t.Fatalf("fixture testdata directory not found, tried: %v", candidates)
	return ""
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}
