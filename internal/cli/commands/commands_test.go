package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geldata/gel/internal/cli/config"
	"github.com/geldata/gel/internal/cli/testutil"
	"github.com/geldata/gel/internal/fixture"
	logutil "github.com/geldata/gel/internal/testutil"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, workers int) *config.Config {
	cfg := config.Default()
	cfg.Workers = workers
	cfg.FixturesDir = testutil.FixturesDir(t)
	return cfg
}

func fixturePath(t *testing.T, name string) string {
	return filepath.Join(testutil.FixturesDir(t), name+".yaml")
}

func TestNewCompileCommand(t *testing.T) {
	cmd := NewCompileCommand()

	assert.Equal(t, "compile [fixture...]", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")

	flags := []string{"check", "watch"}
	for _, flag := range flags {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
	assert.NotNil(t, cmd.Flags().ShorthandLookup("w"))
}

func TestNewExplainCommand(t *testing.T) {
	cmd := NewExplainCommand()

	assert.Equal(t, "explain <fixture>", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.Error(t, cmd.Args(cmd, nil), "a fixture is required")
	assert.NoError(t, cmd.Args(cmd, []string{"a.yaml"}))
}

func TestCompileCommand(t *testing.T) {
	t.Run("prints trees in argument order", func(t *testing.T) {
		out, err := testutil.ExecuteCommand(t, NewCompileCommand(), testConfig(t, 4),
			fixturePath(t, "semi_join"), fixturePath(t, "nested_link"), fixturePath(t, "delete"))
		require.NoError(t, err)

		semi := bytes.Index([]byte(out), []byte("-- semi join\n"))
		nested := bytes.Index([]byte(out), []byte("-- nested link\n"))
		del := bytes.Index([]byte(out), []byte("-- delete\n"))
		require.True(t, semi >= 0 && nested >= 0 && del >= 0, out)
		assert.Less(t, semi, nested)
		assert.Less(t, nested, del)
		assert.Contains(t, out, "SELECT")
	})

	t.Run("check verifies every fixture in the fixtures dir", func(t *testing.T) {
		out, err := testutil.ExecuteCommand(t, NewCompileCommand(), testConfig(t, 2), "--check")
		require.NoError(t, err, out)

		paths, err := fixture.Glob(testutil.FixturesDir(t))
		require.NoError(t, err)
		assert.Equal(t, len(paths), bytes.Count([]byte(out), []byte("ok   ")))
		assert.NotContains(t, out, "FAIL")
	})

	t.Run("broken fixture fails the command", func(t *testing.T) {
		dir := t.TempDir()
		bad := testutil.WriteFixture(t, dir, "bad.yaml", "schema: [\n")

		out, err := testutil.ExecuteCommand(t, NewCompileCommand(), testConfig(t, 1), fixturePath(t, "delete"), bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 2 fixtures failed to compile")
		assert.Contains(t, out, "-- "+bad+"\nerror:")
		assert.Contains(t, out, "-- delete\n")
	})

	t.Run("check reports unmet expectations", func(t *testing.T) {
		dir := t.TempDir()
		path := testutil.WriteFixture(t, dir, "wrong.yaml", `
name: wrong
schema:
  types:
    - name: default::Foo
      pointers:
        - {name: name, target: std::str}
query:
  subject: default::Foo
  shape: [name]
expect:
  relations: [Nope]
`)
		out, err := testutil.ExecuteCommand(t, NewCompileCommand(), testConfig(t, 1), "--check", path)
		require.Error(t, err)
		assert.Contains(t, out, "FAIL wrong:")
		assert.Contains(t, out, `relation "Nope" not read`)
	})

	t.Run("empty fixtures dir", func(t *testing.T) {
		cfg := testConfig(t, 1)
		cfg.FixturesDir = t.TempDir()
		_, err := testutil.ExecuteCommand(t, NewCompileCommand(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no fixtures found")
	})
}

func TestCompileAll(t *testing.T) {
	paths, err := fixture.Glob(testutil.FixturesDir(t))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	cc := &CommandContext{Cfg: testConfig(t, 3), Logger: logutil.NewTestLogger(t)}

	t.Run("keeps input order", func(t *testing.T) {
		outcomes, err := cc.compileAll(context.Background(), paths)
		require.NoError(t, err)
		require.Len(t, outcomes, len(paths))
		for i, o := range outcomes {
			assert.Equal(t, paths[i], o.Path)
			assert.NoError(t, o.Err, o.Name())
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := cc.compileAll(ctx, paths)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestExplain(t *testing.T) {
	out, err := testutil.ExecuteCommand(t, NewExplainCommand(), testConfig(t, 1), fixturePath(t, "nested_link"))
	require.NoError(t, err)

	assert.Contains(t, out, "Fixture: nested link")
	assert.Contains(t, out, "CTEs")
	assert.Contains(t, out, "Range vars")
	assert.Contains(t, out, "type_inheritance_ctes")
	assert.Contains(t, out, "default.Foo.bar")
	assert.Contains(t, out, "+-", "non-terminal output uses ASCII tables")
	testutil.AssertNoANSI(t, out)

	_, err = testutil.ExecuteCommand(t, NewExplainCommand(), testConfig(t, 1), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestTableStyle(t *testing.T) {
	assert.Equal(t, table.StyleDefault.Name, tableStyle(new(bytes.Buffer)).Name)
}

func TestWatchFixtures(t *testing.T) {
	old := watchDebounce
	watchDebounce = 10 * time.Millisecond
	t.Cleanup(func() { watchDebounce = old })

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	var rebuilds atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- watchFixtures(ctx, logutil.NewTestLogger(t), []string{dir}, func() {
			rebuilds.Add(1)
		})
	}()

	// Writes before the watcher is registered are lost, so keep writing.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("name: a\n"), 0o600)
		return rebuilds.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchDirs(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, watchDirs([]string{"a/x.yaml", "b/y.yaml", "a/z.yml"}))
	assert.True(t, isFixtureFile("x.yml"))
	assert.False(t, isFixtureFile("x.sql"))
}
