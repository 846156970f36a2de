package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/geldata/gel/pkg/pgast"
	"github.com/spf13/cobra"
)

// watchDebounce is how long compile --watch waits for writes to settle.
var watchDebounce = 200 * time.Millisecond

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	var check, watch bool

	cmd := &cobra.Command{
		Use:   "compile [fixture...]",
		Short: "Compile fixtures to SQL trees",
		Long: `Compile each fixture in its own environment and print the statement
tree. Without arguments every fixture in the fixtures directory is
compiled. Fixtures are compiled in parallel, --workers at a time; output
keeps the order of the arguments.

With --check the expect block of every fixture is verified instead of
printing the trees.`,
		Example: `  # Compile a single fixture
  gelc compile testdata/nested_link.yaml

  # Verify every fixture in ./testdata
  gelc compile --check

  # Recompile on change with JSON output serialization
  gelc compile -o json --watch testdata/insert.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, args, check, watch)
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Verify the expect block of each fixture")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Recompile when fixtures change")

	return cmd
}

func runCompile(cmd *cobra.Command, args []string, check, watch bool) error {
	cc := NewCommandContext(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	w := cmd.OutOrStdout()

	run := func() error {
		paths, err := cc.fixturePaths(args)
		if err != nil {
			return err
		}
		outcomes, err := cc.compileAll(ctx, paths)
		if err != nil {
			return err
		}
		if check {
			return reportChecks(w, outcomes)
		}
		return printOutcomes(w, outcomes)
	}

	if !watch {
		return run()
	}

	if err := run(); err != nil {
		cc.Logger.Error("compile failed", "error", err)
	}
	dirs := []string{cc.Cfg.FixturesDir}
	if len(args) > 0 {
		dirs = watchDirs(args)
	}

	var mu sync.Mutex
	return watchFixtures(ctx, cc.Logger, dirs, func() {
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintln(w, "-- recompiling")
		if err := run(); err != nil {
			cc.Logger.Error("compile failed", "error", err)
		}
	})
}

// printOutcomes dumps every compiled statement. It fails if any
// fixture failed.
func printOutcomes(w io.Writer, outcomes []*outcome) error {
	failed := 0
	for _, o := range outcomes {
		_, _ = fmt.Fprintf(w, "-- %s\n", o.Name())
		if o.Err != nil {
			failed++
			_, _ = fmt.Fprintf(w, "error: %v\n", o.Err)
			continue
		}
		_, _ = io.WriteString(w, pgast.Dump(o.Result.Stmt))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d fixtures failed to compile", failed, len(outcomes))
	}
	return nil
}

// reportChecks prints one line per fixture telling whether its
// expectations held.
func reportChecks(w io.Writer, outcomes []*outcome) error {
	failed := 0
	for _, o := range outcomes {
		err := o.Err
		if o.Unit != nil {
			err = o.Unit.Check(o.Result, o.Err)
		}
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(w, "FAIL %s: %v\n", o.Name(), err)
			continue
		}
		_, _ = fmt.Fprintf(w, "ok   %s\n", o.Name())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d fixtures failed", failed, len(outcomes))
	}
	return nil
}

// watchDirs returns the directories holding paths.
func watchDirs(paths []string) []string {
	var dirs []string
	for _, p := range paths {
		if d := filepath.Dir(p); !slices.Contains(dirs, d) {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

func isFixtureFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// watchFixtures calls rebuild after fixtures in dirs are written or
// created, until ctx is done.
func watchFixtures(ctx context.Context, logger *slog.Logger, dirs []string, rebuild func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		logger.Info("watching for changes", "dir", dir)
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isFixtureFile(event.Name) {
				continue
			}
			logger.Debug("fixture changed", "path", event.Name, "op", event.Op.String())
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watchDebounce, rebuild)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}
