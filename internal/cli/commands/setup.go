package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/geldata/gel/internal/cli/config"
	"github.com/geldata/gel/internal/fixture"
	"github.com/geldata/gel/pkg/compiler"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

// NewCommandContext collects the config and logger the root command
// stored in the command context.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return &CommandContext{
		Cfg:    config.GetConfig(ctx),
		Logger: config.GetLogger(ctx),
	}
}

// fixturePaths returns args, or every fixture under the configured
// fixtures directory when no args are given.
func (cc *CommandContext) fixturePaths(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	paths, err := fixture.Glob(cc.Cfg.FixturesDir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no fixtures found in %s", cc.Cfg.FixturesDir)
	}
	return paths, nil
}

// outcome is the result of compiling one fixture.
type outcome struct {
	Path   string
	Unit   *fixture.Unit
	Result *compiler.Result

	// Err is a load, build or compile error.
	Err error
}

// Name returns the fixture name, or its path when it failed to load.
func (o *outcome) Name() string {
	if o.Unit != nil {
		return o.Unit.Name
	}
	return o.Path
}

// compileUnit loads, builds and compiles the fixture at path in a
// fresh environment.
func (cc *CommandContext) compileUnit(path string) *outcome {
	out := &outcome{Path: path}
	f, err := fixture.Load(path)
	if err != nil {
		out.Err = err
		return out
	}
	unit, err := fixture.Build(f)
	if err != nil {
		out.Err = fmt.Errorf("fixture %s: %w", f.Name, err)
		return out
	}
	out.Unit = unit

	logger := cc.Logger.With("fixture", unit.Name)
	out.Result, out.Err = unit.Compile(cc.Cfg.CompilerOptions(logger)...)
	if out.Err == nil {
		logger.Debug("fixture compiled", "ctes", len(out.Result.CTEs))
	}
	return out
}

// compileAll compiles every fixture, at most Workers at a time. The
// outcomes are in the order of paths. Fixture failures are recorded in
// the outcomes; only cancellation of ctx fails the call.
func (cc *CommandContext) compileAll(ctx context.Context, paths []string) ([]*outcome, error) {
	outcomes := make([]*outcome, len(paths))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(cc.Cfg.Workers, 1))
	for i, path := range paths {
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			outcomes[i] = cc.compileUnit(path)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
