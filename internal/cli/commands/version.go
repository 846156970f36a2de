package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/geldata/gel/internal/cli/config"
	"github.com/geldata/gel/pkg/compiler"
	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the gelc version and the compiler settings that compile and
explain would use with the current configuration.`,
		Run: func(cmd *cobra.Command, _ []string) {
			cc := NewCommandContext(cmd)
			printVersion(cmd.OutOrStdout(), version, cc.Cfg)
		},
	}
}

func printVersion(w io.Writer, version string, cfg *config.Config) {
	modules := cfg.MaterializeModules
	if len(modules) == 0 {
		modules = compiler.DefaultMaterializeModules
	}
	_, _ = fmt.Fprintf(w, "gelc v%s\n", version)
	_, _ = fmt.Fprintf(w, "  output format:       %s\n", cfg.OutputFormat)
	_, _ = fmt.Fprintf(w, "  introspection:       %t\n", cfg.Introspection)
	_, _ = fmt.Fprintf(w, "  trigger mode:        %t\n", cfg.TriggerMode)
	_, _ = fmt.Fprintf(w, "  materialize modules: %s\n", strings.Join(modules, ", "))
	_, _ = fmt.Fprintf(w, "  workers:             %d\n", cfg.Workers)
}
