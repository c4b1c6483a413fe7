// Package cli provides the tractstack-leads command tree.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/tractstack-leads/pkg/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "yaml"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"json", "yaml"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "tractstack-leads",
		Short:         "Cross-channel conversion pipeline",
		Long:          "Tracks visitor identity and fans lead conversions out to pixel, CAPI, data layer, webhook and email sinks.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "json", "output format (json|yaml)")

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewHandoffCommand(opts))
	cmd.AddCommand(NewProfileCommand(opts))
	cmd.AddCommand(NewAdminTokenCommand())

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig is swapped in tests.
var loadConfig = config.Load

func printf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}
