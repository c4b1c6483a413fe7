package cli

import (
	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/tractstack-leads/internal/application/startup"
)

// NewServeCommand runs the HTTP pipeline until SIGINT or SIGTERM.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return startup.Initialize(cfg)
		},
	}
}
