package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/security"
)

// NewAdminTokenCommand mints a bearer token for the conversion lookup API.
func NewAdminTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Sign an operator token with ADMIN_JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.AdminJWTSecret == "" {
				return errors.New("ADMIN_JWT_SECRET is not set")
			}
			token, err := security.GenerateAdminToken(cfg.AdminJWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
