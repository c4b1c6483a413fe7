package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/tractstack-leads/internal/application/services"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/security"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/storage"
)

type profileOptions struct {
	DB      string
	Profile string
}

// NewProfileCommand exposes a device-local identity store kept in SQLite,
// for kiosks and for inspecting what a browser would hold.
func NewProfileCommand(root *RootOptions) *cobra.Command {
	opts := &profileOptions{}

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect or manage a device-local visitor profile",
	}
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "data/profiles.db", "SQLite file holding device profiles")
	cmd.PersistentFlags().StringVar(&opts.Profile, "profile", "default", "device profile name")

	cmd.AddCommand(&cobra.Command{
		Use:   "visit <url>",
		Short: "Record a page load and print the snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(store *services.IdentityStore) error {
				snap := store.Initialize(services.PageLoad{URL: args[0]})
				return writeOutput(cmd.OutOrStdout(), root.Format, snap)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Print everything stored for the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(store *services.IdentityStore) error {
				return writeOutput(cmd.OutOrStdout(), root.Format, store.Export())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "erase",
		Short: "Remove every stored key for the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(store *services.IdentityStore) error {
				store.Clear()
				printf(cmd.OutOrStdout(), "profile %q erased\n", opts.Profile)
				return nil
			})
		},
	})

	return cmd
}

func withStore(opts *profileOptions, fn func(*services.IdentityStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(opts.DB), 0o755); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}
	st, err := storage.OpenSQLiteStorage(opts.DB, opts.Profile)
	if err != nil {
		return err
	}
	defer st.Close()

	logger := logging.NewDiscardLogger()
	keys := storage.NewKeySet(cfg.Identity.Namespace)
	var primary storage.Storage = st
	if cfg.Identity.SealingKey != "" {
		sealer, err := security.NewSealer(cfg.Identity.SealingKey)
		if err != nil {
			return err
		}
		primary = storage.NewSealedStorage(st, keys, sealer)
	}

	return fn(services.NewIdentityStore(primary, keys, cfg.Identity, security.NewMinter(logger), logger))
}
