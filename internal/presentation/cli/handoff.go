package cli

import (
	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/handoff"
)

// NewHandoffCommand groups the thank-you token helpers.
func NewHandoffCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Build or inspect cross-page handoff tokens",
	}
	cmd.AddCommand(newHandoffEncodeCommand())
	cmd.AddCommand(newHandoffDecodeCommand(opts))
	return cmd
}

type encodeOptions struct {
	Dest          string
	CorrelationID string
	ExternalID    string
	Email         string
	Phone         string
	Name          string
	Fbp           string
	Fbc           string
}

func newHandoffEncodeCommand() *cobra.Command {
	opts := &encodeOptions{}

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Print a destination URL carrying a handoff token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token := handoff.Token{}
			set := func(dst **string, v string) {
				if v != "" {
					*dst = handoff.String(v)
				}
			}
			set(&token.CorrelationID, opts.CorrelationID)
			set(&token.ExternalID, opts.ExternalID)
			set(&token.Email, opts.Email)
			set(&token.Phone, opts.Phone)
			set(&token.Name, opts.Name)
			set(&token.Fbp, opts.Fbp)
			set(&token.Fbc, opts.Fbc)

			out, err := handoff.AppendToURL(opts.Dest, token)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Dest, "dest", "/thank-you", "destination URL")
	cmd.Flags().StringVar(&opts.CorrelationID, "correlation-id", "", "shared event identifier")
	cmd.Flags().StringVar(&opts.ExternalID, "external-id", "", "pseudonymous visitor identifier")
	cmd.Flags().StringVar(&opts.Email, "email", "", "contact email")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "contact phone")
	cmd.Flags().StringVar(&opts.Name, "name", "", "contact full name")
	cmd.Flags().StringVar(&opts.Fbp, "fbp", "", "browser pixel cookie")
	cmd.Flags().StringVar(&opts.Fbc, "fbc", "", "click identifier cookie")
	return cmd
}

func newHandoffDecodeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <url>",
		Short: "Print the handoff token carried by a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeOutput(cmd.OutOrStdout(), opts.Format, handoff.DecodeURL(args[0]))
		},
	}
}
