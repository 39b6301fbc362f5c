package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docindex/docindex/internal/tools"
)

func newCheckoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkout <ref>",
		Short: "Materialize a ref's tree into the working tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, root, err := loadConfig()
			if err != nil {
				return err
			}
			svc, closeFn, err := openService(cfg, root)
			if err != nil {
				return err
			}
			defer closeFn()

			env, err := svc.Checkout(cmd.Context(), tools.CheckoutInput{Ref: args[0]})
			if err != nil {
				return err
			}
			return printEnvelope(cmd, env)
		},
	}
	return cmd
}
