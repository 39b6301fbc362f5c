package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docindex/docindex/internal/tools"
)

func newFTSCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fts",
		Short: "Manage the history-correct full-text index",
	}
	cmd.AddCommand(newFTSBuildCmd())
	cmd.AddCommand(newFTSValidateCmd())
	return cmd
}

func newFTSBuildCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "build <ref>",
		Short: "Build or confirm the FTS artifact for a ref's tree",
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

			env, err := svc.BuildFTSTree(cmd.Context(), tools.BuildFTSTreeInput{
				Ref:          args[0],
				ForceRebuild: force,
			})
			if err != nil {
				return err
			}
			return printEnvelope(cmd, env)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Rebuild even if an up-to-date artifact already exists")
	return cmd
}

func newFTSValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <tree-hash>",
		Short: "Attest that a tree's FTS artifact is internally consistent",
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

			env, err := svc.ValidateFTS(cmd.Context(), tools.ValidateFTSInput{TreeHash: args[0]})
			if err != nil {
				return err
			}
			return printEnvelope(cmd, env)
		},
	}
	return cmd
}
