package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docindex/docindex/internal/tools"
)

func newCommitCmd() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Freeze the working tree into a new commit",
		Long:  `Snapshots the current documents/chunks tables into a tree and commit, advancing HEAD.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, root, err := loadConfig()
			if err != nil {
				return err
			}
			svc, closeFn, err := openService(cfg, root)
			if err != nil {
				return err
			}
			defer closeFn()

			env, err := svc.CreateCommit(cmd.Context(), tools.CreateCommitInput{Message: message})
			if err != nil {
				return err
			}
			return printEnvelope(cmd, env)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message")
	return cmd
}
