package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docindex/docindex/internal/tools"
)

func newDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <from> <to>",
		Short: "Report documents added, removed, or changed between two commits",
		Args:  cobra.ExactArgs(2),
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

			env, err := svc.DiffIndex(cmd.Context(), tools.DiffIndexInput{From: args[0], To: args[1]})
			if err != nil {
				return err
			}
			return printEnvelope(cmd, env)
		},
	}
	return cmd
}
