package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docindex/docindex/internal/tools"
)

func newGCCmd() *cobra.Command {
	var keepRefs []string
	var kinds []string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete artifacts rooted in trees unreachable from keep-refs",
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

			if len(keepRefs) == 0 {
				keepRefs = []string{"HEAD"}
			}

			env, err := svc.GCArtifacts(cmd.Context(), tools.GCArtifactsInput{
				KeepRefs: keepRefs,
				Kinds:    kinds,
				DryRun:   dryRun,
			})
			if err != nil {
				return err
			}
			return printEnvelope(cmd, env)
		},
	}

	cmd.Flags().StringSliceVar(&keepRefs, "keep-ref", nil, "Ref to keep reachable (repeatable; defaults to HEAD)")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Artifact kind to collect (repeatable; defaults to all kinds)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be deleted without deleting")

	return cmd
}
