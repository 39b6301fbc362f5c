package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docindex/docindex/internal/tools"
)

func newEmbedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Manage the vector embedding artifact",
	}
	cmd.AddCommand(newEmbedBuildCmd())
	return cmd
}

func newEmbedBuildCmd() *cobra.Command {
	var modelID string
	var dims int
	var batchSize int

	cmd := &cobra.Command{
		Use:   "build <ref>",
		Short: "Build the chunk_embeddings artifact for a ref's tree",
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

			model := modelID
			if model == "" {
				model = cfg.Embeddings.Model
			}

			env, err := svc.BuildEmbeddings(cmd.Context(), tools.BuildEmbeddingsInput{
				Ref:       args[0],
				ModelID:   model,
				Dims:      dims,
				BatchSize: batchSize,
			})
			if err != nil {
				return err
			}
			return printEnvelope(cmd, env)
		},
	}

	cmd.Flags().StringVar(&modelID, "model", "", "Embedding model id (defaults to the configured embeddings.model)")
	cmd.Flags().IntVar(&dims, "dims", 0, "Embedding dimensionality (0 uses the provider's default)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Chunks per embedding request batch (0 uses the builder's default)")

	return cmd
}
