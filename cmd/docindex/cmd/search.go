package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docindex/docindex/internal/tools"
)

func newSearchCmd() *cobra.Command {
	var k int
	var ref string
	var hybrid bool
	var alpha float64
	var indexVersion string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank chunks against a query",
		Long: `By default ranks the working tree's chunks via BM25. With --hybrid,
fuses BM25 and vector similarity over a frozen ref's embedding
artifact.`,
		Args: cobra.ExactArgs(1),
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

			if hybrid {
				effectiveAlpha := alpha
				if !cmd.Flags().Changed("alpha") {
					effectiveAlpha = cfg.Retrieve.DefaultAlpha
				}
				env, err := svc.RetrieveWithEmbeddings(cmd.Context(), tools.RetrieveWithEmbeddingsInput{
					Query:      args[0],
					K:          k,
					Ref:        ref,
					ProviderID: cfg.Embeddings.Model,
					BM25K:      cfg.Retrieve.BM25K,
					VectorK:    cfg.Retrieve.VectorK,
					Alpha:      effectiveAlpha,
				})
				if err != nil {
					return err
				}
				return printEnvelope(cmd, env)
			}

			env, err := svc.Retrieve(cmd.Context(), tools.RetrieveInput{
				Query:            args[0],
				K:                k,
				RequestedVersion: indexVersion,
			})
			if err != nil {
				return err
			}
			return printEnvelope(cmd, env)
		},
	}

	cmd.Flags().IntVar(&k, "k", 10, "Number of results to return")
	cmd.Flags().StringVar(&ref, "ref", "HEAD", "Ref to search against in --hybrid mode")
	cmd.Flags().BoolVar(&hybrid, "hybrid", false, "Fuse BM25 with vector similarity")
	cmd.Flags().Float64Var(&alpha, "alpha", 0, "Hybrid fusion weight toward the BM25 score (0-1); the configured default is used when the flag is omitted")
	cmd.Flags().StringVar(&indexVersion, "index-version", "", "Expected index version (working tree hash); a mismatch adds a warning")

	return cmd
}
