package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docindex/docindex/internal/config"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default docindex.yaml in the current directory",
		Long: `Creates a docindex.yaml in the current directory with default
settings, and creates the parent directory of the configured store
path if it does not already exist.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}

			configPath := filepath.Join(wd, "docindex.yaml")
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("docindex.yaml already exists at %s", configPath)
			}

			cfg := config.NewConfig()
			if err := cfg.WriteYAML(configPath); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			storeDir := filepath.Dir(filepath.Join(wd, cfg.Store.Path))
			if err := os.MkdirAll(storeDir, 0o755); err != nil {
				return fmt.Errorf("create store directory: %w", err)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
			return err
		},
	}
	return cmd
}
