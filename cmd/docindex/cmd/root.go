// Package cmd provides the CLI commands for docindex.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docindex/docindex/internal/config"
	"github.com/docindex/docindex/internal/embed"
	"github.com/docindex/docindex/internal/logging"
	"github.com/docindex/docindex/internal/store"
	"github.com/docindex/docindex/internal/tools"
	"github.com/docindex/docindex/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the docindex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docindex",
		Short: "Content-addressed document index with hybrid retrieval",
		Long: `docindex is a deterministic, content-addressed document index with
versioned snapshots, hybrid BM25+vector retrieval, and an
audit-enveloped tool surface.

It persists everything in a single SQLite database and runs entirely
locally.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("docindex version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.docindex/logs/")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newCommitCmd())
	cmd.AddCommand(newCheckoutCmd())
	cmd.AddCommand(newDiffCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newFTSCmd())
	cmd.AddCommand(newEmbedCmd())
	cmd.AddCommand(newGCCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// loadConfig resolves the project root and loads layered configuration
// for it.
func loadConfig() (*config.Config, string, error) {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, err = os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("resolve working directory: %w", err)
		}
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	return cfg, root, nil
}

// openService opens the store at cfg's configured path (resolved
// relative to root) and wires it to an embedding provider chosen per
// cfg.EffectiveEmbeddingsProvider, returning a ready-to-use Service
// and a closer the caller must invoke.
func openService(cfg *config.Config, root string) (*tools.Service, func() error, error) {
	dbPath := cfg.Store.Path
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(root, dbPath)
	}

	st, err := store.Open(dbPath, store.Options{})
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	apiKey := os.Getenv(cfg.Embeddings.APIKeyEnv)
	provider := embed.NewProvider(context.Background(), embed.Config{
		Provider:  cfg.EffectiveEmbeddingsProvider(),
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.HTTPBaseURL,
		APIKey:    apiKey,
		CacheSize: 512,
	})

	svc := tools.NewService(st, provider, nil)
	return svc, st.Close, nil
}
