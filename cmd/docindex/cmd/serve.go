package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newServeCmd bootstraps the store and embedding provider and then
// blocks until interrupted. It deliberately does not speak any
// tool-dispatch wire protocol; wiring a transport on top of this
// process is the caller's responsibility.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open the store and embedding provider, then block until interrupted",
		Long: `Opens the configured store and embedding provider, acquiring the
single-writer lock for the process's lifetime, and blocks until
interrupted. It does not implement any tool-dispatch transport; a
caller embedding docindex as a library is expected to drive
internal/tools.Service directly while this process holds the lock.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, root, err := loadConfig()
			if err != nil {
				return err
			}
			_, closeFn, err := openService(cfg, root)
			if err != nil {
				return err
			}
			defer closeFn()

			slog.Info("docindex store ready", slog.String("root", root), slog.String("store_path", cfg.Store.Path))
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), "docindex store ready, waiting for interrupt"); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			slog.Info("docindex shutting down")
			return nil
		},
	}
	return cmd
}
