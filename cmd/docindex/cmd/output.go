package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docindex/docindex/internal/audit"
)

// printEnvelope writes env as indented JSON to cmd's stdout. If the
// envelope carries errors, the command still returns an error so the
// process exits non-zero, but the envelope itself (with its error
// list) is printed first so callers see the full audit record.
func printEnvelope(cmd *cobra.Command, env *audit.Envelope) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if len(env.Errors) > 0 {
		return fmt.Errorf("%s failed: %v", env.ToolName, env.Errors)
	}
	return nil
}
