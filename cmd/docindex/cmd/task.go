package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docindex/docindex/internal/tools"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage scheduled tasks",
	}
	cmd.AddCommand(newTaskEnqueueCmd())
	return cmd
}

func newTaskEnqueueCmd() *cobra.Command {
	var title string
	var action string
	var payloadJSON string
	var runAt string
	var referenceTime string
	var intervalSeconds int
	var idempotencyKey string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Schedule a task by title, action, and run time",
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

			var payload map[string]any
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					return fmt.Errorf("parse --payload as JSON: %w", err)
				}
			}

			env, err := svc.EnqueueTask(cmd.Context(), tools.EnqueueTaskInput{
				Title:           title,
				Action:          action,
				Payload:         payload,
				RunAt:           runAt,
				ReferenceTime:   referenceTime,
				IntervalSeconds: intervalSeconds,
				IdempotencyKey:  idempotencyKey,
				DryRun:          dryRun,
			})
			if err != nil {
				return err
			}
			return printEnvelope(cmd, env)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Task title")
	cmd.Flags().StringVar(&action, "action", "", "Task action identifier")
	cmd.Flags().StringVar(&payloadJSON, "payload", "", "Task payload as a JSON object")
	cmd.Flags().StringVar(&runAt, "run-at", "", "RFC3339 timestamp the task should run at")
	cmd.Flags().StringVar(&referenceTime, "reference-time", "", "RFC3339 timestamp to resolve relative schedules against (required with --interval-seconds when --run-at is not set)")
	cmd.Flags().IntVar(&intervalSeconds, "interval-seconds", 0, "Seconds after --reference-time at which the task runs (used when --run-at is not set)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Caller-supplied key for safe re-submission")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview the resolved task without persisting it")

	return cmd
}
