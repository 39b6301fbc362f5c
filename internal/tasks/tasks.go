// Package tasks implements scheduled-task persistence: schedule
// resolution, task normalization, and UUIDv5 identity. A dry-run
// preview derives its id from the canonical hash of the normalized
// task; a committed submission derives it from its idempotency_key.
package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docindex/docindex/internal/canon"
	"github.com/docindex/docindex/internal/dierrors"
)

// namespace is the fixed UUIDv5 namespace every task id is derived
// against.
var namespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Schedule is the resolved next-run time for a task.
type Schedule struct {
	NextRunAt string `json:"next_run_at"`
}

// NormalizedTask is the canonical shape a task is hashed from.
type NormalizedTask struct {
	Title    string         `json:"title"`
	Action   string         `json:"action"`
	Payload  map[string]any `json:"payload"`
	Schedule Schedule       `json:"schedule"`
}

// Input describes a caller's task submission, before normalization.
type Input struct {
	Title           string
	Action          string
	Payload         map[string]any
	RunAt           string
	ReferenceTime   string
	IntervalSeconds int
	IdempotencyKey  string
}

// Result reports the outcome of a dry-run or commit submission.
type Result struct {
	TaskID        string
	Normalized    NormalizedTask
	IdempotentHit bool
}

// ResolveSchedule implements the next_run_at precedence: an explicit
// run_at wins; otherwise reference_time+interval_seconds; otherwise
// the request is rejected.
func ResolveSchedule(in Input) (Schedule, error) {
	if in.RunAt != "" {
		return Schedule{NextRunAt: in.RunAt}, nil
	}

	if in.ReferenceTime != "" && in.IntervalSeconds > 0 {
		ref, err := time.Parse(time.RFC3339Nano, in.ReferenceTime)
		if err != nil {
			return Schedule{}, dierrors.New(dierrors.ErrDeterminism, "reference_time is not a valid timestamp", err)
		}
		next := ref.Add(time.Duration(in.IntervalSeconds) * time.Second)
		return Schedule{NextRunAt: next.UTC().Format("2006-01-02T15:04:05.000Z")}, nil
	}

	if in.ReferenceTime != "" || in.IntervalSeconds > 0 {
		return Schedule{}, dierrors.New(dierrors.ErrDeterminism, "reference_time and interval_seconds must be supplied together", nil)
	}

	return Schedule{}, dierrors.New(dierrors.ErrInvalidSchedule, "no run_at and no reference_time+interval_seconds supplied", nil)
}

// Normalize trims/lowercases fields into the canonical task shape.
func Normalize(in Input) (NormalizedTask, error) {
	schedule, err := ResolveSchedule(in)
	if err != nil {
		return NormalizedTask{}, err
	}

	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	return NormalizedTask{
		Title:    strings.TrimSpace(in.Title),
		Action:   strings.ToLower(strings.TrimSpace(in.Action)),
		Payload:  payload,
		Schedule: schedule,
	}, nil
}

// DryRun computes the identity a commit would be assigned, without
// touching the store.
func DryRun(in Input) (Result, error) {
	normalized, err := Normalize(in)
	if err != nil {
		return Result{}, err
	}

	normalizedHash, err := canon.HashOf(normalized)
	if err != nil {
		return Result{}, fmt.Errorf("tasks: hash normalized task: %w", err)
	}

	taskID := uuid.NewSHA1(namespace, []byte(normalizedHash)).String()
	return Result{TaskID: taskID, Normalized: normalized}, nil
}

// Commit normalizes the task, derives its id from idempotency_key, and
// either inserts a new pending task or (on a matching resubmission)
// returns the previously stored payload as an idempotent hit.
func Commit(ctx context.Context, tx *sql.Tx, in Input) (Result, error) {
	if in.IdempotencyKey == "" {
		return Result{}, dierrors.New(dierrors.ErrIdempotencyRequired, "idempotency_key is required for commit mode", nil)
	}

	normalized, err := Normalize(in)
	if err != nil {
		return Result{}, err
	}

	taskID := uuid.NewSHA1(namespace, []byte(in.IdempotencyKey)).String()

	var existingPayloadJSON string
	err = tx.QueryRowContext(ctx, `SELECT payload_json FROM tasks WHERE task_id = ?`, taskID).Scan(&existingPayloadJSON)
	if err != nil && err != sql.ErrNoRows {
		return Result{}, fmt.Errorf("tasks: lookup existing task: %w", err)
	}
	if err == nil {
		stored, err := decodePayload(existingPayloadJSON)
		if err != nil {
			return Result{}, err
		}
		hit := normalized
		hit.Payload = stored
		return Result{TaskID: taskID, Normalized: hit, IdempotentHit: true}, nil
	}

	payloadJSON, err := canon.Marshal(normalized.Payload)
	if err != nil {
		return Result{}, fmt.Errorf("tasks: marshal payload: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks(task_id, idempotency_key, title, action, payload_json, next_run_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?)
	`, taskID, in.IdempotencyKey, normalized.Title, normalized.Action, string(payloadJSON), normalized.Schedule.NextRunAt, epoch()); err != nil {
		return Result{}, fmt.Errorf("tasks: insert task: %w", err)
	}

	return Result{TaskID: taskID, Normalized: normalized}, nil
}

func decodePayload(payloadJSON string) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, dierrors.New(dierrors.ErrDataCorruption, "stored task payload is malformed", err)
	}
	return payload, nil
}

func epoch() string {
	return "1970-01-01T00:00:00.000Z"
}
