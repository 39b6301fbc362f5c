// Package audit builds the envelope every tool call returns and
// appends a best-effort audit log entry via a detached goroutine,
// built on top of the slog-based logging setup in internal/logging.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/docindex/docindex/internal/canon"
)

// ToolVersion and ServerVersion are stamped into every envelope.
// Overridden at build time via -ldflags in production builds.
var (
	ToolVersion   = "dev"
	ServerVersion = "dev"
)

// Metrics carries envelope timing metadata.
type Metrics struct {
	Timestamp string `json:"timestamp"`
}

// Envelope is the wire-contract shape every tool call returns.
type Envelope struct {
	RequestID     string   `json:"request_id"`
	ToolName      string   `json:"tool_name"`
	ToolVersion   string   `json:"tool_version"`
	ServerVersion string   `json:"server_version"`
	InputsHash    string   `json:"inputs_hash"`
	OutputsHash   string   `json:"outputs_hash"`
	Result        any      `json:"result"`
	Provenance    []string `json:"provenance"`
	Warnings      []string `json:"warnings"`
	Errors        []string `json:"errors"`
	Metrics       Metrics  `json:"metrics"`
}

// Build constructs the envelope for a successful or failed tool call.
// result is nil on failure; errs is empty on success. inputsHash and
// outputsHash are derived from input/result via canonical hashing so
// that equal values yield equal hashes across distinct requests.
func Build(requestID, toolName string, input, result any, provenance, warnings, errs []string, timestamp string) (Envelope, error) {
	inputsHash, err := canon.HashOf(input)
	if err != nil {
		return Envelope{}, fmt.Errorf("audit: hash inputs: %w", err)
	}

	var outputsHash string
	if result != nil {
		outputsHash, err = canon.HashOf(result)
		if err != nil {
			return Envelope{}, fmt.Errorf("audit: hash outputs: %w", err)
		}
	}

	return Envelope{
		RequestID:     requestID,
		ToolName:      toolName,
		ToolVersion:   ToolVersion,
		ServerVersion: ServerVersion,
		InputsHash:    inputsHash,
		OutputsHash:   outputsHash,
		Result:        result,
		Provenance:    provenance,
		Warnings:      warnings,
		Errors:        errs,
		Metrics:       Metrics{Timestamp: timestamp},
	}, nil
}

// AppendAsync persists env to audit_entries on a detached goroutine.
// Its own failure is logged at WARN and never propagates: the caller
// already has its envelope and must not lose it because logging
// failed.
func AppendAsync(db *sql.DB, env Envelope) {
	go func() {
		envelopeJSON, err := canon.Marshal(env)
		if err != nil {
			slog.Warn("audit: failed to marshal envelope for append", "request_id", env.RequestID, "error", err)
			return
		}

		_, err = db.ExecContext(context.Background(), `
			INSERT INTO audit_entries(request_id, tool_name, inputs_hash, outputs_hash, envelope_json, written_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, env.RequestID, env.ToolName, env.InputsHash, env.OutputsHash, string(envelopeJSON), env.Metrics.Timestamp)
		if err != nil {
			slog.Warn("audit: failed to append audit entry", "request_id", env.RequestID, "error", err)
		}
	}()
}
