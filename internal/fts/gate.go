// Package fts implements the per-tree, history-correct full-text
// index: the fts_chunks content table and its fts_chunks_fts inverted
// mirror, guarded by a singleton maintenance gate that keeps indexed
// data immutable outside a controlled rebuild.
//
// The source spec models the gate as a singleton row plus conditional
// SQL write-triggers. Here it is an in-process guard checked inside
// every write path instead, per the allowance that an in-process lock
// plus explicit guard checks may stand in for triggers as long as the
// observable invariants hold: no writes while closed, atomic mirroring
// into the inverted index while open, and an immutable singleton row.
package fts

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/docindex/docindex/internal/dierrors"
)

// Gate serializes rebuild writers against the fts_maintenance
// singleton: "gate must be closed on entry" is enforced by requiring
// every open to happen inside the same transaction that will do the
// rebuild work and close it again before committing.
type Gate struct{}

// open flips fts_maintenance.enabled to 1. Fails with ERR_GATE_MISSING
// if the singleton row does not exist.
func open(ctx context.Context, tx *sql.Tx) error {
	res, err := tx.ExecContext(ctx, `UPDATE fts_maintenance SET enabled = 1 WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("fts: open gate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("fts: open gate: %w", err)
	}
	if n == 0 {
		return dierrors.New(dierrors.ErrGateMissing, "fts_maintenance singleton row is missing", nil)
	}
	return nil
}

// closeGate flips fts_maintenance.enabled back to 0. Errors from close are
// the caller's responsibility to handle per the guaranteed-cleanup
// convention in withGate.
func closeGate(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `UPDATE fts_maintenance SET enabled = 0 WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("fts: close gate: %w", err)
	}
	return nil
}

// isOpen reports whether the gate is currently open.
func isOpen(ctx context.Context, tx *sql.Tx) (bool, error) {
	var enabled int
	if err := tx.QueryRowContext(ctx, `SELECT enabled FROM fts_maintenance WHERE id = 1`).Scan(&enabled); err != nil {
		if err == sql.ErrNoRows {
			return false, dierrors.New(dierrors.ErrGateMissing, "fts_maintenance singleton row is missing", nil)
		}
		return false, fmt.Errorf("fts: read gate: %w", err)
	}
	return enabled == 1, nil
}

// withGate opens the gate, runs body, and closes the gate on every
// exit path. If body fails, close is still attempted; a secondary
// close failure is swallowed so the primary error reaches the caller.
func withGate(ctx context.Context, tx *sql.Tx, body func() error) error {
	if err := open(ctx, tx); err != nil {
		return err
	}

	bodyErr := body()

	if closeErr := closeGate(ctx, tx); closeErr != nil && bodyErr == nil {
		return closeErr
	}
	return bodyErr
}

// assertWriteAllowed guards every fts_chunks / fts_chunks_fts mutation
// path: the gate must be open, or the write is rejected.
func assertWriteAllowed(ctx context.Context, tx *sql.Tx) error {
	open, err := isOpen(ctx, tx)
	if err != nil {
		return err
	}
	if !open {
		return dierrors.New(dierrors.ErrGateMissing, "fts write rejected: maintenance gate is closed", nil)
	}
	return nil
}
