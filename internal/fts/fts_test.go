package fts

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docindex/docindex/internal/dag"
	"github.com/docindex/docindex/internal/dierrors"
	"github.com/docindex/docindex/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "docindex.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedCommittedTree seeds one document with one chunk, freezes it into
// a tree and commit, and points HEAD at the commit. Returns the ref.
func seedCommittedTree(t *testing.T, s *store.Store) (ref, treeHash, commitHash string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := dag.UpsertDocument(ctx, tx, "A", "Doc A", []byte("hello world")); err != nil {
			return err
		}
		return dag.UpsertChunk(ctx, tx, "A-0", "A", 0, 11, "hello world")
	}))

	var snap dag.TreeSnapshot
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		snap, err = dag.CreateTreeFromCurrentState(ctx, tx)
		if err != nil {
			return err
		}
		if err := dag.SaveTree(ctx, tx, snap); err != nil {
			return err
		}
		commitHash, err = dag.CreateCommit(ctx, tx, snap.TreeHash, nil, "initial")
		if err != nil {
			return err
		}
		return dag.UpdateRef(ctx, tx, "HEAD", commitHash)
	}))

	return "HEAD", snap.TreeHash, commitHash
}

func TestBuildFTSTree_BuildsAndIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ref, treeHash, _ := seedCommittedTree(t, s)

	var first BuildResult
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		first, err = BuildFTSTree(ctx, tx, ref, false)
		return err
	}))
	assert.Equal(t, "built", first.Status)
	assert.Equal(t, 1, first.ChunkCount)
	assert.NotEmpty(t, first.ArtifactID)

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT count(*) FROM fts_chunks WHERE tree_hash = ?`, treeHash).Scan(&count))
	assert.Equal(t, 1, count)

	var enabled int
	require.NoError(t, s.DB().QueryRow(`SELECT enabled FROM fts_maintenance WHERE id = 1`).Scan(&enabled))
	assert.Equal(t, 0, enabled, "gate must be closed after a successful build")

	var second BuildResult
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		second, err = BuildFTSTree(ctx, tx, ref, false)
		return err
	}))
	assert.Equal(t, "skipped", second.Status)
	assert.Equal(t, first.ArtifactID, second.ArtifactID)
}

func TestBuildFTSTree_RefNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := BuildFTSTree(ctx, tx, "nonexistent", false)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, dierrors.ErrRefNotFound, dierrors.Code(err))
}

func TestBuildFTSTree_NotFrozenWhenTreeHasNoChunks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var commitHash string
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		snap, err := dag.CreateTreeFromCurrentState(ctx, tx)
		if err != nil {
			return err
		}
		if err := dag.SaveTree(ctx, tx, snap); err != nil {
			return err
		}
		commitHash, err = dag.CreateCommit(ctx, tx, snap.TreeHash, nil, "empty")
		if err != nil {
			return err
		}
		return dag.UpdateRef(ctx, tx, "HEAD", commitHash)
	}))

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := BuildFTSTree(ctx, tx, "HEAD", false)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, dierrors.ErrNotFrozen, dierrors.Code(err))
}

func TestBuildFTSTree_DirtyStateWithoutForceRebuild(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ref, treeHash, _ := seedCommittedTree(t, s)

	// Simulate a prior partial build: fts_chunks populated, no artifact recorded.
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		require.NoError(t, open(ctx, tx))
		_, err := tx.ExecContext(ctx, `INSERT INTO fts_chunks(rowid, tree_hash, chunk_id, text, content_hash) VALUES (1, ?, 'A-0', 'hello world', 'bogus')`, treeHash)
		if err != nil {
			return err
		}
		return closeGate(ctx, tx)
	}))

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := BuildFTSTree(ctx, tx, ref, false)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, dierrors.ErrDirtyState, dierrors.Code(err))
}

func TestBuildFTSTree_ForceRebuildClearsDirtyState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ref, treeHash, _ := seedCommittedTree(t, s)

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		require.NoError(t, open(ctx, tx))
		_, err := tx.ExecContext(ctx, `INSERT INTO fts_chunks(rowid, tree_hash, chunk_id, text, content_hash) VALUES (1, ?, 'A-0', 'hello world', 'bogus')`, treeHash)
		if err != nil {
			return err
		}
		return closeGate(ctx, tx)
	}))

	var result BuildResult
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = BuildFTSTree(ctx, tx, ref, true)
		return err
	}))
	assert.Equal(t, "built", result.Status)

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT count(*) FROM fts_chunks WHERE tree_hash = ?`, treeHash).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestValidateFTS_AttestsBuiltIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ref, treeHash, _ := seedCommittedTree(t, s)

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := BuildFTSTree(ctx, tx, ref, false)
		return err
	}))

	var result ValidateResult
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = ValidateFTS(ctx, tx, treeHash)
		return err
	}))

	assert.True(t, result.GateClosed)
	assert.True(t, result.CountsMatch)
	assert.True(t, result.CanaryFound)
	assert.Equal(t, 0, result.GhostRowids)
	assert.Equal(t, 0, result.MissingRowids)
	assert.NotEmpty(t, result.BundleHash)
}

func TestValidateFTS_BundleHashStableAcrossCalls(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ref, treeHash, _ := seedCommittedTree(t, s)

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := BuildFTSTree(ctx, tx, ref, false)
		return err
	}))

	var r1, r2 ValidateResult
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		r1, err = ValidateFTS(ctx, tx, treeHash)
		return err
	}))
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		r2, err = ValidateFTS(ctx, tx, treeHash)
		return err
	}))

	assert.Equal(t, r1.BundleHash, r2.BundleHash)
}

func TestAssertWriteAllowed_RejectsWhenGateClosed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return assertWriteAllowed(ctx, tx)
	})
	require.Error(t, err)
	assert.Equal(t, dierrors.ErrGateMissing, dierrors.Code(err))
}

func TestWithGate_ClosesOnBodyFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sentinelErr := dierrors.New(dierrors.ErrDataCorruption, "boom", nil)
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return withGate(ctx, tx, func() error {
			return sentinelErr
		})
	})
	assert.ErrorIs(t, err, sentinelErr)

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		open, err := isOpen(ctx, tx)
		assert.NoError(t, err)
		assert.False(t, open)
		return nil
	}))
}
