package embedindex

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docindex/docindex/internal/dag"
	"github.com/docindex/docindex/internal/dierrors"
	"github.com/docindex/docindex/internal/embed"
	"github.com/docindex/docindex/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "docindex.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedCommittedTree(t *testing.T, s *store.Store) (ref, treeHash string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := dag.UpsertDocument(ctx, tx, "A", "Doc A", []byte("hello world")); err != nil {
			return err
		}
		if err := dag.UpsertChunk(ctx, tx, "A-0", "A", 0, 5, "hello"); err != nil {
			return err
		}
		return dag.UpsertChunk(ctx, tx, "A-1", "A", 6, 11, "world")
	}))

	var commitHash string
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		snap, err := dag.CreateTreeFromCurrentState(ctx, tx)
		if err != nil {
			return err
		}
		if err := dag.SaveTree(ctx, tx, snap); err != nil {
			return err
		}
		treeHash = snap.TreeHash
		commitHash, err = dag.CreateCommit(ctx, tx, snap.TreeHash, nil, "initial")
		if err != nil {
			return err
		}
		return dag.UpdateRef(ctx, tx, "HEAD", commitHash)
	}))

	return "HEAD", treeHash
}

func TestBuildEmbeddings_BuildsArtifactForEveryChunk(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ref, treeHash := seedCommittedTree(t, s)
	provider := embed.NewStaticProvider()

	var result BuildResult
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = BuildEmbeddings(ctx, tx, provider, ref, "", 16, 0)
		return err
	}))

	assert.Equal(t, 2, result.ChunkCount)
	assert.Equal(t, 16, result.Dims)
	assert.NotEmpty(t, result.ArtifactID)

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT count(*) FROM chunk_embeddings WHERE tree_hash = ?`, treeHash).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestBuildEmbeddings_RejectsDirtyWorkingTree(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ref, _ := seedCommittedTree(t, s)
	provider := embed.NewStaticProvider()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return dag.UpsertChunk(ctx, tx, "A-2", "A", 0, 3, "new")
	}))

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := BuildEmbeddings(ctx, tx, provider, ref, "", 16, 0)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, dierrors.ErrWorkingTreeDirty, dierrors.Code(err))
}

func TestBuildEmbeddings_RefNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	provider := embed.NewStaticProvider()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := BuildEmbeddings(ctx, tx, provider, "nonexistent", "", 16, 0)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, dierrors.ErrRefNotFound, dierrors.Code(err))
}

func TestBuildEmbeddings_BatchesRespectMaxBatchSize(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ref, _ := seedCommittedTree(t, s)
	provider := embed.NewStaticProvider()

	var result BuildResult
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = BuildEmbeddings(ctx, tx, provider, ref, "", 8, 10_000)
		return err
	}))
	assert.Equal(t, 2, result.ChunkCount)
}

func TestBuildEmbeddings_IsIdempotentOnArtifactID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ref, _ := seedCommittedTree(t, s)
	provider := embed.NewStaticProvider()

	var r1, r2 BuildResult
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		r1, err = BuildEmbeddings(ctx, tx, provider, ref, "", 16, 0)
		return err
	}))
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		r2, err = BuildEmbeddings(ctx, tx, provider, ref, "", 16, 0)
		return err
	}))

	assert.Equal(t, r1.ArtifactID, r2.ArtifactID)
}
