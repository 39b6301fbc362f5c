package dag

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func seedDoc(t *testing.T, s *store.Store, docID, title, text, chunkID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := UpsertDocument(ctx, tx, docID, title, []byte(text)); err != nil {
			return err
		}
		return UpsertChunk(ctx, tx, chunkID, docID, 0, len(text), text)
	}))
}

func TestCreateTreeFromCurrentState_StableAcrossRebuild(t *testing.T) {
	ctx := context.Background()

	s1 := openTestStore(t)
	seedDoc(t, s1, "A", "Doc A", "hello", "A-0")
	seedDoc(t, s1, "B", "Doc B", "world", "B-0")

	var snap1 TreeSnapshot
	require.NoError(t, s1.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		snap1, err = CreateTreeFromCurrentState(ctx, tx)
		return err
	}))

	s2 := openTestStore(t)
	seedDoc(t, s2, "A", "Doc A", "hello", "A-0")
	seedDoc(t, s2, "B", "Doc B", "world", "B-0")

	var snap2 TreeSnapshot
	require.NoError(t, s2.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		snap2, err = CreateTreeFromCurrentState(ctx, tx)
		return err
	}))

	assert.Equal(t, snap1.TreeHash, snap2.TreeHash)
	assert.Equal(t, 2, snap1.RowCount)
}

func TestCreateCommit_SameTreeAndParentsYieldsSameHash(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedDoc(t, s, "A", "Doc A", "hello", "A-0")

	var snap TreeSnapshot
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		snap, err = CreateTreeFromCurrentState(ctx, tx)
		if err != nil {
			return err
		}
		return SaveTree(ctx, tx, snap)
	}))

	var h1, h2 string
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		h1, err = CreateCommit(ctx, tx, snap.TreeHash, []string{"p1", "p2"}, "first message")
		return err
	}))
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		h2, err = CreateCommit(ctx, tx, snap.TreeHash, []string{"p1", "p2"}, "a different message")
		return err
	}))

	assert.Equal(t, h1, h2, "message must not affect commit identity")
}

func TestResolveTarget_MatchesBareHash(t *testing.T) {
	s := openTestStore(t)
	hash := "ab" + repeat("c", 62)

	got, err := ResolveTarget(context.Background(), s.DB(), hash)
	require.NoError(t, err)
	assert.Equal(t, hash, got)
}

func TestResolveTarget_UnknownNonHashReturnsEmpty(t *testing.T) {
	s := openTestStore(t)

	got, err := ResolveTarget(context.Background(), s.DB(), "nonexistent-ref")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestGetTreeEntries_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := GetTreeEntries(context.Background(), s.DB(), "deadbeef")
	require.Error(t, err)
	assert.Equal(t, dierrors.ErrTreeNotFound, dierrors.Code(err))
}

func TestCheckoutRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedDoc(t, s, "A", "Doc A", "hello", "A-0")

	var snap TreeSnapshot
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		snap, err = CreateTreeFromCurrentState(ctx, tx)
		if err != nil {
			return err
		}
		return SaveTree(ctx, tx, snap)
	}))

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := UpsertDocument(ctx, tx, "A", "Doc A mutated", []byte("goodbye"))
		if err != nil {
			return err
		}
		return UpsertChunk(ctx, tx, "A-0", "A", 0, 7, "goodbye")
	}))

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return MaterializeTree(ctx, tx, snap.TreeHash)
	}))

	var text string
	require.NoError(t, s.DB().QueryRow(`SELECT text FROM chunks WHERE chunk_id = 'A-0'`).Scan(&text))
	assert.Equal(t, "hello", text)

	var snap2 TreeSnapshot
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		snap2, err = CreateTreeFromCurrentState(ctx, tx)
		return err
	}))
	assert.Equal(t, snap.TreeHash, snap2.TreeHash)
}

func TestDiffTrees_AddedRemovedChanged(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seedDoc(t, s, "A", "Doc A", "x", "A-0")
	seedDoc(t, s, "B", "Doc B", "y", "B-0")

	var snap1 TreeSnapshot
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		snap1, err = CreateTreeFromCurrentState(ctx, tx)
		if err != nil {
			return err
		}
		return SaveTree(ctx, tx, snap1)
	}))

	seedDoc(t, s, "B", "Doc B", "y2", "B-0")
	seedDoc(t, s, "C", "Doc C", "z", "C-0")

	var snap2 TreeSnapshot
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		snap2, err = CreateTreeFromCurrentState(ctx, tx)
		if err != nil {
			return err
		}
		return SaveTree(ctx, tx, snap2)
	}))

	diff, err := DiffTrees(ctx, s.DB(), snap1.TreeHash, snap2.TreeHash)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, diff.Added)
	assert.Equal(t, []string{}, diff.Removed)
	assert.Equal(t, []string{"B"}, diff.Changed)
}

func repeat(s string, n int) string {
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s[0])
	}
	return string(out)
}
