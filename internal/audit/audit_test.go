package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docindex/docindex/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "docindex.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBuild_EqualResultsYieldEqualOutputsHash(t *testing.T) {
	e1, err := Build("req-1", "retrieve", map[string]any{"query": "x"}, map[string]any{"hits": 1}, nil, nil, nil, "2026-07-31T00:00:00.000Z")
	require.NoError(t, err)
	e2, err := Build("req-2", "retrieve", map[string]any{"query": "y"}, map[string]any{"hits": 1}, nil, nil, nil, "2026-07-31T00:00:01.000Z")
	require.NoError(t, err)

	assert.Equal(t, e1.OutputsHash, e2.OutputsHash)
	assert.NotEqual(t, e1.InputsHash, e2.InputsHash)
	assert.NotEqual(t, e1.RequestID, e2.RequestID)
}

func TestBuild_NilResultYieldsEmptyOutputsHash(t *testing.T) {
	e, err := Build("req-1", "retrieve", map[string]any{"query": "x"}, nil, nil, nil, []string{"ERR_REF_NOT_FOUND"}, "2026-07-31T00:00:00.000Z")
	require.NoError(t, err)
	assert.Empty(t, e.OutputsHash)
	assert.Nil(t, e.Result)
}

func TestAppendAsync_PersistsEntryEventually(t *testing.T) {
	s := openTestStore(t)
	env, err := Build("req-1", "retrieve", map[string]any{"q": "x"}, map[string]any{"ok": true}, nil, nil, nil, "2026-07-31T00:00:00.000Z")
	require.NoError(t, err)

	AppendAsync(s.DB(), env)

	deadline := time.Now().Add(2 * time.Second)
	var count int
	for time.Now().Before(deadline) {
		_ = s.DB().QueryRow(`SELECT count(*) FROM audit_entries WHERE request_id = ?`, env.RequestID).Scan(&count)
		if count == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 1, count)
}

func TestAppendAsync_DoesNotPanicOnClosedDB(t *testing.T) {
	s := openTestStore(t)
	db := s.DB()
	require.NoError(t, s.Close())

	env, err := Build("req-1", "retrieve", map[string]any{"q": "x"}, map[string]any{"ok": true}, nil, nil, nil, "2026-07-31T00:00:00.000Z")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		AppendAsync(db, env)
		time.Sleep(50 * time.Millisecond)
	})
}
