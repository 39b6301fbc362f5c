package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docindex.db")
	s, err := Open(path, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesSchemaAndGateClosed(t *testing.T) {
	s := openTestStore(t)

	var enabled int
	err := s.db.QueryRow("SELECT enabled FROM fts_maintenance WHERE id = 1").Scan(&enabled)
	require.NoError(t, err)
	assert.Equal(t, 0, enabled)
}

func TestOpen_SecondOpenOnSamePathFailsWhileLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docindex.db")
	s1, err := Open(path, Options{})
	require.NoError(t, err)
	defer s1.Close()

	_, err = Open(path, Options{})
	assert.Error(t, err)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s := openTestStore(t)

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO blobs(content_hash, data, byte_len) VALUES (?, ?, ?)`,
			"deadbeef", []byte("hello"), 5)
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, s.db.QueryRow("SELECT count(*) FROM blobs").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	sentinel := errors.New("boom")

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO blobs(content_hash, data, byte_len) VALUES (?, ?, ?)`,
			"deadbeef", []byte("hello"), 5); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	var count int
	require.NoError(t, s.db.QueryRow("SELECT count(*) FROM blobs").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestWithTx_ForeignKeysEnforced(t *testing.T) {
	s := openTestStore(t)

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO documents(doc_id, title, content_hash, updated_at)
			VALUES ('d1', 't', 'missing-blob', '1970-01-01T00:00:00.000Z')`)
		return err
	})
	assert.Error(t, err)
}
