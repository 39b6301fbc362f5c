// Package dag implements the content-addressed versioning layer:
// blobs, trees, commits, and refs, analogous to a miniature
// source-control DAG. Every mutation here runs inside a single
// *sql.Tx handed down from internal/store, keeping each mutation
// atomic with its ref update.
package dag

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/docindex/docindex/internal/canon"
	"github.com/docindex/docindex/internal/dierrors"
)

// epoch is the fixed created_at every commit carries; commit identity
// never depends on wall-clock time.
const epoch = "1970-01-01T00:00:00.000Z"

var refHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Execer is satisfied by both *sql.DB and *sql.Tx, letting read paths
// (ResolveTarget, GetTreeEntries) run outside a transaction while
// writers always run inside one.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TreeEntry is one row of a tree's canonical entry list: a chunk and
// the document it belongs to, frozen at commit time.
type TreeEntry struct {
	DocID            string `json:"doc_id"`
	DocContentHash   string `json:"doc_content_hash"`
	Title            string `json:"title"`
	ChunkID          string `json:"chunk_id"`
	ChunkContentHash string `json:"chunk_content_hash"`
	SpanStart        int    `json:"span_start"`
	SpanEnd          int    `json:"span_end"`
}

// TreeSnapshot is the result of CreateTreeFromCurrentState.
type TreeSnapshot struct {
	TreeHash    string
	EntriesJSON string
	Entries     []TreeEntry
	RowCount    int
}

// CreateTreeFromCurrentState joins the working documents and chunks
// tables, ordered (doc_id ASC, chunk_id ASC), and computes the tree's
// canonical identity hash. It does not persist anything; call SaveTree
// with the result to do that.
func CreateTreeFromCurrentState(ctx context.Context, q Execer) (TreeSnapshot, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT d.doc_id, d.content_hash, d.title,
		       c.chunk_id, c.content_hash,
		       COALESCE(c.span_start, 0), COALESCE(c.span_end, length(c.text))
		FROM documents d
		JOIN chunks c ON c.doc_id = d.doc_id
		ORDER BY d.doc_id ASC, c.chunk_id ASC
	`)
	if err != nil {
		return TreeSnapshot{}, fmt.Errorf("dag: query current state: %w", err)
	}
	defer rows.Close()

	var entries []TreeEntry
	for rows.Next() {
		var e TreeEntry
		if err := rows.Scan(&e.DocID, &e.DocContentHash, &e.Title,
			&e.ChunkID, &e.ChunkContentHash, &e.SpanStart, &e.SpanEnd); err != nil {
			return TreeSnapshot{}, fmt.Errorf("dag: scan current state: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return TreeSnapshot{}, fmt.Errorf("dag: iterate current state: %w", err)
	}

	treeHash, err := canon.HashOf(entries)
	if err != nil {
		return TreeSnapshot{}, fmt.Errorf("dag: hash entries: %w", err)
	}
	entriesJSON, err := canon.Marshal(entries)
	if err != nil {
		return TreeSnapshot{}, fmt.Errorf("dag: marshal entries: %w", err)
	}

	return TreeSnapshot{
		TreeHash:    treeHash,
		EntriesJSON: string(entriesJSON),
		Entries:     entries,
		RowCount:    len(entries),
	}, nil
}

// SaveTree idempotently persists a tree snapshot, along with its
// tree_docs and tree_chunks projections (the per-tree bindings
// checkout and the FTS builder read from). Safe to call more than
// once for the same tree_hash: identical content, identical rows.
func SaveTree(ctx context.Context, tx *sql.Tx, snap TreeSnapshot) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO trees(tree_hash, entries_json) VALUES (?, ?)`,
		snap.TreeHash, snap.EntriesJSON); err != nil {
		return fmt.Errorf("dag: save tree: %w", err)
	}

	seenDocs := make(map[string]bool, len(snap.Entries))
	for _, e := range snap.Entries {
		if !seenDocs[e.DocID] {
			seenDocs[e.DocID] = true
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO tree_docs(tree_hash, doc_id, content_hash, title)
				VALUES (?, ?, ?, ?)
			`, snap.TreeHash, e.DocID, e.DocContentHash, e.Title); err != nil {
				return fmt.Errorf("dag: save tree_docs: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO tree_chunks(tree_hash, chunk_id, doc_id, span_start, span_end, content_hash, chunker_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, snap.TreeHash, e.ChunkID, e.DocID, e.SpanStart, e.SpanEnd, e.ChunkContentHash, "default"); err != nil {
			return fmt.Errorf("dag: save tree_chunks: %w", err)
		}
	}

	return nil
}

// commitIdentity is the canonical payload a commit's hash derives
// from. Message and timestamp are stored alongside but never feed the
// hash.
type commitIdentity struct {
	TreeHash string   `json:"tree_hash"`
	Parents  []string `json:"parents"`
}

// CreateCommit computes a commit's identity from its tree and ordered
// parent list alone and inserts it idempotently. The same tree plus
// the same parent list always yields the same commit_hash.
func CreateCommit(ctx context.Context, tx *sql.Tx, treeHash string, parents []string, message string) (string, error) {
	if parents == nil {
		parents = []string{}
	}
	commitHash, err := canon.HashOf(commitIdentity{TreeHash: treeHash, Parents: parents})
	if err != nil {
		return "", fmt.Errorf("dag: hash commit identity: %w", err)
	}

	parentsJSON, err := json.Marshal(parents)
	if err != nil {
		return "", fmt.Errorf("dag: marshal parents: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO commits(commit_hash, tree_hash, parents_json, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, commitHash, treeHash, string(parentsJSON), message, epoch); err != nil {
		return "", fmt.Errorf("dag: insert commit: %w", err)
	}

	return commitHash, nil
}

// UpdateRef upserts a named ref to point at commitHash.
func UpdateRef(ctx context.Context, tx *sql.Tx, name, commitHash string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO refs(ref_name, commit_hash) VALUES (?, ?)
		ON CONFLICT(ref_name) DO UPDATE SET commit_hash = excluded.commit_hash
	`, name, commitHash)
	if err != nil {
		return fmt.Errorf("dag: update ref: %w", err)
	}
	return nil
}

// ResolveTarget resolves s to a commit hash: a known ref name, a bare
// 64-hex-char commit hash, or "" if neither.
func ResolveTarget(ctx context.Context, q Execer, s string) (string, error) {
	var commitHash string
	err := q.QueryRowContext(ctx, `SELECT commit_hash FROM refs WHERE ref_name = ?`, s).Scan(&commitHash)
	switch {
	case err == nil:
		return commitHash, nil
	case err != sql.ErrNoRows:
		return "", fmt.Errorf("dag: resolve ref: %w", err)
	}

	if refHashPattern.MatchString(s) {
		return s, nil
	}
	return "", nil
}

// GetTreeEntries returns a tree's stored entries, decoded from its
// persisted entries_json.
func GetTreeEntries(ctx context.Context, q Execer, treeHash string) ([]TreeEntry, error) {
	var entriesJSON string
	err := q.QueryRowContext(ctx, `SELECT entries_json FROM trees WHERE tree_hash = ?`, treeHash).Scan(&entriesJSON)
	if err == sql.ErrNoRows {
		return nil, dierrors.New(dierrors.ErrTreeNotFound, "tree not found: "+treeHash, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("dag: query tree: %w", err)
	}

	var entries []TreeEntry
	if err := json.Unmarshal([]byte(entriesJSON), &entries); err != nil {
		return nil, dierrors.New(dierrors.ErrDataCorruption, "tree entries_json is malformed", err).
			WithDetail("tree_hash", treeHash)
	}
	return entries, nil
}

// MaterializeTree checks out treeHash into the working documents,
// chunks, and chunks_fts tables: the inverse of
// CreateTreeFromCurrentState.
func MaterializeTree(ctx context.Context, tx *sql.Tx, treeHash string) error {
	entries, err := GetTreeEntries(ctx, tx, treeHash)
	if err != nil {
		return err
	}

	docs := map[string]struct {
		contentHash string
		title       string
	}{}
	for _, e := range entries {
		docs[e.DocID] = struct {
			contentHash string
			title       string
		}{e.DocContentHash, e.Title}
	}

	blobBytes := make(map[string][]byte, len(docs))
	for _, d := range docs {
		if _, ok := blobBytes[d.contentHash]; ok {
			continue
		}
		var data []byte
		err := tx.QueryRowContext(ctx, `SELECT data FROM blobs WHERE content_hash = ?`, d.contentHash).Scan(&data)
		if err == sql.ErrNoRows {
			return dierrors.New(dierrors.ErrBlobMissing, "blob missing for tree checkout", nil).
				WithDetail("content_hash", d.contentHash)
		}
		if err != nil {
			return fmt.Errorf("dag: load blob: %w", err)
		}
		blobBytes[d.contentHash] = data
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("dag: clear working chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("dag: clear working documents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks_fts`); err != nil {
		return fmt.Errorf("dag: clear working chunks_fts: %w", err)
	}

	docIDs := make([]string, 0, len(docs))
	for id := range docs {
		docIDs = append(docIDs, id)
	}
	sort.Strings(docIDs)

	for _, docID := range docIDs {
		d := docs[docID]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents(doc_id, title, content_hash, updated_at) VALUES (?, ?, ?, ?)
		`, docID, d.title, d.contentHash, epoch); err != nil {
			return fmt.Errorf("dag: reinsert document: %w", err)
		}
	}

	for _, e := range entries {
		data := blobBytes[docs[e.DocID].contentHash]
		text := sliceText(data, e.SpanStart, e.SpanEnd)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks(chunk_id, doc_id, span_start, span_end, text, content_hash)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.ChunkID, e.DocID, e.SpanStart, e.SpanEnd, text, e.ChunkContentHash); err != nil {
			return fmt.Errorf("dag: reinsert chunk: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks_fts(chunk_id, text) VALUES (?, ?)
		`, e.ChunkID, text); err != nil {
			return fmt.Errorf("dag: rebuild chunks_fts: %w", err)
		}
	}

	return nil
}

// TreeDiff reports which documents a tree gained, lost, or changed
// relative to another tree, keyed on doc_id and compared by
// doc_content_hash.
type TreeDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// DiffTrees compares two trees' document sets. A doc_id present in
// both but with a different DocContentHash is "changed"; present only
// in to is "added"; present only in from is "removed". All three
// lists are sorted for a deterministic result.
func DiffTrees(ctx context.Context, q Execer, fromTreeHash, toTreeHash string) (TreeDiff, error) {
	fromEntries, err := GetTreeEntries(ctx, q, fromTreeHash)
	if err != nil {
		return TreeDiff{}, err
	}
	toEntries, err := GetTreeEntries(ctx, q, toTreeHash)
	if err != nil {
		return TreeDiff{}, err
	}

	fromDocs := docContentHashes(fromEntries)
	toDocs := docContentHashes(toEntries)

	diff := TreeDiff{Added: []string{}, Removed: []string{}, Changed: []string{}}
	for docID, toHash := range toDocs {
		fromHash, ok := fromDocs[docID]
		if !ok {
			diff.Added = append(diff.Added, docID)
		} else if fromHash != toHash {
			diff.Changed = append(diff.Changed, docID)
		}
	}
	for docID := range fromDocs {
		if _, ok := toDocs[docID]; !ok {
			diff.Removed = append(diff.Removed, docID)
		}
	}

	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Changed)
	return diff, nil
}

func docContentHashes(entries []TreeEntry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.DocID] = e.DocContentHash
	}
	return out
}

func sliceText(docBytes []byte, start, end int) string {
	text := string(docBytes)
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	if start >= end {
		return ""
	}
	return text[start:end]
}

// UpsertDocument NFKC-normalizes content, stores it as a
// content-addressed blob, and upserts the working documents row
// pointing at it. Normalizing here, before hashing, keeps the stored
// blob byte-identical to what fts/embedindex reconstruct at build
// time (they NFKC-normalize the blob before slicing by span and
// re-hashing); skipping it would make content_hash depend on an input
// encoding spans and hashes were never meant to be sensitive to.
// Ingestion chunking itself is out of scope; this is the minimal
// bridge the DAG layer needs from whatever upstream process owns it.
func UpsertDocument(ctx context.Context, tx *sql.Tx, docID, title string, content []byte) (string, error) {
	normalized := []byte(norm.NFKC.String(string(content)))
	contentHash := canon.SHA256Hex(normalized)

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO blobs(content_hash, data, byte_len) VALUES (?, ?, ?)
	`, contentHash, normalized, len(normalized)); err != nil {
		return "", fmt.Errorf("dag: store document blob: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents(doc_id, title, content_hash, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET title = excluded.title,
			content_hash = excluded.content_hash, updated_at = excluded.updated_at
	`, docID, title, contentHash, time.Now().UTC().Format("2006-01-02T15:04:05.000Z")); err != nil {
		return "", fmt.Errorf("dag: upsert document: %w", err)
	}

	return contentHash, nil
}

// UpsertChunk stores a chunk of a working document, keyed by the
// caller-assigned chunk_id, and mirrors it into chunks_fts. text is
// NFKC-normalized before hashing, matching UpsertDocument's boundary
// and the normalization fts/embedindex apply when they reconstruct a
// chunk's text from its frozen span; callers must compute spanStart/
// spanEnd against the same normalized document UpsertDocument stored.
func UpsertChunk(ctx context.Context, tx *sql.Tx, chunkID, docID string, spanStart, spanEnd int, text string) error {
	normalized := norm.NFKC.String(text)
	contentHash := canon.SHA256Hex([]byte(normalized))

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chunks(chunk_id, doc_id, span_start, span_end, text, content_hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET doc_id = excluded.doc_id,
			span_start = excluded.span_start, span_end = excluded.span_end,
			text = excluded.text, content_hash = excluded.content_hash
	`, chunkID, docID, spanStart, spanEnd, normalized, contentHash); err != nil {
		return fmt.Errorf("dag: upsert chunk: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks_fts WHERE chunk_id = ?`, chunkID); err != nil {
		return fmt.Errorf("dag: refresh chunks_fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO chunks_fts(chunk_id, text) VALUES (?, ?)`, chunkID, normalized); err != nil {
		return fmt.Errorf("dag: refresh chunks_fts: %w", err)
	}

	return nil
}
