package fts

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/docindex/docindex/internal/canon"
	"github.com/docindex/docindex/internal/dag"
	"github.com/docindex/docindex/internal/dierrors"
)

const artifactKind = "fts"
const rowidStrategy = "sha256-lower63-backoff10"
const maxRowidAttempts = 10

// BuildResult reports the outcome of BuildFTSTree.
type BuildResult struct {
	Status     string // "built" or "skipped"
	ArtifactID string
	PayloadHash string
	ChunkCount int
}

// chunkIdentity pairs a chunk_id with its content_hash, the unit the
// artifact's payload_hash is computed over.
type chunkIdentity struct {
	ChunkID     string `json:"chunk_id"`
	ContentHash string `json:"content_hash"`
}

type ftsManifest struct {
	Kind          string `json:"kind"`
	Tokenizer     string `json:"tokenizer"`
	TreeHash      string `json:"tree_hash"`
	PayloadHash   string `json:"payload_hash"`
	ChunkCount    int    `json:"chunk_count"`
	RowidStrategy string `json:"rowid_strategy"`
	FTSSync       string `json:"fts_sync"`
}

// BuildFTSTree resolves ref to a tree and builds (or validates the
// idempotence of) its history-correct FTS index. An existing artifact
// with a matching payload_hash is reported as "skipped", a mismatched
// one fails with ERR_ARTIFACT_DRIFT, and fts_chunks rows left without
// an artifact fail with ERR_DIRTY_STATE unless forceRebuild is set.
func BuildFTSTree(ctx context.Context, tx *sql.Tx, ref string, forceRebuild bool) (BuildResult, error) {
	commitHash, err := dag.ResolveTarget(ctx, tx, ref)
	if err != nil {
		return BuildResult{}, err
	}
	if commitHash == "" {
		return BuildResult{}, dierrors.New(dierrors.ErrRefNotFound, "ref not found: "+ref, nil)
	}

	var treeHash string
	err = tx.QueryRowContext(ctx, `SELECT tree_hash FROM commits WHERE commit_hash = ?`, commitHash).Scan(&treeHash)
	if err == sql.ErrNoRows {
		return BuildResult{}, dierrors.New(dierrors.ErrCommitNotFound, "commit not found: "+commitHash, nil)
	}
	if err != nil {
		return BuildResult{}, fmt.Errorf("fts: resolve commit tree: %w", err)
	}

	chunkCount, err := countTreeChunks(ctx, tx, treeHash)
	if err != nil {
		return BuildResult{}, err
	}
	if chunkCount == 0 {
		return BuildResult{}, dierrors.New(dierrors.ErrNotFrozen, "tree has no frozen chunks: "+treeHash, nil)
	}

	identities, err := sortedChunkIdentities(ctx, tx, treeHash)
	if err != nil {
		return BuildResult{}, err
	}
	payloadHash, err := canon.HashOf(identities)
	if err != nil {
		return BuildResult{}, fmt.Errorf("fts: hash payload: %w", err)
	}

	existing, found, err := findArtifact(ctx, tx, treeHash, artifactKind, "")
	if err != nil {
		return BuildResult{}, err
	}
	if found {
		if existing.PayloadHash == payloadHash {
			return BuildResult{Status: "skipped", ArtifactID: existing.ArtifactID, PayloadHash: payloadHash, ChunkCount: chunkCount}, nil
		}
		return BuildResult{}, dierrors.New(dierrors.ErrArtifactDrift, "fts artifact payload_hash no longer matches the frozen tree", nil).
			WithDetail("tree_hash", treeHash)
	}

	if !forceRebuild {
		existingRows, err := countFTSChunks(ctx, tx, treeHash)
		if err != nil {
			return BuildResult{}, err
		}
		if existingRows > 0 {
			return BuildResult{}, dierrors.New(dierrors.ErrDirtyState, "fts_chunks already populated for this tree without an artifact", nil)
		}
	}

	var artifactID string
	buildErr := withGate(ctx, tx, func() error {
		if forceRebuild {
			if err := deleteFTSChunks(ctx, tx, treeHash); err != nil {
				return err
			}
		}

		if err := rebuildChunks(ctx, tx, treeHash); err != nil {
			return err
		}

		if err := checkBidirectionalCompleteness(ctx, tx, treeHash, chunkCount); err != nil {
			return err
		}

		manifest := ftsManifest{
			Kind:          artifactKind,
			Tokenizer:     "unicode61",
			TreeHash:      treeHash,
			PayloadHash:   payloadHash,
			ChunkCount:    chunkCount,
			RowidStrategy: rowidStrategy,
			FTSSync:       "trigger-equivalent",
		}
		id, err := upsertArtifact(ctx, tx, treeHash, artifactKind, "", manifest, payloadHash)
		if err != nil {
			return err
		}
		artifactID = id

		if err := upsertArtifactRef(ctx, tx, "commit", commitHash, artifactKind); err != nil {
			return err
		}
		if ref == "HEAD" || ref == "main" {
			if err := upsertArtifactRef(ctx, tx, "ref", ref, artifactKind); err != nil {
				return err
			}
		}
		return nil
	})
	if buildErr != nil {
		return BuildResult{}, buildErr
	}

	return BuildResult{Status: "built", ArtifactID: artifactID, PayloadHash: payloadHash, ChunkCount: chunkCount}, nil
}

func countTreeChunks(ctx context.Context, tx *sql.Tx, treeHash string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM tree_chunks WHERE tree_hash = ?`, treeHash).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("fts: count tree_chunks: %w", err)
	}
	return n, nil
}

func countFTSChunks(ctx context.Context, tx *sql.Tx, treeHash string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM fts_chunks WHERE tree_hash = ?`, treeHash).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("fts: count fts_chunks: %w", err)
	}
	return n, nil
}

func sortedChunkIdentities(ctx context.Context, tx *sql.Tx, treeHash string) ([]chunkIdentity, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT chunk_id, content_hash FROM tree_chunks WHERE tree_hash = ? ORDER BY chunk_id ASC
	`, treeHash)
	if err != nil {
		return nil, fmt.Errorf("fts: query chunk identities: %w", err)
	}
	defer rows.Close()

	var out []chunkIdentity
	for rows.Next() {
		var c chunkIdentity
		if err := rows.Scan(&c.ChunkID, &c.ContentHash); err != nil {
			return nil, fmt.Errorf("fts: scan chunk identity: %w", err)
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	return out, rows.Err()
}

func deleteFTSChunks(ctx context.Context, tx *sql.Tx, treeHash string) error {
	rows, err := tx.QueryContext(ctx, `SELECT rowid FROM fts_chunks WHERE tree_hash = ?`, treeHash)
	if err != nil {
		return fmt.Errorf("fts: query rowids for delete: %w", err)
	}
	var rowids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("fts: scan rowid: %w", err)
		}
		rowids = append(rowids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range rowids {
		if err := assertWriteAllowed(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM fts_chunks_fts WHERE rowid = ?`, id); err != nil {
			return fmt.Errorf("fts: delete fts_chunks_fts row: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM fts_chunks WHERE rowid = ?`, id); err != nil {
			return fmt.Errorf("fts: delete fts_chunks row: %w", err)
		}
	}
	return nil
}

// rebuildChunks reconstructs each tree chunk's text from its parent
// document blob, verifies it against the frozen content hash, and
// inserts it into fts_chunks (mirroring into fts_chunks_fts), in
// chunk_id order.
func rebuildChunks(ctx context.Context, tx *sql.Tx, treeHash string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT tc.chunk_id, tc.span_start, tc.span_end, tc.content_hash, b.data
		FROM tree_chunks tc
		JOIN tree_docs td ON td.tree_hash = tc.tree_hash AND td.doc_id = tc.doc_id
		JOIN blobs b ON b.content_hash = td.content_hash
		WHERE tc.tree_hash = ?
		ORDER BY tc.chunk_id ASC
	`, treeHash)
	if err != nil {
		return fmt.Errorf("fts: query chunks for rebuild: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		chunkID     string
		spanStart   int
		spanEnd     int
		contentHash string
		docBytes    []byte
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.chunkID, &c.spanStart, &c.spanEnd, &c.contentHash, &c.docBytes); err != nil {
			return fmt.Errorf("fts: scan chunk for rebuild: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range candidates {
		normalized := norm.NFKC.String(string(c.docBytes))
		start, end := c.spanStart, c.spanEnd
		if start < 0 {
			start = 0
		}
		if end > len(normalized) {
			end = len(normalized)
		}
		var text string
		if start < end {
			text = normalized[start:end]
		}

		if canon.SHA256Hex([]byte(text)) != c.contentHash {
			return dierrors.New(dierrors.ErrDataCorruption, "chunk text does not match frozen content_hash", nil).
				WithDetail("chunk_id", c.chunkID)
		}

		if err := assertWriteAllowed(ctx, tx); err != nil {
			return err
		}
		if err := insertFTSChunk(ctx, tx, treeHash, c.chunkID, text, c.contentHash); err != nil {
			return err
		}
	}
	return nil
}

func insertFTSChunk(ctx context.Context, tx *sql.Tx, treeHash, chunkID, text, contentHash string) error {
	var existingHash string
	err := tx.QueryRowContext(ctx, `
		SELECT content_hash FROM fts_chunks WHERE tree_hash = ? AND chunk_id = ?
	`, treeHash, chunkID).Scan(&existingHash)
	if err == nil {
		// Unique-key collision on identical content: already present.
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("fts: check existing fts_chunks row: %w", err)
	}

	for attempt := 0; attempt < maxRowidAttempts; attempt++ {
		rowid := deriveRowID(treeHash, chunkID, attempt)

		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO fts_chunks(rowid, tree_hash, chunk_id, text, content_hash) VALUES (?, ?, ?, ?, ?)
		`, rowid, treeHash, chunkID, text, contentHash)
		if execErr == nil {
			_, mirrorErr := tx.ExecContext(ctx, `
				INSERT INTO fts_chunks_fts(rowid, content) VALUES (?, ?)
			`, rowid, text)
			if mirrorErr != nil {
				return fmt.Errorf("fts: mirror into fts_chunks_fts: %w", mirrorErr)
			}
			return nil
		}

		if isRowidCollision(execErr) {
			continue
		}
		if isTreeChunkUniqueCollision(execErr) {
			return nil
		}
		return fmt.Errorf("fts: insert fts_chunks row: %w", execErr)
	}

	return dierrors.New(dierrors.ErrRowidCollision, "exhausted rowid attempts for chunk", nil).
		WithDetail("chunk_id", chunkID)
}

// deriveRowID computes a deterministic 63-bit rowid so the high bit is
// always clear (fts_chunks.rowid is a signed INTEGER PRIMARY KEY).
func deriveRowID(treeHash, chunkID string, attempt int) int64 {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", treeHash, chunkID, attempt)))
	v := binary.BigEndian.Uint64(h[:8])
	return int64(v & 0x7FFFFFFFFFFFFFFF)
}

// isRowidCollision and isTreeChunkUniqueCollision distinguish the two
// constraint violations fts_chunks can raise, by inspecting the
// modernc.org/sqlite driver's error text (it does not expose a typed
// constraint-violation error with column detail).
func isRowidCollision(err error) bool {
	return strings.Contains(err.Error(), "fts_chunks.rowid")
}

func isTreeChunkUniqueCollision(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fts_chunks.tree_hash") || strings.Contains(msg, "fts_chunks.chunk_id")
}

func checkBidirectionalCompleteness(ctx context.Context, tx *sql.Tx, treeHash string, expected int) error {
	var ftsCount int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM fts_chunks WHERE tree_hash = ?`, treeHash).Scan(&ftsCount); err != nil {
		return fmt.Errorf("fts: count fts_chunks for completeness: %w", err)
	}
	if ftsCount < expected {
		return dierrors.New(dierrors.ErrFTSIncomplete, "fts_chunks has fewer rows than tree_chunks", nil).
			WithDetail("tree_hash", treeHash)
	}
	if ftsCount > expected {
		return dierrors.New(dierrors.ErrFTSExtraRows, "fts_chunks has more rows than tree_chunks", nil).
			WithDetail("tree_hash", treeHash)
	}

	var missing int
	err := tx.QueryRowContext(ctx, `
		SELECT count(*) FROM tree_chunks tc
		WHERE tc.tree_hash = ?
		  AND NOT EXISTS (SELECT 1 FROM fts_chunks fc WHERE fc.tree_hash = tc.tree_hash AND fc.chunk_id = tc.chunk_id)
	`, treeHash).Scan(&missing)
	if err != nil {
		return fmt.Errorf("fts: check missing chunks: %w", err)
	}
	if missing > 0 {
		return dierrors.New(dierrors.ErrFTSIncomplete, "tree_chunks rows missing from fts_chunks", nil)
	}

	var extra int
	err = tx.QueryRowContext(ctx, `
		SELECT count(*) FROM fts_chunks fc
		WHERE fc.tree_hash = ?
		  AND NOT EXISTS (SELECT 1 FROM tree_chunks tc WHERE tc.tree_hash = fc.tree_hash AND tc.chunk_id = fc.chunk_id)
	`, treeHash).Scan(&extra)
	if err != nil {
		return fmt.Errorf("fts: check extra chunks: %w", err)
	}
	if extra > 0 {
		return dierrors.New(dierrors.ErrFTSExtraRows, "fts_chunks rows not present in tree_chunks", nil)
	}

	return nil
}

type storedArtifact struct {
	ArtifactID  string
	PayloadHash string
}

func findArtifact(ctx context.Context, tx *sql.Tx, treeHash, kind, modelID string) (storedArtifact, bool, error) {
	var a storedArtifact
	err := tx.QueryRowContext(ctx, `
		SELECT artifact_id, payload_hash FROM index_artifacts
		WHERE tree_hash = ? AND kind = ? AND model_id IS ?
	`, treeHash, kind, nullableModelID(modelID)).Scan(&a.ArtifactID, &a.PayloadHash)
	if err == sql.ErrNoRows {
		return storedArtifact{}, false, nil
	}
	if err != nil {
		return storedArtifact{}, false, fmt.Errorf("fts: find artifact: %w", err)
	}
	return a, true, nil
}

func nullableModelID(modelID string) any {
	if modelID == "" {
		return nil
	}
	return modelID
}

func upsertArtifact(ctx context.Context, tx *sql.Tx, treeHash, kind, modelID string, manifest any, payloadHash string) (string, error) {
	manifestJSON, err := canon.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("fts: marshal manifest: %w", err)
	}
	artifactID, err := canon.HashOf(map[string]any{
		"manifest":     manifest,
		"payload_hash": payloadHash,
	})
	if err != nil {
		return "", fmt.Errorf("fts: hash artifact id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO index_artifacts(artifact_id, tree_hash, kind, model_id, manifest, payload_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tree_hash, kind, model_id) DO UPDATE SET
			artifact_id = excluded.artifact_id,
			manifest = excluded.manifest,
			payload_hash = excluded.payload_hash
	`, artifactID, treeHash, kind, nullableModelID(modelID), string(manifestJSON), payloadHash, nowUTC())
	if err != nil {
		return "", fmt.Errorf("fts: upsert artifact: %w", err)
	}
	return artifactID, nil
}

func upsertArtifactRef(ctx context.Context, tx *sql.Tx, refType, refName, kind string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO artifact_refs(ref_type, ref_name, kind) VALUES (?, ?, ?)
	`, refType, refName, kind)
	if err != nil {
		return fmt.Errorf("fts: upsert artifact_ref: %w", err)
	}
	return nil
}

func nowUTC() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
