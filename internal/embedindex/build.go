// Package embedindex builds the per-tree chunk_embeddings artifact:
// the vector counterpart to internal/fts's inverted index, using the
// same frozen-tree-reconstruction approach.
package embedindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/docindex/docindex/internal/canon"
	"github.com/docindex/docindex/internal/dag"
	"github.com/docindex/docindex/internal/dierrors"
	"github.com/docindex/docindex/internal/embed"
)

const artifactKind = "chunk_embeddings"

// BuildResult reports the outcome of BuildEmbeddings.
type BuildResult struct {
	ArtifactID string
	Dims       int
	ChunkCount int
}

type embeddingManifest struct {
	Kind            string `json:"kind"`
	TreeHash        string `json:"tree_hash"`
	ProviderID      string `json:"provider_id"`
	Dims            int    `json:"dims"`
	ChunkCount      int    `json:"chunk_count"`
	TreeEntriesHash string `json:"tree_entries_hash"`
}

// BuildEmbeddings resolves ref to a frozen tree, requires the working
// tree to match it exactly (the text build_embeddings reads must be
// the text that was actually frozen), and embeds every chunk in
// chunk_id order through provider, batching requests at batchSize
// (default 128, capped at 2048).
func BuildEmbeddings(ctx context.Context, tx *sql.Tx, provider embed.Provider, ref, modelID string, dims, batchSize int) (BuildResult, error) {
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}
	if batchSize > embed.MaxBatchSize {
		batchSize = embed.MaxBatchSize
	}

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
		return BuildResult{}, fmt.Errorf("embedindex: resolve commit tree: %w", err)
	}

	working, err := dag.CreateTreeFromCurrentState(ctx, tx)
	if err != nil {
		return BuildResult{}, err
	}
	if working.TreeHash != treeHash {
		return BuildResult{}, dierrors.New(dierrors.ErrWorkingTreeDirty, "working tree does not match the target tree", nil).
			WithDetail("tree_hash", treeHash).WithDetail("working_tree_hash", working.TreeHash)
	}

	chunks, err := chunkTexts(ctx, tx, treeHash)
	if err != nil {
		return BuildResult{}, err
	}
	if len(chunks) == 0 {
		return BuildResult{}, dierrors.New(dierrors.ErrNotFrozen, "tree has no frozen chunks: "+treeHash, nil)
	}

	providerModel := modelID
	if providerModel == "" {
		providerModel = provider.ModelName()
	}

	batches := make([][]treeChunk, 0, (len(chunks)+batchSize-1)/batchSize)
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[start:end])
	}

	// provider.Embed is a network/compute-bound call over the batch's
	// texts alone; it never touches tx, so batches can be embedded
	// concurrently. The chunk_embeddings writes below stay sequential
	// since they share tx's single connection.
	responses := make([]embed.EmbedResponse, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			texts := make([]string, len(batch))
			for j, c := range batch {
				texts[j] = c.text
			}
			resp, err := provider.Embed(gctx, embed.EmbedRequest{Inputs: texts, Model: providerModel, Dimensions: dims})
			if err != nil {
				return dierrors.New(dierrors.ErrToolFailure, "embedding provider call failed", err)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BuildResult{}, err
	}

	artifactDims := 0
	for bi, batch := range batches {
		resp := responses[bi]
		for i, vec := range resp.Vectors {
			if artifactDims == 0 {
				artifactDims = len(vec)
			} else if len(vec) != artifactDims {
				return BuildResult{}, dierrors.New(dierrors.ErrEmbeddingDims, "embedding provider returned non-uniform dims", nil)
			}

			blob := float32LEBytes(vec)
			contentHash := canon.SHA256Hex(blob)

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO chunk_embeddings(tree_hash, chunk_id, model_id, dims, blob, content_hash)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(tree_hash, chunk_id, model_id) DO UPDATE SET
					dims = excluded.dims, blob = excluded.blob, content_hash = excluded.content_hash
			`, treeHash, batch[i].chunkID, providerModel, artifactDims, blob, contentHash); err != nil {
				return BuildResult{}, fmt.Errorf("embedindex: upsert chunk_embeddings: %w", err)
			}
		}
	}

	treeEntriesHash, err := canon.HashOf(chunks)
	if err != nil {
		return BuildResult{}, fmt.Errorf("embedindex: hash tree entries: %w", err)
	}

	manifest := embeddingManifest{
		Kind:            artifactKind,
		TreeHash:        treeHash,
		ProviderID:      providerModel,
		Dims:            artifactDims,
		ChunkCount:      len(chunks),
		TreeEntriesHash: treeEntriesHash,
	}
	manifestHash, err := canon.HashOf(manifest)
	if err != nil {
		return BuildResult{}, fmt.Errorf("embedindex: hash manifest: %w", err)
	}
	manifestJSON, err := canon.Marshal(manifest)
	if err != nil {
		return BuildResult{}, fmt.Errorf("embedindex: marshal manifest: %w", err)
	}

	artifactID, err := canon.HashOf(map[string]any{
		"kind":          artifactKind,
		"tree_hash":     treeHash,
		"provider_id":   providerModel,
		"dims":          artifactDims,
		"manifest_hash": manifestHash,
	})
	if err != nil {
		return BuildResult{}, fmt.Errorf("embedindex: hash artifact id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO index_artifacts(artifact_id, tree_hash, kind, model_id, manifest, payload_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tree_hash, kind, model_id) DO UPDATE SET
			artifact_id = excluded.artifact_id, manifest = excluded.manifest, payload_hash = excluded.payload_hash
	`, artifactID, treeHash, artifactKind, providerModel, string(manifestJSON), manifestHash, epoch()); err != nil {
		return BuildResult{}, fmt.Errorf("embedindex: upsert artifact: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO artifact_refs(ref_type, ref_name, kind) VALUES ('commit', ?, ?)
	`, commitHash, artifactKind); err != nil {
		return BuildResult{}, fmt.Errorf("embedindex: upsert artifact_ref commit: %w", err)
	}
	if ref == "HEAD" || ref == "main" {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO artifact_refs(ref_type, ref_name, kind) VALUES ('ref', ?, ?)
		`, ref, artifactKind); err != nil {
			return BuildResult{}, fmt.Errorf("embedindex: upsert artifact_ref: %w", err)
		}
	}

	return BuildResult{ArtifactID: artifactID, Dims: artifactDims, ChunkCount: len(chunks)}, nil
}

type treeChunk struct {
	chunkID string `json:"-"`
	text    string `json:"-"`

	// exported shape hashed into tree_entries_hash
	ChunkID     string `json:"chunk_id"`
	ContentHash string `json:"content_hash"`
}

func chunkTexts(ctx context.Context, tx *sql.Tx, treeHash string) ([]treeChunk, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT tc.chunk_id, tc.span_start, tc.span_end, tc.content_hash, b.data
		FROM tree_chunks tc
		JOIN tree_docs td ON td.tree_hash = tc.tree_hash AND td.doc_id = tc.doc_id
		JOIN blobs b ON b.content_hash = td.content_hash
		WHERE tc.tree_hash = ?
		ORDER BY tc.chunk_id ASC
	`, treeHash)
	if err != nil {
		return nil, fmt.Errorf("embedindex: query chunks: %w", err)
	}
	defer rows.Close()

	var out []treeChunk
	for rows.Next() {
		var chunkID, contentHash string
		var spanStart, spanEnd int
		var docBytes []byte
		if err := rows.Scan(&chunkID, &spanStart, &spanEnd, &contentHash, &docBytes); err != nil {
			return nil, fmt.Errorf("embedindex: scan chunk: %w", err)
		}

		normalized := norm.NFKC.String(string(docBytes))
		start, end := spanStart, spanEnd
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

		if canon.SHA256Hex([]byte(text)) != contentHash {
			return nil, dierrors.New(dierrors.ErrDataCorruption, "chunk text does not match frozen content_hash", nil).
				WithDetail("chunk_id", chunkID)
		}

		out = append(out, treeChunk{chunkID: chunkID, text: text, ChunkID: chunkID, ContentHash: contentHash})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].chunkID < out[j].chunkID })
	return out, rows.Err()
}

func float32LEBytes(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func epoch() string {
	return "1970-01-01T00:00:00.000Z"
}
