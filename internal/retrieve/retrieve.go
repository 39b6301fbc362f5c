// Package retrieve implements the working-tree BM25 retriever and its
// hybrid BM25+vector counterpart, fetching two independently ranked
// candidate sets and fusing them by min-max-normalized weighted sum.
package retrieve

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"

	"github.com/docindex/docindex/internal/dag"
	"github.com/docindex/docindex/internal/dierrors"
	"github.com/docindex/docindex/internal/embed"
)

// MaxK is the largest result count either retriever accepts.
const MaxK = 25

// Hit is one ranked result.
type Hit struct {
	ChunkID string
	DocID   string
	Text    string
	Score   float64
}

// Result is the full outcome of a retrieve call, including warnings
// surfaced alongside a successful response.
type Result struct {
	Hits             []Hit
	EffectiveVersion string
	Warnings         []string
}

// Retrieve ranks the working tree's chunks via BM25, ascending (FTS5's
// bm25() returns more-negative-is-better scores), tiebreaking by
// chunk_id ASC.
func Retrieve(ctx context.Context, q dag.Execer, query string, k int, requestedVersion string) (Result, error) {
	if k < 1 || k > MaxK {
		return Result{}, dierrors.New(dierrors.ErrDeterminism, "k must be in [1,25]", nil)
	}

	var result Result

	headCommit, err := dag.ResolveTarget(ctx, q, "HEAD")
	if err != nil {
		return Result{}, err
	}
	if headCommit == "" {
		result.Warnings = append(result.Warnings, dierrors.WarnNoCommits)
	}

	working, err := dag.CreateTreeFromCurrentState(ctx, q)
	if err != nil {
		return Result{}, err
	}
	result.EffectiveVersion = working.TreeHash

	if headCommit != "" {
		var headTreeHash string
		err := q.QueryRowContext(ctx, `SELECT tree_hash FROM commits WHERE commit_hash = ?`, headCommit).Scan(&headTreeHash)
		if err != nil && err != sql.ErrNoRows {
			return Result{}, fmt.Errorf("retrieve: resolve HEAD tree: %w", err)
		}
		if headTreeHash != "" && headTreeHash != working.TreeHash {
			result.Warnings = append(result.Warnings, dierrors.WarnWorkingTreeDirty)
		}
	}

	if requestedVersion != "" && requestedVersion != result.EffectiveVersion {
		result.Warnings = append(result.Warnings, dierrors.WarnVersionMismatch)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT c.chunk_id, c.doc_id, c.text, bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN chunks c ON c.chunk_id = chunks_fts.chunk_id
		WHERE chunks_fts MATCH ?
		ORDER BY score ASC, c.chunk_id ASC
		LIMIT ?
	`, query, k)
	if err != nil {
		return Result{}, fmt.Errorf("retrieve: bm25 query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ChunkID, &h.DocID, &h.Text, &h.Score); err != nil {
			return Result{}, fmt.Errorf("retrieve: scan hit: %w", err)
		}
		result.Hits = append(result.Hits, h)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	return result, nil
}

// vectorCandidate is one row of the linear cosine scan.
type vectorCandidate struct {
	chunkID string
	cos     float64
}

// RetrieveWithEmbeddings resolves ref to a tree with an embeddings
// artifact, fetches BM25 and vector candidate sets one after the other, and
// fuses them by per-set min-max normalized, alpha-weighted score.
func RetrieveWithEmbeddings(
	ctx context.Context, tx *sql.Tx, provider embed.Provider,
	query string, k int, ref, providerID string, dimensions int,
	bm25K, vectorK int, alpha float64,
) (Result, error) {
	if k < 1 || k > MaxK {
		return Result{}, dierrors.New(dierrors.ErrDeterminism, "k must be in [1,25]", nil)
	}
	if alpha < 0 || alpha > 1 {
		return Result{}, dierrors.New(dierrors.ErrDeterminism, "alpha must be in [0,1]", nil)
	}
	if bm25K <= 0 || bm25K > 200 {
		bm25K = 200
	}
	if vectorK <= 0 || vectorK > 500 {
		vectorK = 500
	}

	commitHash, err := dag.ResolveTarget(ctx, tx, ref)
	if err != nil {
		return Result{}, err
	}
	if commitHash == "" {
		return Result{}, dierrors.New(dierrors.ErrRefNotFound, "ref not found: "+ref, nil)
	}

	var treeHash string
	err = tx.QueryRowContext(ctx, `SELECT tree_hash FROM commits WHERE commit_hash = ?`, commitHash).Scan(&treeHash)
	if err == sql.ErrNoRows {
		return Result{}, dierrors.New(dierrors.ErrCommitNotFound, "commit not found: "+commitHash, nil)
	}
	if err != nil {
		return Result{}, fmt.Errorf("retrieve: resolve commit tree: %w", err)
	}

	var artifactExists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM index_artifacts WHERE tree_hash = ? AND kind = 'chunk_embeddings' AND model_id = ?)
	`, treeHash, providerID).Scan(&artifactExists)
	if err != nil {
		return Result{}, fmt.Errorf("retrieve: check embeddings artifact: %w", err)
	}
	if !artifactExists {
		return Result{}, dierrors.New(dierrors.ErrEmbeddingsNotFound, "no embeddings artifact for this tree/provider", nil)
	}

	queryResp, err := provider.Embed(ctx, embed.EmbedRequest{Inputs: []string{query}, Model: providerID, Dimensions: dimensions})
	if err != nil {
		return Result{}, dierrors.New(dierrors.ErrToolFailure, "embedding provider call failed", err)
	}
	queryVec := queryResp.Vectors[0]

	// bm25K and vectorK both read through tx, which pins a single
	// connection (SetMaxOpenConns(1)); fetching them concurrently would
	// only serialize at the driver anyway, so fetch sequentially.
	bm25Hits, err := fetchBM25Candidates(ctx, tx, query, bm25K)
	if err != nil {
		return Result{}, err
	}
	vectorHits, err := fetchVectorCandidates(ctx, tx, treeHash, providerID, queryVec, vectorK)
	if err != nil {
		return Result{}, err
	}

	bm25Norm := minMaxNormalizeBM25(bm25Hits)
	cosNorm := minMaxNormalizeCos(vectorHits)

	type fused struct {
		chunkID string
		docID   string
		text    string
		score   float64
	}
	byChunk := make(map[string]*fused)

	for _, h := range bm25Hits {
		byChunk[h.ChunkID] = &fused{chunkID: h.ChunkID, docID: h.DocID, text: h.Text, score: alpha * bm25Norm[h.ChunkID]}
	}
	for _, v := range vectorHits {
		if f, ok := byChunk[v.chunkID]; ok {
			f.score += (1 - alpha) * cosNorm[v.chunkID]
		} else {
			chunkID, docID, text, err := loadChunkText(ctx, tx, v.chunkID)
			if err != nil {
				return Result{}, err
			}
			byChunk[chunkID] = &fused{chunkID: chunkID, docID: docID, text: text, score: (1 - alpha) * cosNorm[v.chunkID]}
		}
	}

	all := make([]*fused, 0, len(byChunk))
	for _, f := range byChunk {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].chunkID < all[j].chunkID
	})
	if len(all) > k {
		all = all[:k]
	}

	hits := make([]Hit, len(all))
	for i, f := range all {
		hits[i] = Hit{ChunkID: f.chunkID, DocID: f.docID, Text: f.text, Score: f.score}
	}

	return Result{Hits: hits, EffectiveVersion: treeHash}, nil
}

func fetchBM25Candidates(ctx context.Context, tx *sql.Tx, query string, limit int) ([]Hit, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT c.chunk_id, c.doc_id, c.text, bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN chunks c ON c.chunk_id = chunks_fts.chunk_id
		WHERE chunks_fts MATCH ?
		ORDER BY score ASC, c.chunk_id ASC
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieve: bm25 candidates: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ChunkID, &h.DocID, &h.Text, &h.Score); err != nil {
			return nil, fmt.Errorf("retrieve: scan bm25 candidate: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func fetchVectorCandidates(ctx context.Context, tx *sql.Tx, treeHash, modelID string, queryVec []float32, limit int) ([]vectorCandidate, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT chunk_id, dims, blob FROM chunk_embeddings
		WHERE tree_hash = ? AND model_id = ?
		ORDER BY chunk_id ASC
	`, treeHash, modelID)
	if err != nil {
		return nil, fmt.Errorf("retrieve: vector candidates: %w", err)
	}
	defer rows.Close()

	var candidates []vectorCandidate
	for rows.Next() {
		var chunkID string
		var dims int
		var blob []byte
		if err := rows.Scan(&chunkID, &dims, &blob); err != nil {
			return nil, fmt.Errorf("retrieve: scan vector candidate: %w", err)
		}
		if dims != len(queryVec) {
			continue
		}
		vec := decodeFloat32LE(blob)
		candidates = append(candidates, vectorCandidate{chunkID: chunkID, cos: cosine(queryVec, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].cos != candidates[j].cos {
			return candidates[i].cos > candidates[j].cos
		}
		return candidates[i].chunkID < candidates[j].chunkID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func loadChunkText(ctx context.Context, tx *sql.Tx, chunkID string) (id, docID, text string, err error) {
	err = tx.QueryRowContext(ctx, `SELECT chunk_id, doc_id, text FROM chunks WHERE chunk_id = ?`, chunkID).Scan(&id, &docID, &text)
	if err != nil {
		return "", "", "", fmt.Errorf("retrieve: load chunk text: %w", err)
	}
	return id, docID, text, nil
}

func minMaxNormalizeBM25(hits []Hit) map[string]float64 {
	norm := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return norm
	}
	// bm25() is more-negative-is-better; flip sign so higher is better
	// before normalizing, matching the cosine set's orientation.
	min, max := math.Inf(1), math.Inf(-1)
	for _, h := range hits {
		v := -h.Score
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	for _, h := range hits {
		v := -h.Score
		if max == min {
			norm[h.ChunkID] = 1
			continue
		}
		norm[h.ChunkID] = (v - min) / (max - min)
	}
	return norm
}

func minMaxNormalizeCos(candidates []vectorCandidate) map[string]float64 {
	norm := make(map[string]float64, len(candidates))
	if len(candidates) == 0 {
		return norm
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, c := range candidates {
		if c.cos < min {
			min = c.cos
		}
		if c.cos > max {
			max = c.cos
		}
	}
	for _, c := range candidates {
		if max == min {
			norm[c.chunkID] = 1
			continue
		}
		norm[c.chunkID] = (c.cos - min) / (max - min)
	}
	return norm
}

func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func decodeFloat32LE(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		bits := uint32(blob[i*4]) | uint32(blob[i*4+1])<<8 | uint32(blob[i*4+2])<<16 | uint32(blob[i*4+3])<<24
		vec[i] = math.Float32frombits(bits)
	}
	return vec
}
