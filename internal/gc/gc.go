// Package gc implements artifact garbage collection: a reachable-set
// DFS over the commit graph, followed by FK-ordered deletion of
// artifacts rooted in unreachable trees.
package gc

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/docindex/docindex/internal/dierrors"
)

// Plan is the full outcome of a GC pass: what was (or would be) kept
// and removed. Dry-run and commit modes return the same shape; commit
// mode additionally mutates the store to match it.
type Plan struct {
	ReachableRefs    []string
	ReachableCommits []string
	ReachableTrees   []string

	DeletedArtifactIDs         []string
	DeletedEmbeddingTreeHashes []string
}

// Run computes the reachable set from keepRefs (or, if empty, every
// row of refs) and deletes every artifact rooted in an unreachable
// tree, optionally restricted to kinds. dryRun computes and returns
// the plan without mutating the store.
func Run(ctx context.Context, tx *sql.Tx, keepRefs, kinds []string, dryRun bool) (Plan, error) {
	roots, reachableRefs, err := resolveRoots(ctx, tx, keepRefs)
	if err != nil {
		return Plan{}, err
	}

	reachableCommits, err := reachableCommitSet(ctx, tx, roots)
	if err != nil {
		return Plan{}, err
	}

	reachableTrees, err := projectToTrees(ctx, tx, reachableCommits)
	if err != nil {
		return Plan{}, err
	}

	kindFilter := toSet(kinds)

	artifacts, err := candidateArtifacts(ctx, tx, reachableTrees, kindFilter)
	if err != nil {
		return Plan{}, err
	}
	embeddingTrees, err := candidateEmbeddingTrees(ctx, tx, reachableTrees, kindFilter)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{
		ReachableRefs:              sortedKeys(reachableRefs),
		ReachableCommits:           sortedKeys(reachableCommits),
		ReachableTrees:             sortedKeys(reachableTrees),
		DeletedArtifactIDs:         artifactIDs(artifacts),
		DeletedEmbeddingTreeHashes: sortedStrings(embeddingTrees),
	}

	if dryRun {
		return plan, nil
	}

	if err := deleteArtifactRefs(ctx, tx, artifacts, embeddingTrees); err != nil {
		return Plan{}, err
	}
	if err := deleteArtifacts(ctx, tx, artifacts); err != nil {
		return Plan{}, err
	}
	if err := deleteEmbeddings(ctx, tx, embeddingTrees); err != nil {
		return Plan{}, err
	}

	return plan, nil
}

type artifactRow struct {
	artifactID string
	treeHash   string
	kind       string
}

func resolveRoots(ctx context.Context, tx *sql.Tx, keepRefs []string) (commits map[string]bool, refs map[string]bool, err error) {
	commits = map[string]bool{}
	refs = map[string]bool{}

	if len(keepRefs) == 0 {
		rows, err := tx.QueryContext(ctx, `SELECT ref_name, commit_hash FROM refs`)
		if err != nil {
			return nil, nil, fmt.Errorf("gc: list refs: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var refName, commitHash string
			if err := rows.Scan(&refName, &commitHash); err != nil {
				return nil, nil, fmt.Errorf("gc: scan ref: %w", err)
			}
			refs[refName] = true
			commits[commitHash] = true
		}
		return commits, refs, rows.Err()
	}

	for _, refName := range keepRefs {
		var commitHash string
		err := tx.QueryRowContext(ctx, `SELECT commit_hash FROM refs WHERE ref_name = ?`, refName).Scan(&commitHash)
		if err == sql.ErrNoRows {
			return nil, nil, dierrors.New(dierrors.ErrRefNotFound, "keep_refs entry not found: "+refName, nil)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("gc: resolve keep_ref %s: %w", refName, err)
		}
		refs[refName] = true
		commits[commitHash] = true
	}
	return commits, refs, nil
}

// reachableCommitSet runs a DFS over commits.parents_json starting
// from roots, returning every ancestor commit hash (including roots).
func reachableCommitSet(ctx context.Context, tx *sql.Tx, roots map[string]bool) (map[string]bool, error) {
	reachable := map[string]bool{}
	stack := make([]string, 0, len(roots))
	for c := range roots {
		stack = append(stack, c)
	}

	for len(stack) > 0 {
		n := len(stack) - 1
		commitHash := stack[n]
		stack = stack[:n]

		if reachable[commitHash] {
			continue
		}
		reachable[commitHash] = true

		var parentsJSON string
		err := tx.QueryRowContext(ctx, `SELECT parents_json FROM commits WHERE commit_hash = ?`, commitHash).Scan(&parentsJSON)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("gc: load commit %s: %w", commitHash, err)
		}

		var parents []string
		if err := json.Unmarshal([]byte(parentsJSON), &parents); err != nil {
			return nil, dierrors.New(dierrors.ErrDataCorruption, "commit parents_json is malformed", err).
				WithDetail("commit_hash", commitHash)
		}
		for _, p := range parents {
			if !reachable[p] {
				stack = append(stack, p)
			}
		}
	}

	return reachable, nil
}

func projectToTrees(ctx context.Context, tx *sql.Tx, commits map[string]bool) (map[string]bool, error) {
	trees := map[string]bool{}
	for commitHash := range commits {
		var treeHash string
		err := tx.QueryRowContext(ctx, `SELECT tree_hash FROM commits WHERE commit_hash = ?`, commitHash).Scan(&treeHash)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("gc: project commit %s to tree: %w", commitHash, err)
		}
		trees[treeHash] = true
	}
	return trees, nil
}

func candidateArtifacts(ctx context.Context, tx *sql.Tx, reachableTrees, kindFilter map[string]bool) ([]artifactRow, error) {
	rows, err := tx.QueryContext(ctx, `SELECT artifact_id, tree_hash, kind FROM index_artifacts`)
	if err != nil {
		return nil, fmt.Errorf("gc: list index_artifacts: %w", err)
	}
	defer rows.Close()

	var out []artifactRow
	for rows.Next() {
		var a artifactRow
		if err := rows.Scan(&a.artifactID, &a.treeHash, &a.kind); err != nil {
			return nil, fmt.Errorf("gc: scan index_artifact: %w", err)
		}
		if reachableTrees[a.treeHash] {
			continue
		}
		if len(kindFilter) > 0 && !kindFilter[a.kind] {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].artifactID < out[j].artifactID })
	return out, rows.Err()
}

func candidateEmbeddingTrees(ctx context.Context, tx *sql.Tx, reachableTrees, kindFilter map[string]bool) (map[string]bool, error) {
	if len(kindFilter) > 0 && !kindFilter["chunk_embeddings"] {
		return map[string]bool{}, nil
	}

	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT tree_hash FROM chunk_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("gc: list chunk_embeddings trees: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var treeHash string
		if err := rows.Scan(&treeHash); err != nil {
			return nil, fmt.Errorf("gc: scan chunk_embeddings tree: %w", err)
		}
		if !reachableTrees[treeHash] {
			out[treeHash] = true
		}
	}
	return out, rows.Err()
}

// deleteArtifactRefs removes artifact_refs rows that point (via
// commit or ref name) at a tree being collected, for a kind actually
// being deleted.
func deleteArtifactRefs(ctx context.Context, tx *sql.Tx, artifacts []artifactRow, embeddingTrees map[string]bool) error {
	deletedKinds := map[string]bool{"chunk_embeddings": len(embeddingTrees) > 0}
	for _, a := range artifacts {
		deletedKinds[a.kind] = true
	}

	rows, err := tx.QueryContext(ctx, `SELECT ref_type, ref_name, kind FROM artifact_refs`)
	if err != nil {
		return fmt.Errorf("gc: list artifact_refs: %w", err)
	}
	type ref struct{ refType, refName, kind string }
	var refs []ref
	for rows.Next() {
		var r ref
		if err := rows.Scan(&r.refType, &r.refName, &r.kind); err != nil {
			rows.Close()
			return fmt.Errorf("gc: scan artifact_ref: %w", err)
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	deletedArtifactTrees := map[string]bool{}
	for _, a := range artifacts {
		deletedArtifactTrees[a.treeHash] = true
	}
	for t := range embeddingTrees {
		deletedArtifactTrees[t] = true
	}

	for _, r := range refs {
		if !deletedKinds[r.kind] {
			continue
		}
		treeHash, ok, err := resolveTreeHashForRef(ctx, tx, r.refType, r.refName)
		if err != nil {
			return err
		}
		if !ok || !deletedArtifactTrees[treeHash] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM artifact_refs WHERE ref_type = ? AND ref_name = ? AND kind = ?
		`, r.refType, r.refName, r.kind); err != nil {
			return fmt.Errorf("gc: delete artifact_ref: %w", err)
		}
	}
	return nil
}

func resolveTreeHashForRef(ctx context.Context, tx *sql.Tx, refType, refName string) (string, bool, error) {
	var commitHash string
	switch refType {
	case "commit":
		commitHash = refName
	case "ref":
		err := tx.QueryRowContext(ctx, `SELECT commit_hash FROM refs WHERE ref_name = ?`, refName).Scan(&commitHash)
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("gc: resolve ref %s: %w", refName, err)
		}
	case "tree":
		return refName, true, nil
	default:
		return "", false, nil
	}

	var treeHash string
	err := tx.QueryRowContext(ctx, `SELECT tree_hash FROM commits WHERE commit_hash = ?`, commitHash).Scan(&treeHash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("gc: resolve commit %s to tree: %w", commitHash, err)
	}
	return treeHash, true, nil
}

func deleteArtifacts(ctx context.Context, tx *sql.Tx, artifacts []artifactRow) error {
	for _, a := range artifacts {
		if _, err := tx.ExecContext(ctx, `DELETE FROM index_artifacts WHERE artifact_id = ?`, a.artifactID); err != nil {
			return fmt.Errorf("gc: delete index_artifact %s: %w", a.artifactID, err)
		}
	}
	return nil
}

func deleteEmbeddings(ctx context.Context, tx *sql.Tx, embeddingTrees map[string]bool) error {
	for treeHash := range embeddingTrees {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_embeddings WHERE tree_hash = ?`, treeHash); err != nil {
			return fmt.Errorf("gc: delete chunk_embeddings for %s: %w", treeHash, err)
		}
	}
	return nil
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]bool, len(items))
	for _, i := range items {
		out[i] = true
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedStrings(m map[string]bool) []string {
	return sortedKeys(m)
}

func artifactIDs(artifacts []artifactRow) []string {
	out := make([]string, len(artifacts))
	for i, a := range artifacts {
		out[i] = a.artifactID
	}
	return out
}
