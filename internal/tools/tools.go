// Package tools is the seam between an external tool-dispatch
// transport (not implemented here) and the core engine: one function
// per named operation, each validating its input, running the work
// inside a single store transaction, and returning an audit envelope.
package tools

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/docindex/docindex/internal/audit"
	"github.com/docindex/docindex/internal/dag"
	"github.com/docindex/docindex/internal/dierrors"
	"github.com/docindex/docindex/internal/embed"
	"github.com/docindex/docindex/internal/embedindex"
	"github.com/docindex/docindex/internal/fts"
	"github.com/docindex/docindex/internal/gc"
	"github.com/docindex/docindex/internal/retrieve"
	"github.com/docindex/docindex/internal/store"
	"github.com/docindex/docindex/internal/tasks"
)

// Service wires the core packages to a single store and embedding
// provider registry, and is the receiver for every tool function.
type Service struct {
	store    *store.Store
	provider embed.Provider
	nowFn    func() string
}

// NewService builds a Service. nowFn returns the current UTC
// timestamp string for envelope metrics; tests inject a fixed clock.
func NewService(s *store.Store, provider embed.Provider, nowFn func() string) *Service {
	return &Service{store: s, provider: provider, nowFn: nowFn}
}

func (s *Service) now() string {
	if s.nowFn != nil {
		return s.nowFn()
	}
	return "1970-01-01T00:00:00.000Z"
}

// run executes fn inside a store transaction and folds its outcome
// into an audit envelope. On a *DocIndexError, the envelope carries
// errors[] with a nil result; on any other error the transaction
// aborts and the raw error is returned to the caller (a programming
// or I/O fault, not a tool-contract failure). The finished envelope is
// always appended to the audit log on a detached goroutine.
func (s *Service) run(
	ctx context.Context, requestID, toolName string, input any,
	fn func(tx *sql.Tx) (result any, warnings []string, err error),
) (*audit.Envelope, error) {
	var result any
	var warnings []string
	var toolErr error

	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		result, warnings, toolErr = fn(tx)
		if toolErr != nil {
			if _, ok := toolErr.(*dierrors.DocIndexError); ok {
				return toolErr
			}
			return fmt.Errorf("tools: %s: %w", toolName, toolErr)
		}
		return nil
	})

	var errs []string
	if de, ok := toolErr.(*dierrors.DocIndexError); ok {
		errs = []string{de.Code}
		result = nil
	} else if err != nil {
		return nil, err
	}

	env, buildErr := audit.Build(requestID, toolName, input, result, nil, warnings, errs, s.now())
	if buildErr != nil {
		return nil, buildErr
	}

	audit.AppendAsync(s.store.DB(), env)
	return &env, nil
}

// CreateCommitInput is the wire input for CreateCommit.
type CreateCommitInput struct {
	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message"`
}

// CreateCommit freezes the current working state into a tree and
// commit, advancing HEAD.
func (s *Service) CreateCommit(ctx context.Context, in CreateCommitInput) (*audit.Envelope, error) {
	return s.run(ctx, in.RequestID, "create_commit", in, func(tx *sql.Tx) (any, []string, error) {
		snap, err := dag.CreateTreeFromCurrentState(ctx, tx)
		if err != nil {
			return nil, nil, err
		}
		if err := dag.SaveTree(ctx, tx, snap); err != nil {
			return nil, nil, err
		}

		headCommit, err := dag.ResolveTarget(ctx, tx, "HEAD")
		if err != nil {
			return nil, nil, err
		}
		var parents []string
		if headCommit != "" {
			parents = []string{headCommit}
		}

		commitHash, err := dag.CreateCommit(ctx, tx, snap.TreeHash, parents, in.Message)
		if err != nil {
			return nil, nil, err
		}
		if err := dag.UpdateRef(ctx, tx, "HEAD", commitHash); err != nil {
			return nil, nil, err
		}

		return map[string]any{"commit_hash": commitHash, "tree_hash": snap.TreeHash}, nil, nil
	})
}

// CheckoutInput is the wire input for Checkout.
type CheckoutInput struct {
	RequestID string `json:"request_id,omitempty"`
	Ref       string `json:"ref"`
}

// Checkout materializes ref's tree into the working documents/chunks
// tables.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (*audit.Envelope, error) {
	return s.run(ctx, in.RequestID, "checkout", in, func(tx *sql.Tx) (any, []string, error) {
		commitHash, err := dag.ResolveTarget(ctx, tx, in.Ref)
		if err != nil {
			return nil, nil, err
		}
		if commitHash == "" {
			return nil, nil, dierrors.New(dierrors.ErrRefNotFound, "ref not found: "+in.Ref, nil)
		}

		var treeHash string
		err = tx.QueryRowContext(ctx, `SELECT tree_hash FROM commits WHERE commit_hash = ?`, commitHash).Scan(&treeHash)
		if err != nil {
			return nil, nil, dierrors.New(dierrors.ErrCommitNotFound, "commit not found: "+commitHash, err)
		}

		if err := dag.MaterializeTree(ctx, tx, treeHash); err != nil {
			return nil, nil, err
		}

		return map[string]any{"tree_hash": treeHash, "commit_hash": commitHash}, nil, nil
	})
}

// BuildFTSTreeInput is the wire input for BuildFTSTree.
type BuildFTSTreeInput struct {
	RequestID    string `json:"request_id,omitempty"`
	Ref          string `json:"ref"`
	ForceRebuild bool   `json:"force_rebuild,omitempty"`
}

// BuildFTSTree builds (or confirms up to date) the FTS artifact for
// ref's tree.
func (s *Service) BuildFTSTree(ctx context.Context, in BuildFTSTreeInput) (*audit.Envelope, error) {
	return s.run(ctx, in.RequestID, "build_fts_tree", in, func(tx *sql.Tx) (any, []string, error) {
		result, err := fts.BuildFTSTree(ctx, tx, in.Ref, in.ForceRebuild)
		if err != nil {
			return nil, nil, err
		}
		return result, nil, nil
	})
}

// ValidateFTSInput is the wire input for ValidateFTS.
type ValidateFTSInput struct {
	RequestID string `json:"request_id,omitempty"`
	TreeHash  string `json:"tree_hash"`
}

// ValidateFTS attests that a tree's FTS artifact is internally
// consistent.
func (s *Service) ValidateFTS(ctx context.Context, in ValidateFTSInput) (*audit.Envelope, error) {
	return s.run(ctx, in.RequestID, "validate_fts", in, func(tx *sql.Tx) (any, []string, error) {
		result, err := fts.ValidateFTS(ctx, tx, in.TreeHash)
		if err != nil {
			return nil, nil, err
		}
		return result, nil, nil
	})
}

// BuildEmbeddingsInput is the wire input for BuildEmbeddings.
type BuildEmbeddingsInput struct {
	RequestID string `json:"request_id,omitempty"`
	Ref       string `json:"ref"`
	ModelID   string `json:"model_id,omitempty"`
	Dims      int    `json:"dims,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// BuildEmbeddings builds the chunk_embeddings artifact for ref's tree.
func (s *Service) BuildEmbeddings(ctx context.Context, in BuildEmbeddingsInput) (*audit.Envelope, error) {
	return s.run(ctx, in.RequestID, "build_embeddings", in, func(tx *sql.Tx) (any, []string, error) {
		result, err := embedindex.BuildEmbeddings(ctx, tx, s.provider, in.Ref, in.ModelID, in.Dims, in.BatchSize)
		if err != nil {
			return nil, nil, err
		}
		return result, nil, nil
	})
}

// RetrieveInput is the wire input for Retrieve.
type RetrieveInput struct {
	RequestID        string `json:"request_id,omitempty"`
	Query            string `json:"query"`
	K                int    `json:"k"`
	RequestedVersion string `json:"index_version,omitempty"`
}

// Retrieve ranks the working tree's chunks via BM25.
func (s *Service) Retrieve(ctx context.Context, in RetrieveInput) (*audit.Envelope, error) {
	return s.run(ctx, in.RequestID, "retrieve", in, func(tx *sql.Tx) (any, []string, error) {
		result, err := retrieve.Retrieve(ctx, tx, in.Query, in.K, in.RequestedVersion)
		if err != nil {
			return nil, nil, err
		}
		return result.Hits, result.Warnings, nil
	})
}

// RetrieveWithEmbeddingsInput is the wire input for
// RetrieveWithEmbeddings.
type RetrieveWithEmbeddingsInput struct {
	RequestID  string  `json:"request_id,omitempty"`
	Query      string  `json:"query"`
	K          int     `json:"k"`
	Ref        string  `json:"ref"`
	ProviderID string  `json:"provider_id"`
	Dimensions int     `json:"dims,omitempty"`
	BM25K      int     `json:"bm25_k,omitempty"`
	VectorK    int     `json:"vector_k,omitempty"`
	Alpha      float64 `json:"alpha"`
}

// RetrieveWithEmbeddings fuses BM25 and vector candidate sets for
// ref's tree.
func (s *Service) RetrieveWithEmbeddings(ctx context.Context, in RetrieveWithEmbeddingsInput) (*audit.Envelope, error) {
	return s.run(ctx, in.RequestID, "retrieve_with_embeddings", in, func(tx *sql.Tx) (any, []string, error) {
		result, err := retrieve.RetrieveWithEmbeddings(ctx, tx, s.provider, in.Query, in.K, in.Ref, in.ProviderID, in.Dimensions, in.BM25K, in.VectorK, in.Alpha)
		if err != nil {
			return nil, nil, err
		}
		return result.Hits, result.Warnings, nil
	})
}

// DiffIndexInput is the wire input for DiffIndex.
type DiffIndexInput struct {
	RequestID string `json:"request_id,omitempty"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// DiffIndex reports which documents were added, removed, or changed
// between two commits' trees.
func (s *Service) DiffIndex(ctx context.Context, in DiffIndexInput) (*audit.Envelope, error) {
	return s.run(ctx, in.RequestID, "diff_index", in, func(tx *sql.Tx) (any, []string, error) {
		fromCommit, err := dag.ResolveTarget(ctx, tx, in.From)
		if err != nil {
			return nil, nil, err
		}
		if fromCommit == "" {
			return nil, nil, dierrors.New(dierrors.ErrRefNotFound, "ref not found: "+in.From, nil)
		}
		toCommit, err := dag.ResolveTarget(ctx, tx, in.To)
		if err != nil {
			return nil, nil, err
		}
		if toCommit == "" {
			return nil, nil, dierrors.New(dierrors.ErrRefNotFound, "ref not found: "+in.To, nil)
		}

		var fromTree string
		if err := tx.QueryRowContext(ctx, `SELECT tree_hash FROM commits WHERE commit_hash = ?`, fromCommit).Scan(&fromTree); err != nil {
			return nil, nil, dierrors.New(dierrors.ErrCommitNotFound, "commit not found: "+fromCommit, err)
		}
		var toTree string
		if err := tx.QueryRowContext(ctx, `SELECT tree_hash FROM commits WHERE commit_hash = ?`, toCommit).Scan(&toTree); err != nil {
			return nil, nil, dierrors.New(dierrors.ErrCommitNotFound, "commit not found: "+toCommit, err)
		}

		diff, err := dag.DiffTrees(ctx, tx, fromTree, toTree)
		if err != nil {
			return nil, nil, err
		}
		return diff, nil, nil
	})
}

// GCArtifactsInput is the wire input for GCArtifacts.
type GCArtifactsInput struct {
	RequestID string   `json:"request_id,omitempty"`
	KeepRefs  []string `json:"keep_refs,omitempty"`
	Kinds     []string `json:"kinds,omitempty"`
	DryRun    bool     `json:"dry_run,omitempty"`
}

// GCArtifacts deletes artifacts rooted in trees unreachable from
// keep_refs.
func (s *Service) GCArtifacts(ctx context.Context, in GCArtifactsInput) (*audit.Envelope, error) {
	return s.run(ctx, in.RequestID, "gc_artifacts", in, func(tx *sql.Tx) (any, []string, error) {
		result, err := gc.Run(ctx, tx, in.KeepRefs, in.Kinds, in.DryRun)
		if err != nil {
			return nil, nil, err
		}
		return result, nil, nil
	})
}

// EnqueueTaskInput is the wire input for EnqueueTask.
type EnqueueTaskInput struct {
	RequestID       string         `json:"request_id,omitempty"`
	Title           string         `json:"title"`
	Action          string         `json:"action"`
	Payload         map[string]any `json:"payload,omitempty"`
	RunAt           string         `json:"run_at,omitempty"`
	ReferenceTime   string         `json:"reference_time,omitempty"`
	IntervalSeconds int            `json:"interval_seconds,omitempty"`
	IdempotencyKey  string         `json:"idempotency_key,omitempty"`
	DryRun          bool           `json:"dry_run,omitempty"`
}

// EnqueueTask previews or commits a scheduled task.
func (s *Service) EnqueueTask(ctx context.Context, in EnqueueTaskInput) (*audit.Envelope, error) {
	return s.run(ctx, in.RequestID, "enqueue_task", in, func(tx *sql.Tx) (any, []string, error) {
		taskIn := tasks.Input{
			Title: in.Title, Action: in.Action, Payload: in.Payload,
			RunAt: in.RunAt, ReferenceTime: in.ReferenceTime,
			IntervalSeconds: in.IntervalSeconds, IdempotencyKey: in.IdempotencyKey,
		}

		if in.DryRun {
			result, err := tasks.DryRun(taskIn)
			if err != nil {
				return nil, nil, err
			}
			return result, nil, nil
		}

		result, err := tasks.Commit(ctx, tx, taskIn)
		if err != nil {
			return nil, nil, err
		}
		return result, nil, nil
	})
}
