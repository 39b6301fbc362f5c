package dierrors_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/docindex/docindex/internal/dierrors"
)

// TestErrorWrapping_StoreOpenFailure verifies that a failure opening the
// blob store on disk surfaces as a DocIndexError with context preserved.
func TestErrorWrapping_StoreOpenFailure(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocked, []byte("not a directory"), 0o644); err != nil {
		t.Fatal(err)
	}

	cause := fmt.Errorf("mkdir %s: not a directory", filepath.Join(blocked, "sub"))
	err := dierrors.Wrap(dierrors.ErrToolFailure, cause)

	if err == nil {
		t.Fatal("expected wrapped error")
	}
	if err.Code != dierrors.ErrToolFailure {
		t.Errorf("expected code %s, got %s", dierrors.ErrToolFailure, err.Code)
	}
	if err.Cause != cause {
		t.Errorf("expected cause to be preserved")
	}
}

// TestErrorWrapping_DetailsSurviveWrap verifies detail annotations persist
// through Error() formatting and Unwrap chains.
func TestErrorWrapping_DetailsSurviveWrap(t *testing.T) {
	base := dierrors.New(dierrors.ErrBlobMissing, "blob missing from store", nil).
		WithDetail("hash", "sha256:deadbeef")

	if base.Details["hash"] != "sha256:deadbeef" {
		t.Errorf("expected detail to survive construction, got %v", base.Details)
	}
	if got := base.Error(); got != "[ERR_BLOB_MISSING] blob missing from store" {
		t.Errorf("unexpected formatted error: %s", got)
	}
}
