package dierrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocIndexError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("original error")

	diErr := New(ErrBlobMissing, "blob not found: abc123", originalErr)

	require.NotNil(t, diErr)
	assert.Equal(t, originalErr, errors.Unwrap(diErr))
	assert.True(t, errors.Is(diErr, originalErr))
}

func TestDocIndexError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "ref mismatch",
			code:     ErrRefMismatch,
			message:  "expected_ref does not match current ref",
			expected: "[ERR_REF_MISMATCH] expected_ref does not match current ref",
		},
		{
			name:     "tree not found",
			code:     ErrTreeNotFound,
			message:  "tree abc123 not found",
			expected: "[ERR_TREE_NOT_FOUND] tree abc123 not found",
		},
		{
			name:     "tool failure",
			code:     ErrToolFailure,
			message:  "embedding endpoint unreachable",
			expected: "[ERR_TOOL_FAILURE] embedding endpoint unreachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestDocIndexError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrBlobMissing, "blob A missing", nil)
	err2 := New(ErrBlobMissing, "blob B missing", nil)

	assert.True(t, errors.Is(err1, err2))
}

func TestDocIndexError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(ErrBlobMissing, "blob missing", nil)
	err2 := New(ErrTreeNotFound, "tree missing", nil)

	assert.False(t, errors.Is(err1, err2))
}

func TestDocIndexError_WithDetail_AddsContext(t *testing.T) {
	err := New(ErrBlobMissing, "blob missing", nil)

	err = err.WithDetail("hash", "sha256:abc123")
	err = err.WithDetail("table", "blobs")

	assert.Equal(t, "sha256:abc123", err.Details["hash"])
	assert.Equal(t, "blobs", err.Details["table"])
}

func TestCategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrRefNotFound, CategoryNotFound},
		{ErrTreeNotFound, CategoryNotFound},
		{ErrBlobMissing, CategoryIntegrity},
		{ErrDataCorruption, CategoryIntegrity},
		{ErrNotFrozen, CategoryState},
		{ErrDirtyState, CategoryState},
		{ErrEmbeddingDims, CategoryValidation},
		{ErrRowidCollision, CategoryInternal},
		{ErrToolFailure, CategoryIO},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestRetryableFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{ErrToolFailure, true},
		{ErrBlobMissing, false},
		{ErrRefMismatch, false},
		{ErrDataCorruption, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesDocIndexErrorFromError(t *testing.T) {
	originalErr := errors.New("connection reset")

	diErr := Wrap(ErrToolFailure, originalErr)

	require.NotNil(t, diErr)
	assert.Equal(t, ErrToolFailure, diErr.Code)
	assert.Equal(t, "connection reset", diErr.Message)
	assert.Equal(t, originalErr, diErr.Cause)
}

func TestWrap_NilErrorReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrToolFailure, nil))
}

func TestIsRetryable_ChecksRetryableFlag(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable DocIndexError",
			err:      New(ErrToolFailure, "timeout", nil),
			expected: true,
		},
		{
			name:     "non-retryable DocIndexError",
			err:      New(ErrBlobMissing, "not found", nil),
			expected: false,
		},
		{
			name:     "wrapped retryable error",
			err:      Wrap(ErrToolFailure, errors.New("wrapped")),
			expected: true,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestCode_ExtractsCodeFromDocIndexError(t *testing.T) {
	err := New(ErrTreeNotFound, "tree missing", nil)
	assert.Equal(t, ErrTreeNotFound, Code(err))
	assert.Equal(t, "", Code(errors.New("plain error")))
}

func TestGetCategory_ExtractsCategoryFromDocIndexError(t *testing.T) {
	err := New(ErrDirtyState, "working tree dirty", nil)
	assert.Equal(t, CategoryState, GetCategory(err))
	assert.Equal(t, Category(""), GetCategory(errors.New("plain error")))
}
