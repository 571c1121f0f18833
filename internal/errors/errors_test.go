package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorpusError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("original error")

	// When: wrapping with CorpusError
	corpusErr := New(ErrCodeFileNotFound, "file not found: test.txt", originalErr)

	// Then: unwrapping returns the original error
	require.NotNil(t, corpusErr)
	assert.Equal(t, originalErr, errors.Unwrap(corpusErr))
	assert.True(t, errors.Is(corpusErr, originalErr))
}

func TestCorpusError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeNoPartitions,
			message:  "no partitions could be initialized",
			expected: "[ERR_101_NO_PARTITIONS] no partitions could be initialized",
		},
		{
			name:     "lock error",
			code:     ErrCodeLockFailed,
			message:  "could not acquire index lock",
			expected: "[ERR_201_LOCK_FAILED] could not acquire index lock",
		},
		{
			name:     "corruption error",
			code:     ErrCodeCorruptIndex,
			message:  "bm25 index unreadable",
			expected: "[ERR_205_CORRUPT_INDEX] bm25 index unreadable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestCorpusError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrCodeUnknownPartition, "partition 'a' not found", nil)
	err2 := New(ErrCodeUnknownPartition, "partition 'b' not found", nil)

	assert.True(t, errors.Is(err1, err2))
}

func TestCorpusError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(ErrCodeFileNotFound, "file not found", nil)
	err2 := New(ErrCodeConfigNotFound, "config not found", nil)

	assert.False(t, errors.Is(err1, err2))
}

func TestCorpusError_WithDetail_AddsContext(t *testing.T) {
	err := New(ErrCodeFileNotFound, "file not found", nil)

	err = err.WithDetail("path", "/foo/bar.go")
	err = err.WithDetail("partition", "core")

	assert.Equal(t, "/foo/bar.go", err.Details["path"])
	assert.Equal(t, "core", err.Details["partition"])
}

func TestCorpusError_CategoryDerivedFromCode(t *testing.T) {
	tests := []struct {
		code     string
		category Category
	}{
		{ErrCodeNoPartitions, CategoryConfig},
		{ErrCodeOverlappingRoots, CategoryConfig},
		{ErrCodeLockFailed, CategoryStorage},
		{ErrCodeCorruptIndex, CategoryStorage},
		{ErrCodeNetworkTimeout, CategoryNetwork},
		{ErrCodeInvalidQuery, CategoryValidation},
		{ErrCodeGraphFailed, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
		})
	}
}

func TestIsFatal_FatalCodes(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeCorruptIndex, "corrupt", nil)))
	assert.True(t, IsFatal(New(ErrCodeLockFailed, "lock", nil)))
	assert.True(t, IsFatal(New(ErrCodeNoPartitions, "none", nil)))
	assert.False(t, IsFatal(New(ErrCodeSearchFailed, "search", nil)))
	assert.False(t, IsFatal(nil))
}

func TestIsRetryable_NetworkCodesOnly(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeNetworkTimeout, "timeout", nil)))
	assert.True(t, IsRetryable(New(ErrCodeEmbedService, "embed service down", nil)))
	assert.False(t, IsRetryable(New(ErrCodeCorruptIndex, "corrupt", nil)))
	assert.False(t, IsRetryable(errors.New("plain error")))
}

func TestIsCorruption_MatchesCodeAnywhereInChain(t *testing.T) {
	// Given: a corruption error wrapped twice
	inner := CorruptionError("vector store unreadable", nil)
	wrapped := fmt.Errorf("search failed: %w", inner)

	assert.True(t, IsCorruption(inner))
	assert.True(t, IsCorruption(wrapped))
}

func TestIsCorruption_MatchesStoreMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"sqlite malformed", errors.New("database disk image is malformed"), true},
		{"sqlite not a database", errors.New("file is not a database"), true},
		{"bleve metadata", errors.New("error reading index metadata"), true},
		{"plain failure", errors.New("connection refused"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCorruption(tt.err))
		})
	}
}

func TestCorruptionError_CarriesRebuildSuggestion(t *testing.T) {
	err := CorruptionError("graph store corrupt", nil)

	require.NotNil(t, err)
	assert.Equal(t, SeverityFatal, err.Severity)
	assert.Contains(t, err.Suggestion, "build --force")
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestGetCode_ThroughWrappedChain(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(ErrCodeUnknownPartition, "nope", nil))
	assert.Equal(t, ErrCodeUnknownPartition, GetCode(err))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}
