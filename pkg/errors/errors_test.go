package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	patinaerr "github.com/NicabarNimble/patina-sub001/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := patinaerr.New(
		patinaerr.CodeStorageDuplicateID,
		"duplicate observation id",
		patinaerr.FieldID("obs-1"),
		patinaerr.Field("table", "observations"),
	)

	require.Error(t, err)
	assert.Equal(t, patinaerr.CodeStorageDuplicateID, patinaerr.CodeOf(err))
	assert.True(t, patinaerr.HasCode(err, patinaerr.CodeStorageDuplicateID))

	fields := patinaerr.FieldsOf(err)
	assert.Equal(t, "obs-1", fields["id"])
	assert.Equal(t, "observations", fields["table"])
}

func TestWrapPreservesCause(t *testing.T) {
	inner := stderrors.New("disk full")
	err := patinaerr.Wrap(inner, patinaerr.CodeStorageIO, "writing index")

	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, patinaerr.CodeStorageIO, patinaerr.CodeOf(err))
	assert.Contains(t, err.Error(), "writing index")
	assert.Contains(t, err.Error(), "disk full")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, patinaerr.Wrap(nil, patinaerr.CodeStorageIO, "noop"))
	assert.NoError(t, patinaerr.Wrapf(nil, patinaerr.CodeStorageIO, "noop %d", 1))
}

func TestCodeSurvivesStdlibWrapping(t *testing.T) {
	err := patinaerr.New(patinaerr.CodeReasoningNoSolution, "no confidence derived")
	outer := fmt.Errorf("validate belief: %w", err)

	assert.Equal(t, patinaerr.CodeReasoningNoSolution, patinaerr.CodeOf(outer))
	assert.True(t, patinaerr.IsReasoning(outer))
	assert.False(t, patinaerr.IsStorage(outer))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, patinaerr.Code(""), patinaerr.CodeOf(stderrors.New("plain")))
	assert.Equal(t, patinaerr.Code(""), patinaerr.CodeOf(nil))
	assert.False(t, patinaerr.IsStorage(stderrors.New("plain")))
}

func TestDomainPredicates(t *testing.T) {
	tests := []struct {
		code      patinaerr.Code
		storage   bool
		reasoning bool
	}{
		{patinaerr.CodeStorageIO, true, false},
		{patinaerr.CodeStorageDimensionMismatch, true, false},
		{patinaerr.CodeReasoningTypeMismatch, false, true},
		{patinaerr.CodeKnowledgeEvidenceNotFound, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := patinaerr.New(tt.code, "boom")
			assert.Equal(t, tt.storage, patinaerr.IsStorage(err))
			assert.Equal(t, tt.reasoning, patinaerr.IsReasoning(err))
		})
	}
}
