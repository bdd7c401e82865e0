package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/molingest/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// New / Wrap
// ─────────────────────────────────────────────────────────────────────────────

func TestNew_FieldsAreSetCorrectly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		code    errors.ErrorCode
		message string
	}{
		{"internal error", errors.CodeInternal, "unexpected failure"},
		{"upload not found", errors.ErrCodeUploadNotFound, "upload 7f0c not found"},
		{"invalid param", errors.CodeInvalidParam, "similarity_threshold out of range"},
		{"rate limit", errors.CodeRateLimit, "too many requests"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ae := errors.New(tc.code, tc.message)

			require.NotNil(t, ae)
			assert.Equal(t, tc.code, ae.Code)
			assert.Equal(t, tc.message, ae.Message)
			assert.Empty(t, ae.Detail)
			assert.Nil(t, ae.Cause)
			assert.NotEmpty(t, ae.Stack)
		})
	}
}

func TestWrap_NilErrReturnsNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, errors.Wrap(nil, errors.CodeInternal, "should not matter"))
}

func TestWrap_CauseChainIsPreserved(t *testing.T) {
	t.Parallel()

	root := stderrors.New("connection refused")
	ae := errors.Wrap(root, errors.CodeDBQueryError, "load upload")

	require.NotNil(t, ae)
	assert.True(t, stderrors.Is(ae, root))
	assert.Equal(t, errors.CodeDBQueryError, ae.Code)
	assert.Equal(t, "[COMMON_012] load upload: connection refused", ae.Error())
}

func TestWrap_UnknownCodeKeepsInnerCode(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.ErrCodeUploadStaleStatus, "status changed")
	outer := errors.Wrap(fmt.Errorf("ctx: %w", inner), errors.CodeUnknown, "transition")

	assert.Equal(t, errors.ErrCodeUploadStaleStatus, outer.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Error formatting and copies
// ─────────────────────────────────────────────────────────────────────────────

func TestAppError_ErrorFormat(t *testing.T) {
	t.Parallel()

	ae := errors.New(errors.ErrCodeUploadColumnMapping, "column mapping required")
	assert.Equal(t, "[UPLOAD_006] column mapping required", ae.Error())

	withDetail := ae.WithDetail("missing key: smiles")
	assert.Equal(t, "[UPLOAD_006] column mapping required: missing key: smiles", withDetail.Error())
	assert.Empty(t, ae.Detail, "WithDetail must not mutate the receiver")
}

func TestAppError_WithCauseOnNil(t *testing.T) {
	t.Parallel()

	var ae *errors.AppError
	assert.Nil(t, ae.WithCause(stderrors.New("x")))
	assert.Nil(t, ae.WithDetail("x"))
}

func TestAppError_IsMatchesSentinelByCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("client: %w", errors.ErrInvalidConfig.WithDetail("baseURL empty"))
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
	assert.False(t, errors.Is(err, errors.New(errors.CodeInternal, "")))
}

// ─────────────────────────────────────────────────────────────────────────────
// Predicates
// ─────────────────────────────────────────────────────────────────────────────

func TestPredicates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		err        error
		notFound   bool
		validation bool
		conflict   bool
	}{
		{"nil", nil, false, false, false},
		{"plain", stderrors.New("boom"), false, false, false},
		{"upload not found", errors.New(errors.ErrCodeUploadNotFound, "x"), true, false, false},
		{"wrapped molecule not found", fmt.Errorf("w: %w", errors.New(errors.ErrCodeMoleculeNotFound, "x")), true, false, false},
		{"invalid param", errors.InvalidParam("bad"), false, true, false},
		{"column mapping", errors.New(errors.ErrCodeUploadColumnMapping, "x"), false, true, false},
		{"invalid transition", errors.New(errors.ErrCodeUploadInvalidTransition, "x"), false, false, true},
		{"stale status", errors.New(errors.ErrCodeUploadStaleStatus, "x"), false, false, true},
		{"invalid state", errors.InvalidState("x"), false, false, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.notFound, errors.IsNotFound(tc.err))
			assert.Equal(t, tc.validation, errors.IsValidation(tc.err))
			assert.Equal(t, tc.conflict, errors.IsConflict(tc.err))
		})
	}
}

func TestGetCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, errors.CodeOK, errors.GetCode(nil))
	assert.Equal(t, errors.CodeUnknown, errors.GetCode(stderrors.New("x")))
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(fmt.Errorf("w: %w", errors.NotFound("x"))))
}

func TestIsCode_WalksChain(t *testing.T) {
	t.Parallel()

	inner := errors.Internal("disk")
	outer := errors.Wrap(inner, errors.ErrCodeStorageWriteFailed, "save")
	assert.True(t, errors.IsCode(outer, errors.CodeInternal))
	assert.True(t, errors.IsCode(outer, errors.ErrCodeStorageWriteFailed))
	assert.False(t, errors.IsCode(outer, errors.CodeConflict))
}
