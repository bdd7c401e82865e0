package testutil_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/internal/testutil"
)

func TestMockLogger(t *testing.T) {
	logger := testutil.NewMockLogger()

	logger.Info("upload created", logging.UploadID("u-1"))

	messages := logger.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "info", messages[0].Level)
	v, ok := messages[0].Field("upload_id")
	assert.True(t, ok)
	assert.Equal(t, "u-1", v)

	logger.Clear()
	assert.Empty(t, logger.Messages())

	logger.Error("validation failed", logging.Err(errors.New("boom")))
	assert.True(t, logger.HasMessage("error", "validation failed"))
	assert.False(t, logger.HasMessage("info", "validation failed"))
	assert.Equal(t, 1, logger.Count("error"))
}

func TestMockLogger_DerivedLoggersShareRecord(t *testing.T) {
	root := testutil.NewMockLogger()
	child := root.Named("processor").Named("validate").With(logging.TenantID("t-1"))

	child.Warn("row rejected", logging.RowNumber(7))

	e, ok := root.Find("warn", "rejected")
	require.True(t, ok)
	assert.Equal(t, "processor.validate", e.Logger)
	tenant, _ := e.Field("tenant_id")
	row, _ := e.Field("row")
	assert.Equal(t, "t-1", tenant)
	assert.Equal(t, 7, row)

	_, ok = root.Find("info", "rejected")
	assert.False(t, ok)
}
