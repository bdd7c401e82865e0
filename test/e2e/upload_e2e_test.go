package e2e_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molingest/pkg/client"
	types "github.com/turtacn/molingest/pkg/types/upload"
)

const (
	pollInterval = 10 * time.Millisecond

	mixedCSV = "smiles,name\n" +
		"CCO,ethanol\n" +
		"OCC,ethanol again\n" +
		"C1CC,broken\n" +
		"c1ccccc1,benzene\n"
)

func noSimilarity() *float64 {
	v := 0.0
	return &v
}

func waitFor(t *testing.T, c *client.Client, id string, statuses []string) *types.Upload {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	up, err := c.Uploads().Wait(ctx, id, statuses, pollInterval)
	require.NoError(t, err)
	return up
}

func TestUpload_ValidateConfirmInsert(t *testing.T) {
	c := newClient(t, "tenant-flow")
	ctx := context.Background()

	created, err := c.Uploads().Create(ctx, "mixed.csv", strings.NewReader(mixedCSV), &types.CreateOptions{
		Name:                "first batch",
		SimilarityThreshold: noSimilarity(),
	})
	require.NoError(t, err)
	assert.Equal(t, "csv", created.FileType)
	assert.Equal(t, "first batch", created.Name)
	require.NotNil(t, created.ColumnMapping)
	assert.Equal(t, "smiles", created.ColumnMapping.SMILES)

	up := waitFor(t, c, created.ID, client.UntilReviewable)
	require.Equal(t, client.StatusAwaitingConfirm, up.Status)

	prog, err := c.Uploads().Progress(ctx, up.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, prog.TotalRows)
	assert.Equal(t, 3, prog.ValidRows)
	assert.Equal(t, 1, prog.InvalidRows)

	page, err := c.Uploads().Errors(ctx, up.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Errors, 1)
	assert.Equal(t, 4, page.Errors[0].RowNumber)
	assert.Equal(t, "invalid_structure", page.Errors[0].Code)
	assert.Equal(t, "C1CC", page.Errors[0].RawData["smiles"])

	counts, err := c.Uploads().ErrorSummary(ctx, up.ID)
	require.NoError(t, err)
	assert.Equal(t, []types.CodeCount{{Code: "invalid_structure", Count: 1}}, counts)

	_, err = c.Uploads().Confirm(ctx, up.ID)
	require.NoError(t, err)
	up = waitFor(t, c, up.ID, client.UntilFinished)
	require.Equal(t, client.StatusCompleted, up.Status)
	assert.NotNil(t, up.CompletedAt)

	summary, err := c.Uploads().Summary(ctx, up.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.MoleculesCreated)
	assert.Equal(t, 1, summary.MoleculesSkipped)
	assert.Equal(t, 1, summary.ErrorsCount)

	// confirming twice is a state conflict
	_, err = c.Uploads().Confirm(ctx, up.ID)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsConflict())
}

func TestUpload_ReuploadFindsExactDuplicates(t *testing.T) {
	c := newClient(t, "tenant-reupload")
	ctx := context.Background()

	first, err := c.Uploads().Create(ctx, "seed.smi", strings.NewReader("CCO\nc1ccccc1\n"), &types.CreateOptions{SimilarityThreshold: noSimilarity()})
	require.NoError(t, err)
	waitFor(t, c, first.ID, client.UntilReviewable)
	_, err = c.Uploads().Confirm(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, client.StatusCompleted, waitFor(t, c, first.ID, client.UntilFinished).Status)

	second, err := c.Uploads().Create(ctx, "again.smi", strings.NewReader("OCC\nc1ccccc1\n"), &types.CreateOptions{
		DuplicateAction:     "error",
		SimilarityThreshold: noSimilarity(),
	})
	require.NoError(t, err)
	up := waitFor(t, c, second.ID, client.UntilReviewable)
	require.NotNil(t, up.Progress)
	assert.Equal(t, 2, up.Progress.DuplicateExact)
	assert.Equal(t, 2, up.Progress.InvalidRows)

	counts, err := c.Uploads().ErrorSummary(ctx, up.ID)
	require.NoError(t, err)
	assert.Equal(t, []types.CodeCount{{Code: "exact_duplicate", Count: 2}}, counts)

	page, err := c.Uploads().Errors(ctx, up.ID, 0, 10)
	require.NoError(t, err)
	for _, e := range page.Errors {
		assert.NotEmpty(t, e.DuplicateInChIKey)
	}
}

func TestUpload_CancelBeforeConfirm(t *testing.T) {
	c := newClient(t, "tenant-cancel")
	ctx := context.Background()

	created, err := c.Uploads().Create(ctx, "one.smi", strings.NewReader("CCO\n"), nil)
	require.NoError(t, err)
	waitFor(t, c, created.ID, client.UntilReviewable)

	up, err := c.Uploads().Cancel(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, client.StatusCancelled, up.Status)

	_, err = c.Uploads().Confirm(ctx, created.ID)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsConflict())
}

func TestUpload_TenantIsolation(t *testing.T) {
	owner := newClient(t, "tenant-owner")
	other := newClient(t, "tenant-other")
	ctx := context.Background()

	created, err := owner.Uploads().Create(ctx, "one.smi", strings.NewReader("CCO\n"), nil)
	require.NoError(t, err)
	waitFor(t, owner, created.ID, client.UntilReviewable)

	_, err = other.Uploads().Get(ctx, created.ID)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestUpload_RejectsSpreadsheet(t *testing.T) {
	c := newClient(t, "tenant-xlsx")

	_, err := c.Uploads().Create(context.Background(), "book.xlsx", strings.NewReader("PK\x03\x04rest"), nil)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnsupportedMediaType, apiErr.StatusCode)
	assert.Equal(t, "UPLOAD_005", apiErr.Code)
}

func TestHealth(t *testing.T) {
	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
