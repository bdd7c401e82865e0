package cli

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molingest/pkg/client"
	types "github.com/turtacn/molingest/pkg/types/upload"
)

// fakeAPI is a minimal upload server that moves one upload through its states.
type fakeAPI struct {
	t *testing.T

	mu        sync.Mutex
	status    string
	created   map[string]string
	tenant    string
	confirmed bool
}

func newFakeAPI(t *testing.T, status string) *httptest.Server {
	api := &fakeAPI{t: t, status: status}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeAPI) upload() types.Upload {
	return types.Upload{
		ID:              "u-1",
		Name:            "batch",
		FileType:        "smiles_list",
		Status:          f.status,
		DuplicateAction: "skip",
		Progress: &types.Progress{
			TotalRows:      3,
			ProcessedRows:  3,
			ValidRows:      2,
			InvalidRows:    1,
			DuplicateExact: 1,
			Phase:          f.status,
			Percent:        100,
		},
		ExpiresAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenant = r.Header.Get(types.HeaderTenantID)

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/uploads":
		require.NoError(f.t, r.ParseMultipartForm(1<<20))
		f.created = map[string]string{
			"name":      r.FormValue(types.FormName),
			"action":    r.FormValue(types.FormDuplicateAction),
			"threshold": r.FormValue(types.FormSimilarityThreshold),
			"mapping":   r.FormValue(types.FormColumnMapping),
		}
		file, hdr, err := r.FormFile(types.FormFile)
		require.NoError(f.t, err)
		body, _ := io.ReadAll(file)
		f.created["filename"] = hdr.Filename
		f.created["content"] = string(body)
		// validation finishes before the first poll
		f.status = client.StatusAwaitingConfirm
		up := f.upload()
		up.Status = client.StatusInitiated
		writeData(f.t, w, http.StatusAccepted, up)
	case r.URL.Path == "/api/v1/uploads/u-1" && r.Method == http.MethodGet:
		writeData(f.t, w, http.StatusOK, f.upload())
	case r.URL.Path == "/api/v1/uploads/u-1/confirm":
		if f.status != client.StatusAwaitingConfirm {
			writeError(f.t, w, http.StatusConflict, "UPLOAD_002", "invalid upload status transition")
			return
		}
		f.confirmed = true
		f.status = client.StatusCompleted
		up := f.upload()
		up.Status = client.StatusProcessing
		writeData(f.t, w, http.StatusAccepted, up)
	case r.URL.Path == "/api/v1/uploads/u-1/cancel":
		f.status = client.StatusCancelled
		writeData(f.t, w, http.StatusOK, f.upload())
	case r.URL.Path == "/api/v1/uploads/u-1/errors/summary":
		writeData(f.t, w, http.StatusOK, []types.CodeCount{{Code: "invalid_structure", Count: 1}, {Code: "exact_duplicate", Count: 1}})
	case r.URL.Path == "/api/v1/uploads/u-1/errors":
		sim := 0.93
		writeData(f.t, w, http.StatusOK, types.RowErrorPage{
			Errors: []types.RowError{
				{RowNumber: 2, Code: "invalid_structure", Message: "unparseable structure", FieldName: "smiles"},
				{RowNumber: 3, Code: "similar_duplicate", Message: "near duplicate", DuplicateInChIKey: "LFQSCWFLJHTTHZ-UHFFFAOYSA-N", DuplicateSimilarity: &sim},
			},
			Total:  5,
			Offset: 0,
			Limit:  2,
		})
	case r.URL.Path == "/api/v1/uploads/u-1/summary":
		writeData(f.t, w, http.StatusOK, types.Summary{MoleculesCreated: 2, ErrorsCount: 1, ExactDuplicatesFound: 1, ProcessingDurationSeconds: 1.5})
	default:
		writeError(f.t, w, http.StatusNotFound, "UPLOAD_001", "upload not found")
	}
}

func remote(srv *httptest.Server, args ...string) []string {
	return append([]string{"--server", srv.URL, "--tenant", "tenant-a"}, args...)
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestUploadStatus_Text(t *testing.T) {
	srv := newFakeAPI(t, client.StatusValidating)

	out, _, err := execute(t, remote(srv, "upload", "status", "u-1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Upload:   u-1")
	assert.Contains(t, out, "Status:   validating")
	assert.Contains(t, out, "Invalid:  1")
}

func TestUploadStatus_JSON(t *testing.T) {
	srv := newFakeAPI(t, client.StatusAwaitingConfirm)

	out, _, err := execute(t, remote(srv, "-o", "json", "upload", "status", "u-1")...)
	require.NoError(t, err)
	var up types.Upload
	require.NoError(t, json.Unmarshal([]byte(out), &up))
	assert.Equal(t, "u-1", up.ID)
	assert.Equal(t, client.StatusAwaitingConfirm, up.Status)
	require.NotNil(t, up.Progress)
	assert.Equal(t, 2, up.Progress.ValidRows)
}

func TestUploadStatus_NotFound(t *testing.T) {
	srv := newFakeAPI(t, client.StatusValidating)

	_, _, err := execute(t, remote(srv, "upload", "status", "missing")...)
	require.Error(t, err)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsNotFound())
	assert.Equal(t, "UPLOAD_001", apiErr.Code)
}

func TestUploadCreate_SendsOptions(t *testing.T) {
	api := &fakeAPI{t: t}
	srv := httptest.NewServer(api)
	defer srv.Close()
	path := writeTemp(t, "hits.csv", "structure,id\nCCO,1\n")

	out, _, err := execute(t, remote(srv, "upload", "create", path,
		"--name", "hits", "--duplicate-action", "UPDATE", "--threshold", "0.9",
		"--smiles-column", "structure", "--id-column", "id")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:   initiated")

	assert.Equal(t, "tenant-a", api.tenant)
	assert.Equal(t, "hits.csv", api.created["filename"])
	assert.Equal(t, "structure,id\nCCO,1\n", api.created["content"])
	assert.Equal(t, "hits", api.created["name"])
	assert.Equal(t, "update", api.created["action"])
	assert.Equal(t, "0.9", api.created["threshold"])
	assert.JSONEq(t, `{"smiles":"structure","external_id":"id"}`, api.created["mapping"])
}

func TestUploadCreate_WaitAndConfirm(t *testing.T) {
	api := &fakeAPI{t: t}
	srv := httptest.NewServer(api)
	defer srv.Close()
	path := writeTemp(t, "batch.smi", "CCO\nc1ccccc1\n")

	out, _, err := execute(t, remote(srv, "upload", "create", path, "--confirm", "--poll-interval", "10ms")...)
	require.NoError(t, err)
	assert.True(t, api.confirmed)
	assert.Contains(t, out, "Status:   completed")
}

func TestUploadCreate_WaitStopsAtReview(t *testing.T) {
	api := &fakeAPI{t: t}
	srv := httptest.NewServer(api)
	defer srv.Close()
	path := writeTemp(t, "batch.smi", "CCO\n")

	out, _, err := execute(t, remote(srv, "upload", "create", path, "--wait", "--poll-interval", "10ms")...)
	require.NoError(t, err)
	assert.False(t, api.confirmed)
	assert.Contains(t, out, "Status:   awaiting_confirm")
}

func TestUploadCreate_MissingFile(t *testing.T) {
	srv := newFakeAPI(t, client.StatusValidating)
	_, _, err := execute(t, remote(srv, "upload", "create", filepath.Join(t.TempDir(), "nope.sdf"))...)
	assert.Error(t, err)
}

func TestUploadConfirm(t *testing.T) {
	srv := newFakeAPI(t, client.StatusAwaitingConfirm)

	out, _, err := execute(t, remote(srv, "upload", "confirm", "u-1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: upload u-1 confirmed (status processing)")

	// a second confirm conflicts
	_, _, err = execute(t, remote(srv, "upload", "confirm", "u-1")...)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsConflict())
}

func TestUploadCancel(t *testing.T) {
	srv := newFakeAPI(t, client.StatusAwaitingConfirm)

	out, _, err := execute(t, remote(srv, "upload", "cancel", "u-1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled (status cancelled)")
}

func TestUploadErrors(t *testing.T) {
	srv := newFakeAPI(t, client.StatusAwaitingConfirm)

	out, _, err := execute(t, remote(srv, "upload", "errors", "u-1", "--limit", "2")...)
	require.NoError(t, err)
	assert.Contains(t, out, "row 2: invalid_structure: unparseable structure")
	assert.Contains(t, out, "duplicate of LFQSCWFLJHTTHZ-UHFFFAOYSA-N @ 0.930")
	assert.Contains(t, out, "showing 2 of 5 errors")

	out, _, err = execute(t, remote(srv, "-o", "table", "upload", "errors", "u-1", "--summary")...)
	require.NoError(t, err)
	assert.Contains(t, out, "invalid_structure")
	assert.Contains(t, out, "exact_duplicate")
}

func TestUploadSummary_Table(t *testing.T) {
	srv := newFakeAPI(t, client.StatusCompleted)

	out, _, err := execute(t, remote(srv, "-o", "table", "upload", "summary", "u-1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "CREATED")
	assert.Contains(t, out, "1.5s")
}

func TestCreateOptions_ToCreateOptions(t *testing.T) {
	o := &createOptions{threshold: -1, duplicateAction: "Skip"}
	got, err := o.toCreateOptions()
	require.NoError(t, err)
	assert.Nil(t, got.SimilarityThreshold)
	assert.Nil(t, got.ColumnMapping)
	assert.Equal(t, "skip", got.DuplicateAction)

	o = &createOptions{threshold: 0}
	got, err = o.toCreateOptions()
	require.NoError(t, err)
	require.NotNil(t, got.SimilarityThreshold)
	assert.Zero(t, *got.SimilarityThreshold)

	_, err = (&createOptions{threshold: 1.5}).toCreateOptions()
	assert.Error(t, err)

	_, err = (&createOptions{threshold: -1, nameColumn: "name"}).toCreateOptions()
	assert.Error(t, err)
}
