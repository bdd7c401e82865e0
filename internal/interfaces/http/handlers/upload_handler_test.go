package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	app "github.com/turtacn/molingest/internal/application/upload"
	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/internal/interfaces/http/middleware"
	"github.com/turtacn/molingest/pkg/errors"
	"github.com/turtacn/molingest/pkg/types/common"
	types "github.com/turtacn/molingest/pkg/types/upload"
)

const tenant = "tenant-a"

// ─────────────────────────────────────────────────────────────────────────────
// Mock service
// ─────────────────────────────────────────────────────────────────────────────

type mockUploadService struct {
	mock.Mock
}

func (m *mockUploadService) Create(ctx context.Context, req app.CreateRequest) (*domain.Upload, error) {
	args := m.Called(ctx, req)
	u, _ := args.Get(0).(*domain.Upload)
	return u, args.Error(1)
}

func (m *mockUploadService) Get(ctx context.Context, tenantID, id string) (*domain.Upload, error) {
	args := m.Called(ctx, tenantID, id)
	u, _ := args.Get(0).(*domain.Upload)
	return u, args.Error(1)
}

func (m *mockUploadService) Progress(ctx context.Context, tenantID, id string) (*domain.Progress, error) {
	args := m.Called(ctx, tenantID, id)
	p, _ := args.Get(0).(*domain.Progress)
	return p, args.Error(1)
}

func (m *mockUploadService) ListRowErrors(ctx context.Context, tenantID, id string, offset, limit int) (*app.RowErrorPage, error) {
	args := m.Called(ctx, tenantID, id, offset, limit)
	p, _ := args.Get(0).(*app.RowErrorPage)
	return p, args.Error(1)
}

func (m *mockUploadService) ErrorSummary(ctx context.Context, tenantID, id string) ([]domain.CodeCount, error) {
	args := m.Called(ctx, tenantID, id)
	c, _ := args.Get(0).([]domain.CodeCount)
	return c, args.Error(1)
}

func (m *mockUploadService) Summary(ctx context.Context, tenantID, id string) (*domain.ResultSummary, error) {
	args := m.Called(ctx, tenantID, id)
	s, _ := args.Get(0).(*domain.ResultSummary)
	return s, args.Error(1)
}

func (m *mockUploadService) Confirm(ctx context.Context, tenantID, id string) (*domain.Upload, error) {
	args := m.Called(ctx, tenantID, id)
	u, _ := args.Get(0).(*domain.Upload)
	return u, args.Error(1)
}

func (m *mockUploadService) Cancel(ctx context.Context, tenantID, id string) (*domain.Upload, error) {
	args := m.Called(ctx, tenantID, id)
	u, _ := args.Get(0).(*domain.Upload)
	return u, args.Error(1)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func newTestRouter(h *UploadHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithTenant(req.Context(), tenant, "user-1")))
		})
	})
	r.Post("/uploads", h.Create)
	r.Get("/uploads/{uploadID}", h.Get)
	r.Get("/uploads/{uploadID}/progress", h.Progress)
	r.Get("/uploads/{uploadID}/errors", h.Errors)
	r.Get("/uploads/{uploadID}/errors/summary", h.ErrorSummary)
	r.Get("/uploads/{uploadID}/summary", h.Summary)
	r.Post("/uploads/{uploadID}/confirm", h.Confirm)
	r.Post("/uploads/{uploadID}/cancel", h.Cancel)
	return r
}

func sampleUpload(status domain.Status) *domain.Upload {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &domain.Upload{
		ID:              "u-1",
		TenantID:        tenant,
		CreatedBy:       "user-1",
		Name:            "batch",
		FileType:        domain.FileTypeCSV,
		DuplicateAction: domain.DuplicateSkip,
		Status:          status,
		File: &domain.StoredFile{
			OriginalFilename: "batch.csv",
			ContentType:      "text/csv",
			SizeBytes:        12,
			StorageBackend:   "local",
			StoragePath:      "tenant-a/u-1/batch.csv",
			SHA256:           "abc",
		},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func multipartBody(t *testing.T, fields map[string]string, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile(types.FormFile, filename)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) common.APIResponse[T] {
	t.Helper()
	var resp common.APIResponse[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ─────────────────────────────────────────────────────────────────────────────
// Create
// ─────────────────────────────────────────────────────────────────────────────

func TestUploadHandler_Create(t *testing.T) {
	svc := new(mockUploadService)
	h := newTestRouter(NewUploadHandler(svc, 1<<20, logging.NewNopLogger()))

	var content string
	svc.On("Create", mock.Anything, mock.MatchedBy(func(req app.CreateRequest) bool {
		b, _ := io.ReadAll(req.Content)
		content = string(b)
		return req.TenantID == tenant &&
			req.CreatedBy == "user-1" &&
			req.Filename == "batch.csv" &&
			req.Name == "batch" &&
			req.DuplicateAction == "update" &&
			req.SimilarityThreshold != nil && *req.SimilarityThreshold == 0.9 &&
			req.ColumnMapping != nil && req.ColumnMapping.SMILES == "structure"
	})).Return(sampleUpload(domain.StatusInitiated), nil).Once()

	body, ct := multipartBody(t, map[string]string{
		types.FormName:                "batch",
		types.FormDuplicateAction:     "update",
		types.FormSimilarityThreshold: "0.9",
		types.FormColumnMapping:       `{"smiles":"structure"}`,
	}, "batch.csv", "structure\nCCO\n")
	req := httptest.NewRequest(http.MethodPost, "/uploads", body)
	req.Header.Set("Content-Type", ct)

	rec := serve(h, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[types.Upload](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "u-1", resp.Data.ID)
	assert.Equal(t, "initiated", resp.Data.Status)
	require.NotNil(t, resp.Data.File)
	assert.Equal(t, "abc", resp.Data.File.SHA256)
	assert.Equal(t, "structure\nCCO\n", content)
	assert.NotContains(t, rec.Body.String(), "storage_path")
	svc.AssertExpectations(t)
}

func TestUploadHandler_CreateRejectsBadForms(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		filename string
		status   int
		code     errors.ErrorCode
	}{
		{"missing file", map[string]string{types.FormName: "x"}, "", http.StatusBadRequest, errors.CodeInvalidParam},
		{"bad threshold", map[string]string{types.FormSimilarityThreshold: "high"}, "a.csv", http.StatusBadRequest, errors.ErrCodeUploadThresholdInvalid},
		{"bad mapping", map[string]string{types.FormColumnMapping: "{"}, "a.csv", http.StatusBadRequest, errors.ErrCodeUploadColumnMapping},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockUploadService)
			h := newTestRouter(NewUploadHandler(svc, 1<<20, logging.NewNopLogger()))
			body, ct := multipartBody(t, tt.fields, tt.filename, "smiles\nC\n")
			req := httptest.NewRequest(http.MethodPost, "/uploads", body)
			req.Header.Set("Content-Type", ct)

			rec := serve(h, req)
			assert.Equal(t, tt.status, rec.Code)
			resp := decode[any](t, rec)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.code), resp.Error.Code)
			svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestUploadHandler_CreateNotMultipart(t *testing.T) {
	svc := new(mockUploadService)
	h := newTestRouter(NewUploadHandler(svc, 1<<20, logging.NewNopLogger()))
	req := httptest.NewRequest(http.MethodPost, "/uploads", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")

	rec := serve(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadHandler_CreateBodyTooLarge(t *testing.T) {
	svc := new(mockUploadService)
	h := newTestRouter(NewUploadHandler(svc, 16, logging.NewNopLogger()))
	body, ct := multipartBody(t, nil, "big.csv", string(bytes.Repeat([]byte("C"), 2<<20)))
	req := httptest.NewRequest(http.MethodPost, "/uploads", body)
	req.Header.Set("Content-Type", ct)

	rec := serve(h, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	resp := decode[any](t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(errors.ErrCodeUploadFileTooLarge), resp.Error.Code)
}

func TestUploadHandler_CreateServiceError(t *testing.T) {
	svc := new(mockUploadService)
	h := newTestRouter(NewUploadHandler(svc, 1<<20, logging.NewNopLogger()))
	svc.On("Create", mock.Anything, mock.Anything).
		Return(nil, errors.New(errors.ErrCodeUploadUnsupportedFormat, "cannot detect file type")).Once()

	body, ct := multipartBody(t, nil, "data.bin", "\x00\x01")
	req := httptest.NewRequest(http.MethodPost, "/uploads", body)
	req.Header.Set("Content-Type", ct)

	rec := serve(h, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	resp := decode[any](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "cannot detect file type", resp.Error.Message)
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

func TestUploadHandler_GetEmbedsProgress(t *testing.T) {
	svc := new(mockUploadService)
	h := newTestRouter(NewUploadHandler(svc, 0, logging.NewNopLogger()))
	svc.On("Get", mock.Anything, tenant, "u-1").Return(sampleUpload(domain.StatusValidating), nil)
	svc.On("Progress", mock.Anything, tenant, "u-1").
		Return(&domain.Progress{UploadID: "u-1", TotalRows: 4, ProcessedRows: 1, Phase: "validation"}, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/uploads/u-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[types.Upload](t, rec)
	require.NotNil(t, resp.Data.Progress)
	assert.Equal(t, 4, resp.Data.Progress.TotalRows)
	assert.Equal(t, 25.0, resp.Data.Progress.Percent)
}

func TestUploadHandler_GetWithoutProgress(t *testing.T) {
	svc := new(mockUploadService)
	h := newTestRouter(NewUploadHandler(svc, 0, logging.NewNopLogger()))
	svc.On("Get", mock.Anything, tenant, "u-1").Return(sampleUpload(domain.StatusInitiated), nil)
	svc.On("Progress", mock.Anything, tenant, "u-1").Return(nil, errors.NotFound("no progress"))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/uploads/u-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[types.Upload](t, rec).Data.Progress)
}

func TestUploadHandler_GetNotFound(t *testing.T) {
	svc := new(mockUploadService)
	h := newTestRouter(NewUploadHandler(svc, 0, logging.NewNopLogger()))
	svc.On("Get", mock.Anything, tenant, "missing").
		Return(nil, errors.New(errors.ErrCodeUploadNotFound, "upload not found"))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/uploads/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(errors.ErrCodeUploadNotFound), decode[any](t, rec).Error.Code)
}

func TestUploadHandler_Errors(t *testing.T) {
	svc := new(mockUploadService)
	h := newTestRouter(NewUploadHandler(svc, 0, logging.NewNopLogger()))
	sim := 0.91
	svc.On("ListRowErrors", mock.Anything, tenant, "u-1", 10, 5).Return(&app.RowErrorPage{
		Errors: []domain.RowError{
			{RowNumber: 12, Code: domain.CodeInvalidStructure, Message: "unparseable", RawData: map[string]string{"smiles": "C1"}},
			{RowNumber: 14, Code: domain.CodeSimilarDuplicate, DuplicateInChIKey: "KEY", DuplicateSimilarity: &sim},
		},
		Total:  30,
		Offset: 10,
		Limit:  5,
	}, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/uploads/u-1/errors?offset=10&limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[types.RowErrorPage](t, rec).Data
	assert.Equal(t, 30, page.Total)
	require.Len(t, page.Errors, 2)
	assert.Equal(t, 12, page.Errors[0].RowNumber)
	assert.Equal(t, string(domain.CodeInvalidStructure), page.Errors[0].Code)
	assert.Equal(t, "C1", page.Errors[0].RawData["smiles"])
	require.NotNil(t, page.Errors[1].DuplicateSimilarity)
	assert.Equal(t, 0.91, *page.Errors[1].DuplicateSimilarity)
}

func TestUploadHandler_ErrorsBadQuery(t *testing.T) {
	svc := new(mockUploadService)
	h := newTestRouter(NewUploadHandler(svc, 0, logging.NewNopLogger()))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/uploads/u-1/errors?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "ListRowErrors", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadHandler_ErrorSummary(t *testing.T) {
	svc := new(mockUploadService)
	h := newTestRouter(NewUploadHandler(svc, 0, logging.NewNopLogger()))
	svc.On("ErrorSummary", mock.Anything, tenant, "u-1").Return([]domain.CodeCount{
		{Code: domain.CodeInvalidStructure, Count: 3},
		{Code: domain.CodeMissingRequiredField, Count: 1},
	}, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/uploads/u-1/errors/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	counts := decode[[]types.CodeCount](t, rec).Data
	require.Len(t, counts, 2)
	assert.Equal(t, 3, counts[0].Count)
}

func TestUploadHandler_Summary(t *testing.T) {
	svc := new(mockUploadService)
	h := newTestRouter(NewUploadHandler(svc, 0, logging.NewNopLogger()))
	svc.On("Summary", mock.Anything, tenant, "u-1").Return(&domain.ResultSummary{
		UploadID:                  "u-1",
		MoleculesCreated:          7,
		MoleculesSkipped:          2,
		ProcessingDurationSeconds: 1.25,
	}, nil).Once()
	svc.On("Summary", mock.Anything, tenant, "u-2").
		Return(nil, errors.New(errors.ErrCodeUploadSummaryNotReady, "summary not ready")).Once()

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/uploads/u-1/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	s := decode[types.Summary](t, rec).Data
	assert.Equal(t, 7, s.MoleculesCreated)
	assert.Equal(t, 1.25, s.ProcessingDurationSeconds)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/uploads/u-2/summary", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Transitions
// ─────────────────────────────────────────────────────────────────────────────

func TestUploadHandler_Confirm(t *testing.T) {
	svc := new(mockUploadService)
	h := newTestRouter(NewUploadHandler(svc, 0, logging.NewNopLogger()))
	svc.On("Confirm", mock.Anything, tenant, "u-1").Return(sampleUpload(domain.StatusProcessing), nil).Once()
	svc.On("Confirm", mock.Anything, tenant, "u-2").
		Return(nil, errors.New(errors.ErrCodeUploadInvalidTransition, "cannot confirm")).Once()

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/uploads/u-1/confirm", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "processing", decode[types.Upload](t, rec).Data.Status)

	rec = serve(h, httptest.NewRequest(http.MethodPost, "/uploads/u-2/confirm", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUploadHandler_Cancel(t *testing.T) {
	svc := new(mockUploadService)
	h := newTestRouter(NewUploadHandler(svc, 0, logging.NewNopLogger()))
	svc.On("Cancel", mock.Anything, tenant, "u-1").Return(sampleUpload(domain.StatusCancelled), nil)

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/uploads/u-1/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[types.Upload](t, rec).Data.Status)
}

func TestUploadHandler_MasksInternalErrors(t *testing.T) {
	svc := new(mockUploadService)
	h := newTestRouter(NewUploadHandler(svc, 0, logging.NewNopLogger()))
	svc.On("Progress", mock.Anything, tenant, "u-1").
		Return(nil, errors.Wrap(io.ErrUnexpectedEOF, errors.ErrCodeDatabaseError, "select progress: conn reset"))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/uploads/u-1/progress", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "conn reset")
}
