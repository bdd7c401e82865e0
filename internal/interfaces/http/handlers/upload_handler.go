package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	app "github.com/turtacn/molingest/internal/application/upload"
	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/internal/interfaces/http/middleware"
	"github.com/turtacn/molingest/pkg/errors"
	types "github.com/turtacn/molingest/pkg/types/upload"
)

const (
	// multipart parts beyond this are spooled to disk
	multipartMemory = 8 << 20
	// form overhead allowed on top of the default file limit
	multipartOverhead = 1 << 20
)

// UploadService is the part of the upload application service the API needs.
type UploadService interface {
	Create(ctx context.Context, req app.CreateRequest) (*domain.Upload, error)
	Get(ctx context.Context, tenantID, id string) (*domain.Upload, error)
	Progress(ctx context.Context, tenantID, id string) (*domain.Progress, error)
	ListRowErrors(ctx context.Context, tenantID, id string, offset, limit int) (*app.RowErrorPage, error)
	ErrorSummary(ctx context.Context, tenantID, id string) ([]domain.CodeCount, error)
	Summary(ctx context.Context, tenantID, id string) (*domain.ResultSummary, error)
	Confirm(ctx context.Context, tenantID, id string) (*domain.Upload, error)
	Cancel(ctx context.Context, tenantID, id string) (*domain.Upload, error)
}

// UploadHandler serves /api/v1/uploads.
type UploadHandler struct {
	svc         UploadService
	maxBodySize int64
	logger      logging.Logger
}

// NewUploadHandler creates an UploadHandler. maxBodySize bounds the whole
// multipart body of a create request.
func NewUploadHandler(svc UploadService, maxBodySize int64, logger logging.Logger) *UploadHandler {
	if maxBodySize <= 0 {
		maxBodySize = app.DefaultMaxFileSize + multipartOverhead
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &UploadHandler{svc: svc, maxBodySize: maxBodySize, logger: logger}
}

// Create handles POST /api/v1/uploads (multipart/form-data).
func (h *UploadHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, errors.Newf(errors.ErrCodeUploadFileTooLarge, "request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.fail(w, r, errors.InvalidParam("expected a multipart/form-data body").WithDetail(err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(types.FormFile)
	if err != nil {
		h.fail(w, r, errors.InvalidParam("the "+types.FormFile+" part is required"))
		return
	}
	defer file.Close()

	req := app.CreateRequest{
		TenantID:        middleware.ContextGetTenantID(r.Context()),
		CreatedBy:       middleware.ContextGetUserID(r.Context()),
		Name:            strings.TrimSpace(r.FormValue(types.FormName)),
		Filename:        header.Filename,
		ContentType:     header.Header.Get("Content-Type"),
		Size:            header.Size,
		Content:         file,
		FileType:        r.FormValue(types.FormFileType),
		DuplicateAction: r.FormValue(types.FormDuplicateAction),
	}
	if v := strings.TrimSpace(r.FormValue(types.FormSimilarityThreshold)); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			h.fail(w, r, errors.New(errors.ErrCodeUploadThresholdInvalid, "similarity_threshold must be a number").WithDetail(v))
			return
		}
		req.SimilarityThreshold = &threshold
	}
	if v := strings.TrimSpace(r.FormValue(types.FormColumnMapping)); v != "" {
		var m types.ColumnMapping
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			h.fail(w, r, errors.New(errors.ErrCodeUploadColumnMapping, "column_mapping must be a JSON object").WithDetail(err.Error()))
			return
		}
		req.ColumnMapping = &domain.ColumnMapping{SMILES: m.SMILES, Name: m.Name, ExternalID: m.ExternalID}
	}

	u, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toUpload(u, nil))
}

// Get handles GET /api/v1/uploads/{uploadID}. The live progress is embedded.
func (h *UploadHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, id := h.target(r)
	u, err := h.svc.Get(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.svc.Progress(r.Context(), tenantID, id)
	if err != nil && !errors.IsNotFound(err) {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toUpload(u, p))
}

// Progress handles GET /api/v1/uploads/{uploadID}/progress.
func (h *UploadHandler) Progress(w http.ResponseWriter, r *http.Request) {
	tenantID, id := h.target(r)
	p, err := h.svc.Progress(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toProgress(p))
}

// Errors handles GET /api/v1/uploads/{uploadID}/errors?offset=&limit=.
func (h *UploadHandler) Errors(w http.ResponseWriter, r *http.Request) {
	tenantID, id := h.target(r)
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.svc.ListRowErrors(r.Context(), tenantID, id, offset, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toRowErrorPage(page))
}

// ErrorSummary handles GET /api/v1/uploads/{uploadID}/errors/summary.
func (h *UploadHandler) ErrorSummary(w http.ResponseWriter, r *http.Request) {
	tenantID, id := h.target(r)
	counts, err := h.svc.ErrorSummary(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toCodeCounts(counts))
}

// Summary handles GET /api/v1/uploads/{uploadID}/summary.
func (h *UploadHandler) Summary(w http.ResponseWriter, r *http.Request) {
	tenantID, id := h.target(r)
	s, err := h.svc.Summary(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toSummary(s))
}

// Confirm handles POST /api/v1/uploads/{uploadID}/confirm. Insertion runs
// asynchronously, hence 202.
func (h *UploadHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	tenantID, id := h.target(r)
	u, err := h.svc.Confirm(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, toUpload(u, nil))
}

// Cancel handles POST /api/v1/uploads/{uploadID}/cancel.
func (h *UploadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, id := h.target(r)
	u, err := h.svc.Cancel(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toUpload(u, nil))
}

func (h *UploadHandler) target(r *http.Request) (tenantID, uploadID string) {
	return middleware.ContextGetTenantID(r.Context()), chi.URLParam(r, "uploadID")
}

func (h *UploadHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeAppError(w, r, h.logger, err)
}
