package upload

import (
	"bufio"
	"context"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/turtacn/molingest/internal/application/upload/ingest"
	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

// Defaults applied by NewService when the configuration leaves them at zero.
const (
	DefaultMaxFileSize         int64 = 100 << 20
	DefaultSimilarityThreshold       = 0.85
	DefaultExpiryTTL                 = 24 * time.Hour

	defaultErrorPageSize = 50
	maxErrorPageSize     = 500
)

// ServiceConfig holds the request-side limits.
type ServiceConfig struct {
	MaxFileSize                int64
	DefaultSimilarityThreshold float64
	ExpiryTTL                  time.Duration
}

// ServiceDeps are the collaborators of a Service. Events, Observer and Now
// are optional.
type ServiceDeps struct {
	Repo       domain.Repository
	Files      FileStorage
	Dispatcher Dispatcher
	Events     domain.EventPublisher
	Observer   Observer
	Logger     logging.Logger
	Now        func() time.Time
}

// CreateRequest describes a new upload. FileType and ColumnMapping may be
// left empty for detection and inference.
type CreateRequest struct {
	TenantID    string
	CreatedBy   string
	Name        string
	Filename    string
	ContentType string
	// Size is the client-declared length, checked before reading when set.
	Size    int64
	Content io.Reader

	FileType        string
	DuplicateAction string
	// SimilarityThreshold nil takes the configured default; 0 disables
	// near-duplicate detection.
	SimilarityThreshold *float64
	ColumnMapping       *domain.ColumnMapping
}

// Service is the request-facing side of the pipeline. The passes themselves
// run in a Processor behind the Dispatcher.
type Service struct {
	lifecycle
	files      FileStorage
	dispatcher Dispatcher
	cfg        ServiceConfig
}

func NewService(deps ServiceDeps, cfg ServiceConfig) *Service {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.DefaultSimilarityThreshold <= 0 {
		cfg.DefaultSimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.ExpiryTTL <= 0 {
		cfg.ExpiryTTL = DefaultExpiryTTL
	}
	log := deps.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Service{
		lifecycle:  newLifecycle(deps.Repo, deps.Events, deps.Observer, log.Named("upload"), deps.Now),
		files:      deps.Files,
		dispatcher: deps.Dispatcher,
		cfg:        cfg,
	}
}

// Create stores the file, records the upload and dispatches validation. When
// the dispatch fails the upload and its file are removed again.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Upload, error) {
	if req.Content == nil {
		return nil, errors.InvalidParam("file content is required")
	}
	if req.Size > s.cfg.MaxFileSize {
		return nil, s.tooLarge(req.Size)
	}

	br := bufio.NewReaderSize(req.Content, ingest.SniffSize)
	sample, err := br.Peek(ingest.SniffSize)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, errors.Wrap(err, errors.ErrCodeStorageReadFailed, "read upload content")
	}
	if len(sample) == 0 {
		return nil, errors.InvalidParam("file is empty")
	}

	ft, err := s.fileType(req, sample)
	if err != nil {
		return nil, err
	}
	mapping := req.ColumnMapping
	if ft == domain.FileTypeCSV && mapping == nil {
		header, err := ingest.ReadHeader(sample)
		if err != nil {
			return nil, err
		}
		if mapping, err = ingest.InferColumnMapping(header); err != nil {
			return nil, err
		}
	}
	threshold := req.SimilarityThreshold
	if threshold == nil {
		t := s.cfg.DefaultSimilarityThreshold
		threshold = &t
	}

	u, err := domain.NewUpload(domain.NewUploadParams{
		TenantID:            req.TenantID,
		CreatedBy:           req.CreatedBy,
		Name:                uploadName(req),
		FileType:            ft,
		DuplicateAction:     domain.DuplicateAction(req.DuplicateAction),
		SimilarityThreshold: threshold,
		ColumnMapping:       mapping,
	}, s.now(), s.cfg.ExpiryTTL)
	if err != nil {
		return nil, err
	}

	contentType := req.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = ingest.ContentTypeFor(ft)
	}
	stored, err := s.files.Save(ctx, io.LimitReader(br, s.cfg.MaxFileSize+1), req.Filename, contentType)
	if err != nil {
		return nil, err
	}
	if stored.SizeBytes > s.cfg.MaxFileSize {
		s.release(ctx, stored)
		return nil, s.tooLarge(stored.SizeBytes)
	}
	u.File = stored

	if err := s.repo.Create(ctx, u, domain.NewProgress(u.ID, s.now())); err != nil {
		s.release(ctx, stored)
		return nil, err
	}
	s.observer.UploadCreated(string(ft))
	s.publish(ctx, domain.EventCreated, u, map[string]interface{}{
		"file_type":  string(ft),
		"size_bytes": stored.SizeBytes,
	})
	s.logger.Info("upload created",
		logging.UploadID(u.ID),
		logging.TenantID(u.TenantID),
		logging.String("file_type", string(ft)),
		logging.Int64("size_bytes", stored.SizeBytes))

	if err := s.dispatcher.Dispatch(ctx, domain.NewJob(domain.JobValidate, u, s.now())); err != nil {
		s.logger.Error("failed to dispatch validation", logging.UploadID(u.ID), logging.Err(err))
		s.discard(ctx, u, err)
		return nil, errors.Wrap(err, errors.ErrCodeMessageQueueError, "dispatch validation")
	}
	return u, nil
}

// discard removes an upload whose validation never got queued, so nothing is
// left waiting in INITIATED. The stored file goes with it.
func (s *Service) discard(ctx context.Context, u *domain.Upload, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.repo.Discard(ctx, u.ID); err != nil {
		s.logger.Error("failed to discard undispatched upload", logging.UploadID(u.ID), logging.Err(err))
		return
	}
	s.release(ctx, u.File)
	s.publish(ctx, domain.EventFailed, u, map[string]interface{}{
		"error":     cause.Error(),
		"discarded": true,
	})
}

func (s *Service) fileType(req CreateRequest, sample []byte) (domain.FileType, error) {
	if strings.TrimSpace(req.FileType) != "" {
		return domain.ParseFileType(req.FileType)
	}
	return ingest.DetectFileType(req.Filename, sample)
}

func uploadName(req CreateRequest) string {
	if req.Name != "" {
		return req.Name
	}
	return filepath.Base(req.Filename)
}

func (s *Service) tooLarge(size int64) error {
	return errors.Newf(errors.ErrCodeUploadFileTooLarge, "file exceeds %d bytes", s.cfg.MaxFileSize).
		WithDetail(strconv.FormatInt(size, 10) + " bytes")
}

func (s *Service) release(ctx context.Context, f *domain.StoredFile) {
	if _, err := s.files.Delete(context.WithoutCancel(ctx), f.StoragePath); err != nil {
		s.logger.Warn("failed to release stored file", logging.String("path", f.StoragePath), logging.Err(err))
	}
}

// Get returns an upload of tenantID.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*domain.Upload, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// Progress returns the live counters of an upload.
func (s *Service) Progress(ctx context.Context, tenantID, id string) (*domain.Progress, error) {
	if _, err := s.repo.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.progress(ctx, id)
}

// RowErrorPage is one page of row errors ordered by row number.
type RowErrorPage struct {
	Errors []domain.RowError
	Total  int
	Offset int
	Limit  int
}

// ListRowErrors pages through the errors of an upload.
func (s *Service) ListRowErrors(ctx context.Context, tenantID, id string, offset, limit int) (*RowErrorPage, error) {
	if _, err := s.repo.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	switch {
	case limit <= 0:
		limit = defaultErrorPageSize
	case limit > maxErrorPageSize:
		limit = maxErrorPageSize
	}
	errs, total, err := s.repo.ListRowErrors(ctx, id, offset, limit)
	if err != nil {
		return nil, err
	}
	return &RowErrorPage{Errors: errs, Total: total, Offset: offset, Limit: limit}, nil
}

// ErrorSummary counts the errors of an upload by code, most frequent first.
func (s *Service) ErrorSummary(ctx context.Context, tenantID, id string) ([]domain.CodeCount, error) {
	if _, err := s.repo.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	counts, err := s.repo.RowErrorSummary(ctx, id)
	if err != nil {
		return nil, err
	}
	domain.SortCodeCounts(counts)
	return counts, nil
}

// Summary returns the result of a completed upload.
func (s *Service) Summary(ctx context.Context, tenantID, id string) (*domain.ResultSummary, error) {
	u, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if u.Status != domain.StatusCompleted {
		return nil, errors.New(errors.ErrCodeUploadSummaryNotReady, "upload has not completed").
			WithDetail(string(u.Status))
	}
	return s.repo.GetSummary(ctx, id)
}

// Confirm starts insertion of a validated upload. An upload whose
// confirmation window has passed is cancelled instead.
func (s *Service) Confirm(ctx context.Context, tenantID, id string) (*domain.Upload, error) {
	u, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if u.IsExpired(s.now()) {
		if err := s.cancel(ctx, u, s.files, "expired"); err != nil {
			return nil, err
		}
		s.observer.UploadExpired()
		return nil, errors.New(errors.ErrCodeUploadExpired, "upload confirmation window has passed")
	}
	if err := s.transition(ctx, u, domain.StatusProcessing, nil); err != nil {
		return nil, err
	}

	prog, err := s.progress(ctx, u.ID)
	if err == nil {
		err = domain.NewTracker(prog, s.repo, 0, s.now).BeginPass(ctx, domain.PhaseInserting)
	}
	if err != nil {
		s.logger.Warn("failed to reset progress for insertion", logging.UploadID(u.ID), logging.Err(err))
	}

	if err := s.dispatcher.Dispatch(ctx, domain.NewJob(domain.JobProcess, u, s.now())); err != nil {
		err = errors.Wrap(err, errors.ErrCodeMessageQueueError, "dispatch insertion")
		s.fail(ctx, u, err)
		return nil, err
	}
	s.logger.Info("upload confirmed", logging.UploadID(u.ID))
	return u, nil
}

// Cancel abandons a validated upload and releases its file.
func (s *Service) Cancel(ctx context.Context, tenantID, id string) (*domain.Upload, error) {
	u, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.cancel(ctx, u, s.files, "cancelled by user"); err != nil {
		return nil, err
	}
	s.logger.Info("upload cancelled", logging.UploadID(u.ID))
	return u, nil
}
