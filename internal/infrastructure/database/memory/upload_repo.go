package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/pkg/errors"
)

// UploadRepository is the in-process upload.Repository.
type UploadRepository struct {
	mu        sync.RWMutex
	uploads   map[string]*domain.Upload
	progress  map[string]*domain.Progress
	rowErrors map[string][]domain.RowError
	errorRows map[string]map[int]struct{}
	summaries map[string]*domain.ResultSummary
}

var _ domain.Repository = (*UploadRepository)(nil)

func NewUploadRepository() *UploadRepository {
	return &UploadRepository{
		uploads:   make(map[string]*domain.Upload),
		progress:  make(map[string]*domain.Progress),
		rowErrors: make(map[string][]domain.RowError),
		errorRows: make(map[string]map[int]struct{}),
		summaries: make(map[string]*domain.ResultSummary),
	}
}

func cloneUpload(u *domain.Upload) *domain.Upload {
	c := *u
	if u.File != nil {
		f := *u.File
		c.File = &f
	}
	if u.ColumnMapping != nil {
		m := *u.ColumnMapping
		c.ColumnMapping = &m
	}
	return &c
}

func (r *UploadRepository) Create(ctx context.Context, u *domain.Upload, p *domain.Progress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.uploads[u.ID]; exists {
		return errors.Conflict("upload already exists").WithDetail(u.ID)
	}
	r.uploads[u.ID] = cloneUpload(u)
	if p != nil {
		cp := *p
		r.progress[u.ID] = &cp
	}
	return nil
}

func (r *UploadRepository) Get(ctx context.Context, tenantID, id string) (*domain.Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.uploads[id]
	if !ok || (tenantID != "" && u.TenantID != tenantID) {
		return nil, domain.ErrNotFound
	}
	return cloneUpload(u), nil
}

func (r *UploadRepository) Discard(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uploads[id]
	if !ok || u.Status != domain.StatusInitiated {
		return domain.ErrStaleStatus.WithDetail("upload " + id + " expected " + string(domain.StatusInitiated))
	}
	delete(r.uploads, id)
	delete(r.progress, id)
	delete(r.rowErrors, id)
	delete(r.errorRows, id)
	delete(r.summaries, id)
	return nil
}

// UpdateStatus writes u's status and lifecycle fields if the stored status
// still equals from.
func (r *UploadRepository) UpdateStatus(ctx context.Context, u *domain.Upload, from domain.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.uploads[u.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Status != from {
		return domain.ErrStaleStatus
	}
	stored.Status = u.Status
	stored.ErrorMessage = u.ErrorMessage
	stored.UpdatedAt = u.UpdatedAt
	stored.ValidatedAt = u.ValidatedAt
	stored.ConfirmedAt = u.ConfirmedAt
	stored.CompletedAt = u.CompletedAt
	return nil
}

func (r *UploadRepository) SaveProgress(ctx context.Context, p *domain.Progress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.progress[p.UploadID] = &cp
	return nil
}

func (r *UploadRepository) GetProgress(ctx context.Context, uploadID string) (*domain.Progress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.progress[uploadID]
	if !ok {
		return nil, errors.NotFound("upload progress not found").WithDetail(uploadID)
	}
	cp := *p
	return &cp, nil
}

func (r *UploadRepository) AddRowErrors(ctx context.Context, errs []domain.RowError) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range errs {
		rows, ok := r.errorRows[e.UploadID]
		if !ok {
			rows = make(map[int]struct{})
			r.errorRows[e.UploadID] = rows
		}
		// one record per (upload, row), like the table's primary key
		if _, dup := rows[e.RowNumber]; dup {
			continue
		}
		rows[e.RowNumber] = struct{}{}
		r.rowErrors[e.UploadID] = append(r.rowErrors[e.UploadID], e)
	}
	return nil
}

func (r *UploadRepository) ListRowErrors(ctx context.Context, uploadID string, offset, limit int) ([]domain.RowError, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.mu.RLock()
	all := append([]domain.RowError(nil), r.rowErrors[uploadID]...)
	r.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].RowNumber < all[j].RowNumber })
	total := len(all)
	if offset >= total {
		return []domain.RowError{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (r *UploadRepository) RowErrorSummary(ctx context.Context, uploadID string) ([]domain.CodeCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := lo.CountValuesBy(r.rowErrors[uploadID], func(e domain.RowError) domain.RowErrorCode { return e.Code })
	out := lo.MapToSlice(counts, func(code domain.RowErrorCode, n int) domain.CodeCount {
		return domain.CodeCount{Code: code, Count: n}
	})
	domain.SortCodeCounts(out)
	return out, nil
}

func (r *UploadRepository) SaveSummary(ctx context.Context, s *domain.ResultSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.summaries[s.UploadID]; exists {
		return errors.Conflict("result summary already written").WithDetail(s.UploadID)
	}
	cp := *s
	r.summaries[s.UploadID] = &cp
	return nil
}

func (r *UploadRepository) GetSummary(ctx context.Context, uploadID string) (*domain.ResultSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.summaries[uploadID]
	if !ok {
		return nil, errors.New(errors.ErrCodeUploadSummaryNotReady, "result summary not found").WithDetail(uploadID)
	}
	cp := *s
	return &cp, nil
}

// ListExpired returns AWAITING_CONFIRM uploads whose expiry is before now,
// oldest first.
func (r *UploadRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Upload
	for _, u := range r.uploads {
		if u.IsExpired(now) {
			out = append(out, cloneUpload(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RowErrors returns every stored error of an upload in insertion order.
func (r *UploadRepository) RowErrors(uploadID string) []domain.RowError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.RowError(nil), r.rowErrors[uploadID]...)
}
