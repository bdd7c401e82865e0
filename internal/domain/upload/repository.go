package upload

import (
	"context"
	"time"
)

// Repository persists uploads and everything they own. Progress, row errors
// and the summary are removed together with their upload.
type Repository interface {
	// Create stores a new upload with its file reference and initial progress.
	Create(ctx context.Context, u *Upload, p *Progress) error

	// Get returns the upload or ErrNotFound. An empty tenantID skips the
	// tenant check and is used by workers that only carry the upload id.
	Get(ctx context.Context, tenantID, id string) (*Upload, error)

	// Discard deletes an upload that is still INITIATED, together with
	// everything it owns. Any other status returns ErrStaleStatus.
	Discard(ctx context.Context, id string) error

	// UpdateStatus writes u's status, lifecycle timestamps and error message
	// only when the stored status still equals from. A lost race returns
	// ErrStaleStatus.
	UpdateStatus(ctx context.Context, u *Upload, from Status) error

	// SaveProgress upserts the progress row.
	SaveProgress(ctx context.Context, p *Progress) error

	// GetProgress returns the progress row or ErrNotFound.
	GetProgress(ctx context.Context, uploadID string) (*Progress, error)

	// AddRowErrors inserts errors, ignoring rows already recorded for the
	// same (upload, row_number).
	AddRowErrors(ctx context.Context, errs []RowError) error

	// ListRowErrors pages through errors ordered by row number, with the total.
	ListRowErrors(ctx context.Context, uploadID string, offset, limit int) ([]RowError, int, error)

	// RowErrorSummary counts errors per code.
	RowErrorSummary(ctx context.Context, uploadID string) ([]CodeCount, error)

	// SaveSummary stores the result summary. A second call for the same
	// upload fails.
	SaveSummary(ctx context.Context, s *ResultSummary) error

	// GetSummary returns the summary or ErrNotFound.
	GetSummary(ctx context.Context, uploadID string) (*ResultSummary, error)

	// ListExpired returns AWAITING_CONFIRM uploads whose expiry is before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Upload, error)
}
