package repositories

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/database/postgres"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

const uploadColumns = `u.id, u.tenant_id, u.created_by, u.name, u.file_type, u.duplicate_action,
       u.similarity_threshold, u.column_mapping, u.status, u.error_message,
       u.created_at, u.updated_at, u.validated_at, u.confirmed_at, u.completed_at, u.expires_at,
       f.original_filename, f.content_type, f.size_bytes, f.storage_backend, f.storage_path, f.sha256`

const uploadFrom = ` FROM uploads u LEFT JOIN upload_files f ON f.upload_id = u.id`

// ─────────────────────────────────────────────────────────────────────────────
// UploadRepository
// ─────────────────────────────────────────────────────────────────────────────

// UploadRepository is the PostgreSQL implementation of upload.Repository.
type UploadRepository struct {
	db     *sql.DB
	logger logging.Logger
}

var _ domain.Repository = (*UploadRepository)(nil)

// NewUploadRepository constructs an UploadRepository on conn.
func NewUploadRepository(conn *postgres.Connection, log logging.Logger) *UploadRepository {
	return &UploadRepository{db: conn.DB(), logger: log.Named("upload_repo")}
}

// Create writes the upload, its file record and the initial progress in one
// transaction.
func (r *UploadRepository) Create(ctx context.Context, u *domain.Upload, p *domain.Progress) error {
	mappingJSON, err := marshalJSONB(u.ColumnMapping)
	if err != nil {
		return err
	}
	return withTx(ctx, r.db, r.logger, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO uploads (
				id, tenant_id, created_by, name, file_type, duplicate_action,
				similarity_threshold, column_mapping, status, error_message,
				created_at, updated_at, validated_at, confirmed_at, completed_at, expires_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			u.ID, u.TenantID, u.CreatedBy, u.Name, string(u.FileType), string(u.DuplicateAction),
			nullFloat(u.SimilarityThreshold), mappingJSON, string(u.Status), u.ErrorMessage,
			u.CreatedAt, u.UpdatedAt, nullTime(u.ValidatedAt), nullTime(u.ConfirmedAt), nullTime(u.CompletedAt), u.ExpiresAt)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.Conflict("upload already exists").WithDetail(u.ID)
			}
			return dbError(err, "failed to insert upload")
		}

		if f := u.File; f != nil {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO upload_files (
					upload_id, original_filename, content_type, size_bytes, storage_backend, storage_path, sha256
				) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				u.ID, f.OriginalFilename, f.ContentType, f.SizeBytes, f.StorageBackend, f.StoragePath, f.SHA256); err != nil {
				return dbError(err, "failed to insert upload file")
			}
		}
		if p != nil {
			return saveProgress(ctx, tx, p)
		}
		return nil
	})
}

func (r *UploadRepository) Get(ctx context.Context, tenantID, id string) (*domain.Upload, error) {
	query := `SELECT ` + uploadColumns + uploadFrom + ` WHERE u.id = $1`
	args := []interface{}{id}
	if tenantID != "" {
		query += ` AND u.tenant_id = $2`
		args = append(args, tenantID)
	}
	u, err := scanUpload(r.db.QueryRowContext(ctx, query, args...))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, dbError(err, "failed to get upload")
	}
	return u, nil
}

// Discard deletes an upload still in INITIATED; its file record, progress
// and errors cascade.
func (r *UploadRepository) Discard(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM uploads WHERE id = $1 AND status = $2`, id, string(domain.StatusInitiated))
	if err != nil {
		return dbError(err, "failed to discard upload")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err, "failed to read affected rows")
	}
	if n == 0 {
		return domain.ErrStaleStatus.WithDetail("upload " + id + " expected " + string(domain.StatusInitiated))
	}
	return nil
}

// UpdateStatus is a compare-and-set on status. Zero affected rows means
// another writer moved the upload first, or it was never there.
func (r *UploadRepository) UpdateStatus(ctx context.Context, u *domain.Upload, from domain.Status) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE uploads
		SET status = $3, error_message = $4, updated_at = $5,
		    validated_at = $6, confirmed_at = $7, completed_at = $8
		WHERE id = $1 AND status = $2`,
		u.ID, string(from), string(u.Status), u.ErrorMessage, u.UpdatedAt,
		nullTime(u.ValidatedAt), nullTime(u.ConfirmedAt), nullTime(u.CompletedAt))
	if err != nil {
		return dbError(err, "failed to update upload status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err, "failed to read affected rows")
	}
	if n == 0 {
		return domain.ErrStaleStatus.WithDetail("upload " + u.ID + " expected " + string(from))
	}
	return nil
}

func (r *UploadRepository) SaveProgress(ctx context.Context, p *domain.Progress) error {
	return saveProgress(ctx, r.db, p)
}

func saveProgress(ctx context.Context, q queryExecutor, p *domain.Progress) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO upload_progress (
			upload_id, total_rows, processed_rows, valid_rows, invalid_rows,
			duplicate_exact, duplicate_similar, phase, started_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (upload_id) DO UPDATE SET
			total_rows = EXCLUDED.total_rows,
			processed_rows = EXCLUDED.processed_rows,
			valid_rows = EXCLUDED.valid_rows,
			invalid_rows = EXCLUDED.invalid_rows,
			duplicate_exact = EXCLUDED.duplicate_exact,
			duplicate_similar = EXCLUDED.duplicate_similar,
			phase = EXCLUDED.phase,
			started_at = EXCLUDED.started_at,
			updated_at = EXCLUDED.updated_at`,
		p.UploadID, p.TotalRows, p.ProcessedRows, p.ValidRows, p.InvalidRows,
		p.DuplicateExact, p.DuplicateSimilar, p.Phase, nullTime(p.StartedAt), p.UpdatedAt)
	if err != nil {
		return dbError(err, "failed to save upload progress")
	}
	return nil
}

func (r *UploadRepository) GetProgress(ctx context.Context, uploadID string) (*domain.Progress, error) {
	var (
		p       domain.Progress
		started sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT upload_id, total_rows, processed_rows, valid_rows, invalid_rows,
		       duplicate_exact, duplicate_similar, phase, started_at, updated_at
		FROM upload_progress WHERE upload_id = $1`, uploadID).
		Scan(&p.UploadID, &p.TotalRows, &p.ProcessedRows, &p.ValidRows, &p.InvalidRows,
			&p.DuplicateExact, &p.DuplicateSimilar, &p.Phase, &started, &p.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("upload progress not found").WithDetail(uploadID)
	}
	if err != nil {
		return nil, dbError(err, "failed to get upload progress")
	}
	p.StartedAt = timePtr(started)
	return &p, nil
}

// AddRowErrors inserts the batch in one transaction. A redelivered pass
// writes the same rows again, which the primary key turns into no-ops.
func (r *UploadRepository) AddRowErrors(ctx context.Context, errs []domain.RowError) error {
	if len(errs) == 0 {
		return nil
	}
	return withTx(ctx, r.db, r.logger, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO upload_row_errors (
				upload_id, row_number, error_code, error_message, raw_data,
				field_name, duplicate_inchi_key, duplicate_similarity, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (upload_id, row_number) DO NOTHING`)
		if err != nil {
			return dbError(err, "failed to prepare row error insert")
		}
		defer stmt.Close()

		for i := range errs {
			e := &errs[i]
			raw, err := marshalJSONB(e.RawData)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, e.UploadID, e.RowNumber, string(e.Code), e.Message, raw,
				e.FieldName, e.DuplicateInChIKey, nullFloat(e.DuplicateSimilarity), e.CreatedAt); err != nil {
				return dbError(err, "failed to insert row error")
			}
		}
		return nil
	})
}

func (r *UploadRepository) ListRowErrors(ctx context.Context, uploadID string, offset, limit int) ([]domain.RowError, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM upload_row_errors WHERE upload_id = $1`, uploadID).Scan(&total); err != nil {
		return nil, 0, dbError(err, "failed to count row errors")
	}
	if total == 0 || offset >= total {
		return []domain.RowError{}, total, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT upload_id, row_number, error_code, error_message, raw_data,
		       field_name, duplicate_inchi_key, duplicate_similarity, created_at
		FROM upload_row_errors
		WHERE upload_id = $1
		ORDER BY row_number
		OFFSET $2 LIMIT $3`, uploadID, offset, limit)
	if err != nil {
		return nil, 0, dbError(err, "failed to list row errors")
	}
	defer rows.Close()

	out := make([]domain.RowError, 0, limit)
	for rows.Next() {
		var (
			e    domain.RowError
			code string
			raw  []byte
			sim  sql.NullFloat64
		)
		if err := rows.Scan(&e.UploadID, &e.RowNumber, &code, &e.Message, &raw,
			&e.FieldName, &e.DuplicateInChIKey, &sim, &e.CreatedAt); err != nil {
			return nil, 0, dbError(err, "failed to scan row error")
		}
		e.Code = domain.RowErrorCode(code)
		if err := unmarshalJSONB(raw, &e.RawData); err != nil {
			return nil, 0, err
		}
		if sim.Valid {
			v := sim.Float64
			e.DuplicateSimilarity = &v
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, dbError(err, "failed to iterate row errors")
	}
	return out, total, nil
}

func (r *UploadRepository) RowErrorSummary(ctx context.Context, uploadID string) ([]domain.CodeCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT error_code, COUNT(*)
		FROM upload_row_errors
		WHERE upload_id = $1
		GROUP BY error_code
		ORDER BY COUNT(*) DESC, error_code`, uploadID)
	if err != nil {
		return nil, dbError(err, "failed to summarise row errors")
	}
	defer rows.Close()

	var out []domain.CodeCount
	for rows.Next() {
		var (
			code  string
			count int
		)
		if err := rows.Scan(&code, &count); err != nil {
			return nil, dbError(err, "failed to scan row error summary")
		}
		out = append(out, domain.CodeCount{Code: domain.RowErrorCode(code), Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "failed to iterate row error summary")
	}
	domain.SortCodeCounts(out)
	return out, nil
}

func (r *UploadRepository) SaveSummary(ctx context.Context, s *domain.ResultSummary) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO upload_summaries (
			upload_id, molecules_created, molecules_updated, molecules_skipped, errors_count,
			exact_duplicates_found, similar_duplicates_found, processing_duration_seconds, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		s.UploadID, s.MoleculesCreated, s.MoleculesUpdated, s.MoleculesSkipped, s.ErrorsCount,
		s.ExactDuplicatesFound, s.SimilarDuplicatesFound, s.ProcessingDurationSeconds, s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Conflict("upload summary already recorded").WithDetail(s.UploadID)
		}
		return dbError(err, "failed to save upload summary")
	}
	return nil
}

func (r *UploadRepository) GetSummary(ctx context.Context, uploadID string) (*domain.ResultSummary, error) {
	var s domain.ResultSummary
	err := r.db.QueryRowContext(ctx, `
		SELECT upload_id, molecules_created, molecules_updated, molecules_skipped, errors_count,
		       exact_duplicates_found, similar_duplicates_found, processing_duration_seconds, created_at
		FROM upload_summaries WHERE upload_id = $1`, uploadID).
		Scan(&s.UploadID, &s.MoleculesCreated, &s.MoleculesUpdated, &s.MoleculesSkipped, &s.ErrorsCount,
			&s.ExactDuplicatesFound, &s.SimilarDuplicatesFound, &s.ProcessingDurationSeconds, &s.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.New(errors.ErrCodeUploadSummaryNotReady, "upload summary not available").WithDetail(uploadID)
	}
	if err != nil {
		return nil, dbError(err, "failed to get upload summary")
	}
	return &s, nil
}

func (r *UploadRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Upload, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+uploadColumns+uploadFrom+`
		WHERE u.status = $1 AND u.expires_at < $2
		ORDER BY u.expires_at
		LIMIT $3`, string(domain.StatusAwaitingConfirm), now.UTC(), limit)
	if err != nil {
		return nil, dbError(err, "failed to list expired uploads")
	}
	defer rows.Close()

	var out []*domain.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, dbError(err, "failed to scan upload")
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "failed to iterate expired uploads")
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanUpload(row scanner) (*domain.Upload, error) {
	var (
		u                               domain.Upload
		fileType, action, status        string
		threshold                       sql.NullFloat64
		mapping                         []byte
		validated, confirmed, completed sql.NullTime
		filename, contentType, backend  sql.NullString
		path, sha                       sql.NullString
		size                            sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.TenantID, &u.CreatedBy, &u.Name, &fileType, &action,
		&threshold, &mapping, &status, &u.ErrorMessage,
		&u.CreatedAt, &u.UpdatedAt, &validated, &confirmed, &completed, &u.ExpiresAt,
		&filename, &contentType, &size, &backend, &path, &sha); err != nil {
		return nil, err
	}
	u.FileType = domain.FileType(fileType)
	u.DuplicateAction = domain.DuplicateAction(action)
	u.Status = domain.Status(status)
	if threshold.Valid {
		v := threshold.Float64
		u.SimilarityThreshold = &v
	}
	if len(mapping) > 0 {
		u.ColumnMapping = &domain.ColumnMapping{}
		if err := unmarshalJSONB(mapping, u.ColumnMapping); err != nil {
			return nil, err
		}
	}
	u.ValidatedAt = timePtr(validated)
	u.ConfirmedAt = timePtr(confirmed)
	u.CompletedAt = timePtr(completed)
	if path.Valid {
		u.File = &domain.StoredFile{
			OriginalFilename: filename.String,
			ContentType:      contentType.String,
			SizeBytes:        size.Int64,
			StorageBackend:   backend.String,
			StoragePath:      path.String,
			SHA256:           sha.String,
		}
	}
	return &u, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
