package upload

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/molingest/pkg/errors"
)

// FileType is the declared or detected format of an uploaded file.
type FileType string

const (
	FileTypeSDF        FileType = "sdf"
	FileTypeCSV        FileType = "csv"
	FileTypeSMILESList FileType = "smiles_list"
)

// ParseFileType accepts the persisted value or a common alias.
func ParseFileType(v string) (FileType, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "sdf", "sd", "mol":
		return FileTypeSDF, nil
	case "csv", "tsv":
		return FileTypeCSV, nil
	case "smiles_list", "smiles", "smi", "txt":
		return FileTypeSMILESList, nil
	}
	return "", errors.New(errors.ErrCodeUploadUnknownFileType, "unknown file type").WithDetail(v)
}

// DuplicateAction is the policy applied to rows classified as duplicates.
type DuplicateAction string

const (
	DuplicateSkip   DuplicateAction = "skip"
	DuplicateUpdate DuplicateAction = "update"
	DuplicateError  DuplicateAction = "error"
)

// ParseDuplicateAction defaults an empty value to skip.
func ParseDuplicateAction(v string) (DuplicateAction, error) {
	switch DuplicateAction(strings.ToLower(strings.TrimSpace(v))) {
	case "", DuplicateSkip:
		return DuplicateSkip, nil
	case DuplicateUpdate:
		return DuplicateUpdate, nil
	case DuplicateError:
		return DuplicateError, nil
	}
	return "", errors.InvalidParam("duplicate_action must be skip, update or error").WithDetail(v)
}

// ColumnMapping names the CSV columns holding each field. SMILES is required.
type ColumnMapping struct {
	SMILES     string `json:"smiles"`
	Name       string `json:"name,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
}

// Validate checks that the structure column is named.
func (m *ColumnMapping) Validate() error {
	if m == nil || strings.TrimSpace(m.SMILES) == "" {
		return errors.New(errors.ErrCodeUploadColumnMapping, "column mapping requires a smiles column")
	}
	return nil
}

// RoundThreshold rounds a similarity threshold to three decimals and checks
// it lies in [0, 1].
func RoundThreshold(v float64) (float64, error) {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return 0, errors.New(errors.ErrCodeUploadThresholdInvalid, "similarity threshold must be within [0, 1]")
	}
	return math.Round(v*1000) / 1000, nil
}

// StoredFile describes the bytes of an upload as kept by file storage.
type StoredFile struct {
	OriginalFilename string `json:"original_filename"`
	ContentType      string `json:"content_type"`
	SizeBytes        int64  `json:"size_bytes"`
	StorageBackend   string `json:"storage_backend"`
	StoragePath      string `json:"storage_path"`
	SHA256           string `json:"sha256"`
}

// Upload is one ingestion job.
type Upload struct {
	ID                  string
	TenantID            string
	CreatedBy           string
	Name                string
	FileType            FileType
	DuplicateAction     DuplicateAction
	SimilarityThreshold *float64
	ColumnMapping       *ColumnMapping
	Status              Status
	ErrorMessage        string
	File                *StoredFile

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ValidatedAt *time.Time
	ConfirmedAt *time.Time
	CompletedAt *time.Time
	ExpiresAt   time.Time
}

// NewUploadParams carries the caller-supplied settings of a new upload.
type NewUploadParams struct {
	TenantID            string
	CreatedBy           string
	Name                string
	FileType            FileType
	DuplicateAction     DuplicateAction
	SimilarityThreshold *float64
	ColumnMapping       *ColumnMapping
}

// NewUpload builds an INITIATED upload expiring ttl after now.
func NewUpload(p NewUploadParams, now time.Time, ttl time.Duration) (*Upload, error) {
	if strings.TrimSpace(p.TenantID) == "" {
		return nil, errors.InvalidParam("tenant id is required")
	}
	switch p.FileType {
	case FileTypeSDF, FileTypeCSV, FileTypeSMILESList:
	default:
		return nil, errors.New(errors.ErrCodeUploadUnknownFileType, "unknown file type").WithDetail(string(p.FileType))
	}
	action, err := ParseDuplicateAction(string(p.DuplicateAction))
	if err != nil {
		return nil, err
	}
	if p.FileType == FileTypeCSV {
		if err := p.ColumnMapping.Validate(); err != nil {
			return nil, err
		}
	}
	var threshold *float64
	if p.SimilarityThreshold != nil {
		t, err := RoundThreshold(*p.SimilarityThreshold)
		if err != nil {
			return nil, err
		}
		threshold = &t
	}

	now = now.UTC()
	return &Upload{
		ID:                  uuid.NewString(),
		TenantID:            p.TenantID,
		CreatedBy:           p.CreatedBy,
		Name:                p.Name,
		FileType:            p.FileType,
		DuplicateAction:     action,
		SimilarityThreshold: threshold,
		ColumnMapping:       p.ColumnMapping,
		Status:              StatusInitiated,
		CreatedAt:           now,
		UpdatedAt:           now,
		ExpiresAt:           now.Add(ttl),
	}, nil
}

// TransitionTo moves the upload to target and stamps the matching lifecycle
// timestamp. An edge outside the graph returns *InvalidTransitionError and
// leaves the upload untouched.
func (u *Upload) TransitionTo(target Status, now time.Time) error {
	if !u.Status.CanTransitionTo(target) {
		return &InvalidTransitionError{From: u.Status, To: target}
	}
	now = now.UTC()
	switch target {
	case StatusAwaitingConfirm, StatusValidationFailed:
		u.ValidatedAt = &now
	case StatusProcessing:
		u.ConfirmedAt = &now
	case StatusCompleted:
		u.CompletedAt = &now
	}
	u.Status = target
	u.UpdatedAt = now
	return nil
}

// Fail moves the upload to FAILED with message when the graph allows it.
func (u *Upload) Fail(message string, now time.Time) error {
	if err := u.TransitionTo(StatusFailed, now); err != nil {
		return err
	}
	u.ErrorMessage = message
	return nil
}

// IsExpired reports whether an unconfirmed upload is past its expiry.
func (u *Upload) IsExpired(now time.Time) bool {
	return u.Status == StatusAwaitingConfirm && !u.ExpiresAt.IsZero() && now.After(u.ExpiresAt)
}

// SimilarityEnabled reports whether near-duplicate detection applies.
func (u *Upload) SimilarityEnabled() bool {
	return u.SimilarityThreshold != nil && *u.SimilarityThreshold > 0
}

// DecideValidationOutcome applies the failure threshold to a completed pass.
// A ratio strictly above threshold fails validation; an empty file passes.
func DecideValidationOutcome(total, invalid int, threshold float64) Status {
	if total <= 0 {
		return StatusAwaitingConfirm
	}
	if float64(invalid)/float64(total) > threshold {
		return StatusValidationFailed
	}
	return StatusAwaitingConfirm
}
