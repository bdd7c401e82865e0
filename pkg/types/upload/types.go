// Package upload defines the wire shapes of the upload API. The server
// renders them and the SDK decodes them.
package upload

import "time"

// Multipart form fields of POST /api/v1/uploads.
const (
	FormFile                = "file"
	FormName                = "name"
	FormFileType            = "file_type"
	FormDuplicateAction     = "duplicate_action"
	FormSimilarityThreshold = "similarity_threshold"
	FormColumnMapping       = "column_mapping"
)

// Headers read by the API.
const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderUserID    = "X-User-ID"
	HeaderRequestID = "X-Request-ID"
)

// ColumnMapping names the CSV columns holding each field.
type ColumnMapping struct {
	SMILES     string `json:"smiles"`
	Name       string `json:"name,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
}

// File describes the stored upload file.
type File struct {
	OriginalFilename string `json:"original_filename"`
	ContentType      string `json:"content_type"`
	SizeBytes        int64  `json:"size_bytes"`
	SHA256           string `json:"sha256"`
}

// Upload is an upload as returned by the API.
type Upload struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name,omitempty"`
	FileType            string         `json:"file_type"`
	Status              string         `json:"status"`
	DuplicateAction     string         `json:"duplicate_action"`
	SimilarityThreshold *float64       `json:"similarity_threshold,omitempty"`
	ColumnMapping       *ColumnMapping `json:"column_mapping,omitempty"`
	ErrorMessage        string         `json:"error_message,omitempty"`
	File                *File          `json:"file,omitempty"`
	Progress            *Progress      `json:"progress,omitempty"`
	CreatedBy           string         `json:"created_by,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	ValidatedAt         *time.Time     `json:"validated_at,omitempty"`
	ConfirmedAt         *time.Time     `json:"confirmed_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	ExpiresAt           time.Time      `json:"expires_at"`
}

// Progress carries the live counters of an upload.
type Progress struct {
	TotalRows        int        `json:"total_rows"`
	ProcessedRows    int        `json:"processed_rows"`
	ValidRows        int        `json:"valid_rows"`
	InvalidRows      int        `json:"invalid_rows"`
	DuplicateExact   int        `json:"duplicate_exact"`
	DuplicateSimilar int        `json:"duplicate_similar"`
	Phase            string     `json:"phase"`
	Percent          float64    `json:"percent"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RowError is one rejected row.
type RowError struct {
	RowNumber           int               `json:"row_number"`
	Code                string            `json:"error_code"`
	Message             string            `json:"error_message"`
	RawData             map[string]string `json:"raw_data,omitempty"`
	FieldName           string            `json:"field_name,omitempty"`
	DuplicateInChIKey   string            `json:"duplicate_inchi_key,omitempty"`
	DuplicateSimilarity *float64          `json:"duplicate_similarity,omitempty"`
}

// RowErrorPage is one page of row errors ordered by row number.
type RowErrorPage struct {
	Errors []RowError `json:"errors"`
	Total  int        `json:"total"`
	Offset int        `json:"offset"`
	Limit  int        `json:"limit"`
}

// CodeCount is one line of the error summary.
type CodeCount struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// Summary is the result of a completed upload.
type Summary struct {
	MoleculesCreated          int       `json:"molecules_created"`
	MoleculesUpdated          int       `json:"molecules_updated"`
	MoleculesSkipped          int       `json:"molecules_skipped"`
	ErrorsCount               int       `json:"errors_count"`
	ExactDuplicatesFound      int       `json:"exact_duplicates_found"`
	SimilarDuplicatesFound    int       `json:"similar_duplicates_found"`
	ProcessingDurationSeconds float64   `json:"processing_duration_seconds"`
	CreatedAt                 time.Time `json:"created_at"`
}

// CreateOptions are the optional settings sent with a new file.
type CreateOptions struct {
	Name                string
	FileType            string
	DuplicateAction     string
	SimilarityThreshold *float64
	ColumnMapping       *ColumnMapping
}
