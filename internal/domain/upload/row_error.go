package upload

import (
	"sort"
	"time"
	"unicode/utf8"
)

// RowErrorCode is the structured, stable code stored with each failing row.
// Values are part of the client-visible audit trail and must not change.
type RowErrorCode string

const (
	// parsing
	CodeMissingRequiredField RowErrorCode = "missing_required_field"
	CodeMalformedRow         RowErrorCode = "malformed_row"
	CodeEncodingError        RowErrorCode = "encoding_error"

	// validation
	CodeTooLong                    RowErrorCode = "too_long"
	CodeInvalidStructure           RowErrorCode = "invalid_structure"
	CodeTooLarge                   RowErrorCode = "too_large"
	CodeNoAtoms                    RowErrorCode = "no_atoms"
	CodeCanonicalizationFailed     RowErrorCode = "canonicalization_failed"
	CodeIdentifierGenerationFailed RowErrorCode = "identifier_generation_failed"

	// duplicates
	CodeExactDuplicate   RowErrorCode = "exact_duplicate"
	CodeSimilarDuplicate RowErrorCode = "similar_duplicate"
	CodeDuplicateInBatch RowErrorCode = "duplicate_in_batch"

	// processing
	CodeDescriptorFailed  RowErrorCode = "descriptor_calculation_failed"
	CodeFingerprintFailed RowErrorCode = "fingerprint_calculation_failed"

	// persistence
	CodeDBInsertFailed        RowErrorCode = "db_insert_failed"
	CodeDBConstraintViolation RowErrorCode = "db_constraint_violation"
)

var rowErrorMessages = map[RowErrorCode]string{
	CodeMissingRequiredField:       "Required field is missing or empty",
	CodeMalformedRow:               "Row structure is malformed",
	CodeEncodingError:              "Character encoding error",
	CodeTooLong:                    "SMILES string exceeds maximum length (2000 chars)",
	CodeInvalidStructure:           "Invalid chemical structure",
	CodeTooLarge:                   "Molecule exceeds maximum size (1000 heavy atoms)",
	CodeNoAtoms:                    "Molecule has no atoms",
	CodeCanonicalizationFailed:     "Failed to canonicalize SMILES",
	CodeIdentifierGenerationFailed: "Failed to generate InChI/InChIKey",
	CodeExactDuplicate:             "Molecule with same InChIKey already exists",
	CodeSimilarDuplicate:           "Similar molecule found above threshold",
	CodeDuplicateInBatch:           "Duplicate molecule within this upload",
	CodeDescriptorFailed:           "Failed to calculate molecular descriptors",
	CodeFingerprintFailed:          "Failed to calculate molecular fingerprint",
	CodeDBInsertFailed:             "Failed to insert into database",
	CodeDBConstraintViolation:      "Database constraint violation",
}

// Message returns the human-readable message for c, with detail appended
// after a colon when present.
func (c RowErrorCode) Message(detail string) string {
	base, ok := rowErrorMessages[c]
	if !ok {
		base = "Unknown error: " + string(c)
	}
	if detail != "" {
		return base + ": " + detail
	}
	return base
}

// IsDuplicate reports whether c is one of the duplicate codes.
func (c RowErrorCode) IsDuplicate() bool {
	return c == CodeExactDuplicate || c == CodeSimilarDuplicate || c == CodeDuplicateInBatch
}

// RowError is the persisted record of one failing row. It is written once
// and never mutated; (UploadID, RowNumber) is unique.
type RowError struct {
	UploadID            string            `json:"upload_id"`
	RowNumber           int               `json:"row_number"`
	Code                RowErrorCode      `json:"error_code"`
	Message             string            `json:"error_message"`
	RawData             map[string]string `json:"raw_data,omitempty"`
	FieldName           string            `json:"field_name,omitempty"`
	DuplicateInChIKey   string            `json:"duplicate_inchi_key,omitempty"`
	DuplicateSimilarity *float64          `json:"duplicate_similarity,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
}

// DefaultRawValueLimit bounds each raw value kept in RowError.RawData.
const DefaultRawValueLimit = 100

// TruncateValue cuts v to limit runes and marks the cut with "...".
func TruncateValue(v string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(v) <= limit {
		return v
	}
	runes := []rune(v)
	return string(runes[:limit]) + "..."
}

// TruncateRaw copies fields with every value truncated to limit.
func TruncateRaw(fields map[string]string, limit int) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = TruncateValue(v, limit)
	}
	return out
}

// CodeCount is one entry of a per-code error summary.
type CodeCount struct {
	Code  RowErrorCode `json:"code"`
	Count int          `json:"count"`
}

// SortCodeCounts orders by descending count, then by code.
func SortCodeCounts(cc []CodeCount) {
	sort.Slice(cc, func(i, j int) bool {
		if cc[i].Count != cc[j].Count {
			return cc[i].Count > cc[j].Count
		}
		return cc[i].Code < cc[j].Code
	})
}
