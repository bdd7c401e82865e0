package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
// The prefix before the first underscore names the owning module.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeMessageQueueError  ErrorCode = "COMMON_015"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Aliases used across layers.
const (
	CodeUnknown        = ErrorCode("UNKNOWN")
	CodeOK             = ErrorCode("OK")
	CodeInternal       = ErrCodeInternal
	CodeInvalidParam   = ErrCodeBadRequest
	CodeUnauthorized   = ErrCodeUnauthorized
	CodeForbidden      = ErrCodeForbidden
	CodeNotFound       = ErrCodeNotFound
	CodeConflict       = ErrCodeConflict
	CodeRateLimit      = ErrCodeTooManyRequests
	CodeNotImplemented = ErrCodeNotImplemented

	CodeDBQueryError      = ErrCodeDatabaseError
	CodeCacheError        = ErrCodeCacheError
	CodeMessageQueueError = ErrCodeMessageQueueError
)

// Upload Module Error Codes
const (
	ErrCodeUploadNotFound          ErrorCode = "UPLOAD_001"
	ErrCodeUploadInvalidTransition ErrorCode = "UPLOAD_002"
	ErrCodeUploadStaleStatus       ErrorCode = "UPLOAD_003"
	ErrCodeUploadUnknownFileType   ErrorCode = "UPLOAD_004"
	ErrCodeUploadUnsupportedFormat ErrorCode = "UPLOAD_005"
	ErrCodeUploadColumnMapping     ErrorCode = "UPLOAD_006"
	ErrCodeUploadFileTooLarge      ErrorCode = "UPLOAD_007"
	ErrCodeUploadTooManyRows       ErrorCode = "UPLOAD_008"
	ErrCodeUploadExpired           ErrorCode = "UPLOAD_009"
	ErrCodeUploadThresholdInvalid  ErrorCode = "UPLOAD_010"
	ErrCodeUploadSummaryNotReady   ErrorCode = "UPLOAD_011"
)

// Molecule Module Error Codes
const (
	ErrCodeMoleculeNotFound            ErrorCode = "MOL_001"
	ErrCodeMoleculeAlreadyExists       ErrorCode = "MOL_002"
	ErrCodeMoleculeVersionConflict     ErrorCode = "MOL_003"
	ErrCodeFingerprintLengthMismatch   ErrorCode = "MOL_004"
	ErrCodeFingerprintTypeUnsupported  ErrorCode = "MOL_005"
	ErrCodeSimilaritySearchFailed      ErrorCode = "MOL_006"
	ErrCodeFingerprintGenerationFailed ErrorCode = "MOL_007"
)

// Chemistry Engine Error Codes
const (
	ErrCodeChemInvalidStructure    ErrorCode = "CHEM_001"
	ErrCodeChemCanonicalization    ErrorCode = "CHEM_002"
	ErrCodeChemIdentifierFailed    ErrorCode = "CHEM_003"
	ErrCodeChemDescriptorFailed    ErrorCode = "CHEM_004"
	ErrCodeChemEngineUnavailable   ErrorCode = "CHEM_005"
	ErrCodeChemUnsupportedInFormat ErrorCode = "CHEM_006"
)

// Storage Error Codes
const (
	ErrCodeStorageWriteFailed ErrorCode = "STORAGE_001"
	ErrCodeStorageReadFailed  ErrorCode = "STORAGE_002"
	ErrCodeStorageNotFound    ErrorCode = "STORAGE_003"
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeMessageQueueError:  http.StatusInternalServerError,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeUploadNotFound:          http.StatusNotFound,
	ErrCodeUploadInvalidTransition: http.StatusConflict,
	ErrCodeUploadStaleStatus:       http.StatusConflict,
	ErrCodeUploadUnknownFileType:   http.StatusBadRequest,
	ErrCodeUploadUnsupportedFormat: http.StatusUnsupportedMediaType,
	ErrCodeUploadColumnMapping:     http.StatusBadRequest,
	ErrCodeUploadFileTooLarge:      http.StatusRequestEntityTooLarge,
	ErrCodeUploadTooManyRows:       http.StatusBadRequest,
	ErrCodeUploadExpired:           http.StatusGone,
	ErrCodeUploadThresholdInvalid:  http.StatusBadRequest,
	ErrCodeUploadSummaryNotReady:   http.StatusNotFound,

	ErrCodeMoleculeNotFound:            http.StatusNotFound,
	ErrCodeMoleculeAlreadyExists:       http.StatusConflict,
	ErrCodeMoleculeVersionConflict:     http.StatusConflict,
	ErrCodeFingerprintLengthMismatch:   http.StatusBadRequest,
	ErrCodeFingerprintTypeUnsupported:  http.StatusBadRequest,
	ErrCodeSimilaritySearchFailed:      http.StatusInternalServerError,
	ErrCodeFingerprintGenerationFailed: http.StatusInternalServerError,

	ErrCodeChemInvalidStructure:    http.StatusUnprocessableEntity,
	ErrCodeChemCanonicalization:    http.StatusUnprocessableEntity,
	ErrCodeChemIdentifierFailed:    http.StatusUnprocessableEntity,
	ErrCodeChemDescriptorFailed:    http.StatusInternalServerError,
	ErrCodeChemEngineUnavailable:   http.StatusServiceUnavailable,
	ErrCodeChemUnsupportedInFormat: http.StatusBadRequest,

	ErrCodeStorageWriteFailed: http.StatusInternalServerError,
	ErrCodeStorageReadFailed:  http.StatusInternalServerError,
	ErrCodeStorageNotFound:    http.StatusNotFound,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeUnauthorized:       "unauthorized",
	ErrCodeForbidden:          "forbidden",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeMessageQueueError:  "message queue error",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeUploadNotFound:          "upload not found",
	ErrCodeUploadInvalidTransition: "invalid upload status transition",
	ErrCodeUploadStaleStatus:       "upload status changed concurrently",
	ErrCodeUploadUnknownFileType:   "unrecognized upload file type",
	ErrCodeUploadUnsupportedFormat: "unsupported upload format",
	ErrCodeUploadColumnMapping:     "invalid or missing column mapping",
	ErrCodeUploadFileTooLarge:      "upload file too large",
	ErrCodeUploadTooManyRows:       "upload has too many rows",
	ErrCodeUploadExpired:           "upload expired",
	ErrCodeUploadThresholdInvalid:  "invalid similarity threshold",
	ErrCodeUploadSummaryNotReady:   "upload summary not available",

	ErrCodeMoleculeNotFound:            "molecule not found",
	ErrCodeMoleculeAlreadyExists:       "molecule already exists",
	ErrCodeMoleculeVersionConflict:     "molecule was modified concurrently",
	ErrCodeFingerprintLengthMismatch:   "fingerprint length mismatch",
	ErrCodeFingerprintTypeUnsupported:  "unsupported fingerprint type",
	ErrCodeSimilaritySearchFailed:      "similarity search failed",
	ErrCodeFingerprintGenerationFailed: "failed to generate fingerprint",

	ErrCodeChemInvalidStructure:    "invalid chemical structure",
	ErrCodeChemCanonicalization:    "canonicalization failed",
	ErrCodeChemIdentifierFailed:    "identifier generation failed",
	ErrCodeChemDescriptorFailed:    "descriptor calculation failed",
	ErrCodeChemEngineUnavailable:   "chemistry engine unavailable",
	ErrCodeChemUnsupportedInFormat: "unsupported structure format",

	ErrCodeStorageWriteFailed: "failed to store file",
	ErrCodeStorageReadFailed:  "failed to read stored file",
	ErrCodeStorageNotFound:    "stored file not found",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.SplitN(string(code), "_", 2)
	if len(parts) > 1 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
