package ingest

import (
	"context"
	"io"
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/turtacn/molingest/internal/domain/molecule"
	"github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/pkg/errors"
)

// DefaultChunkSize is the number of rows handed out per Next call.
const DefaultChunkSize = 100

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var (
	// ErrColumnMappingRequired is returned for delimited files without a
	// structure column mapping.
	ErrColumnMappingRequired = &errors.AppError{
		Code:    errors.ErrCodeUploadColumnMapping,
		Message: "CSV files require a column mapping with a smiles column",
	}

	// ErrMappedColumnMissing is returned when a mapped column is not in the header.
	ErrMappedColumnMissing = &errors.AppError{
		Code:    errors.ErrCodeUploadColumnMapping,
		Message: "mapped column not found in header",
	}
)

// RawRow is one record of an uploaded file before any chemistry happens.
type RawRow struct {
	// RowNumber is 1-based in source order. For delimited files the header
	// is row 1.
	RowNumber  int
	Structure  string
	Format     molecule.StructureFormat
	Name       string
	ExternalID string
	// Fields is the raw record with every value truncated for storage.
	Fields map[string]string
	// Defect is set when the record itself could not be read cleanly.
	Defect       upload.RowErrorCode
	DefectDetail string
}

// Parser hands out rows in chunks. Next returns io.EOF once the source is
// exhausted. A parser cannot be rewound; re-open the file to read it again.
type Parser interface {
	Next(ctx context.Context) ([]RawRow, error)
}

type options struct {
	chunkSize int
	mapping   *upload.ColumnMapping
	rawLimit  int
}

// Option configures NewParser.
type Option func(*options)

// WithChunkSize sets the number of rows per chunk.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithColumnMapping names the columns of a delimited file. For SDF files a
// mapped name or external id column selects the matching data item.
func WithColumnMapping(m *upload.ColumnMapping) Option {
	return func(o *options) { o.mapping = m }
}

// WithRawValueLimit bounds each value kept in RawRow.Fields.
func WithRawValueLimit(n int) Option {
	return func(o *options) { o.rawLimit = n }
}

// NewParser returns the parser for ft reading from src. Delimited files
// read their header here so mapping problems surface before any row.
func NewParser(ft upload.FileType, src io.Reader, opts ...Option) (Parser, error) {
	o := options{chunkSize: DefaultChunkSize, rawLimit: upload.DefaultRawValueLimit}
	for _, opt := range opts {
		opt(&o)
	}
	switch ft {
	case upload.FileTypeCSV:
		return newCSVParser(src, o)
	case upload.FileTypeSDF:
		return newSDFParser(src, o), nil
	case upload.FileTypeSMILESList:
		return newSMILESParser(src, o), nil
	}
	return nil, ErrUnknownFileType.WithDetail(string(ft))
}

// chunker collects rows produced one at a time by read into chunks and
// yields the processor between chunks.
type chunker struct {
	size int
	done bool
	read func() (*RawRow, error)
}

func (c *chunker) Next(ctx context.Context) ([]RawRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runtime.Gosched()
	if c.done {
		return nil, io.EOF
	}

	rows := make([]RawRow, 0, c.size)
	for len(rows) < c.size {
		row, err := c.read()
		if err == io.EOF {
			c.done = true
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, *row)
	}
	if len(rows) == 0 {
		return nil, io.EOF
	}
	return rows, nil
}

// markEncoding flags rows carrying invalid UTF-8 and replaces the broken
// sequences so the row can still be stored.
func markEncoding(row *RawRow) {
	bad := false
	clean := func(s string) string {
		if utf8.ValidString(s) {
			return s
		}
		bad = true
		return strings.ToValidUTF8(s, "�")
	}
	row.Structure = clean(row.Structure)
	row.Name = clean(row.Name)
	row.ExternalID = clean(row.ExternalID)
	for k, v := range row.Fields {
		ck := clean(k)
		cv := clean(v)
		if ck != k {
			delete(row.Fields, k)
		}
		row.Fields[ck] = cv
	}
	if bad && row.Defect == "" {
		row.Defect = upload.CodeEncodingError
		row.DefectDetail = "invalid UTF-8 sequence"
	}
}
