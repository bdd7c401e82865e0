// Package ingest turns uploaded files into chunks of raw rows. It knows the
// three accepted layouts (SDF, delimited text with a structure column and
// plain SMILES lists) and nothing about chemistry beyond recognising them.
package ingest

import (
	"bufio"
	"bytes"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/pkg/errors"
)

// SniffSize is how much of a file DetectFileType looks at.
const SniffSize = 4096

var (
	// ErrUnsupportedSpreadsheet rejects binary workbooks.
	ErrUnsupportedSpreadsheet = &errors.AppError{
		Code:    errors.ErrCodeUploadUnsupportedFormat,
		Message: "spreadsheet files are not supported, export the sheet as CSV",
	}

	// ErrUnknownFileType is returned when neither the name nor the content
	// identifies the file.
	ErrUnknownFileType = &errors.AppError{
		Code:    errors.ErrCodeUploadUnknownFileType,
		Message: "could not determine file type",
	}
)

var (
	zipMagic = []byte{'P', 'K', 0x03, 0x04}
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0}

	sdfMarkers = [][]byte{
		[]byte("$$$$"),
		[]byte("M  END"),
		[]byte("V2000"),
		[]byte("V3000"),
	}

	// first whitespace-delimited token of a SMILES list line
	smilesToken = regexp.MustCompile(`^[A-Za-z0-9@+\-\[\]()=#$%/\\.:*~]+$`)
	smilesAtom  = regexp.MustCompile(`Cl|Br|[BCNOPSFIcnops]`)
)

var extensionTypes = map[string]upload.FileType{
	".sdf":    upload.FileTypeSDF,
	".sd":     upload.FileTypeSDF,
	".mol":    upload.FileTypeSDF,
	".csv":    upload.FileTypeCSV,
	".tsv":    upload.FileTypeCSV,
	".txt":    upload.FileTypeSMILESList,
	".smi":    upload.FileTypeSMILESList,
	".smiles": upload.FileTypeSMILESList,
}

// DetectFileType classifies a file by its extension, falling back to the
// first SniffSize bytes of sample. Spreadsheets are rejected with
// ErrUnsupportedSpreadsheet; anything unrecognised is ErrUnknownFileType.
func DetectFileType(filename string, sample []byte) (upload.FileType, error) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	if ft, ok := extensionTypes[ext]; ok {
		return ft, nil
	}
	if ext == ".xlsx" || ext == ".xls" {
		return "", ErrUnsupportedSpreadsheet.WithDetail(filename)
	}

	if len(sample) > SniffSize {
		sample = sample[:SniffSize]
	}
	if len(sample) == 0 {
		return "", ErrUnknownFileType.WithDetail(filename)
	}
	if bytes.HasPrefix(sample, zipMagic) || bytes.HasPrefix(sample, oleMagic) {
		return "", ErrUnsupportedSpreadsheet.WithDetail(filename)
	}
	for _, m := range sdfMarkers {
		if bytes.Contains(sample, m) {
			return upload.FileTypeSDF, nil
		}
	}

	first := firstLine(sample)
	if strings.ContainsAny(first, ",\t") && strings.Contains(strings.ToLower(first), "smiles") {
		return upload.FileTypeCSV, nil
	}
	if countSMILESLines(sample, 10) >= 3 {
		return upload.FileTypeSMILESList, nil
	}
	return "", ErrUnknownFileType.WithDetail(filename)
}

// ContentTypeFor is the MIME type files of ft are stored with.
func ContentTypeFor(ft upload.FileType) string {
	switch ft {
	case upload.FileTypeSDF:
		return "chemical/x-mdl-sdfile"
	case upload.FileTypeCSV:
		return "text/csv"
	case upload.FileTypeSMILESList:
		return "text/plain"
	}
	return "application/octet-stream"
}

func firstLine(sample []byte) string {
	sample = bytes.TrimPrefix(sample, utf8BOM)
	if i := bytes.IndexByte(sample, '\n'); i >= 0 {
		sample = sample[:i]
	}
	return strings.TrimRight(string(sample), "\r")
}

// countSMILESLines inspects up to limit non-blank, non-comment lines and
// counts the ones that look like a SMILES string with an optional name.
func countSMILESLines(sample []byte, limit int) int {
	sc := bufio.NewScanner(bytes.NewReader(sample))
	seen, hits := 0, 0
	for sc.Scan() && seen < limit {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seen++
		if looksLikeSMILES(line) {
			hits++
		}
	}
	return hits
}

func looksLikeSMILES(line string) bool {
	token := line
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		token = line[:i]
	}
	return smilesToken.MatchString(token) && smilesAtom.MatchString(token)
}
