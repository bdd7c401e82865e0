package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/turtacn/molingest/internal/domain/molecule"
	"github.com/turtacn/molingest/internal/domain/upload"
)

// Header names tried, in order, when a column mapping has to be inferred.
var (
	smilesCandidates     = []string{"smiles", "canonical_smiles", "smi", "structure"}
	nameCandidates       = []string{"name", "compound_name", "title", "id"}
	externalIDCandidates = []string{"external_id", "cas", "compound_id", "registry_id"}
)

type csvParser struct {
	chunker
	r        *csv.Reader
	header   []string
	smiles   int
	name     int
	extID    int
	rowNum   int
	rawLimit int
}

func newCSVParser(src io.Reader, o options) (*csvParser, error) {
	if err := o.mapping.Validate(); err != nil {
		return nil, ErrColumnMappingRequired
	}

	br := bufio.NewReader(src)
	if bom, _ := br.Peek(len(utf8BOM)); bytes.Equal(bom, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	peek, _ := br.Peek(SniffSize)

	r := csv.NewReader(br)
	r.Comma = detectDelimiter(peek)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, ErrMappedColumnMissing.WithDetail("file has no header row")
	}
	if err != nil {
		return nil, ErrMappedColumnMissing.WithDetail("unreadable header row").WithCause(err)
	}
	header = lo.Map(header, func(h string, _ int) string { return strings.TrimSpace(h) })

	p := &csvParser{r: r, header: header, rowNum: 1, rawLimit: o.rawLimit, name: -1, extID: -1}
	if p.smiles = columnIndex(header, o.mapping.SMILES); p.smiles < 0 {
		return nil, ErrMappedColumnMissing.WithDetail(o.mapping.SMILES)
	}
	if o.mapping.Name != "" {
		if p.name = columnIndex(header, o.mapping.Name); p.name < 0 {
			return nil, ErrMappedColumnMissing.WithDetail(o.mapping.Name)
		}
	}
	if o.mapping.ExternalID != "" {
		if p.extID = columnIndex(header, o.mapping.ExternalID); p.extID < 0 {
			return nil, ErrMappedColumnMissing.WithDetail(o.mapping.ExternalID)
		}
	}
	p.chunker = chunker{size: o.chunkSize, read: p.readRow}
	return p, nil
}

func (p *csvParser) readRow() (*RawRow, error) {
	for {
		record, err := p.r.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		p.rowNum++
		row := &RawRow{RowNumber: p.rowNum, Format: molecule.FormatSMILES}

		if err != nil {
			if _, ok := err.(*csv.ParseError); !ok {
				return nil, err
			}
			row.Defect = upload.CodeMalformedRow
			row.DefectDetail = err.Error()
			row.Fields = upload.TruncateRaw(p.fields(record), p.rawLimit)
			markEncoding(row)
			return row, nil
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			// blank line inside the body
			continue
		}

		row.Structure = strings.TrimSpace(field(record, p.smiles))
		row.Name = strings.TrimSpace(field(record, p.name))
		row.ExternalID = strings.TrimSpace(field(record, p.extID))
		row.Fields = p.fields(record)
		if len(record) != len(p.header) {
			row.Defect = upload.CodeMalformedRow
			row.DefectDetail = "expected " + strconv.Itoa(len(p.header)) + " fields, got " + strconv.Itoa(len(record))
		}
		markEncoding(row)
		row.Fields = upload.TruncateRaw(row.Fields, p.rawLimit)
		return row, nil
	}
}

func (p *csvParser) fields(record []string) map[string]string {
	out := make(map[string]string, len(record))
	for i, v := range record {
		key := "column_" + strconv.Itoa(i+1)
		if i < len(p.header) && p.header[i] != "" {
			key = p.header[i]
		}
		out[key] = v
	}
	return out
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return record[i]
}

// columnIndex matches name exactly first, then case-insensitively.
func columnIndex(header []string, name string) int {
	name = strings.TrimSpace(name)
	if i := lo.IndexOf(header, name); i >= 0 {
		return i
	}
	for i, h := range header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

// detectDelimiter picks tab when the first line has more tabs than commas.
func detectDelimiter(sample []byte) rune {
	line := firstLine(sample)
	if strings.Count(line, "\t") > strings.Count(line, ",") {
		return '\t'
	}
	return ','
}

// ReadHeader returns the trimmed header columns of a delimited file sample.
func ReadHeader(sample []byte) ([]string, error) {
	sample = bytes.TrimPrefix(sample, utf8BOM)
	r := csv.NewReader(bytes.NewReader([]byte(firstLine(sample))))
	r.Comma = detectDelimiter(sample)
	r.LazyQuotes = true
	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	return lo.Map(header, func(h string, _ int) string { return strings.TrimSpace(h) }), nil
}

// InferColumnMapping guesses the mapping from header names. It returns
// ErrColumnMappingRequired when no structure column can be found.
func InferColumnMapping(header []string) (*upload.ColumnMapping, error) {
	pick := func(candidates []string, exclude ...string) string {
		for _, c := range candidates {
			for _, h := range header {
				if strings.EqualFold(h, c) && !lo.Contains(exclude, h) {
					return h
				}
			}
		}
		return ""
	}
	m := &upload.ColumnMapping{SMILES: pick(smilesCandidates)}
	if m.SMILES == "" {
		return nil, ErrColumnMappingRequired.WithDetail("no smiles column in header: " + strings.Join(header, ", "))
	}
	m.ExternalID = pick(externalIDCandidates, m.SMILES)
	m.Name = pick(nameCandidates, m.SMILES, m.ExternalID)
	return m, nil
}
