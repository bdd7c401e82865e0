package ingest

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/turtacn/molingest/internal/domain/molecule"
	"github.com/turtacn/molingest/internal/domain/upload"
)

const (
	sdfRecordEnd  = "$$$$"
	molBlockEnd   = "M  END"
	maxSDFLineLen = 16 << 20
)

// Data item tags consulted when a record has no mapped column.
var (
	sdfSMILESTags     = []string{"SMILES", "smiles", "Smiles"}
	sdfExternalIDTags = []string{"CAS", "external_id", "ID"}
	sdfNameTags       = []string{"Name", "NAME", "name"}
)

type sdfParser struct {
	chunker
	sc       *bufio.Scanner
	mapping  *upload.ColumnMapping
	rawLimit int
	index    int
}

func newSDFParser(src io.Reader, o options) *sdfParser {
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), maxSDFLineLen)
	p := &sdfParser{sc: sc, mapping: o.mapping, rawLimit: o.rawLimit}
	p.chunker = chunker{size: o.chunkSize, read: p.readRecord}
	return p
}

// readRecord collects lines up to the next $$$$ and turns them into a row.
// Records made only of blank lines are dropped without consuming an index.
func (p *sdfParser) readRecord() (*RawRow, error) {
	for {
		var lines []string
		terminated := false
		for p.sc.Scan() {
			line := strings.TrimRight(p.sc.Text(), "\r")
			if strings.TrimSpace(line) == sdfRecordEnd {
				terminated = true
				break
			}
			lines = append(lines, line)
		}
		if err := p.sc.Err(); err != nil {
			return nil, err
		}
		if isBlank(lines) {
			if !terminated {
				return nil, io.EOF
			}
			continue
		}
		p.index++
		row := p.buildRow(lines)
		markEncoding(row)
		row.Fields = upload.TruncateRaw(row.Fields, p.rawLimit)
		return row, nil
	}
}

func (p *sdfParser) buildRow(lines []string) *RawRow {
	if p.index == 1 && len(lines) > 0 {
		lines[0] = strings.TrimPrefix(lines[0], string(utf8BOM))
	}
	row := &RawRow{RowNumber: p.index, Format: molecule.FormatMolBlock, Fields: map[string]string{}}

	// the MOL block runs up to M  END, or up to the first data item when
	// the terminator is missing
	blockEnd := len(lines)
	dataStart := len(lines)
	for i, l := range lines {
		if strings.HasPrefix(l, molBlockEnd) {
			blockEnd = i + 1
			dataStart = i + 1
			break
		}
		if strings.HasPrefix(l, ">") && i >= 3 {
			blockEnd = i
			dataStart = i
			break
		}
	}
	block := lines[:blockEnd]
	items := parseDataItems(lines[dataStart:])
	for k, v := range items {
		row.Fields[k] = v
	}

	row.Name = strings.TrimSpace(block[0])
	if tag := p.mappedTag(func(m *upload.ColumnMapping) string { return m.Name }); tag != "" {
		row.Name = items[tag]
	} else if row.Name == "" {
		row.Name = firstItem(items, sdfNameTags)
	}
	if tag := p.mappedTag(func(m *upload.ColumnMapping) string { return m.ExternalID }); tag != "" {
		row.ExternalID = items[tag]
	} else {
		row.ExternalID = firstItem(items, sdfExternalIDTags)
	}
	if row.Name != "" {
		row.Fields["name"] = row.Name
	}

	smilesTag := p.mappedTag(func(m *upload.ColumnMapping) string { return m.SMILES })
	var smiles string
	if smilesTag != "" {
		smiles = items[smilesTag]
	} else {
		smiles = firstItem(items, sdfSMILESTags)
	}
	if smiles = strings.TrimSpace(smiles); smiles != "" {
		row.Structure = smiles
		row.Format = molecule.FormatSMILES
		return row
	}

	if !readableCountsLine(block) {
		row.Fields["error"] = "unreadable MOL block counts line"
		return row
	}
	row.Structure = strings.Join(block, "\n") + "\n"
	return row
}

// mappedTag returns the data item name a mapping selects, if any.
func (p *sdfParser) mappedTag(get func(*upload.ColumnMapping) string) string {
	if p.mapping == nil {
		return ""
	}
	return strings.TrimSpace(get(p.mapping))
}

// readableCountsLine checks the fourth line of a MOL block: V3000 blocks
// only need the version tag, V2000 blocks need numeric atom and bond counts.
func readableCountsLine(block []string) bool {
	if len(block) < 4 {
		return false
	}
	counts := block[3]
	if strings.Contains(counts, "V3000") {
		return true
	}
	if len(counts) < 6 {
		return false
	}
	atoms, err := strconv.Atoi(strings.TrimSpace(counts[0:3]))
	if err != nil || atoms < 0 {
		return false
	}
	if _, err := strconv.Atoi(strings.TrimSpace(counts[3:6])); err != nil {
		return false
	}
	return len(block) >= 4+atoms
}

// parseDataItems reads "> <TAG>" headers and the value lines under them up
// to the next blank line.
func parseDataItems(lines []string) map[string]string {
	items := map[string]string{}
	for i := 0; i < len(lines); i++ {
		l := lines[i]
		if !strings.HasPrefix(l, ">") {
			continue
		}
		open := strings.IndexByte(l, '<')
		end := strings.LastIndexByte(l, '>')
		if open < 0 || end <= open {
			continue
		}
		tag := strings.TrimSpace(l[open+1 : end])
		var value []string
		for i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != "" && !strings.HasPrefix(lines[i+1], ">") {
			i++
			value = append(value, lines[i])
		}
		if tag != "" {
			items[tag] = strings.Join(value, "\n")
		}
	}
	return items
}

func firstItem(items map[string]string, tags []string) string {
	for _, t := range tags {
		if v, ok := items[t]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func isBlank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}
