package ingest

import (
	"bufio"
	"io"
	"strings"

	"github.com/turtacn/molingest/internal/domain/molecule"
	"github.com/turtacn/molingest/internal/domain/upload"
)

type smilesParser struct {
	chunker
	sc       *bufio.Scanner
	line     int
	rawLimit int
}

func newSMILESParser(src io.Reader, o options) *smilesParser {
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), maxSDFLineLen)
	p := &smilesParser{sc: sc, rawLimit: o.rawLimit}
	p.chunker = chunker{size: o.chunkSize, read: p.readLine}
	return p
}

// readLine returns the next structure line. Blank and comment lines are
// skipped but still count towards the line number.
func (p *smilesParser) readLine() (*RawRow, error) {
	for p.sc.Scan() {
		p.line++
		text := strings.TrimRight(p.sc.Text(), "\r")
		if p.line == 1 {
			text = strings.TrimPrefix(text, string(utf8BOM))
		}
		text = strings.TrimSpace(text)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		smiles, name := splitSMILESLine(text)
		row := &RawRow{
			RowNumber: p.line,
			Structure: smiles,
			Format:    molecule.FormatSMILES,
			Name:      name,
			Fields:    map[string]string{"smiles": smiles},
		}
		if name != "" {
			row.Fields["name"] = name
		}
		markEncoding(row)
		row.Fields = upload.TruncateRaw(row.Fields, p.rawLimit)
		return row, nil
	}
	if err := p.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// splitSMILESLine separates "<smiles><TAB or spaces><name>". A tab wins
// over spaces so names may contain blanks.
func splitSMILESLine(line string) (smiles, name string) {
	if i := strings.IndexByte(line, '\t'); i >= 0 {
		return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])
	}
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i], strings.TrimSpace(line[i+1:])
	}
	return line, ""
}
