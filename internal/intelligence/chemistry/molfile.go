package chemistry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/turtacn/molingest/internal/domain/molecule"
	"github.com/turtacn/molingest/pkg/errors"
)

// parseMolBlock reads a V2000 MOL block. V3000 blocks are reported as
// unsupported in this format.
func parseMolBlock(text string) (*graph, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) < 4 {
		return nil, fmt.Errorf("mol block has %d lines, need at least 4", len(lines))
	}
	counts := lines[3]
	if strings.Contains(counts, "V3000") {
		return nil, errors.New(errors.ErrCodeChemUnsupportedInFormat, "V3000 mol blocks are not supported by the builtin engine")
	}
	nAtoms, nBonds, err := parseCountsLine(counts)
	if err != nil {
		return nil, err
	}
	if len(lines) < 4+nAtoms+nBonds {
		return nil, fmt.Errorf("mol block truncated: counts line declares %d atoms and %d bonds", nAtoms, nBonds)
	}

	g := &graph{format: molecule.FormatMolBlock, source: text}
	for i := 0; i < nAtoms; i++ {
		a, err := parseAtomLine(lines[4+i])
		if err != nil {
			return nil, fmt.Errorf("atom %d: %w", i+1, err)
		}
		g.addAtom(a)
	}
	for i := 0; i < nBonds; i++ {
		line := lines[4+nAtoms+i]
		a1, a2, order, err := parseBondLine(line)
		if err != nil {
			return nil, fmt.Errorf("bond %d: %w", i+1, err)
		}
		if a1 < 1 || a1 > nAtoms || a2 < 1 || a2 > nAtoms {
			return nil, fmt.Errorf("bond %d references missing atom", i+1)
		}
		if order == bondAromatic {
			g.atoms[a1-1].aromatic = true
			g.atoms[a2-1].aromatic = true
		}
		if err := g.addBond(a1-1, a2-1, order); err != nil {
			return nil, err
		}
	}

	for _, line := range lines[4+nAtoms+nBonds:] {
		if strings.HasPrefix(line, "M  END") {
			break
		}
		if strings.HasPrefix(line, "M  CHG") {
			if err := applyChargeLine(g, line); err != nil {
				return nil, err
			}
		}
	}

	if err := g.finish(); err != nil {
		return nil, err
	}
	return g, nil
}

func parseCountsLine(line string) (atoms, bonds int, err error) {
	if len(line) >= 6 {
		a, errA := strconv.Atoi(strings.TrimSpace(line[0:3]))
		b, errB := strconv.Atoi(strings.TrimSpace(line[3:6]))
		if errA == nil && errB == nil {
			return a, b, nil
		}
	}
	f := strings.Fields(line)
	if len(f) < 2 {
		return 0, 0, fmt.Errorf("unreadable counts line %q", line)
	}
	a, errA := strconv.Atoi(f[0])
	b, errB := strconv.Atoi(f[1])
	if errA != nil || errB != nil || a < 0 || b < 0 {
		return 0, 0, fmt.Errorf("unreadable counts line %q", line)
	}
	return a, b, nil
}

// molfileCharge decodes the V2000 atom-block charge field.
var molfileCharge = map[int]int{1: 3, 2: 2, 3: 1, 5: -1, 6: -2, 7: -3}

func parseAtomLine(line string) (atom, error) {
	f := strings.Fields(line)
	if len(f) < 4 {
		return atom{}, fmt.Errorf("unreadable atom line %q", line)
	}
	for _, coord := range f[:3] {
		if _, err := strconv.ParseFloat(coord, 64); err != nil {
			return atom{}, fmt.Errorf("bad coordinate %q", coord)
		}
	}
	sym := f[3]
	if sym == "R#" || sym == "A" || sym == "Q" || sym == "L" {
		sym = "*"
	}
	if _, ok := elements[sym]; !ok {
		return atom{}, fmt.Errorf("unknown element %q", f[3])
	}
	a := atom{symbol: sym, hCount: -1}
	if len(f) >= 6 {
		if code, err := strconv.Atoi(f[5]); err == nil {
			a.charge = molfileCharge[code]
		}
	}
	return a, nil
}

func parseBondLine(line string) (a1, a2, order int, err error) {
	if len(line) >= 9 {
		x, e1 := strconv.Atoi(strings.TrimSpace(line[0:3]))
		y, e2 := strconv.Atoi(strings.TrimSpace(line[3:6]))
		t, e3 := strconv.Atoi(strings.TrimSpace(line[6:9]))
		if e1 == nil && e2 == nil && e3 == nil {
			return x, y, molBondOrder(t), nil
		}
	}
	f := strings.Fields(line)
	if len(f) < 3 {
		return 0, 0, 0, fmt.Errorf("unreadable bond line %q", line)
	}
	x, e1 := strconv.Atoi(f[0])
	y, e2 := strconv.Atoi(f[1])
	t, e3 := strconv.Atoi(f[2])
	if e1 != nil || e2 != nil || e3 != nil {
		return 0, 0, 0, fmt.Errorf("unreadable bond line %q", line)
	}
	return x, y, molBondOrder(t), nil
}

func molBondOrder(t int) int {
	switch t {
	case 2:
		return bondDouble
	case 3:
		return bondTriple
	case 4:
		return bondAromatic
	}
	return bondSingle
}

// applyChargeLine handles "M  CHGnn8 aaa vvv ...", which supersedes the
// atom-block charges.
func applyChargeLine(g *graph, line string) error {
	f := strings.Fields(line)
	if len(f) < 3 {
		return fmt.Errorf("unreadable charge line %q", line)
	}
	n, err := strconv.Atoi(f[2])
	if err != nil || len(f) < 3+2*n {
		return fmt.Errorf("unreadable charge line %q", line)
	}
	for i := 0; i < n; i++ {
		idx, e1 := strconv.Atoi(f[3+2*i])
		chg, e2 := strconv.Atoi(f[4+2*i])
		if e1 != nil || e2 != nil || idx < 1 || idx > len(g.atoms) {
			return fmt.Errorf("unreadable charge line %q", line)
		}
		g.atoms[idx-1].charge = chg
	}
	return nil
}
