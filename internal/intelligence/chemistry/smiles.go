package chemistry

import (
	"fmt"
	"strconv"

	"github.com/turtacn/molingest/internal/domain/molecule"
)

type ringOpening struct {
	atom  int
	order int
}

// parseSMILES reads a SMILES string into a graph. Stereo marks are accepted
// and dropped. The returned error text is shown to users as row detail.
func parseSMILES(s string) (*graph, error) {
	g := &graph{format: molecule.FormatSMILES, source: s}

	prev := -1
	pending := 0
	var branches []int
	rings := make(map[int]ringOpening)

	connect := func(cur int) error {
		if prev < 0 {
			if pending != 0 {
				return fmt.Errorf("bond without preceding atom")
			}
			return nil
		}
		order := pending
		if order == 0 {
			order = bondSingle
			if g.atoms[prev].aromatic && g.atoms[cur].aromatic {
				order = bondAromatic
			}
		}
		pending = 0
		return g.addBond(prev, cur, order)
	}

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '(':
			if prev < 0 {
				return nil, fmt.Errorf("branch opened without an atom at position %d", i)
			}
			branches = append(branches, prev)
			i++

		case c == ')':
			if len(branches) == 0 {
				return nil, fmt.Errorf("unbalanced parenthesis at position %d", i)
			}
			if pending != 0 {
				return nil, fmt.Errorf("dangling bond before position %d", i)
			}
			prev = branches[len(branches)-1]
			branches = branches[:len(branches)-1]
			i++

		case c == '.':
			if pending != 0 {
				return nil, fmt.Errorf("dangling bond before position %d", i)
			}
			prev = -1
			i++

		case c == '-' || c == '=' || c == '#' || c == '$' || c == ':' || c == '/' || c == '\\':
			if pending != 0 {
				return nil, fmt.Errorf("consecutive bonds at position %d", i)
			}
			pending = bondOrderOf(c)
			i++

		case c == '%' || isDigit(c):
			num, width, err := ringNumber(s, i)
			if err != nil {
				return nil, err
			}
			if prev < 0 {
				return nil, fmt.Errorf("ring closure %d without an atom", num)
			}
			if open, ok := rings[num]; ok {
				order := open.order
				if pending != 0 {
					if order != 0 && order != pending {
						return nil, fmt.Errorf("conflicting bond orders on ring closure %d", num)
					}
					order = pending
				}
				if order == 0 {
					order = bondSingle
					if g.atoms[open.atom].aromatic && g.atoms[prev].aromatic {
						order = bondAromatic
					}
				}
				if err := g.addBond(open.atom, prev, order); err != nil {
					return nil, err
				}
				delete(rings, num)
			} else {
				rings[num] = ringOpening{atom: prev, order: pending}
			}
			pending = 0
			i += width

		case c == '[':
			a, width, err := parseBracketAtom(s, i)
			if err != nil {
				return nil, err
			}
			cur := g.addAtom(a)
			if err := connect(cur); err != nil {
				return nil, err
			}
			prev = cur
			i += width

		default:
			a, width, err := parseOrganicAtom(s, i)
			if err != nil {
				return nil, err
			}
			cur := g.addAtom(a)
			if err := connect(cur); err != nil {
				return nil, err
			}
			prev = cur
			i += width
		}
	}

	if len(branches) > 0 {
		return nil, fmt.Errorf("unclosed branch")
	}
	if pending != 0 {
		return nil, fmt.Errorf("dangling bond at end of input")
	}
	for num := range rings {
		return nil, fmt.Errorf("unclosed ring %d", num)
	}
	if err := g.finish(); err != nil {
		return nil, err
	}
	return g, nil
}

func bondOrderOf(c byte) int {
	switch c {
	case '=':
		return bondDouble
	case '#':
		return bondTriple
	case '$':
		return bondTriple
	case ':':
		return bondAromatic
	}
	return bondSingle
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func ringNumber(s string, i int) (num, width int, err error) {
	if s[i] != '%' {
		return int(s[i] - '0'), 1, nil
	}
	if i+2 >= len(s) || !isDigit(s[i+1]) || !isDigit(s[i+2]) {
		return 0, 0, fmt.Errorf("malformed ring number at position %d", i)
	}
	n, _ := strconv.Atoi(s[i+1 : i+3])
	return n, 3, nil
}

func parseOrganicAtom(s string, i int) (atom, int, error) {
	if i+1 < len(s) {
		two := s[i : i+2]
		if two == "Cl" || two == "Br" {
			return atom{symbol: two, hCount: -1}, 2, nil
		}
	}
	one := s[i : i+1]
	if organicSubset[one] {
		return atom{symbol: one, hCount: -1}, 1, nil
	}
	if el, ok := aromaticSymbols[one]; ok {
		return atom{symbol: el, aromatic: true, hCount: -1}, 1, nil
	}
	return atom{}, 0, fmt.Errorf("unknown atom symbol %q at position %d", one, i)
}

// parseBracketAtom reads [isotope? symbol chiral? hcount? charge? class?].
func parseBracketAtom(s string, start int) (atom, int, error) {
	end := start + 1
	for end < len(s) && s[end] != ']' {
		if s[end] == '[' {
			return atom{}, 0, fmt.Errorf("nested bracket at position %d", end)
		}
		end++
	}
	if end >= len(s) {
		return atom{}, 0, fmt.Errorf("unclosed bracket atom at position %d", start)
	}
	body := s[start+1 : end]
	width := end - start + 1
	a := atom{bracket: true}
	p := 0

	for p < len(body) && isDigit(body[p]) {
		p++
	}
	if p > 0 {
		a.isotope, _ = strconv.Atoi(body[:p])
	}

	sym, n, err := bracketSymbol(body[p:])
	if err != nil {
		return atom{}, 0, fmt.Errorf("%v in bracket atom at position %d", err, start)
	}
	p += n
	if el, ok := aromaticSymbols[sym]; ok {
		a.symbol, a.aromatic = el, true
	} else {
		a.symbol = sym
	}

	for p < len(body) && body[p] == '@' {
		p++
	}
	// extended chirality classes such as @TH1 or @SP2
	if p > 0 && body[p-1] == '@' && p+1 < len(body) {
		switch body[p : p+2] {
		case "TH", "AL", "SP", "TB", "OH":
			p += 2
			for p < len(body) && isDigit(body[p]) {
				p++
			}
		}
	}

	if p < len(body) && body[p] == 'H' {
		p++
		a.hCount = 1
		q := p
		for q < len(body) && isDigit(body[q]) {
			q++
		}
		if q > p {
			a.hCount, _ = strconv.Atoi(body[p:q])
			p = q
		}
	}

	if p < len(body) && (body[p] == '+' || body[p] == '-') {
		sign := 1
		if body[p] == '-' {
			sign = -1
		}
		mark := body[p]
		p++
		q := p
		for q < len(body) && isDigit(body[q]) {
			q++
		}
		switch {
		case q > p:
			n, _ := strconv.Atoi(body[p:q])
			a.charge = sign * n
			p = q
		default:
			a.charge = sign
			for p < len(body) && body[p] == mark {
				a.charge += sign
				p++
			}
		}
	}

	if p < len(body) && body[p] == ':' {
		p++
		for p < len(body) && isDigit(body[p]) {
			p++
		}
	}

	if p != len(body) {
		return atom{}, 0, fmt.Errorf("unexpected %q in bracket atom at position %d", body[p:], start)
	}
	return a, width, nil
}

func bracketSymbol(s string) (string, int, error) {
	if s == "" {
		return "", 0, fmt.Errorf("missing element")
	}
	if s[0] == '*' {
		return "*", 1, nil
	}
	if len(s) >= 2 {
		if _, ok := aromaticSymbols[s[:2]]; ok {
			return s[:2], 2, nil
		}
		if s[0] >= 'A' && s[0] <= 'Z' && s[1] >= 'a' && s[1] <= 'z' {
			if _, ok := elements[s[:2]]; ok {
				return s[:2], 2, nil
			}
		}
	}
	one := s[:1]
	if _, ok := aromaticSymbols[one]; ok {
		return one, 1, nil
	}
	if _, ok := elements[one]; ok && one != "*" {
		return one, 1, nil
	}
	return "", 0, fmt.Errorf("unknown element %q", one)
}
