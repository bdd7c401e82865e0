package chemistry

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/turtacn/molingest/internal/domain/molecule"
)

// formulaCounts counts atoms per element including hydrogens.
func (g *graph) formulaCounts() map[string]int {
	counts := make(map[string]int)
	for _, a := range g.atoms {
		if a.symbol == "*" {
			continue
		}
		counts[a.symbol]++
		if a.implicitH > 0 {
			counts["H"] += a.implicitH
		}
	}
	return counts
}

// hillFormula orders carbon, then hydrogen, then the rest alphabetically.
// Without carbon every element, hydrogen included, is alphabetical.
func hillFormula(counts map[string]int, charge int) string {
	var syms []string
	for s := range counts {
		syms = append(syms, s)
	}
	_, hasC := counts["C"]
	sort.Slice(syms, func(i, j int) bool {
		if hasC {
			pi, pj := hillPriority(syms[i]), hillPriority(syms[j])
			if pi != pj {
				return pi < pj
			}
		}
		return syms[i] < syms[j]
	})
	var sb strings.Builder
	for _, s := range syms {
		sb.WriteString(s)
		if counts[s] > 1 {
			sb.WriteString(strconv.Itoa(counts[s]))
		}
	}
	switch {
	case charge == 1:
		sb.WriteString("+")
	case charge == -1:
		sb.WriteString("-")
	case charge > 1:
		sb.WriteString("+" + strconv.Itoa(charge))
	case charge < -1:
		sb.WriteString(strconv.Itoa(charge))
	}
	return sb.String()
}

func hillPriority(s string) int {
	switch s {
	case "C":
		return 0
	case "H":
		return 1
	}
	return 2
}

func (g *graph) netCharge() int {
	c := 0
	for _, a := range g.atoms {
		c += a.charge
	}
	return c
}

func (g *graph) formula() string {
	return hillFormula(g.formulaCounts(), g.netCharge())
}

func (g *graph) descriptors() *molecule.Descriptors {
	counts := g.formulaCounts()
	mw := 0.0
	for s, n := range counts {
		mw += elements[s].weight * float64(n)
	}

	d := &molecule.Descriptors{
		MolecularWeight: math.Round(mw*1000) / 1000,
		Formula:         hillFormula(counts, g.netCharge()),
		HeavyAtomCount:  g.HeavyAtomCount(),
	}

	carbons, sp3 := 0, 0
	for i, a := range g.atoms {
		switch a.symbol {
		case "N", "O":
			d.HBA++
			if g.totalH(i) > 0 {
				d.HBD++
			}
		case "C":
			carbons++
			if !a.aromatic && g.allSingle(i) {
				sp3++
			}
		}
	}
	if carbons > 0 {
		f := math.Round(float64(sp3)/float64(carbons)*1000) / 1000
		d.FractionSP3 = &f
	}

	for _, b := range g.bonds {
		if b.order != bondSingle || b.ring {
			continue
		}
		if g.atoms[b.a].symbol == "H" || g.atoms[b.b].symbol == "H" {
			continue
		}
		if g.heavyDegree(b.a) < 2 || g.heavyDegree(b.b) < 2 {
			continue
		}
		if g.hasTriple(b.a) || g.hasTriple(b.b) {
			continue
		}
		d.RotatableBonds++
	}

	_, comps := g.components()
	d.RingCount = len(g.bonds) - len(g.atoms) + comps
	for _, cyc := range g.cycles {
		aromatic := true
		for _, a := range cyc {
			if !g.atoms[a].aromatic {
				aromatic = false
				break
			}
		}
		if aromatic {
			d.AromaticRingCount++
		}
	}
	return d
}

func (g *graph) allSingle(i int) bool {
	for _, bi := range g.adj[i] {
		if g.bonds[bi].order != bondSingle {
			return false
		}
	}
	return true
}

func (g *graph) hasTriple(i int) bool {
	for _, bi := range g.adj[i] {
		if g.bonds[bi].order == bondTriple {
			return true
		}
	}
	return false
}
