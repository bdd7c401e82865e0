package chemistry

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/turtacn/molingest/internal/domain/molecule"
)

// ─────────────────────────────────────────────────────────────────────────────
// Morgan (circular) fingerprint
// ─────────────────────────────────────────────────────────────────────────────

// morganFingerprint hashes each heavy atom's environment at radius 0..radius
// into a bit vector of nBits, ECFP style. Identifiers are mixed with xxhash.
func (g *graph) morganFingerprint(radius, nBits int) *molecule.Fingerprint {
	h := g.withoutExplicitHydrogens()
	fp := molecule.NewEmptyFingerprint(molecule.FingerprintMorgan, nBits)

	ids := make([]uint64, len(h.atoms))
	for i := range h.atoms {
		ids[i] = h.morganSeed(i)
		fp.SetBit(int(ids[i] % uint64(nBits)))
	}

	buf := make([]byte, 8)
	for r := 1; r <= radius; r++ {
		next := make([]uint64, len(ids))
		for i := range h.atoms {
			type pair struct{ order, id uint64 }
			nb := make([]pair, 0, len(h.adj[i]))
			for _, bi := range h.adj[i] {
				b := h.bonds[bi]
				nb = append(nb, pair{uint64(b.order), ids[b.other(i)]})
			}
			sort.Slice(nb, func(x, y int) bool {
				if nb[x].order != nb[y].order {
					return nb[x].order < nb[y].order
				}
				return nb[x].id < nb[y].id
			})

			d := xxhash.New()
			binary.LittleEndian.PutUint64(buf, uint64(r))
			_, _ = d.Write(buf)
			binary.LittleEndian.PutUint64(buf, ids[i])
			_, _ = d.Write(buf)
			for _, p := range nb {
				binary.LittleEndian.PutUint64(buf, p.order)
				_, _ = d.Write(buf)
				binary.LittleEndian.PutUint64(buf, p.id)
				_, _ = d.Write(buf)
			}
			next[i] = d.Sum64()
			fp.SetBit(int(next[i] % uint64(nBits)))
		}
		ids = next
	}
	return fp
}

func (g *graph) morganSeed(i int) uint64 {
	a := g.atoms[i]
	ring, arom := uint64(0), uint64(0)
	if g.ringAtoms[i] {
		ring = 1
	}
	if a.aromatic {
		arom = 1
	}
	var b [48]byte
	binary.LittleEndian.PutUint64(b[0:], uint64(elements[a.symbol].number))
	binary.LittleEndian.PutUint64(b[8:], uint64(len(g.adj[i])))
	binary.LittleEndian.PutUint64(b[16:], uint64(g.totalH(i)))
	binary.LittleEndian.PutUint64(b[24:], uint64(int64(a.charge)))
	binary.LittleEndian.PutUint64(b[32:], ring)
	binary.LittleEndian.PutUint64(b[40:], arom)
	return xxhash.Sum64(b[:])
}

// ─────────────────────────────────────────────────────────────────────────────
// Structural keys
// ─────────────────────────────────────────────────────────────────────────────

type structuralKey struct {
	bit  int
	test func(g *graph) bool
}

// structuralKeys is a 166-bit key set of element and functional-group
// features. Bit positions follow the MACCS layout where a key has an obvious
// MACCS counterpart.
var structuralKeys = []structuralKey{
	{1, func(g *graph) bool { return g.hasElement("B") }},
	{8, func(g *graph) bool { return g.hasRingSize(4) }},
	{11, func(g *graph) bool { return g.hasRingSize(4) }},
	{22, func(g *graph) bool { return g.hasRingSize(3) }},
	{29, func(g *graph) bool { return g.hasElement("P") }},
	{42, func(g *graph) bool { return g.hasElement("F") }},
	{46, func(g *graph) bool { return g.hasElement("Br") }},
	{49, func(g *graph) bool { return g.hasCharge() }},
	{88, func(g *graph) bool { return g.hasElement("S") }},
	{96, func(g *graph) bool { return g.hasRingSize(5) }},
	{103, func(g *graph) bool { return g.hasElement("Cl") }},
	{107, func(g *graph) bool { return g.hasHalogen() }},
	{125, func(g *graph) bool { return g.countAromaticRings() > 1 }},
	{134, func(g *graph) bool { return g.hasHalogen() }},
	{139, func(g *graph) bool { return g.hasHydroxyl() }},
	{145, func(g *graph) bool { return g.hasRingSize(6) }},
	{154, func(g *graph) bool { return g.hasDoubleBond("C", "O") }},
	{159, func(g *graph) bool { return g.countElement("O") > 1 }},
	{160, func(g *graph) bool { return g.hasMethyl() }},
	{161, func(g *graph) bool { return g.hasElement("N") }},
	{162, func(g *graph) bool { return g.countAromaticRings() > 0 }},
	{163, func(g *graph) bool { return g.hasRingSize(6) }},
	{164, func(g *graph) bool { return g.hasElement("O") }},
	{165, func(g *graph) bool { return len(g.cycles) > 0 }},
	{2, func(g *graph) bool { return g.hasElement("I") }},
	{3, func(g *graph) bool { return g.hasElement("Si") }},
	{4, func(g *graph) bool { return g.hasTripleBond() }},
	{5, func(g *graph) bool { return g.hasDoubleBond("C", "C") }},
	{6, func(g *graph) bool { return g.hasDoubleBond("C", "N") }},
	{7, func(g *graph) bool { return g.hasNitrile() }},
	{9, func(g *graph) bool { return g.hasDoubleBond("S", "O") }},
	{10, func(g *graph) bool { return g.hasDoubleBond("N", "O") }},
	{12, func(g *graph) bool { return g.hasAmide() }},
	{13, func(g *graph) bool { return g.hasPrimaryAmine() }},
	{14, func(g *graph) bool { return g.hasRingHeteroatom() }},
	{15, func(g *graph) bool { return g.countElement("N") > 1 }},
	{16, func(g *graph) bool { return g.hasFusedRings() }},
	{17, func(g *graph) bool { return g.hasMetal() }},
	{18, func(g *graph) bool { return g.HeavyAtomCount() > 20 }},
}

func (g *graph) structuralKeys() *molecule.Fingerprint {
	h := g.withoutExplicitHydrogens()
	fp := molecule.NewEmptyFingerprint(molecule.FingerprintMACCS, molecule.MACCSBits)
	for _, k := range structuralKeys {
		if k.test(h) {
			fp.SetBit(k.bit)
		}
	}
	return fp
}

func (g *graph) hasElement(sym string) bool { return g.countElement(sym) > 0 }

func (g *graph) countElement(sym string) int {
	n := 0
	for _, a := range g.atoms {
		if a.symbol == sym {
			n++
		}
	}
	return n
}

func (g *graph) hasHalogen() bool {
	return g.hasElement("F") || g.hasElement("Cl") || g.hasElement("Br") || g.hasElement("I")
}

func (g *graph) hasCharge() bool {
	for _, a := range g.atoms {
		if a.charge != 0 {
			return true
		}
	}
	return false
}

func (g *graph) hasMetal() bool {
	for _, a := range g.atoms {
		if organicSubset[a.symbol] || a.symbol == "H" || a.symbol == "Si" || a.symbol == "Se" || a.symbol == "As" || a.symbol == "Te" {
			continue
		}
		return true
	}
	return false
}

func (g *graph) hasRingSize(n int) bool {
	for _, c := range g.cycles {
		if len(c) == n {
			return true
		}
	}
	return false
}

func (g *graph) countAromaticRings() int {
	n := 0
	for _, c := range g.cycles {
		all := true
		for _, a := range c {
			if !g.atoms[a].aromatic {
				all = false
				break
			}
		}
		if all {
			n++
		}
	}
	return n
}

func (g *graph) hasFusedRings() bool {
	count := make(map[int]int)
	for _, c := range g.cycles {
		for _, a := range c {
			count[a]++
			if count[a] > 1 {
				return true
			}
		}
	}
	return false
}

func (g *graph) hasRingHeteroatom() bool {
	for i, a := range g.atoms {
		if g.ringAtoms[i] && a.symbol != "C" {
			return true
		}
	}
	return false
}

func (g *graph) hasDoubleBond(x, y string) bool {
	for _, b := range g.bonds {
		if b.order != bondDouble {
			continue
		}
		sa, sb := g.atoms[b.a].symbol, g.atoms[b.b].symbol
		if (sa == x && sb == y) || (sa == y && sb == x) {
			return true
		}
	}
	return false
}

func (g *graph) hasTripleBond() bool {
	for _, b := range g.bonds {
		if b.order == bondTriple {
			return true
		}
	}
	return false
}

func (g *graph) hasNitrile() bool {
	for _, b := range g.bonds {
		if b.order != bondTriple {
			continue
		}
		sa, sb := g.atoms[b.a].symbol, g.atoms[b.b].symbol
		if (sa == "C" && sb == "N") || (sa == "N" && sb == "C") {
			return true
		}
	}
	return false
}

func (g *graph) hasHydroxyl() bool {
	for i, a := range g.atoms {
		if a.symbol == "O" && g.allSingle(i) && g.totalH(i) > 0 {
			return true
		}
	}
	return false
}

func (g *graph) hasPrimaryAmine() bool {
	for i, a := range g.atoms {
		if a.symbol == "N" && !a.aromatic && g.totalH(i) == 2 {
			return true
		}
	}
	return false
}

func (g *graph) hasMethyl() bool {
	for i, a := range g.atoms {
		if a.symbol == "C" && g.totalH(i) == 3 && len(g.adj[i]) == 1 {
			return true
		}
	}
	return false
}

// hasAmide finds N-C(=O).
func (g *graph) hasAmide() bool {
	for i, a := range g.atoms {
		if a.symbol != "C" {
			continue
		}
		carbonyl, nitrogen := false, false
		for _, bi := range g.adj[i] {
			b := g.bonds[bi]
			other := g.atoms[b.other(i)].symbol
			if other == "O" && b.order == bondDouble {
				carbonyl = true
			}
			if other == "N" && b.order == bondSingle {
				nitrogen = true
			}
		}
		if carbonyl && nitrogen {
			return true
		}
	}
	return false
}
