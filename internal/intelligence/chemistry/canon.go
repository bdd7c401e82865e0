package chemistry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// canonicalRanks assigns every atom a distinct rank that depends only on the
// connectivity, never on input order. Symmetric atoms are split by promoting
// the first member of the lowest tied class and refining again.
func (g *graph) canonicalRanks() []int {
	n := len(g.atoms)
	inv := make([]uint64, n)
	for i := range g.atoms {
		inv[i] = g.atomInvariant(i)
	}
	ranks := rankValues(inv)
	ranks = g.refine(ranks)

	for {
		tied := lowestTiedClass(ranks)
		if tied < 0 {
			return ranks
		}
		for i := range ranks {
			ranks[i] *= 2
		}
		for i := range ranks {
			if ranks[i] == tied*2 {
				ranks[i]--
				break
			}
		}
		ranks = g.refine(rankValues(toUint(ranks)))
	}
}

func (g *graph) atomInvariant(i int) uint64 {
	a := g.atoms[i]
	ring := 0
	if g.ringAtoms[i] {
		ring = 1
	}
	arom := 0
	if a.aromatic {
		arom = 1
	}
	key := fmt.Sprintf("%03d|%d|%d|%d|%+d|%d|%d",
		elements[a.symbol].number, len(g.adj[i]), g.totalH(i), arom, a.charge, a.isotope, ring)
	return xxhash.Sum64String(key)
}

// refine repeatedly folds sorted neighbour ranks into each atom's rank until
// the number of classes stops growing.
func (g *graph) refine(ranks []int) []int {
	classes := countDistinct(ranks)
	for {
		next := make([]uint64, len(ranks))
		for i := range ranks {
			nb := make([]string, 0, len(g.adj[i]))
			for _, bi := range g.adj[i] {
				b := g.bonds[bi]
				nb = append(nb, fmt.Sprintf("%08d:%d", ranks[b.other(i)], b.order))
			}
			sort.Strings(nb)
			// keep the current order as the primary key so refinement only splits
			next[i] = uint64(ranks[i])<<32 | uint64(uint32(xxhash.Sum64String(strings.Join(nb, ","))))
		}
		refined := rankValues(next)
		c := countDistinct(refined)
		if c == classes {
			return refined
		}
		ranks, classes = refined, c
	}
}

func rankValues(v []uint64) []int {
	distinct := make([]uint64, 0, len(v))
	seen := make(map[uint64]bool, len(v))
	for _, x := range v {
		if !seen[x] {
			seen[x] = true
			distinct = append(distinct, x)
		}
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i] < distinct[j] })
	pos := make(map[uint64]int, len(distinct))
	for i, x := range distinct {
		pos[x] = i + 1
	}
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = pos[x]
	}
	return out
}

func toUint(r []int) []uint64 {
	out := make([]uint64, len(r))
	for i, x := range r {
		out[i] = uint64(x)
	}
	return out
}

func countDistinct(r []int) int {
	seen := make(map[int]bool, len(r))
	for _, x := range r {
		seen[x] = true
	}
	return len(seen)
}

func lowestTiedClass(r []int) int {
	count := make(map[int]int, len(r))
	for _, x := range r {
		count[x]++
	}
	best := -1
	for x, c := range count {
		if c > 1 && (best < 0 || x < best) {
			best = x
		}
	}
	return best
}

// ─────────────────────────────────────────────────────────────────────────────
// SMILES writer
// ─────────────────────────────────────────────────────────────────────────────

type smilesWriter struct {
	g        *graph
	ranks    []int
	visited  []bool
	written  []bool
	closures map[int][]int // atom -> ring-closure bond indexes
	treeKids map[int][]int // atom -> tree bond indexes in visit order
	ringNum  map[int]int   // closure bond -> ring number while open
	inUse    map[int]bool
	sb       strings.Builder
}

// canonicalSMILES writes each fragment from its lowest-ranked atom, taking
// neighbours in rank order, then joins fragments in lexical order. Explicit
// hydrogens are folded into their heavy neighbour.
func (g *graph) canonicalSMILES() string {
	h := g.withoutExplicitHydrogens()
	if len(h.atoms) == 0 {
		return ""
	}
	ranks := h.canonicalRanks()
	comp, n := h.components()

	frags := make([]string, 0, n)
	for c := 0; c < n; c++ {
		start := -1
		for i := range h.atoms {
			if comp[i] == c && (start < 0 || ranks[i] < ranks[start]) {
				start = i
			}
		}
		w := &smilesWriter{
			g:        h,
			ranks:    ranks,
			visited:  make([]bool, len(h.atoms)),
			written:  make([]bool, len(h.atoms)),
			closures: make(map[int][]int),
			treeKids: make(map[int][]int),
			ringNum:  make(map[int]int),
			inUse:    make(map[int]bool),
		}
		w.plan(start, -1)
		w.write(start, -1)
		frags = append(frags, w.sb.String())
	}
	sort.Strings(frags)
	return strings.Join(frags, ".")
}

func (w *smilesWriter) sortedBonds(a int) []int {
	bs := append([]int(nil), w.g.adj[a]...)
	sort.Slice(bs, func(i, j int) bool {
		return w.ranks[w.g.bonds[bs[i]].other(a)] < w.ranks[w.g.bonds[bs[j]].other(a)]
	})
	return bs
}

// plan runs the DFS once to split bonds into tree bonds and ring closures.
func (w *smilesWriter) plan(a, via int) {
	w.visited[a] = true
	for _, bi := range w.sortedBonds(a) {
		if bi == via {
			continue
		}
		nb := w.g.bonds[bi].other(a)
		if w.visited[nb] {
			if !w.isClosure(a, bi) {
				w.closures[a] = append(w.closures[a], bi)
				w.closures[nb] = append(w.closures[nb], bi)
			}
			continue
		}
		w.treeKids[a] = append(w.treeKids[a], bi)
		w.plan(nb, bi)
	}
}

func (w *smilesWriter) isClosure(a, bi int) bool {
	for _, c := range w.closures[a] {
		if c == bi {
			return true
		}
	}
	return false
}

func (w *smilesWriter) write(a, via int) {
	if via >= 0 {
		w.sb.WriteString(w.bondSymbol(via))
	}
	w.sb.WriteString(w.g.atomSymbol(a))
	w.written[a] = true

	cl := append([]int(nil), w.closures[a]...)
	sort.Slice(cl, func(i, j int) bool {
		return w.ranks[w.g.bonds[cl[i]].other(a)] < w.ranks[w.g.bonds[cl[j]].other(a)]
	})
	for _, bi := range cl {
		if num, open := w.ringNum[bi]; open {
			w.sb.WriteString(ringLabel(num))
			delete(w.ringNum, bi)
			delete(w.inUse, num)
			continue
		}
		num := 1
		for w.inUse[num] {
			num++
		}
		w.inUse[num] = true
		w.ringNum[bi] = num
		w.sb.WriteString(w.bondSymbol(bi))
		w.sb.WriteString(ringLabel(num))
	}

	kids := w.treeKids[a]
	for i, bi := range kids {
		nb := w.g.bonds[bi].other(a)
		if i < len(kids)-1 {
			w.sb.WriteByte('(')
			w.write(nb, bi)
			w.sb.WriteByte(')')
			continue
		}
		w.write(nb, bi)
	}
}

func ringLabel(n int) string {
	if n < 10 {
		return strconv.Itoa(n)
	}
	return "%" + strconv.Itoa(n)
}

func (w *smilesWriter) bondSymbol(bi int) string {
	b := w.g.bonds[bi]
	aa, ab := w.g.atoms[b.a].aromatic, w.g.atoms[b.b].aromatic
	switch b.order {
	case bondDouble:
		return "="
	case bondTriple:
		return "#"
	case bondAromatic:
		if aa && ab {
			return ""
		}
		return ":"
	}
	if aa && ab {
		return "-"
	}
	return ""
}

// atomSymbol writes an organic-subset atom bare when its hydrogens follow
// from the default valence, and in brackets otherwise.
func (g *graph) atomSymbol(i int) string {
	a := g.atoms[i]
	sym := a.symbol
	if a.aromatic {
		sym = strings.ToLower(sym)
	}
	if organicSubset[a.symbol] && a.charge == 0 && a.isotope == 0 {
		if h, err := g.deriveHydrogens(i); err == nil && h == a.implicitH {
			return sym
		}
	}
	var sb strings.Builder
	sb.WriteByte('[')
	if a.isotope > 0 {
		sb.WriteString(strconv.Itoa(a.isotope))
	}
	sb.WriteString(sym)
	switch {
	case a.implicitH == 1:
		sb.WriteString("H")
	case a.implicitH > 1:
		sb.WriteString("H" + strconv.Itoa(a.implicitH))
	}
	switch {
	case a.charge == 1:
		sb.WriteString("+")
	case a.charge == -1:
		sb.WriteString("-")
	case a.charge > 1:
		sb.WriteString("+" + strconv.Itoa(a.charge))
	case a.charge < -1:
		sb.WriteString(strconv.Itoa(a.charge))
	}
	sb.WriteByte(']')
	return sb.String()
}

// withoutExplicitHydrogens returns a copy where plain hydrogen atoms bonded
// to one heavy atom are counted on that atom instead.
func (g *graph) withoutExplicitHydrogens() *graph {
	keep := make([]int, len(g.atoms))
	out := &graph{format: g.format, source: g.source}
	for i, a := range g.atoms {
		if a.symbol == "H" && a.charge == 0 && a.isotope == 0 && len(g.adj[i]) == 1 &&
			g.atoms[g.bonds[g.adj[i][0]].other(i)].symbol != "H" {
			keep[i] = -1
			continue
		}
		keep[i] = out.addAtom(a)
	}
	for i := range g.atoms {
		if keep[i] >= 0 {
			out.atoms[keep[i]].implicitH = g.totalH(i)
		}
	}
	for _, b := range g.bonds {
		if keep[b.a] < 0 || keep[b.b] < 0 {
			continue
		}
		_ = out.addBond(keep[b.a], keep[b.b], b.order)
	}
	out.perceiveRings()
	return out
}
