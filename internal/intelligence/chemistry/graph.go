package chemistry

import (
	"fmt"

	"github.com/turtacn/molingest/internal/domain/molecule"
)

const (
	bondSingle   = 1
	bondDouble   = 2
	bondTriple   = 3
	bondAromatic = 4
)

type atom struct {
	symbol   string
	aromatic bool
	charge   int
	isotope  int
	// hCount is the explicit hydrogen count of a bracket atom; -1 means the
	// count is implied by the default valence.
	hCount  int
	bracket bool
	// implicitH is filled by graph.finish.
	implicitH int
}

type bond struct {
	a, b  int
	order int
	ring  bool
}

func (b bond) other(i int) int {
	if b.a == i {
		return b.b
	}
	return b.a
}

// graph is the builtin engine's parsed structure.
type graph struct {
	atoms  []atom
	bonds  []bond
	adj    [][]int
	format molecule.StructureFormat
	source string

	ringAtoms []bool
	cycles    [][]int
}

var _ molecule.Structure = (*graph)(nil)

func (g *graph) Format() molecule.StructureFormat { return g.format }
func (g *graph) Source() string                   { return g.source }
func (g *graph) AtomCount() int                   { return len(g.atoms) }

func (g *graph) HeavyAtomCount() int {
	n := 0
	for _, a := range g.atoms {
		if a.symbol != "H" {
			n++
		}
	}
	return n
}

func (g *graph) addAtom(a atom) int {
	g.atoms = append(g.atoms, a)
	g.adj = append(g.adj, nil)
	return len(g.atoms) - 1
}

func (g *graph) addBond(a, b, order int) error {
	if a == b {
		return fmt.Errorf("atom %d bonded to itself", a+1)
	}
	for _, bi := range g.adj[a] {
		if g.bonds[bi].other(a) == b {
			return fmt.Errorf("duplicate bond between atoms %d and %d", a+1, b+1)
		}
	}
	g.bonds = append(g.bonds, bond{a: a, b: b, order: order})
	idx := len(g.bonds) - 1
	g.adj[a] = append(g.adj[a], idx)
	g.adj[b] = append(g.adj[b], idx)
	return nil
}

// finish perceives rings, derives implicit hydrogens and checks valences.
func (g *graph) finish() error {
	g.perceiveRings()
	for i := range g.atoms {
		a := &g.atoms[i]
		if a.aromatic && !g.ringAtoms[i] {
			return fmt.Errorf("non-ring atom %d marked aromatic", i+1)
		}
		if a.hCount >= 0 {
			a.implicitH = a.hCount
			continue
		}
		h, err := g.deriveHydrogens(i)
		if err != nil {
			return err
		}
		a.implicitH = h
	}
	return nil
}

// bondValence sums bond orders around atom i with aromatic bonds counting
// one, plus the pi bond of an aromatic B, C, N or P. Aromatic chalcogens
// contribute a lone pair instead.
func (g *graph) bondValence(i int) int {
	v := 0
	for _, bi := range g.adj[i] {
		o := g.bonds[bi].order
		if o == bondAromatic {
			o = 1
		}
		v += o
	}
	if g.atoms[i].aromatic {
		switch g.atoms[i].symbol {
		case "B", "C", "N", "P", "As":
			v++
		}
	}
	return v
}

func (g *graph) deriveHydrogens(i int) (int, error) {
	a := g.atoms[i]
	el := elements[a.symbol]
	if len(el.valences) == 0 {
		return 0, nil
	}
	used := g.bondValence(i)
	for _, v := range el.valences {
		v = chargedValence(a.symbol, v, a.charge)
		if v >= used {
			return v - used, nil
		}
	}
	if a.charge == 0 {
		return 0, fmt.Errorf("explicit valence for atom # %d %s, %d, is greater than permitted", i, a.symbol, used)
	}
	return 0, nil
}

// totalH is implicit plus explicit hydrogen neighbours.
func (g *graph) totalH(i int) int {
	n := g.atoms[i].implicitH
	for _, bi := range g.adj[i] {
		if g.atoms[g.bonds[bi].other(i)].symbol == "H" {
			n++
		}
	}
	return n
}

// heavyDegree counts non-hydrogen neighbours.
func (g *graph) heavyDegree(i int) int {
	n := 0
	for _, bi := range g.adj[i] {
		if g.atoms[g.bonds[bi].other(i)].symbol != "H" {
			n++
		}
	}
	return n
}

// components labels connected components and returns their count.
func (g *graph) components() ([]int, int) {
	comp := make([]int, len(g.atoms))
	for i := range comp {
		comp[i] = -1
	}
	n := 0
	for start := range g.atoms {
		if comp[start] >= 0 {
			continue
		}
		stack := []int{start}
		comp[start] = n
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, bi := range g.adj[cur] {
				nb := g.bonds[bi].other(cur)
				if comp[nb] < 0 {
					comp[nb] = n
					stack = append(stack, nb)
				}
			}
		}
		n++
	}
	return comp, n
}

// perceiveRings marks ring bonds (non-bridges) and builds a cycle basis from
// a BFS spanning forest.
func (g *graph) perceiveRings() {
	n := len(g.atoms)
	g.ringAtoms = make([]bool, n)
	g.cycles = nil

	parent := make([]int, n)
	parentBond := make([]int, n)
	depth := make([]int, n)
	seen := make([]bool, n)
	treeBond := make([]bool, len(g.bonds))

	for start := 0; start < n; start++ {
		if seen[start] {
			continue
		}
		seen[start] = true
		parent[start] = -1
		parentBond[start] = -1
		queue := []int{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, bi := range g.adj[cur] {
				nb := g.bonds[bi].other(cur)
				if seen[nb] {
					continue
				}
				seen[nb] = true
				parent[nb] = cur
				parentBond[nb] = bi
				depth[nb] = depth[cur] + 1
				treeBond[bi] = true
				queue = append(queue, nb)
			}
		}
	}

	for bi, b := range g.bonds {
		if treeBond[bi] {
			continue
		}
		// each non-tree bond closes one fundamental cycle
		u, v := b.a, b.b
		var left, right []int
		bondsOnCycle := []int{bi}
		for depth[u] > depth[v] {
			left = append(left, u)
			bondsOnCycle = append(bondsOnCycle, parentBond[u])
			u = parent[u]
		}
		for depth[v] > depth[u] {
			right = append(right, v)
			bondsOnCycle = append(bondsOnCycle, parentBond[v])
			v = parent[v]
		}
		for u != v {
			left = append(left, u)
			right = append(right, v)
			bondsOnCycle = append(bondsOnCycle, parentBond[u], parentBond[v])
			u, v = parent[u], parent[v]
		}
		cycle := append(left, u)
		for i := len(right) - 1; i >= 0; i-- {
			cycle = append(cycle, right[i])
		}
		g.cycles = append(g.cycles, cycle)
		for _, cb := range bondsOnCycle {
			g.bonds[cb].ring = true
		}
		for _, a := range cycle {
			g.ringAtoms[a] = true
		}
	}
}
