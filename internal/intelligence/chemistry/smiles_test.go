package chemistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) *graph {
	t.Helper()
	g, err := parseSMILES(s)
	require.NoError(t, err, s)
	return g
}

func TestParseSMILES_ImplicitHydrogens(t *testing.T) {
	g := mustParse(t, "CCO")
	require.Len(t, g.atoms, 3)
	assert.Equal(t, 3, g.atoms[0].implicitH)
	assert.Equal(t, 2, g.atoms[1].implicitH)
	assert.Equal(t, 1, g.atoms[2].implicitH)
	assert.Equal(t, 3, g.HeavyAtomCount())
}

func TestParseSMILES_Aromatic(t *testing.T) {
	g := mustParse(t, "c1ccccc1")
	require.Len(t, g.atoms, 6)
	require.Len(t, g.cycles, 1)
	for i, a := range g.atoms {
		assert.True(t, a.aromatic)
		assert.Equal(t, 1, a.implicitH, "atom %d", i)
	}
	for _, b := range g.bonds {
		assert.Equal(t, bondAromatic, b.order)
		assert.True(t, b.ring)
	}
}

func TestParseSMILES_AromaticHeteroatoms(t *testing.T) {
	furan := mustParse(t, "c1ccoc1")
	assert.Equal(t, 0, furan.atoms[3].implicitH)

	pyrrole := mustParse(t, "c1cc[nH]c1")
	assert.Equal(t, 1, pyrrole.atoms[3].implicitH)
}

func TestParseSMILES_BracketAtoms(t *testing.T) {
	g := mustParse(t, "[NH4+]")
	assert.Equal(t, 4, g.atoms[0].implicitH)
	assert.Equal(t, 1, g.atoms[0].charge)

	g = mustParse(t, "[13CH4]")
	assert.Equal(t, 13, g.atoms[0].isotope)
	assert.Equal(t, 4, g.atoms[0].implicitH)

	g = mustParse(t, "[O--]")
	assert.Equal(t, -2, g.atoms[0].charge)

	g = mustParse(t, "[Fe+2]")
	assert.Equal(t, 2, g.atoms[0].charge)

	g = mustParse(t, "N[C@@H](C)C(=O)O")
	assert.Equal(t, 1, g.atoms[1].implicitH)

	g = mustParse(t, "[CH3:1]O")
	assert.Equal(t, 3, g.atoms[0].implicitH)
}

func TestParseSMILES_RingClosures(t *testing.T) {
	g := mustParse(t, "C%10CCCCC%10")
	assert.Len(t, g.cycles, 1)

	g = mustParse(t, "C1CC=1")
	var double int
	for _, b := range g.bonds {
		if b.order == bondDouble {
			double++
		}
	}
	assert.Equal(t, 1, double)

	g = mustParse(t, "c1ccc2ccccc2c1")
	assert.Len(t, g.cycles, 2)
}

func TestParseSMILES_Disconnected(t *testing.T) {
	g := mustParse(t, "[Na+].[Cl-]")
	_, n := g.components()
	assert.Equal(t, 2, n)
	assert.Empty(t, g.bonds)
}

func TestParseSMILES_StereoBondsAreSingle(t *testing.T) {
	g := mustParse(t, "F/C=C/F")
	require.Len(t, g.bonds, 3)
	assert.Equal(t, bondSingle, g.bonds[0].order)
	assert.Equal(t, bondDouble, g.bonds[1].order)
	assert.Equal(t, bondSingle, g.bonds[2].order)
}

func TestParseSMILES_Errors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"C1CC", "unclosed ring 1"},
		{"C(C", "unclosed branch"},
		{"CC)", "unbalanced parenthesis at position 2"},
		{"CXC", `unknown atom symbol "X" at position 1`},
		{"C=", "dangling bond at end of input"},
		{"C(C)(C)(C)(C)C", "explicit valence for atom # 0 C, 5, is greater than permitted"},
		{"[C", "unclosed bracket atom at position 0"},
		{"cc", "non-ring atom 1 marked aromatic"},
		{"C==C", "consecutive bonds at position 2"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := parseSMILES(tt.in)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseSMILES_ConflictingRingBond(t *testing.T) {
	_, err := parseSMILES("C=1CC#1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicting bond orders on ring closure 1")
}

func TestParseSMILES_Empty(t *testing.T) {
	g, err := parseSMILES("")
	require.NoError(t, err)
	assert.Equal(t, 0, g.AtomCount())
}
