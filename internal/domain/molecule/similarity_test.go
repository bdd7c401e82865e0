package molecule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fpWith(length int, on ...int) *Fingerprint {
	fp := NewEmptyFingerprint(FingerprintMorgan, length)
	for _, i := range on {
		fp.SetBit(i)
	}
	return fp
}

func TestTanimoto(t *testing.T) {
	tests := []struct {
		name string
		a, b *Fingerprint
		want float64
	}{
		{"identical", fpWith(64, 1, 2, 3), fpWith(64, 1, 2, 3), 1.0},
		{"disjoint", fpWith(64, 1, 2), fpWith(64, 3, 4), 0.0},
		{"half", fpWith(64, 1, 2, 3), fpWith(64, 2, 3, 4), 0.5},
		{"both_empty", fpWith(64), fpWith(64), 0.0},
		{"one_empty", fpWith(64, 5), fpWith(64), 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Tanimoto(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestTanimoto_Symmetric(t *testing.T) {
	a := fpWith(128, 1, 7, 40, 99, 127)
	b := fpWith(128, 7, 40, 41)
	ab, err := Tanimoto(a, b)
	require.NoError(t, err)
	ba, err := Tanimoto(b, a)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
	assert.GreaterOrEqual(t, ab, 0.0)
	assert.LessOrEqual(t, ab, 1.0)
}

func TestTanimoto_Mismatch(t *testing.T) {
	_, err := Tanimoto(fpWith(64, 1), fpWith(128, 1))
	assert.Error(t, err)

	maccs := NewEmptyFingerprint(FingerprintMACCS, 64)
	_, err = Tanimoto(fpWith(64, 1), maccs)
	assert.Error(t, err)

	_, err = Tanimoto(nil, fpWith(64))
	assert.Error(t, err)
}

func TestBestMatch(t *testing.T) {
	matches := []SimilarityMatch{
		{MoleculeID: "a", Similarity: 0.80},
		{MoleculeID: "b", Similarity: 0.92},
		{MoleculeID: "c", Similarity: 0.92},
		{MoleculeID: "d", Similarity: 0.86},
	}
	best, ok := BestMatch(matches, 0.85)
	require.True(t, ok)
	assert.Equal(t, "b", best.MoleculeID)

	_, ok = BestMatch(matches, 0.95)
	assert.False(t, ok)

	SortMatches(matches)
	assert.Equal(t, []string{"b", "c", "d", "a"},
		[]string{matches[0].MoleculeID, matches[1].MoleculeID, matches[2].MoleculeID, matches[3].MoleculeID})
}
