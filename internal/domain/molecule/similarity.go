package molecule

import (
	"context"
	"math/bits"
	"sort"

	"github.com/turtacn/molingest/pkg/errors"
)

// Tanimoto returns |A∩B| / (|A|+|B|-|A∩B|). Two empty fingerprints score 0.
// Fingerprints of different type or length cannot be compared.
func Tanimoto(a, b *Fingerprint) (float64, error) {
	if a == nil || b == nil {
		return 0, errors.InvalidParam("tanimoto needs two fingerprints")
	}
	if a.Type != b.Type {
		return 0, errors.Newf(errors.ErrCodeFingerprintLengthMismatch,
			"cannot compare %s with %s fingerprint", a.Type, b.Type)
	}
	if a.Length != b.Length || len(a.Bits) != len(b.Bits) {
		return 0, errors.Newf(errors.ErrCodeFingerprintLengthMismatch,
			"fingerprint lengths differ: %d vs %d", a.Length, b.Length)
	}

	intersection, union := 0, 0
	for i := range a.Bits {
		intersection += bits.OnesCount8(a.Bits[i] & b.Bits[i])
		union += bits.OnesCount8(a.Bits[i] | b.Bits[i])
	}
	if union == 0 {
		return 0, nil
	}
	return float64(intersection) / float64(union), nil
}

// SimilarityMatch is one stored molecule found near a query fingerprint.
type SimilarityMatch struct {
	MoleculeID string    `json:"molecule_id"`
	InChIKey   string    `json:"inchi_key"`
	Similarity float64   `json:"similarity"`
	Molecule   *Molecule `json:"-"`
}

// SortMatches orders matches by descending similarity. Equal scores keep
// their input order.
func SortMatches(matches []SimilarityMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
}

// BestMatch picks the highest-similarity match at or above threshold. On a
// tie the first one encountered wins.
func BestMatch(matches []SimilarityMatch, threshold float64) (SimilarityMatch, bool) {
	var best SimilarityMatch
	found := false
	for _, m := range matches {
		if m.Similarity < threshold {
			continue
		}
		if !found || m.Similarity > best.Similarity {
			best = m
			found = true
		}
	}
	return best, found
}

// SimilarityQuery asks an index for stored molecules of one tenant close to
// Fingerprint. Matches below Threshold are never returned.
type SimilarityQuery struct {
	TenantID    string
	Fingerprint *Fingerprint
	Threshold   float64
	Limit       int
}

// SimilarityIndex finds near-duplicate fingerprints. Exact implementations
// return every match at or above the threshold; approximate ones document
// their recall.
type SimilarityIndex interface {
	// Search returns matches best first.
	Search(ctx context.Context, q SimilarityQuery) ([]SimilarityMatch, error)

	// Add makes a newly stored molecule visible to later searches.
	Add(ctx context.Context, m *Molecule) error
}
