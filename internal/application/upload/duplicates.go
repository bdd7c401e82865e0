package upload

import (
	"context"

	"github.com/samber/lo"

	"github.com/turtacn/molingest/internal/domain/molecule"
	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/pkg/errors"
)

// DuplicateKind is the outcome of duplicate classification.
type DuplicateKind string

const (
	KindNone    DuplicateKind = "none"
	KindInBatch DuplicateKind = "in_batch"
	KindExact   DuplicateKind = "exact"
	KindSimilar DuplicateKind = "similar"
)

// RowErrorCode is the code a rejected duplicate of this kind is recorded with.
func (k DuplicateKind) RowErrorCode() domain.RowErrorCode {
	switch k {
	case KindInBatch:
		return domain.CodeDuplicateInBatch
	case KindExact:
		return domain.CodeExactDuplicate
	case KindSimilar:
		return domain.CodeSimilarDuplicate
	}
	return ""
}

// Classification says what a valid row collides with, if anything.
type Classification struct {
	Kind DuplicateKind
	// Match is the stored molecule for exact hits. Similar hits may leave it
	// nil when the index only knows ids; MatchInChIKey is always set.
	Match         *molecule.Molecule
	MatchID       string
	MatchInChIKey string
	Similarity    float64
}

// defaultSimilarLimit bounds how many candidates a similarity search returns.
const defaultSimilarLimit = 5

// DuplicateDetector classifies the rows of one pass. It owns the pass's seen
// set, so a fresh detector is needed for every pass over a file.
type DuplicateDetector struct {
	store     molecule.Store
	index     molecule.SimilarityIndex
	tenantID  string
	threshold *float64

	seen  map[string]struct{}
	known map[string]*molecule.Molecule
}

// NewDuplicateDetector scopes a detector to tenantID. A nil threshold or
// index disables the similarity check.
func NewDuplicateDetector(store molecule.Store, index molecule.SimilarityIndex, tenantID string, threshold *float64) *DuplicateDetector {
	return &DuplicateDetector{
		store:     store,
		index:     index,
		tenantID:  tenantID,
		threshold: threshold,
		seen:      make(map[string]struct{}),
		known:     make(map[string]*molecule.Molecule),
	}
}

// Prefetch resolves the InChIKeys of a chunk against the store in one call.
// Keys already resolved, including known misses, are not asked for again.
func (d *DuplicateDetector) Prefetch(ctx context.Context, results []ValidationResult) error {
	keys := lo.Uniq(lo.FilterMap(results, func(r ValidationResult, _ int) (string, bool) {
		if !r.Valid || r.InChIKey == "" {
			return "", false
		}
		_, done := d.known[r.InChIKey]
		return r.InChIKey, !done
	}))
	if len(keys) == 0 {
		return nil
	}
	found, err := d.store.FindByInChIKeys(ctx, d.tenantID, keys)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "prefetch existing molecules")
	}
	for _, k := range keys {
		d.known[k] = found[k]
	}
	return nil
}

// Classify checks res against this pass, then the store, then the index,
// and adds its key to the seen set. fp may be nil.
func (d *DuplicateDetector) Classify(ctx context.Context, res ValidationResult, fp *molecule.Fingerprint) (Classification, error) {
	key := res.InChIKey
	if !res.Valid || key == "" {
		return Classification{Kind: KindNone}, nil
	}
	defer func() { d.seen[key] = struct{}{} }()

	if _, ok := d.seen[key]; ok {
		return Classification{Kind: KindInBatch, MatchInChIKey: key}, nil
	}

	existing, checked := d.known[key]
	if !checked {
		m, err := d.store.FindByInChIKey(ctx, d.tenantID, key)
		if err != nil {
			return Classification{}, errors.Wrap(err, errors.ErrCodeDatabaseError, "look up InChIKey")
		}
		d.known[key] = m
		existing = m
	}
	if existing != nil {
		return Classification{
			Kind:          KindExact,
			Match:         existing,
			MatchID:       existing.ID,
			MatchInChIKey: existing.InChIKey,
			Similarity:    1,
		}, nil
	}

	if d.threshold == nil || *d.threshold <= 0 || fp == nil || d.index == nil {
		return Classification{Kind: KindNone}, nil
	}
	matches, err := d.index.Search(ctx, molecule.SimilarityQuery{
		TenantID:    d.tenantID,
		Fingerprint: fp,
		Threshold:   *d.threshold,
		Limit:       defaultSimilarLimit,
	})
	if err != nil {
		return Classification{}, errors.Wrap(err, errors.ErrCodeSimilaritySearchFailed, "similarity search")
	}
	best, ok := molecule.BestMatch(matches, *d.threshold)
	if !ok {
		return Classification{Kind: KindNone}, nil
	}
	return Classification{
		Kind:          KindSimilar,
		Match:         best.Molecule,
		MatchID:       best.MoleculeID,
		MatchInChIKey: best.InChIKey,
		Similarity:    best.Similarity,
	}, nil
}
