// Package memory holds in-process implementations of the persistence ports.
// They back the CLI dry run and the application tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/turtacn/molingest/internal/domain/molecule"
	"github.com/turtacn/molingest/pkg/errors"
)

// MoleculeStore keeps molecules in maps guarded by one lock. Callers always
// receive copies.
type MoleculeStore struct {
	mu    sync.RWMutex
	byID  map[string]*molecule.Molecule
	byKey map[string]string // tenant + "/" + InChIKey → id
	now   func() time.Time

	// FailCreate, when set, is consulted before every insert.
	FailCreate func(m *molecule.Molecule) error
}

var _ molecule.Store = (*MoleculeStore)(nil)

func NewMoleculeStore() *MoleculeStore {
	return &MoleculeStore{
		byID:  make(map[string]*molecule.Molecule),
		byKey: make(map[string]string),
		now:   time.Now,
	}
}

func tenantKey(tenantID, inchiKey string) string { return tenantID + "/" + inchiKey }

func (s *MoleculeStore) FindByInChIKey(ctx context.Context, tenantID, inchiKey string) (*molecule.Molecule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[tenantKey(tenantID, inchiKey)]
	if !ok {
		return nil, nil
	}
	return s.byID[id].Clone(), nil
}

func (s *MoleculeStore) FindByInChIKeys(ctx context.Context, tenantID string, keys []string) (map[string]*molecule.Molecule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*molecule.Molecule)
	for _, k := range lo.Uniq(keys) {
		if id, ok := s.byKey[tenantKey(tenantID, k)]; ok {
			out[k] = s.byID[id].Clone()
		}
	}
	return out, nil
}

func (s *MoleculeStore) FindSimilar(ctx context.Context, tenantID string, fpType molecule.FingerprintType, query *molecule.Fingerprint, threshold float64, limit int) ([]molecule.SimilarityMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if query == nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []molecule.SimilarityMatch
	for _, id := range s.sortedIDs(tenantID) {
		m := s.byID[id]
		sim, err := molecule.Tanimoto(query, m.Fingerprint(fpType))
		if err != nil || sim < threshold {
			continue
		}
		matches = append(matches, molecule.SimilarityMatch{
			MoleculeID: m.ID,
			InChIKey:   m.InChIKey,
			Similarity: sim,
			Molecule:   m.Clone(),
		})
	}
	molecule.SortMatches(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *MoleculeStore) ListFingerprints(ctx context.Context, tenantID string, fpType molecule.FingerprintType, afterID string, limit int) ([]molecule.FingerprintRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []molecule.FingerprintRecord
	for _, id := range s.sortedIDs(tenantID) {
		if id <= afterID {
			continue
		}
		m := s.byID[id]
		fp := m.Fingerprint(fpType)
		if fp == nil {
			continue
		}
		out = append(out, molecule.FingerprintRecord{MoleculeID: id, InChIKey: m.InChIKey, Fingerprint: fp.Clone()})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// sortedIDs lists the tenant's molecule ids in ascending order. The caller
// holds the lock.
func (s *MoleculeStore) sortedIDs(tenantID string) []string {
	ids := lo.FilterMap(lo.Values(s.byID), func(m *molecule.Molecule, _ int) (string, bool) {
		return m.ID, m.TenantID == tenantID
	})
	sort.Strings(ids)
	return ids
}

func (s *MoleculeStore) Create(ctx context.Context, m *molecule.Molecule) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.FailCreate != nil {
		if err := s.FailCreate(m); err != nil {
			return "", err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantKey(m.TenantID, m.InChIKey)
	if _, exists := s.byKey[key]; exists {
		return "", errors.New(errors.ErrCodeMoleculeAlreadyExists, "molecule already exists").WithDetail(m.InChIKey)
	}
	c := m.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Version == 0 {
		c.Version = 1
	}
	s.byID[c.ID] = c
	s.byKey[key] = c.ID
	return c.ID, nil
}

func (s *MoleculeStore) Update(ctx context.Context, id string, patch molecule.MoleculePatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return molecule.ErrNotFound
	}
	m.Apply(patch, s.now())
	return nil
}

// Get returns a copy of the molecule with id, or nil.
func (s *MoleculeStore) Get(id string) *molecule.Molecule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id].Clone()
}

// Len is the number of stored molecules across tenants.
func (s *MoleculeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
