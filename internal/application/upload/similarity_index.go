package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/molingest/internal/domain/molecule"
	"github.com/turtacn/molingest/internal/infrastructure/cache"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

// IndexProvider hands each run the similarity index it should search.
type IndexProvider interface {
	NewIndex() molecule.SimilarityIndex
}

type sharedIndex struct{ idx molecule.SimilarityIndex }

func (s sharedIndex) NewIndex() molecule.SimilarityIndex { return s.idx }

// SharedIndex serves the same stateless index to every run.
func SharedIndex(idx molecule.SimilarityIndex) IndexProvider { return sharedIndex{idx: idx} }

// ─────────────────────────────────────────────────────────────────────────────
// Store-backed index
// ─────────────────────────────────────────────────────────────────────────────

// StoreIndex delegates to the store's own similarity query.
type StoreIndex struct {
	store  molecule.Store
	fpType molecule.FingerprintType
}

var _ molecule.SimilarityIndex = (*StoreIndex)(nil)

func NewStoreIndex(store molecule.Store, fpType molecule.FingerprintType) *StoreIndex {
	return &StoreIndex{store: store, fpType: fpType}
}

func (s *StoreIndex) Search(ctx context.Context, q molecule.SimilarityQuery) ([]molecule.SimilarityMatch, error) {
	if q.Fingerprint == nil || q.Fingerprint.Type != s.fpType {
		return nil, nil
	}
	return s.store.FindSimilar(ctx, q.TenantID, s.fpType, q.Fingerprint, q.Threshold, q.Limit)
}

// Add is a no-op; the store sees its own writes.
func (s *StoreIndex) Add(context.Context, *molecule.Molecule) error { return nil }

// ─────────────────────────────────────────────────────────────────────────────
// Brute-force snapshot index
// ─────────────────────────────────────────────────────────────────────────────

const (
	defaultSnapshotPageSize = 1000
	defaultSnapshotTTL      = 5 * time.Minute
)

// SnapshotLoader reads a tenant's fingerprints page by page. Concurrent runs
// for the same tenant share one load, and the result is kept in the cache
// port so the second pass of an upload, possibly on another worker, skips
// the store.
type SnapshotLoader struct {
	store    molecule.Store
	cache    cache.Cache
	fpType   molecule.FingerprintType
	pageSize int
	ttl      time.Duration
	logger   logging.Logger
	group    singleflight.Group
}

// SnapshotOption configures a SnapshotLoader.
type SnapshotOption func(*SnapshotLoader)

func WithSnapshotCache(c cache.Cache, ttl time.Duration) SnapshotOption {
	return func(l *SnapshotLoader) {
		l.cache = c
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithSnapshotPageSize(n int) SnapshotOption {
	return func(l *SnapshotLoader) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

func NewSnapshotLoader(store molecule.Store, fpType molecule.FingerprintType, log logging.Logger, opts ...SnapshotOption) *SnapshotLoader {
	l := &SnapshotLoader{
		store:    store,
		fpType:   fpType,
		pageSize: defaultSnapshotPageSize,
		ttl:      defaultSnapshotTTL,
		logger:   log,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// NewIndex returns an empty per-run index that loads on first search.
func (l *SnapshotLoader) NewIndex() molecule.SimilarityIndex {
	return &BruteForceIndex{loader: l, snapshots: make(map[string][]molecule.FingerprintRecord)}
}

func (l *SnapshotLoader) cacheKey(tenantID string) string {
	return fmt.Sprintf("simidx:%s:%s", tenantID, l.fpType)
}

type snapshotEntry struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Bits   string `json:"bits"`
	Length int    `json:"len"`
}

// Load returns the tenant's fingerprints. The slice is shared between
// callers and must not be modified.
func (l *SnapshotLoader) Load(ctx context.Context, tenantID string) ([]molecule.FingerprintRecord, error) {
	v, err, _ := l.group.Do(tenantID, func() (interface{}, error) {
		if recs, ok := l.fromCache(ctx, tenantID); ok {
			return recs, nil
		}
		recs, err := l.fromStore(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		l.toCache(ctx, tenantID, recs)
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]molecule.FingerprintRecord), nil
}

// Invalidate drops the cached snapshot after the tenant's molecules changed.
func (l *SnapshotLoader) Invalidate(ctx context.Context, tenantID string) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Delete(ctx, l.cacheKey(tenantID)); err != nil {
		l.logger.Debug("similarity snapshot invalidation failed", logging.TenantID(tenantID), logging.Err(err))
	}
}

func (l *SnapshotLoader) fromStore(ctx context.Context, tenantID string) ([]molecule.FingerprintRecord, error) {
	var (
		all   []molecule.FingerprintRecord
		after string
	)
	for {
		page, err := l.store.ListFingerprints(ctx, tenantID, l.fpType, after, l.pageSize)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "load fingerprint snapshot")
		}
		all = append(all, page...)
		if len(page) < l.pageSize {
			break
		}
		after = page[len(page)-1].MoleculeID
	}
	l.logger.Debug("similarity snapshot loaded",
		logging.TenantID(tenantID), logging.String("fingerprint_type", string(l.fpType)), logging.Int("size", len(all)))
	return all, nil
}

func (l *SnapshotLoader) fromCache(ctx context.Context, tenantID string) ([]molecule.FingerprintRecord, bool) {
	if l.cache == nil {
		return nil, false
	}
	data, err := l.cache.Get(ctx, l.cacheKey(tenantID))
	if err != nil {
		if !cache.IsMiss(err) {
			l.logger.Debug("similarity snapshot cache read failed", logging.Err(err))
		}
		return nil, false
	}
	var entries []snapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false
	}
	recs := make([]molecule.FingerprintRecord, 0, len(entries))
	for _, e := range entries {
		fp, err := molecule.FingerprintFromHex(l.fpType, e.Bits, e.Length)
		if err != nil {
			return nil, false
		}
		recs = append(recs, molecule.FingerprintRecord{MoleculeID: e.ID, InChIKey: e.Key, Fingerprint: fp})
	}
	return recs, true
}

func (l *SnapshotLoader) toCache(ctx context.Context, tenantID string, recs []molecule.FingerprintRecord) {
	if l.cache == nil {
		return
	}
	entries := make([]snapshotEntry, 0, len(recs))
	for _, r := range recs {
		if r.Fingerprint == nil {
			continue
		}
		entries = append(entries, snapshotEntry{ID: r.MoleculeID, Key: r.InChIKey, Bits: r.Fingerprint.Hex(), Length: r.Fingerprint.Length})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := l.cache.Set(ctx, l.cacheKey(tenantID), data, l.ttl); err != nil {
		l.logger.Debug("similarity snapshot cache write failed", logging.Err(err))
	}
}

// BruteForceIndex scores the query against every fingerprint of a per-run
// snapshot. Recall is exact.
type BruteForceIndex struct {
	loader    *SnapshotLoader
	snapshots map[string][]molecule.FingerprintRecord
}

var _ molecule.SimilarityIndex = (*BruteForceIndex)(nil)

func (b *BruteForceIndex) snapshot(ctx context.Context, tenantID string) ([]molecule.FingerprintRecord, error) {
	if recs, ok := b.snapshots[tenantID]; ok {
		return recs, nil
	}
	shared, err := b.loader.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	recs := make([]molecule.FingerprintRecord, len(shared))
	copy(recs, shared)
	b.snapshots[tenantID] = recs
	return recs, nil
}

func (b *BruteForceIndex) Search(ctx context.Context, q molecule.SimilarityQuery) ([]molecule.SimilarityMatch, error) {
	if q.Fingerprint == nil || q.Fingerprint.Type != b.loader.fpType {
		return nil, nil
	}
	recs, err := b.snapshot(ctx, q.TenantID)
	if err != nil {
		return nil, err
	}

	var matches []molecule.SimilarityMatch
	for _, r := range recs {
		sim, err := molecule.Tanimoto(q.Fingerprint, r.Fingerprint)
		if err != nil || sim < q.Threshold {
			continue
		}
		matches = append(matches, molecule.SimilarityMatch{MoleculeID: r.MoleculeID, InChIKey: r.InChIKey, Similarity: sim})
	}
	molecule.SortMatches(matches)
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

// Add appends a molecule created during this run to the snapshot and
// invalidates the shared copy.
func (b *BruteForceIndex) Add(ctx context.Context, m *molecule.Molecule) error {
	fp := m.Fingerprint(b.loader.fpType)
	if fp == nil {
		return nil
	}
	if recs, ok := b.snapshots[m.TenantID]; ok {
		b.snapshots[m.TenantID] = append(recs, molecule.FingerprintRecord{MoleculeID: m.ID, InChIKey: m.InChIKey, Fingerprint: fp})
	}
	b.loader.Invalidate(ctx, m.TenantID)
	return nil
}
