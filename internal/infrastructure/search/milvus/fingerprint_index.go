package milvus

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/turtacn/molingest/internal/domain/molecule"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

const (
	defaultTopK         = 10
	defaultNProbe       = 16
	defaultBackfillPage = 1000
)

// FingerprintIndex is a molecule.SimilarityIndex over one fingerprint type
// stored in a Milvus collection. Scores are Jaccard distances, so the
// reported similarity is 1 - distance, which equals Tanimoto for bit vectors.
// BIN_FLAT is exact; BIN_IVF_FLAT trades recall for speed according to
// nprobe.
type FingerprintIndex struct {
	client     *Client
	collection string
	fpType     molecule.FingerprintType
	dim        int
	indexType  string
	nprobe     int
	logger     logging.Logger
}

// IndexOption configures a FingerprintIndex.
type IndexOption func(*FingerprintIndex)

// WithIndexType selects the search parameters matching the built index.
func WithIndexType(t string) IndexOption {
	return func(i *FingerprintIndex) { i.indexType = t }
}

func WithNProbe(n int) IndexOption {
	return func(i *FingerprintIndex) {
		if n > 0 {
			i.nprobe = n
		}
	}
}

// NewFingerprintIndex binds the index to an already created collection.
func NewFingerprintIndex(c *Client, collection string, fpType molecule.FingerprintType, dim int, log logging.Logger, opts ...IndexOption) *FingerprintIndex {
	idx := &FingerprintIndex{
		client:     c,
		collection: collection,
		fpType:     fpType,
		dim:        dim,
		indexType:  IndexBinFlat,
		nprobe:     defaultNProbe,
		logger:     log,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Search returns the tenant's stored fingerprints at or above q.Threshold,
// best first. Queries of another type or length match nothing.
func (i *FingerprintIndex) Search(ctx context.Context, q molecule.SimilarityQuery) ([]molecule.SimilarityMatch, error) {
	if !i.accepts(q.Fingerprint) {
		return nil, nil
	}
	mc, err := i.client.sdk()
	if err != nil {
		return nil, err
	}
	sp, err := i.searchParam()
	if err != nil {
		return nil, err
	}
	topK := q.Limit
	if topK <= 0 {
		topK = defaultTopK
	}

	results, err := mc.Search(ctx, i.collection, nil, tenantFilter(q.TenantID),
		[]string{FieldInChIKey},
		[]entity.Vector{entity.BinaryVector(q.Fingerprint.Bits)},
		FieldFingerprint, entity.JACCARD, topK, sp,
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "milvus search failed").WithDetail(i.collection)
	}

	var matches []molecule.SimilarityMatch
	for _, res := range results {
		if res.Err != nil {
			return nil, errors.Wrap(res.Err, errors.ErrCodeServiceUnavailable, "milvus search failed")
		}
		keys := res.Fields.GetColumn(FieldInChIKey)
		for n := 0; n < res.ResultCount; n++ {
			similarity := 1 - float64(res.Scores[n])
			if similarity < q.Threshold {
				continue
			}
			id, err := res.IDs.GetAsString(n)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeSerialization, "unexpected milvus id column")
			}
			m := molecule.SimilarityMatch{MoleculeID: id, Similarity: similarity}
			if keys != nil {
				m.InChIKey, _ = keys.GetAsString(n)
			}
			matches = append(matches, m)
		}
	}
	molecule.SortMatches(matches)
	return matches, nil
}

// Add upserts m's fingerprint. Molecules without one are ignored.
func (i *FingerprintIndex) Add(ctx context.Context, m *molecule.Molecule) error {
	fp := m.Fingerprint(i.fpType)
	if !i.accepts(fp) {
		return nil
	}
	return i.upsert(ctx, []string{m.ID}, []string{m.TenantID}, []string{m.InChIKey}, [][]byte{fp.Bits})
}

// Backfill copies every stored fingerprint of the tenant into the collection.
// It returns the number of rows written.
func (i *FingerprintIndex) Backfill(ctx context.Context, store molecule.Store, tenantID string, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = defaultBackfillPage
	}
	total := 0
	after := ""
	for {
		page, err := store.ListFingerprints(ctx, tenantID, i.fpType, after, pageSize)
		if err != nil {
			return total, err
		}
		if len(page) == 0 {
			break
		}
		ids := make([]string, 0, len(page))
		tenants := make([]string, 0, len(page))
		keys := make([]string, 0, len(page))
		vectors := make([][]byte, 0, len(page))
		for _, rec := range page {
			after = rec.MoleculeID
			if !i.accepts(rec.Fingerprint) {
				continue
			}
			ids = append(ids, rec.MoleculeID)
			tenants = append(tenants, tenantID)
			keys = append(keys, rec.InChIKey)
			vectors = append(vectors, rec.Fingerprint.Bits)
		}
		if len(ids) > 0 {
			if err := i.upsert(ctx, ids, tenants, keys, vectors); err != nil {
				return total, err
			}
			total += len(ids)
		}
		if len(page) < pageSize {
			break
		}
	}
	i.logger.Info("Fingerprint backfill finished",
		logging.TenantID(tenantID), logging.Int("rows", total), logging.String("collection", i.collection))
	return total, nil
}

func (i *FingerprintIndex) upsert(ctx context.Context, ids, tenants, keys []string, vectors [][]byte) error {
	mc, err := i.client.sdk()
	if err != nil {
		return err
	}
	_, err = mc.Upsert(ctx, i.collection, "",
		entity.NewColumnVarChar(FieldMoleculeID, ids),
		entity.NewColumnVarChar(FieldTenantID, tenants),
		entity.NewColumnVarChar(FieldInChIKey, keys),
		entity.NewColumnBinaryVector(FieldFingerprint, i.dim, vectors),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "milvus upsert failed").WithDetail(i.collection)
	}
	return nil
}

func (i *FingerprintIndex) accepts(fp *molecule.Fingerprint) bool {
	return fp != nil && fp.Type == i.fpType && fp.Length == i.dim
}

func (i *FingerprintIndex) searchParam() (entity.SearchParam, error) {
	if i.indexType == IndexBinIvfFlat {
		return entity.NewIndexBinIvfFlatSearchParam(i.nprobe)
	}
	return entity.NewIndexBinFlatSearchParam(i.nprobe)
}

// tenantFilter renders a boolean expression selecting one tenant.
func tenantFilter(tenantID string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(tenantID)
	return fmt.Sprintf(`%s == "%s"`, FieldTenantID, escaped)
}
