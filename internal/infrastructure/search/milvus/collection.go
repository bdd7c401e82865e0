package milvus

import (
	"context"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

const (
	FieldMoleculeID  = "molecule_id"
	FieldTenantID    = "tenant_id"
	FieldInChIKey    = "inchi_key"
	FieldFingerprint = "fingerprint"

	IndexBinFlat    = "BIN_FLAT"
	IndexBinIvfFlat = "BIN_IVF_FLAT"

	defaultShards = 2
	defaultNList  = 1024
)

// CollectionSpec describes the fingerprint collection.
type CollectionSpec struct {
	Name      string
	Dim       int // bits
	IndexType string
	NList     int
}

// FingerprintSchema is the collection layout: one row per molecule keyed
// by molecule id, filtered by tenant.
func FingerprintSchema(name string, dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: name,
		Description:    "molecule fingerprints for near-duplicate search",
		Fields: []*entity.Field{
			{Name: FieldMoleculeID, DataType: entity.FieldTypeVarChar, PrimaryKey: true, TypeParams: map[string]string{"max_length": "64"}},
			{Name: FieldTenantID, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "128"}},
			{Name: FieldInChIKey, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "64"}},
			{Name: FieldFingerprint, DataType: entity.FieldTypeBinaryVector, TypeParams: map[string]string{"dim": strconv.Itoa(dim)}},
		},
	}
}

// NewIndex builds the Jaccard index named by spec.IndexType.
func NewIndex(spec CollectionSpec) (entity.Index, error) {
	nlist := spec.NList
	if nlist <= 0 {
		nlist = defaultNList
	}
	switch spec.IndexType {
	case "", IndexBinFlat:
		return entity.NewIndexBinFlat(entity.JACCARD, nlist)
	case IndexBinIvfFlat:
		return entity.NewIndexBinIvfFlat(entity.JACCARD, nlist)
	}
	return nil, errors.New(errors.ErrCodeValidation, "unsupported milvus index type").WithDetail(spec.IndexType)
}

// EnsureCollection creates, indexes and loads the collection as needed.
func EnsureCollection(ctx context.Context, c *Client, spec CollectionSpec, log logging.Logger) error {
	if spec.Dim <= 0 || spec.Dim%8 != 0 {
		return errors.New(errors.ErrCodeValidation, "binary vector dimension must be a positive multiple of 8").
			WithDetail(strconv.Itoa(spec.Dim))
	}
	mc, err := c.sdk()
	if err != nil {
		return err
	}

	has, err := mc.HasCollection(ctx, spec.Name)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to check collection").WithDetail(spec.Name)
	}
	if !has {
		if err := mc.CreateCollection(ctx, FingerprintSchema(spec.Name, spec.Dim), defaultShards); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create collection").WithDetail(spec.Name)
		}
		log.Info("Collection created", logging.String("name", spec.Name), logging.Int("dim", spec.Dim))
	}

	indexes, err := mc.DescribeIndex(ctx, spec.Name, FieldFingerprint)
	if err != nil || len(indexes) == 0 {
		idx, err := NewIndex(spec)
		if err != nil {
			return err
		}
		if err := mc.CreateIndex(ctx, spec.Name, FieldFingerprint, idx, false); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create index").WithDetail(spec.Name)
		}
		log.Info("Index created", logging.String("name", spec.Name), logging.String("type", spec.IndexType))
	}

	if err := mc.LoadCollection(ctx, spec.Name, false); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load collection").WithDetail(spec.Name)
	}
	return nil
}
