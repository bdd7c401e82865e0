package repositories

import (
	"context"
	"database/sql"
	stderrors "errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"github.com/turtacn/molingest/internal/domain/molecule"
	"github.com/turtacn/molingest/internal/infrastructure/database/postgres"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

// nilUUID sorts before every generated id and starts a fingerprint scan.
const nilUUID = "00000000-0000-0000-0000-000000000000"

// popcountSlack absorbs float error in the popcount bounds of FindSimilar.
const popcountSlack = 1e-9

const moleculeColumns = `id, tenant_id, name, canonical_smiles, inchi, inchi_key, smiles_hash,
       descriptors, metadata, created_at, updated_at, version`

// ─────────────────────────────────────────────────────────────────────────────
// MoleculeStore
// ─────────────────────────────────────────────────────────────────────────────

// MoleculeStore is the PostgreSQL implementation of molecule.Store.
// Fingerprints live in molecule_fingerprints, one row per type.
type MoleculeStore struct {
	db     *sql.DB
	logger logging.Logger
	now    func() time.Time
}

var _ molecule.Store = (*MoleculeStore)(nil)

// NewMoleculeStore constructs a MoleculeStore on conn.
func NewMoleculeStore(conn *postgres.Connection, log logging.Logger) *MoleculeStore {
	return &MoleculeStore{db: conn.DB(), logger: log.Named("molecule_store"), now: time.Now}
}

// ─────────────────────────────────────────────────────────────────────────────
// Lookups
// ─────────────────────────────────────────────────────────────────────────────

func (s *MoleculeStore) FindByInChIKey(ctx context.Context, tenantID, inchiKey string) (*molecule.Molecule, error) {
	m, err := scanMolecule(s.db.QueryRowContext(ctx,
		`SELECT `+moleculeColumns+` FROM molecules WHERE tenant_id = $1 AND inchi_key = $2`,
		tenantID, inchiKey))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "failed to find molecule by InChIKey")
	}
	if err := s.attachFingerprints(ctx, s.db, map[string]*molecule.Molecule{m.ID: m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *MoleculeStore) FindByInChIKeys(ctx context.Context, tenantID string, keys []string) (map[string]*molecule.Molecule, error) {
	out := make(map[string]*molecule.Molecule, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+moleculeColumns+` FROM molecules WHERE tenant_id = $1 AND inchi_key = ANY($2)`,
		tenantID, pq.Array(keys))
	if err != nil {
		return nil, dbError(err, "failed to find molecules by InChIKey")
	}
	defer rows.Close()

	byID := make(map[string]*molecule.Molecule, len(keys))
	for rows.Next() {
		m, err := scanMolecule(rows)
		if err != nil {
			return nil, dbError(err, "failed to scan molecule")
		}
		out[m.InChIKey] = m
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "failed to iterate molecules")
	}
	if err := s.attachFingerprints(ctx, s.db, byID); err != nil {
		return nil, err
	}
	return out, nil
}

// FindSimilar scans the tenant's fingerprints of fpType and scores them in
// process. Candidates are pre-filtered on popcount: a Tanimoto score of t is
// only reachable when t*|q| <= |c| <= |q|/t.
func (s *MoleculeStore) FindSimilar(ctx context.Context, tenantID string, fpType molecule.FingerprintType, query *molecule.Fingerprint, threshold float64, limit int) ([]molecule.SimilarityMatch, error) {
	if query == nil {
		return nil, nil
	}
	minOn, maxOn := 0, math.MaxInt32
	if threshold > 0 {
		minOn = int(math.Ceil(threshold*float64(query.NumOnBits) - popcountSlack))
		maxOn = int(math.Floor(float64(query.NumOnBits)/threshold + popcountSlack))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.molecule_id, m.inchi_key, f.bits, f.length
		FROM molecule_fingerprints f
		JOIN molecules m ON m.id = f.molecule_id
		WHERE f.tenant_id = $1 AND f.fp_type = $2 AND f.num_on_bits BETWEEN $3 AND $4
		ORDER BY f.molecule_id`,
		tenantID, string(fpType), minOn, maxOn)
	if err != nil {
		return nil, dbError(err, "failed to scan fingerprints")
	}
	defer rows.Close()

	var matches []molecule.SimilarityMatch
	for rows.Next() {
		rec, err := scanFingerprintRecord(rows, fpType)
		if err != nil {
			return nil, err
		}
		sim, err := molecule.Tanimoto(query, rec.Fingerprint)
		if err != nil || sim < threshold {
			continue
		}
		matches = append(matches, molecule.SimilarityMatch{MoleculeID: rec.MoleculeID, InChIKey: rec.InChIKey, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "failed to iterate fingerprints")
	}

	molecule.SortMatches(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	if err := s.attachMatchMolecules(ctx, matches); err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *MoleculeStore) ListFingerprints(ctx context.Context, tenantID string, fpType molecule.FingerprintType, afterID string, limit int) ([]molecule.FingerprintRecord, error) {
	if afterID == "" {
		afterID = nilUUID
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.molecule_id, m.inchi_key, f.bits, f.length
		FROM molecule_fingerprints f
		JOIN molecules m ON m.id = f.molecule_id
		WHERE f.tenant_id = $1 AND f.fp_type = $2 AND f.molecule_id > $3::uuid
		ORDER BY f.molecule_id
		LIMIT $4`,
		tenantID, string(fpType), afterID, limit)
	if err != nil {
		return nil, dbError(err, "failed to list fingerprints")
	}
	defer rows.Close()

	var out []molecule.FingerprintRecord
	for rows.Next() {
		rec, err := scanFingerprintRecord(rows, fpType)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "failed to iterate fingerprints")
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

func (s *MoleculeStore) Create(ctx context.Context, m *molecule.Molecule) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Version == 0 {
		m.Version = 1
	}

	descJSON, err := marshalJSONB(m.Descriptors)
	if err != nil {
		return "", err
	}
	metaJSON, err := marshalMetadata(m.Metadata)
	if err != nil {
		return "", err
	}

	err = withTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO molecules (
				id, tenant_id, name, canonical_smiles, inchi, inchi_key, smiles_hash,
				descriptors, metadata, created_at, updated_at, version
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			m.ID, m.TenantID, m.Name, m.CanonicalSMILES, m.InChI, m.InChIKey, m.SMILESHash,
			descJSON, metaJSON, m.CreatedAt, m.UpdatedAt, m.Version)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.New(errors.ErrCodeMoleculeAlreadyExists, "molecule already exists").
					WithDetail(m.InChIKey).WithCause(err)
			}
			return dbError(err, "failed to insert molecule")
		}
		return upsertFingerprints(ctx, tx, m.ID, m.TenantID, m.Fingerprints)
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug("molecule created", logging.MoleculeID(m.ID), logging.TenantID(m.TenantID))
	return m.ID, nil
}

// Update locks the row, merges patch with Molecule.Apply and writes the
// result back, so concurrent uploads updating one molecule serialize.
func (s *MoleculeStore) Update(ctx context.Context, id string, patch molecule.MoleculePatch) error {
	return withTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		m, err := scanMolecule(tx.QueryRowContext(ctx,
			`SELECT `+moleculeColumns+` FROM molecules WHERE id = $1 FOR UPDATE`, id))
		if stderrors.Is(err, sql.ErrNoRows) {
			return molecule.ErrNotFound
		}
		if err != nil {
			return dbError(err, "failed to load molecule for update")
		}

		m.Apply(patch, s.now())
		descJSON, err := marshalJSONB(m.Descriptors)
		if err != nil {
			return err
		}
		metaJSON, err := marshalMetadata(m.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE molecules
			SET name = $2, descriptors = $3, metadata = $4, updated_at = $5, version = $6
			WHERE id = $1`,
			m.ID, m.Name, descJSON, metaJSON, m.UpdatedAt, m.Version); err != nil {
			return dbError(err, "failed to update molecule")
		}
		return upsertFingerprints(ctx, tx, m.ID, m.TenantID, patch.Fingerprints)
	})
}

func upsertFingerprints(ctx context.Context, q queryExecutor, id, tenantID string, fps map[molecule.FingerprintType]*molecule.Fingerprint) error {
	types := lo.Keys(fps)
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		fp := fps[t]
		if fp == nil {
			continue
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO molecule_fingerprints (molecule_id, tenant_id, fp_type, bits, length, num_on_bits)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (molecule_id, fp_type)
			DO UPDATE SET bits = EXCLUDED.bits, length = EXCLUDED.length, num_on_bits = EXCLUDED.num_on_bits`,
			id, tenantID, string(t), fp.Bits, fp.Length, fp.NumOnBits); err != nil {
			return dbError(err, "failed to store fingerprint")
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanMolecule(row scanner) (*molecule.Molecule, error) {
	var (
		m        molecule.Molecule
		descJSON []byte
		metaJSON []byte
	)
	if err := row.Scan(&m.ID, &m.TenantID, &m.Name, &m.CanonicalSMILES, &m.InChI, &m.InChIKey,
		&m.SMILESHash, &descJSON, &metaJSON, &m.CreatedAt, &m.UpdatedAt, &m.Version); err != nil {
		return nil, err
	}
	if len(descJSON) > 0 {
		m.Descriptors = &molecule.Descriptors{}
		if err := unmarshalJSONB(descJSON, m.Descriptors); err != nil {
			return nil, err
		}
	}
	m.Metadata = make(map[string]interface{})
	if err := unmarshalJSONB(metaJSON, &m.Metadata); err != nil {
		return nil, err
	}
	m.Fingerprints = make(map[molecule.FingerprintType]*molecule.Fingerprint)
	return &m, nil
}

func scanFingerprintRecord(row scanner, fpType molecule.FingerprintType) (molecule.FingerprintRecord, error) {
	var (
		rec    molecule.FingerprintRecord
		bits   []byte
		length int
	)
	if err := row.Scan(&rec.MoleculeID, &rec.InChIKey, &bits, &length); err != nil {
		return rec, dbError(err, "failed to scan fingerprint")
	}
	fp, err := molecule.NewFingerprint(fpType, bits, length)
	if err != nil {
		return rec, err
	}
	rec.Fingerprint = fp
	return rec, nil
}

// attachFingerprints loads every fingerprint of the given molecules in one
// query.
func (s *MoleculeStore) attachFingerprints(ctx context.Context, q queryExecutor, byID map[string]*molecule.Molecule) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	rows, err := q.QueryContext(ctx,
		`SELECT molecule_id, fp_type, bits, length FROM molecule_fingerprints WHERE molecule_id = ANY($1::uuid[])`,
		pq.Array(ids))
	if err != nil {
		return dbError(err, "failed to load fingerprints")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, fpType string
			bits       []byte
			length     int
		)
		if err := rows.Scan(&id, &fpType, &bits, &length); err != nil {
			return dbError(err, "failed to scan fingerprint")
		}
		m, ok := byID[id]
		if !ok {
			continue
		}
		fp, err := molecule.NewFingerprint(molecule.FingerprintType(fpType), bits, length)
		if err != nil {
			s.logger.Warn("skipping unreadable fingerprint",
				logging.MoleculeID(id), logging.String("type", fpType), logging.Err(err))
			continue
		}
		m.SetFingerprint(fp)
	}
	if err := rows.Err(); err != nil {
		return dbError(err, "failed to iterate fingerprints")
	}
	return nil
}

// attachMatchMolecules fills SimilarityMatch.Molecule for the kept matches.
func (s *MoleculeStore) attachMatchMolecules(ctx context.Context, matches []molecule.SimilarityMatch) error {
	if len(matches) == 0 {
		return nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.MoleculeID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+moleculeColumns+` FROM molecules WHERE id = ANY($1::uuid[])`, pq.Array(ids))
	if err != nil {
		return dbError(err, "failed to load matched molecules")
	}
	defer rows.Close()

	byID := make(map[string]*molecule.Molecule, len(ids))
	for rows.Next() {
		m, err := scanMolecule(rows)
		if err != nil {
			return dbError(err, "failed to scan molecule")
		}
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return dbError(err, "failed to iterate molecules")
	}
	if err := s.attachFingerprints(ctx, s.db, byID); err != nil {
		return err
	}
	for i := range matches {
		matches[i].Molecule = byID[matches[i].MoleculeID]
	}
	return nil
}

// marshalMetadata always yields a JSON object for the NOT NULL column.
func marshalMetadata(meta map[string]interface{}) (interface{}, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	v, err := marshalJSONB(meta)
	if err != nil {
		return nil, err
	}
	return v, nil
}
