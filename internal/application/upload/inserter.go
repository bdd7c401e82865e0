package upload

import (
	"context"
	"time"

	"github.com/turtacn/molingest/internal/application/upload/ingest"
	"github.com/turtacn/molingest/internal/domain/molecule"
	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

// Action is what the inserter does with one valid row.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
	ActionReject Action = "reject"
)

// Decide applies the duplicate policy. In-batch collisions have no stored
// record to update, so UPDATE skips them.
func Decide(policy domain.DuplicateAction, kind DuplicateKind) Action {
	if kind == KindNone || kind == "" {
		return ActionCreate
	}
	switch policy {
	case domain.DuplicateError:
		return ActionReject
	case domain.DuplicateUpdate:
		if kind == KindInBatch {
			return ActionSkip
		}
		return ActionUpdate
	}
	return ActionSkip
}

// Outcome is the result of applying one row.
type Outcome struct {
	Action     Action
	MoleculeID string
	// RowError is set when the row ends up rejected or failed.
	RowError *domain.RowError
}

// Failed reports whether the row produced an error record.
func (o Outcome) Failed() bool { return o.RowError != nil }

// storedFingerprints are computed for every molecule an upload writes.
var storedFingerprints = []molecule.FingerprintType{molecule.FingerprintMorgan, molecule.FingerprintMACCS}

// Inserter writes the rows of one insertion pass and tallies the summary.
type Inserter struct {
	up         *domain.Upload
	store      molecule.Store
	normalizer molecule.Normalizer
	index      molecule.SimilarityIndex
	rawLimit   int
	logger     logging.Logger
	now        func() time.Time

	started time.Time
	summary domain.ResultSummary
}

// NewInserter starts the pass clock. index may be nil.
func NewInserter(up *domain.Upload, store molecule.Store, n molecule.Normalizer, index molecule.SimilarityIndex, rawLimit int, log logging.Logger, now func() time.Time) *Inserter {
	if now == nil {
		now = time.Now
	}
	return &Inserter{
		up:         up,
		store:      store,
		normalizer: n,
		index:      index,
		rawLimit:   rawLimit,
		logger:     log,
		now:        now,
		started:    now(),
		summary:    domain.ResultSummary{UploadID: up.ID},
	}
}

// CountInvalid charges a row that failed validation to the summary. Its
// error record was written by the validation pass.
func (i *Inserter) CountInvalid() {
	i.summary.ErrorsCount++
}

// Apply decides and performs the write for a valid row. Store failures are
// charged to the row; only a failing engine or context aborts the pass.
func (i *Inserter) Apply(ctx context.Context, row ingest.RawRow, res ValidationResult, cls Classification) (Outcome, error) {
	switch cls.Kind {
	case KindExact:
		i.summary.ExactDuplicatesFound++
	case KindSimilar:
		i.summary.SimilarDuplicatesFound++
	}

	action := Decide(i.up.DuplicateAction, cls.Kind)
	switch action {
	case ActionSkip:
		i.summary.MoleculesSkipped++
		return Outcome{Action: ActionSkip, MoleculeID: cls.MatchID}, nil

	case ActionReject:
		// Usually already recorded at validation; the repository keeps one
		// record per row, so a duplicate that appeared since is still reported.
		i.summary.ErrorsCount++
		return Outcome{Action: ActionReject, RowError: duplicateRowError(i.up.ID, row, cls, i.rawLimit, i.now())}, nil

	case ActionUpdate:
		target := cls.Match
		if target == nil && cls.MatchInChIKey != "" {
			m, err := i.store.FindByInChIKey(ctx, i.up.TenantID, cls.MatchInChIKey)
			if err != nil {
				return i.storeFailure(ctx, row, err)
			}
			target = m
		}
		if target != nil {
			return i.update(ctx, row, res, target)
		}
		// the match disappeared since classification
		return i.create(ctx, row, res)
	}
	return i.create(ctx, row, res)
}

func (i *Inserter) create(ctx context.Context, row ingest.RawRow, res ValidationResult) (Outcome, error) {
	m, err := molecule.NewMolecule(i.up.TenantID, res.CanonicalSMILES, res.InChI, res.InChIKey, res.SMILESHash)
	if err != nil {
		i.summary.ErrorsCount++
		return Outcome{Action: ActionReject, RowError: i.rowError(row, domain.CodeDBInsertFailed, err.Error())}, nil
	}
	m.Name = row.Name
	m.Metadata = molecule.ProvenanceMetadata(i.up.ID, row.RowNumber, row.ExternalID)

	// A molecule that passed validation is stored even when its descriptors
	// or fingerprints cannot be computed; update fills them in later.
	if res.Structure != nil {
		d, code, err := i.descriptors(ctx, res.Structure)
		if err != nil {
			return Outcome{}, err
		}
		if code != "" {
			i.logger.Warn("creating molecule without descriptors",
				logging.UploadID(i.up.ID), logging.RowNumber(row.RowNumber))
		}
		m.Descriptors = d

		fps, code, err := i.fingerprints(ctx, res.Structure, storedFingerprints)
		if err != nil {
			return Outcome{}, err
		}
		if code != "" {
			i.logger.Warn("creating molecule without some fingerprints",
				logging.UploadID(i.up.ID), logging.RowNumber(row.RowNumber))
		}
		for _, fp := range fps {
			m.SetFingerprint(fp)
		}
	}

	id, err := i.store.Create(ctx, m)
	if err != nil {
		return i.storeFailure(ctx, row, err)
	}
	m.ID = id
	i.summary.MoleculesCreated++
	if i.index != nil {
		if err := i.index.Add(ctx, m); err != nil {
			i.logger.Warn("similarity index add failed", logging.MoleculeID(id), logging.Err(err))
		}
	}
	return Outcome{Action: ActionCreate, MoleculeID: id}, nil
}

// update merges the bounded mutable set into target: the name when it has
// none, the upload history and any descriptors or fingerprints it lacks.
func (i *Inserter) update(ctx context.Context, row ingest.RawRow, res ValidationResult, target *molecule.Molecule) (Outcome, error) {
	var patch molecule.MoleculePatch
	if target.Name == "" && row.Name != "" {
		name := row.Name
		patch.Name = &name
	}
	patch.Metadata = map[string]interface{}{
		molecule.MetaUploadHistory: molecule.AppendUploadHistory(target.Metadata, molecule.UploadHistoryEntry{
			UploadID:  i.up.ID,
			RowNumber: row.RowNumber,
			Action:    string(ActionUpdate),
			At:        i.now().UTC(),
		}),
	}

	if res.Structure != nil {
		if target.Descriptors == nil {
			d, code, err := i.descriptors(ctx, res.Structure)
			if err != nil {
				return Outcome{}, err
			}
			if code == "" {
				patch.Descriptors = d
			}
		}
		if missing := target.MissingFingerprints(storedFingerprints...); len(missing) > 0 {
			fps, _, err := i.fingerprints(ctx, res.Structure, missing)
			if err != nil {
				return Outcome{}, err
			}
			if len(fps) > 0 {
				patch.Fingerprints = make(map[molecule.FingerprintType]*molecule.Fingerprint, len(fps))
				for _, fp := range fps {
					patch.Fingerprints[fp.Type] = fp
				}
			}
		}
	}

	if err := i.store.Update(ctx, target.ID, patch); err != nil {
		return i.storeFailure(ctx, row, err)
	}
	i.summary.MoleculesUpdated++
	return Outcome{Action: ActionUpdate, MoleculeID: target.ID}, nil
}

func (i *Inserter) descriptors(ctx context.Context, s molecule.Structure) (*molecule.Descriptors, domain.RowErrorCode, error) {
	d, err := i.normalizer.Descriptors(ctx, s)
	if err != nil {
		if fatal(err) {
			return nil, "", err
		}
		i.logger.Debug("descriptor calculation failed", logging.Err(err))
		return nil, domain.CodeDescriptorFailed, nil
	}
	return d, "", nil
}

// fingerprints returns the types it could compute. A non-fatal failure of
// any type is reported through the code, with the others still returned.
func (i *Inserter) fingerprints(ctx context.Context, s molecule.Structure, types []molecule.FingerprintType) ([]*molecule.Fingerprint, domain.RowErrorCode, error) {
	out := make([]*molecule.Fingerprint, 0, len(types))
	var code domain.RowErrorCode
	for _, t := range types {
		fp, err := i.normalizer.Fingerprint(ctx, s, t, molecule.FingerprintParams{})
		if err != nil {
			if fatal(err) {
				return nil, "", err
			}
			i.logger.Debug("fingerprint calculation failed", logging.String("type", string(t)), logging.Err(err))
			code = domain.CodeFingerprintFailed
			continue
		}
		out = append(out, fp)
	}
	return out, code, nil
}

// storeFailure records a per-row write failure. A cancelled context is not
// the row's fault and ends the pass instead.
func (i *Inserter) storeFailure(ctx context.Context, row ingest.RawRow, err error) (Outcome, error) {
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}
	code := domain.CodeDBInsertFailed
	if errors.IsCode(err, errors.ErrCodeMoleculeAlreadyExists) || errors.IsConflict(err) {
		code = domain.CodeDBConstraintViolation
	}
	i.logger.Warn("molecule write failed",
		logging.UploadID(i.up.ID), logging.RowNumber(row.RowNumber), logging.Err(err))
	i.summary.ErrorsCount++
	return Outcome{Action: ActionReject, RowError: i.rowError(row, code, err.Error())}, nil
}

func (i *Inserter) rowError(row ingest.RawRow, code domain.RowErrorCode, detail string) *domain.RowError {
	return newRowError(i.up.ID, row, code, detail, i.rawLimit, i.now())
}

// Finish stamps the duration and returns the pass summary.
func (i *Inserter) Finish() *domain.ResultSummary {
	s := i.summary
	s.SetDuration(i.now().Sub(i.started))
	s.CreatedAt = i.now().UTC()
	return &s
}

// newRowError builds the persisted error record for a row.
func newRowError(uploadID string, row ingest.RawRow, code domain.RowErrorCode, detail string, rawLimit int, now time.Time) *domain.RowError {
	re := &domain.RowError{
		UploadID:  uploadID,
		RowNumber: row.RowNumber,
		Code:      code,
		Message:   code.Message(detail),
		RawData:   domain.TruncateRaw(row.Fields, rawLimit),
		CreatedAt: now.UTC(),
	}
	switch code {
	case domain.CodeMissingRequiredField, domain.CodeTooLong, domain.CodeInvalidStructure, domain.CodeTooLarge, domain.CodeNoAtoms:
		re.FieldName = "smiles"
	}
	return re
}

// duplicateRowError records a duplicate rejected under the ERROR policy.
func duplicateRowError(uploadID string, row ingest.RawRow, cls Classification, rawLimit int, now time.Time) *domain.RowError {
	re := newRowError(uploadID, row, cls.Kind.RowErrorCode(), cls.MatchInChIKey, rawLimit, now)
	re.DuplicateInChIKey = cls.MatchInChIKey
	if cls.Kind == KindSimilar {
		sim := cls.Similarity
		re.DuplicateSimilarity = &sim
	}
	return re
}
