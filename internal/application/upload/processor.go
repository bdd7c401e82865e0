package upload

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/turtacn/molingest/internal/application/upload/ingest"
	"github.com/turtacn/molingest/internal/domain/molecule"
	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

// Pipeline limits used when the configuration leaves them at zero.
const (
	DefaultMaxRows          = 100000
	DefaultFailureThreshold = 0.5
)

// ProcessorConfig tunes both passes.
type ProcessorConfig struct {
	ChunkSize          int
	MaxRows            int
	RawValueLimit      int
	ProgressFlushEvery int
	// FailureThreshold is the invalid-row ratio above which validation fails.
	FailureThreshold float64
	Validator        ValidatorConfig
	// SimilarityFingerprint is the fingerprint type searched for near duplicates.
	SimilarityFingerprint molecule.FingerprintType
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = ingest.DefaultChunkSize
	}
	if c.MaxRows <= 0 {
		c.MaxRows = DefaultMaxRows
	}
	if c.RawValueLimit <= 0 {
		c.RawValueLimit = domain.DefaultRawValueLimit
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SimilarityFingerprint == "" {
		c.SimilarityFingerprint = molecule.FingerprintMorgan
	}
	return c
}

// ProcessorDeps are the collaborators of a Processor. Events, Observer and
// Now are optional.
type ProcessorDeps struct {
	Repo       domain.Repository
	Store      molecule.Store
	Files      FileStorage
	Normalizer molecule.Normalizer
	Indexes    IndexProvider
	Events     domain.EventPublisher
	Observer   Observer
	Logger     logging.Logger
	Now        func() time.Time
}

// Processor runs the validation and insertion passes of an upload. Both
// passes read the stored file from the start, so a pass can be re-run on
// any worker.
type Processor struct {
	lifecycle
	store      molecule.Store
	files      FileStorage
	normalizer molecule.Normalizer
	indexes    IndexProvider
	cfg        ProcessorConfig
}

func NewProcessor(deps ProcessorDeps, cfg ProcessorConfig) *Processor {
	log := deps.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Processor{
		lifecycle:  newLifecycle(deps.Repo, deps.Events, deps.Observer, log.Named("processor"), deps.Now),
		store:      deps.Store,
		files:      deps.Files,
		normalizer: deps.Normalizer,
		indexes:    deps.Indexes,
		cfg:        cfg.withDefaults(),
	}
}

// Run executes the pass a job asks for.
func (p *Processor) Run(ctx context.Context, job domain.Job) error {
	switch job.Kind {
	case domain.JobValidate:
		return p.RunValidation(ctx, job.UploadID)
	case domain.JobProcess:
		return p.RunInsertion(ctx, job.UploadID)
	}
	return errors.InvalidParam("unknown job kind").WithDetail(string(job.Kind))
}

// pass holds what one run over the file needs.
type pass struct {
	up        *domain.Upload
	tracker   *domain.Tracker
	parser    ingest.Parser
	closer    io.Closer
	validator *Validator
	detector  *DuplicateDetector
	index     molecule.SimilarityIndex
	rows      int
}

func (p *Processor) open(ctx context.Context, u *domain.Upload, phase string) (*pass, error) {
	if u.File == nil || u.File.StoragePath == "" {
		return nil, errors.InvalidState("upload has no stored file")
	}
	prog, err := p.progress(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	tracker := domain.NewTracker(prog, p.repo, p.cfg.ProgressFlushEvery, p.now)
	if err := tracker.BeginPass(ctx, phase); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "save progress")
	}

	rc, err := p.files.Get(ctx, u.File.StoragePath)
	if err != nil {
		return nil, err
	}
	parser, err := ingest.NewParser(u.FileType, rc,
		ingest.WithChunkSize(p.cfg.ChunkSize),
		ingest.WithColumnMapping(u.ColumnMapping),
		ingest.WithRawValueLimit(p.cfg.RawValueLimit),
	)
	if err != nil {
		rc.Close()
		return nil, err
	}

	var index molecule.SimilarityIndex
	if p.indexes != nil {
		index = p.indexes.NewIndex()
	}
	var threshold *float64
	if u.SimilarityEnabled() {
		threshold = u.SimilarityThreshold
	}
	validator := NewValidator(p.normalizer, p.cfg.Validator)
	if validator.Degraded() {
		p.logger.Warn("chemistry engine unavailable, validating without normalization",
			logging.UploadID(u.ID), logging.String("engine", p.normalizer.Engine()))
	}
	return &pass{
		up:        u,
		tracker:   tracker,
		parser:    parser,
		closer:    rc,
		validator: validator,
		detector:  NewDuplicateDetector(p.store, index, u.TenantID, threshold),
		index:     index,
	}, nil
}

// chunk is one parsed chunk with its validation verdicts and, for valid
// rows, their duplicate classification.
type chunk struct {
	rows    []ingest.RawRow
	results []ValidationResult
	classes []Classification
}

// next parses, validates and classifies the next chunk. It returns io.EOF
// once the file is exhausted.
func (p *Processor) next(ctx context.Context, ps *pass) (*chunk, error) {
	rows, err := ps.parser.Next(ctx)
	if err != nil {
		return nil, err
	}
	ps.rows += len(rows)
	if ps.rows > p.cfg.MaxRows {
		return nil, errors.Newf(errors.ErrCodeUploadTooManyRows, "file has more than %d rows", p.cfg.MaxRows)
	}

	c := &chunk{
		rows:    rows,
		results: make([]ValidationResult, len(rows)),
		classes: make([]Classification, len(rows)),
	}
	for i, row := range rows {
		res, err := ps.validator.Validate(ctx, row)
		if err != nil {
			return nil, err
		}
		c.results[i] = res
	}
	if err := ps.detector.Prefetch(ctx, c.results); err != nil {
		return nil, err
	}
	for i, res := range c.results {
		if !res.Valid {
			continue
		}
		fp, err := p.similarityFingerprint(ctx, ps.up, res)
		if err != nil {
			return nil, err
		}
		cls, err := ps.detector.Classify(ctx, res, fp)
		if err != nil {
			return nil, err
		}
		c.classes[i] = cls
	}
	return c, nil
}

// similarityFingerprint computes the query fingerprint when the upload asks
// for near-duplicate detection. A row the engine cannot fingerprint is
// simply not checked for similarity.
func (p *Processor) similarityFingerprint(ctx context.Context, u *domain.Upload, res ValidationResult) (*molecule.Fingerprint, error) {
	if !u.SimilarityEnabled() || res.Structure == nil {
		return nil, nil
	}
	fp, err := p.normalizer.Fingerprint(ctx, res.Structure, p.cfg.SimilarityFingerprint, molecule.FingerprintParams{})
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		p.logger.Debug("similarity fingerprint failed",
			logging.UploadID(u.ID), logging.RowNumber(res.RowNumber), logging.Err(err))
		return nil, nil
	}
	return fp, nil
}

func (p *Processor) saveRowErrors(ctx context.Context, errs []domain.RowError) error {
	if len(errs) == 0 {
		return nil
	}
	for _, re := range errs {
		p.observer.RowError(string(re.Code))
	}
	if err := p.repo.AddRowErrors(ctx, errs); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "save row errors")
	}
	return nil
}

// load fetches the upload and reports whether it is in the status a pass
// starts from. Redelivered jobs for uploads that moved on are dropped.
func (p *Processor) load(ctx context.Context, uploadID string, want domain.Status) (*domain.Upload, bool, error) {
	u, err := p.repo.Get(ctx, "", uploadID)
	if err != nil {
		return nil, false, err
	}
	if u.Status != want {
		p.logger.Info("upload not in expected status, skipping pass",
			logging.UploadID(u.ID), logging.String("status", string(u.Status)), logging.String("want", string(want)))
		return u, false, nil
	}
	return u, true, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation pass
// ─────────────────────────────────────────────────────────────────────────────

// RunValidation moves an INITIATED upload through VALIDATING and ends in
// AWAITING_CONFIRM or VALIDATION_FAILED.
func (p *Processor) RunValidation(ctx context.Context, uploadID string) error {
	u, ok, err := p.load(ctx, uploadID, domain.StatusInitiated)
	if err != nil || !ok {
		return err
	}
	if err := p.transition(ctx, u, domain.StatusValidating, nil); err != nil {
		if errors.Is(err, domain.ErrStaleStatus) {
			return nil
		}
		return err
	}

	started := p.now()
	if err := p.validate(ctx, u); err != nil {
		p.logger.Error("validation pass failed", logging.UploadID(u.ID), logging.Err(err))
		p.fail(ctx, u, err)
		return err
	}
	p.observer.PhaseDuration(domain.PhaseValidating, p.now().Sub(started))
	return nil
}

func (p *Processor) validate(ctx context.Context, u *domain.Upload) error {
	ps, err := p.open(ctx, u, domain.PhaseValidating)
	if err != nil {
		return err
	}
	defer ps.closer.Close()

	for {
		c, err := p.next(ctx, ps)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		var rowErrs []domain.RowError
		for i, row := range c.rows {
			res, cls := c.results[i], c.classes[i]
			outcome := domain.RowOutcome{Valid: res.Valid}
			switch {
			case !res.Valid:
				rowErrs = append(rowErrs, *newRowError(u.ID, row, res.Code, res.Detail, p.cfg.RawValueLimit, p.now()))
			case Decide(u.DuplicateAction, cls.Kind) == ActionReject:
				outcome.Valid = false
				rowErrs = append(rowErrs, *duplicateRowError(u.ID, row, cls, p.cfg.RawValueLimit, p.now()))
			}
			switch cls.Kind {
			case KindExact:
				outcome.DupExact = true
			case KindSimilar:
				outcome.DupSimilar = true
			}
			if cls.Kind != "" && cls.Kind != KindNone {
				p.observer.Duplicate(string(cls.Kind))
			}
			p.observer.RowProcessed(domain.PhaseValidating, rowOutcomeLabel(outcome.Valid))
			if err := ps.tracker.Record(ctx, outcome); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "save progress")
			}
		}
		if err := p.saveRowErrors(ctx, rowErrs); err != nil {
			return err
		}
	}

	if err := ps.tracker.SetTotal(ps.rows); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "fix row total")
	}
	snap := ps.tracker.Snapshot()
	target := domain.DecideValidationOutcome(snap.TotalRows, snap.InvalidRows, p.cfg.FailureThreshold)

	phase := domain.PhaseAwaiting
	if target == domain.StatusValidationFailed {
		phase = domain.PhaseFailed
		u.ErrorMessage = fmt.Sprintf("%d of %d rows are invalid, above the %.0f%% threshold",
			snap.InvalidRows, snap.TotalRows, p.cfg.FailureThreshold*100)
	}
	if err := ps.tracker.Complete(ctx, phase); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "save progress")
	}

	p.logger.Info("validation pass finished",
		logging.UploadID(u.ID),
		logging.Int("total_rows", snap.TotalRows),
		logging.Int("valid_rows", snap.ValidRows),
		logging.Int("invalid_rows", snap.InvalidRows),
		logging.Bool("degraded", ps.validator.Degraded()),
		logging.String("outcome", string(target)))
	return p.transition(ctx, u, target, map[string]interface{}{
		"total_rows":        snap.TotalRows,
		"valid_rows":        snap.ValidRows,
		"invalid_rows":      snap.InvalidRows,
		"duplicate_exact":   snap.DuplicateExact,
		"duplicate_similar": snap.DuplicateSimilar,
	})
}

func rowOutcomeLabel(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

// ─────────────────────────────────────────────────────────────────────────────
// Insertion pass
// ─────────────────────────────────────────────────────────────────────────────

// RunInsertion writes a confirmed upload's molecules and moves it from
// PROCESSING to COMPLETED with its result summary.
func (p *Processor) RunInsertion(ctx context.Context, uploadID string) error {
	u, ok, err := p.load(ctx, uploadID, domain.StatusProcessing)
	if err != nil || !ok {
		return err
	}

	started := p.now()
	if err := p.insert(ctx, u); err != nil {
		p.logger.Error("insertion pass failed", logging.UploadID(u.ID), logging.Err(err))
		p.fail(ctx, u, err)
		return err
	}
	p.observer.PhaseDuration(domain.PhaseInserting, p.now().Sub(started))
	return nil
}

func (p *Processor) insert(ctx context.Context, u *domain.Upload) error {
	ps, err := p.open(ctx, u, domain.PhaseInserting)
	if err != nil {
		return err
	}
	defer ps.closer.Close()

	ins := NewInserter(u, p.store, p.normalizer, ps.index, p.cfg.RawValueLimit, p.logger, p.now)
	for {
		c, err := p.next(ctx, ps)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		var rowErrs []domain.RowError
		for i, row := range c.rows {
			res, cls := c.results[i], c.classes[i]
			outcome := domain.RowOutcome{Valid: res.Valid}
			if !res.Valid {
				ins.CountInvalid()
				p.observer.RowProcessed(domain.PhaseInserting, "invalid")
			} else {
				out, err := ins.Apply(ctx, row, res, cls)
				if err != nil {
					return err
				}
				if out.Failed() {
					outcome.Valid = false
					rowErrs = append(rowErrs, *out.RowError)
				} else if out.Action != ActionSkip {
					p.observer.MoleculeWritten(string(out.Action))
				}
				outcome.DupExact = cls.Kind == KindExact
				outcome.DupSimilar = cls.Kind == KindSimilar
				p.observer.RowProcessed(domain.PhaseInserting, string(out.Action))
			}
			if err := ps.tracker.Record(ctx, outcome); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "save progress")
			}
		}
		if err := p.saveRowErrors(ctx, rowErrs); err != nil {
			return err
		}
	}

	if err := ps.tracker.SetTotal(ps.rows); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "fix row total")
	}
	summary := ins.Finish()
	if err := p.repo.SaveSummary(ctx, summary); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "save result summary")
	}
	if err := ps.tracker.Complete(ctx, domain.PhaseCompleted); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "save progress")
	}

	p.logger.Info("insertion pass finished",
		logging.UploadID(u.ID),
		logging.Int("created", summary.MoleculesCreated),
		logging.Int("updated", summary.MoleculesUpdated),
		logging.Int("skipped", summary.MoleculesSkipped),
		logging.Int("errors", summary.ErrorsCount),
		logging.Float64("duration_seconds", summary.ProcessingDurationSeconds))
	return p.transition(ctx, u, domain.StatusCompleted, map[string]interface{}{
		"molecules_created":        summary.MoleculesCreated,
		"molecules_updated":        summary.MoleculesUpdated,
		"molecules_skipped":        summary.MoleculesSkipped,
		"errors_count":             summary.ErrorsCount,
		"exact_duplicates_found":   summary.ExactDuplicatesFound,
		"similar_duplicates_found": summary.SimilarDuplicatesFound,
	})
}
