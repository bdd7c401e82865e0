package upload

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molingest/internal/domain/molecule"
	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/intelligence/chemistry"
	"github.com/turtacn/molingest/pkg/errors"
)

const mixedCSV = "smiles,name\n" +
	"CCO,ethanol\n" +
	"OCC,ethanol again\n" +
	"C1CC,broken\n" +
	"c1ccccc1,benzene\n"

func noSimilarity(r *CreateRequest) { r.SimilarityThreshold = float(0) }

func TestProcessor_ValidationCountsRows(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{})
	ctx := context.Background()
	u := p.create(t, "mixed.csv", mixedCSV, nil)
	require.Len(t, p.dispatcher.jobs, 1)
	assert.Equal(t, domain.JobValidate, p.dispatcher.jobs[0].Kind)

	require.NoError(t, p.processor.Run(ctx, p.dispatcher.jobs[0]))

	got := p.status(t, u.ID)
	assert.Equal(t, domain.StatusAwaitingConfirm, got.Status)
	assert.NotNil(t, got.ValidatedAt)

	prog, err := p.repo.GetProgress(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, prog.TotalRows)
	assert.Equal(t, 4, prog.ProcessedRows)
	assert.Equal(t, 3, prog.ValidRows)
	assert.Equal(t, 1, prog.InvalidRows)
	assert.Equal(t, domain.PhaseAwaiting, prog.Phase)

	errs := p.repo.RowErrors(u.ID)
	require.Len(t, errs, 1)
	assert.Equal(t, 4, errs[0].RowNumber)
	assert.Equal(t, domain.CodeInvalidStructure, errs[0].Code)
	assert.Equal(t, "smiles", errs[0].FieldName)
	assert.Equal(t, "C1CC", errs[0].RawData["smiles"])

	assert.Equal(t, []domain.EventType{
		domain.EventCreated,
		domain.EventValidationStarted,
		domain.EventValidated,
	}, p.events.types())
}

func TestProcessor_ErrorPolicyCountsDuplicatesInvalid(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{})
	ctx := context.Background()
	u := p.create(t, "mixed.csv", mixedCSV, func(r *CreateRequest) { r.DuplicateAction = "error" })

	require.NoError(t, p.processor.RunValidation(ctx, u.ID))

	prog, err := p.repo.GetProgress(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, prog.ValidRows)
	assert.Equal(t, 2, prog.InvalidRows)
	assert.Equal(t, prog.ProcessedRows, prog.ValidRows+prog.InvalidRows)

	errs := p.repo.RowErrors(u.ID)
	require.Len(t, errs, 2)
	assert.Equal(t, domain.CodeDuplicateInBatch, errs[0].Code)
	assert.Equal(t, 3, errs[0].RowNumber)
	assert.NotEmpty(t, errs[0].DuplicateInChIKey)
	assert.Nil(t, errs[0].DuplicateSimilarity)
	assert.Equal(t, domain.StatusAwaitingConfirm, p.status(t, u.ID).Status)
}

func TestProcessor_ValidationFailsAboveThreshold(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{FailureThreshold: 0.3})
	ctx := context.Background()
	content := "smiles\nCCO\nC1CC\nC(C\n"
	u := p.create(t, "bad.csv", content, nil)

	require.NoError(t, p.processor.RunValidation(ctx, u.ID))

	got := p.status(t, u.ID)
	assert.Equal(t, domain.StatusValidationFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "2 of 3 rows are invalid")

	prog, err := p.repo.GetProgress(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFailed, prog.Phase)
	assert.Contains(t, p.events.types(), domain.EventValidationFailed)
}

func TestProcessor_TooManyRowsFailsUpload(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{MaxRows: 2, ChunkSize: 1})
	ctx := context.Background()
	u := p.create(t, "list.smi", "CCO\nCCCO\nCCCCO\n", nil)

	err := p.processor.RunValidation(ctx, u.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUploadTooManyRows))

	got := p.status(t, u.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "more than 2 rows")
	assert.Contains(t, p.events.types(), domain.EventFailed)
}

func TestProcessor_RedeliveredValidationIsIgnored(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{})
	ctx := context.Background()
	u := p.create(t, "list.smi", "CCO\n", nil)

	require.NoError(t, p.processor.RunValidation(ctx, u.ID))
	before := len(p.events.types())
	require.NoError(t, p.processor.RunValidation(ctx, u.ID))

	assert.Equal(t, domain.StatusAwaitingConfirm, p.status(t, u.ID).Status)
	assert.Len(t, p.events.types(), before)
}

func TestProcessor_InsertionSkipPolicy(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{})
	ctx := context.Background()
	u := p.create(t, "mixed.csv", mixedCSV, noSimilarity)
	require.NoError(t, p.processor.RunValidation(ctx, u.ID))

	_, err := p.service.Confirm(ctx, testTenant, u.ID)
	require.NoError(t, err)
	require.Len(t, p.dispatcher.jobs, 2)
	assert.Equal(t, domain.JobProcess, p.dispatcher.jobs[1].Kind)
	require.NoError(t, p.processor.Run(ctx, p.dispatcher.jobs[1]))

	got := p.status(t, u.ID)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	summary, err := p.service.Summary(ctx, testTenant, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.MoleculesCreated)
	assert.Equal(t, 0, summary.MoleculesUpdated)
	assert.Equal(t, 1, summary.MoleculesSkipped)
	assert.Equal(t, 1, summary.ErrorsCount)
	assert.Equal(t, 4, summary.Total())
	assert.Equal(t, 2, p.store.Len())

	prog, err := p.repo.GetProgress(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCompleted, prog.Phase)
	assert.Equal(t, 4, prog.ProcessedRows)

	// the invalid row keeps the single record written at validation
	require.Len(t, p.repo.RowErrors(u.ID), 1)
	assert.Equal(t, domain.CodeInvalidStructure, p.repo.RowErrors(u.ID)[0].Code)
	assert.Equal(t, domain.EventCompleted, p.events.types()[len(p.events.types())-1])
}

func TestProcessor_ErrorPolicyRecordsEachRowOnce(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{})
	ctx := context.Background()
	content := "smiles,name\nCCO,Ethanol\nCCO,Ethyl alcohol\n"
	u := p.create(t, "dups.csv", content, func(r *CreateRequest) {
		r.DuplicateAction = "error"
		noSimilarity(r)
	})
	require.NoError(t, p.processor.RunValidation(ctx, u.ID))
	require.Equal(t, domain.StatusAwaitingConfirm, p.status(t, u.ID).Status)

	_, err := p.service.Confirm(ctx, testTenant, u.ID)
	require.NoError(t, err)
	require.NoError(t, p.processor.RunInsertion(ctx, u.ID))

	page, err := p.service.ListRowErrors(ctx, testTenant, u.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Errors, 1)
	assert.Equal(t, 3, page.Errors[0].RowNumber)
	assert.Equal(t, domain.CodeDuplicateInBatch, page.Errors[0].Code)

	counts, err := p.service.ErrorSummary(ctx, testTenant, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.CodeCount{{Code: domain.CodeDuplicateInBatch, Count: 1}}, counts)

	summary, err := p.service.Summary(ctx, testTenant, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.MoleculesCreated)
	assert.Equal(t, 1, summary.ErrorsCount)
}

func TestProcessor_InsertionRecordsProvenance(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{})
	ctx := context.Background()
	content := "cas,smiles,title\n64-17-5,CCO,ethanol\n"
	u := p.create(t, "one.csv", content, noSimilarity)
	require.NoError(t, p.processor.RunValidation(ctx, u.ID))
	_, err := p.service.Confirm(ctx, testTenant, u.ID)
	require.NoError(t, err)
	require.NoError(t, p.processor.RunInsertion(ctx, u.ID))

	v := NewValidator(chemistry.NewBuiltin(), ValidatorConfig{})
	res, err := v.validate(ctx, 1, "CCO", molecule.FormatSMILES)
	require.NoError(t, err)
	m, err := p.store.FindByInChIKey(ctx, testTenant, res.InChIKey)
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, "ethanol", m.Name)
	assert.Equal(t, u.ID, m.Metadata[molecule.MetaSourceUploadID])
	assert.Equal(t, 2, m.Metadata[molecule.MetaSourceRowNumber])
	assert.Equal(t, "64-17-5", m.Metadata[molecule.MetaExternalID])
	require.NotNil(t, m.Descriptors)
	assert.Equal(t, "C2H6O", m.Descriptors.Formula)
	assert.NotNil(t, m.Fingerprint(molecule.FingerprintMorgan))
	assert.NotNil(t, m.Fingerprint(molecule.FingerprintMACCS))
}

func TestProcessor_UpdatePolicyMergesExisting(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{})
	ctx := context.Background()
	existing := p.seed(t, "CCO")

	u := p.create(t, "list.smi", "OCC ethanol\n", func(r *CreateRequest) {
		r.DuplicateAction = "update"
		noSimilarity(r)
	})
	require.NoError(t, p.processor.RunValidation(ctx, u.ID))

	prog, err := p.repo.GetProgress(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, prog.DuplicateExact)
	assert.Equal(t, 1, prog.ValidRows)

	_, err = p.service.Confirm(ctx, testTenant, u.ID)
	require.NoError(t, err)
	require.NoError(t, p.processor.RunInsertion(ctx, u.ID))

	summary, err := p.repo.GetSummary(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.MoleculesUpdated)
	assert.Equal(t, 1, summary.ExactDuplicatesFound)
	assert.Equal(t, 0, summary.MoleculesCreated)

	m := p.store.Get(existing.ID)
	assert.Equal(t, "ethanol", m.Name)
	history, ok := m.Metadata[molecule.MetaUploadHistory].([]interface{})
	require.True(t, ok)
	require.Len(t, history, 1)
	entry := history[0].(map[string]interface{})
	assert.Equal(t, u.ID, entry["upload_id"])
	assert.Equal(t, "update", entry["action"])
	// descriptors were missing on the seeded record
	assert.NotNil(t, m.Descriptors)
	assert.Equal(t, existing.Version+1, m.Version)
}

func TestProcessor_SimilarDuplicate(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{})
	ctx := context.Background()
	existing := p.seed(t, "CCCO")

	u := p.create(t, "list.smi", "CCO\n", func(r *CreateRequest) {
		r.DuplicateAction = "error"
		r.SimilarityThreshold = float(0.01)
	})
	require.NoError(t, p.processor.RunValidation(ctx, u.ID))

	prog, err := p.repo.GetProgress(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, prog.DuplicateSimilar)
	assert.Equal(t, 1, prog.InvalidRows)

	errs := p.repo.RowErrors(u.ID)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.CodeSimilarDuplicate, errs[0].Code)
	assert.Equal(t, existing.InChIKey, errs[0].DuplicateInChIKey)
	require.NotNil(t, errs[0].DuplicateSimilarity)
	assert.Greater(t, *errs[0].DuplicateSimilarity, 0.0)
	assert.Less(t, *errs[0].DuplicateSimilarity, 1.0)
}

func TestProcessor_DegradedEngine(t *testing.T) {
	p := newPipelineWith(t, chemistry.Passthrough{}, ProcessorConfig{})
	ctx := context.Background()
	u := p.create(t, "list.smi", "CCO\nnot a molecule\nCCO\n", func(r *CreateRequest) { r.DuplicateAction = "error" })

	require.NoError(t, p.processor.RunValidation(ctx, u.ID))

	prog, err := p.repo.GetProgress(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, prog.TotalRows)
	assert.Equal(t, 2, prog.ValidRows)

	errs := p.repo.RowErrors(u.ID)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.CodeDuplicateInBatch, errs[0].Code)
	assert.Equal(t, chemistry.PlaceholderInChIKey("CCO"), errs[0].DuplicateInChIKey)
}

func TestProcessor_StoreFailureChargedToRow(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{})
	ctx := context.Background()
	p.store.FailCreate = func(m *molecule.Molecule) error {
		if m.Name == "benzene" {
			return fmt.Errorf("connection reset")
		}
		return nil
	}
	u := p.create(t, "list.smi", "CCO ethanol\nc1ccccc1 benzene\n", noSimilarity)
	require.NoError(t, p.processor.RunValidation(ctx, u.ID))
	_, err := p.service.Confirm(ctx, testTenant, u.ID)
	require.NoError(t, err)
	require.NoError(t, p.processor.RunInsertion(ctx, u.ID))

	summary, err := p.repo.GetSummary(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.MoleculesCreated)
	assert.Equal(t, 1, summary.ErrorsCount)

	errs := p.repo.RowErrors(u.ID)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.CodeDBInsertFailed, errs[0].Code)
	assert.Contains(t, errs[0].Message, "connection reset")
	assert.Equal(t, domain.StatusCompleted, p.status(t, u.ID).Status)
}

func TestProcessor_MissingFileFailsUpload(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{})
	ctx := context.Background()
	u := p.create(t, "list.smi", "CCO\n", nil)
	_, err := p.files.Delete(ctx, u.File.StoragePath)
	require.NoError(t, err)

	err = p.processor.RunValidation(ctx, u.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeStorageNotFound))
	assert.Equal(t, domain.StatusFailed, p.status(t, u.ID).Status)
}

func TestProcessor_UnknownJobKind(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{})
	err := p.processor.Run(context.Background(), domain.Job{Kind: "reindex", UploadID: "x"})
	assert.True(t, errors.IsValidation(err))
}
