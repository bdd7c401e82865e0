package upload

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	"github.com/turtacn/molingest/internal/application/upload/ingest"
	"github.com/turtacn/molingest/internal/domain/molecule"
	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/intelligence/chemistry"
	"github.com/turtacn/molingest/pkg/errors"
)

// Validation limits used when the configuration leaves them at zero.
const (
	DefaultMaxStructureLength = 2000
	DefaultMaxHeavyAtoms      = 1000
)

// ValidationResult is the verdict on one row. Exactly one of the valid
// payload or Code is set.
type ValidationResult struct {
	RowNumber int

	Valid           bool
	CanonicalSMILES string
	InChI           string
	InChIKey        string
	SMILESHash      string
	// Structure is the engine handle, nil in degraded mode.
	Structure molecule.Structure
	// Degraded marks results produced without a chemistry engine. Their
	// InChIKey is a placeholder and says nothing about chemical identity.
	Degraded bool

	Code   domain.RowErrorCode
	Detail string
}

func invalid(row int, code domain.RowErrorCode, detail string) ValidationResult {
	return ValidationResult{RowNumber: row, Code: code, Detail: detail}
}

// ValidatorConfig bounds accepted structures.
type ValidatorConfig struct {
	MaxStructureLength int
	MaxHeavyAtoms      int
}

// Validator checks rows one at a time. It decides once, at construction,
// whether the engine is usable, so every row of a run is judged the same way.
type Validator struct {
	normalizer molecule.Normalizer
	cfg        ValidatorConfig
	degraded   bool
}

// NewValidator binds n for one run.
func NewValidator(n molecule.Normalizer, cfg ValidatorConfig) *Validator {
	if cfg.MaxStructureLength <= 0 {
		cfg.MaxStructureLength = DefaultMaxStructureLength
	}
	if cfg.MaxHeavyAtoms <= 0 {
		cfg.MaxHeavyAtoms = DefaultMaxHeavyAtoms
	}
	return &Validator{normalizer: n, cfg: cfg, degraded: !n.Available()}
}

// Degraded reports whether this run validates without an engine.
func (v *Validator) Degraded() bool { return v.degraded }

// Validate runs the checks in order and stops at the first failure. Problems
// with the row come back inside the result; the error is reserved for
// failures that make the whole run meaningless, such as the engine going
// away or ctx ending.
func (v *Validator) Validate(ctx context.Context, row ingest.RawRow) (ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return ValidationResult{}, err
	}
	if row.Defect != "" && row.Defect != domain.CodeEncodingError {
		return invalid(row.RowNumber, row.Defect, row.DefectDetail), nil
	}

	text := row.Structure
	if row.Format != molecule.FormatMolBlock {
		text = strings.TrimSpace(text)
		// an over-long structure is TOO_LONG whatever its bytes hold
		if n := utf8.RuneCountInString(text); n > v.cfg.MaxStructureLength {
			return invalid(row.RowNumber, domain.CodeTooLong,
				fmt.Sprintf("%d characters, limit %d", n, v.cfg.MaxStructureLength)), nil
		}
	}
	if row.Defect != "" {
		return invalid(row.RowNumber, row.Defect, row.DefectDetail), nil
	}
	if strings.TrimSpace(text) == "" {
		return invalid(row.RowNumber, domain.CodeMissingRequiredField, "structure is empty"), nil
	}

	if v.degraded {
		return ValidationResult{
			RowNumber:       row.RowNumber,
			Valid:           true,
			CanonicalSMILES: text,
			InChIKey:        chemistry.PlaceholderInChIKey(text),
			SMILESHash:      SMILESHash(text),
			Degraded:        true,
		}, nil
	}
	return v.validate(ctx, row.RowNumber, text, row.Format)
}

func (v *Validator) validate(ctx context.Context, rowNum int, text string, format molecule.StructureFormat) (ValidationResult, error) {
	if format == "" {
		format = molecule.FormatSMILES
	}

	s, err := v.normalizer.Parse(ctx, text, format)
	if err != nil {
		if fatal(err) {
			return ValidationResult{}, err
		}
		return invalid(rowNum, domain.CodeInvalidStructure, detailOf(err)), nil
	}
	if n := s.HeavyAtomCount(); n > v.cfg.MaxHeavyAtoms {
		return invalid(rowNum, domain.CodeTooLarge,
			fmt.Sprintf("%d heavy atoms, limit %d", n, v.cfg.MaxHeavyAtoms)), nil
	}
	if s.AtomCount() == 0 {
		return invalid(rowNum, domain.CodeNoAtoms, ""), nil
	}

	canonical, err := v.normalizer.CanonicalSMILES(ctx, s)
	if err != nil {
		if fatal(err) {
			return ValidationResult{}, err
		}
		return invalid(rowNum, domain.CodeCanonicalizationFailed, detailOf(err)), nil
	}
	if canonical == "" {
		return invalid(rowNum, domain.CodeCanonicalizationFailed, "engine returned an empty SMILES"), nil
	}

	inchi, key, err := v.normalizer.Identifiers(ctx, s)
	if err != nil {
		if fatal(err) {
			return ValidationResult{}, err
		}
		return invalid(rowNum, domain.CodeIdentifierGenerationFailed, detailOf(err)), nil
	}
	if key == "" {
		return invalid(rowNum, domain.CodeIdentifierGenerationFailed, "engine returned an empty InChIKey"), nil
	}

	return ValidationResult{
		RowNumber:       rowNum,
		Valid:           true,
		CanonicalSMILES: canonical,
		InChI:           inchi,
		InChIKey:        key,
		SMILESHash:      SMILESHash(canonical),
		Structure:       s,
	}, nil
}

// SMILESHash is the lookup hash stored next to a canonical SMILES.
func SMILESHash(canonical string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(canonical))
}

// fatal separates run-ending failures from per-row ones. Any other engine
// error is charged to the row being checked.
func fatal(err error) bool {
	return errors.IsCode(err, errors.ErrCodeChemEngineUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func detailOf(err error) string {
	var ae *errors.AppError
	if errors.As(err, &ae) && ae.Detail != "" {
		return ae.Detail
	}
	return err.Error()
}
