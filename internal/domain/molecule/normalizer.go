package molecule

import (
	"context"

	"github.com/turtacn/molingest/pkg/errors"
)

// StructureFormat is the notation a structure text is written in.
type StructureFormat string

const (
	FormatSMILES   StructureFormat = "smiles"
	FormatMolBlock StructureFormat = "molblock"
)

// Structure is an engine-specific parsed molecule. Callers only read the
// atom counts; everything else is passed back to the engine that made it.
type Structure interface {
	Format() StructureFormat
	Source() string
	AtomCount() int
	HeavyAtomCount() int
}

// Descriptors are the computed physicochemical properties stored with a
// molecule. Optional values are nil when the engine cannot compute them.
type Descriptors struct {
	MolecularWeight   float64  `json:"molecular_weight"`
	Formula           string   `json:"formula,omitempty"`
	LogP              *float64 `json:"logp,omitempty"`
	TPSA              *float64 `json:"tpsa,omitempty"`
	HBD               int      `json:"hbd"`
	HBA               int      `json:"hba"`
	RotatableBonds    int      `json:"rotatable_bonds"`
	RingCount         int      `json:"ring_count"`
	AromaticRingCount int      `json:"aromatic_ring_count"`
	HeavyAtomCount    int      `json:"heavy_atom_count"`
	FractionSP3       *float64 `json:"fraction_sp3,omitempty"`
}

// Normalizer is the chemistry capability behind validation and insertion.
// Structure problems come back as ErrInvalidStructure and friends; any other
// error means the engine itself failed.
type Normalizer interface {
	// Available is false when the engine cannot be reached or is not
	// installed. Callers then fall back to degraded validation.
	Available() bool

	// Engine names the implementation, e.g. "rdkit" or "builtin".
	Engine() string

	Parse(ctx context.Context, text string, format StructureFormat) (Structure, error)
	CanonicalSMILES(ctx context.Context, s Structure) (string, error)
	Identifiers(ctx context.Context, s Structure) (inchi, inchiKey string, err error)
	Descriptors(ctx context.Context, s Structure) (*Descriptors, error)
	Fingerprint(ctx context.Context, s Structure, t FingerprintType, p FingerprintParams) (*Fingerprint, error)
}

// Structure-level failures reported by a Normalizer.
var (
	ErrInvalidStructure       = &errors.AppError{Code: errors.ErrCodeChemInvalidStructure, Message: "invalid chemical structure"}
	ErrCanonicalization       = &errors.AppError{Code: errors.ErrCodeChemCanonicalization, Message: "canonicalization failed"}
	ErrIdentifierGeneration   = &errors.AppError{Code: errors.ErrCodeChemIdentifierFailed, Message: "identifier generation failed"}
	ErrDescriptorCalculation  = &errors.AppError{Code: errors.ErrCodeChemDescriptorFailed, Message: "descriptor calculation failed"}
	ErrFingerprintCalculation = &errors.AppError{Code: errors.ErrCodeFingerprintGenerationFailed, Message: "fingerprint calculation failed"}
	ErrEngineUnavailable      = &errors.AppError{Code: errors.ErrCodeChemEngineUnavailable, Message: "chemistry engine unavailable"}
)

// InvalidStructure returns ErrInvalidStructure carrying detail.
func InvalidStructure(detail string) error {
	return ErrInvalidStructure.WithDetail(detail)
}

// IsStructureError reports whether err describes the input rather than an
// engine failure.
func IsStructureError(err error) bool {
	return errors.IsCode(err, errors.ErrCodeChemInvalidStructure) ||
		errors.IsCode(err, errors.ErrCodeChemUnsupportedInFormat)
}
