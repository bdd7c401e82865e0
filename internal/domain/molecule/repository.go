package molecule

import (
	"context"

	"github.com/turtacn/molingest/pkg/errors"
)

// ErrNotFound is returned by Store.Update for an unknown molecule id.
var ErrNotFound = &errors.AppError{Code: errors.ErrCodeMoleculeNotFound, Message: "molecule not found"}

// FingerprintRecord is the slim projection used to build similarity snapshots.
type FingerprintRecord struct {
	MoleculeID  string
	InChIKey    string
	Fingerprint *Fingerprint
}

// Store persists molecules. Every query is scoped to one tenant.
type Store interface {
	// FindByInChIKey returns (nil, nil) when no molecule has the key.
	FindByInChIKey(ctx context.Context, tenantID, inchiKey string) (*Molecule, error)

	// FindByInChIKeys resolves many keys at once. Absent keys are missing
	// from the returned map.
	FindByInChIKeys(ctx context.Context, tenantID string, keys []string) (map[string]*Molecule, error)

	// FindSimilar returns up to limit molecules whose fingerprint of type
	// fpType scores at least threshold against query, best first.
	FindSimilar(ctx context.Context, tenantID string, fpType FingerprintType, query *Fingerprint, threshold float64, limit int) ([]SimilarityMatch, error)

	// ListFingerprints pages through fingerprints of fpType ordered by
	// molecule id, starting after afterID.
	ListFingerprints(ctx context.Context, tenantID string, fpType FingerprintType, afterID string, limit int) ([]FingerprintRecord, error)

	// Create inserts m and returns its id. A duplicate (tenant, InChIKey)
	// fails with ErrCodeMoleculeAlreadyExists.
	Create(ctx context.Context, m *Molecule) (string, error)

	// Update applies patch to the molecule with id, or returns ErrNotFound.
	Update(ctx context.Context, id string, patch MoleculePatch) error
}
