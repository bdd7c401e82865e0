package chemistry

import (
	"context"

	"github.com/turtacn/molingest/internal/domain/molecule"
)

const EnginePassthrough = "passthrough"

// Passthrough stands in when no engine is configured. It reports itself
// unavailable so validation runs in degraded mode.
type Passthrough struct{}

var _ molecule.Normalizer = Passthrough{}

func (Passthrough) Available() bool { return false }
func (Passthrough) Engine() string  { return EnginePassthrough }

func (Passthrough) Parse(context.Context, string, molecule.StructureFormat) (molecule.Structure, error) {
	return nil, molecule.ErrEngineUnavailable
}

func (Passthrough) CanonicalSMILES(context.Context, molecule.Structure) (string, error) {
	return "", molecule.ErrEngineUnavailable
}

func (Passthrough) Identifiers(context.Context, molecule.Structure) (string, string, error) {
	return "", "", molecule.ErrEngineUnavailable
}

func (Passthrough) Descriptors(context.Context, molecule.Structure) (*molecule.Descriptors, error) {
	return nil, molecule.ErrEngineUnavailable
}

func (Passthrough) Fingerprint(context.Context, molecule.Structure, molecule.FingerprintType, molecule.FingerprintParams) (*molecule.Fingerprint, error) {
	return nil, molecule.ErrEngineUnavailable
}
