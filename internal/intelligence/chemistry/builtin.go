// Package chemistry provides the structure normalization engines behind
// molecule.Normalizer: an RDKit sidecar client, a builtin graph engine that
// needs no external toolkit, and a passthrough that reports itself absent.
package chemistry

import (
	"context"
	"fmt"

	"github.com/turtacn/molingest/internal/domain/molecule"
	"github.com/turtacn/molingest/pkg/errors"
)

const EngineBuiltin = "builtin"

// Builtin parses SMILES and V2000 MOL blocks into a graph and derives a
// canonical SMILES, hash-based identifiers, basic descriptors and
// fingerprints from it. Canonical output does not depend on atom order.
type Builtin struct{}

var _ molecule.Normalizer = (*Builtin)(nil)

func NewBuiltin() *Builtin { return &Builtin{} }

func (*Builtin) Available() bool { return true }
func (*Builtin) Engine() string  { return EngineBuiltin }

func (*Builtin) Parse(ctx context.Context, text string, format molecule.StructureFormat) (molecule.Structure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		g   *graph
		err error
	)
	switch format {
	case molecule.FormatSMILES, "":
		g, err = parseSMILES(text)
	case molecule.FormatMolBlock:
		g, err = parseMolBlock(text)
	default:
		return nil, errors.New(errors.ErrCodeChemUnsupportedInFormat, "unsupported structure format").WithDetail(string(format))
	}
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeChemUnsupportedInFormat) {
			return nil, err
		}
		return nil, molecule.InvalidStructure(err.Error())
	}
	return g, nil
}

func asGraph(s molecule.Structure) (*graph, error) {
	g, ok := s.(*graph)
	if !ok || g == nil {
		return nil, errors.New(errors.ErrCodeInternal, "structure was not produced by the builtin engine").
			WithDetail(fmt.Sprintf("%T", s))
	}
	return g, nil
}

func (*Builtin) CanonicalSMILES(ctx context.Context, s molecule.Structure) (string, error) {
	g, err := asGraph(s)
	if err != nil {
		return "", err
	}
	out := g.canonicalSMILES()
	if out == "" {
		return "", molecule.ErrCanonicalization.WithDetail("structure has no atoms")
	}
	return out, nil
}

func (b *Builtin) Identifiers(ctx context.Context, s molecule.Structure) (string, string, error) {
	g, err := asGraph(s)
	if err != nil {
		return "", "", err
	}
	canonical := g.canonicalSMILES()
	if canonical == "" {
		return "", "", molecule.ErrIdentifierGeneration.WithDetail("structure has no atoms")
	}
	inchi, key := builtinIdentifiers(canonical, hillFormula(g.formulaCounts(), 0), g.netCharge())
	return inchi, key, nil
}

func (*Builtin) Descriptors(ctx context.Context, s molecule.Structure) (*molecule.Descriptors, error) {
	g, err := asGraph(s)
	if err != nil {
		return nil, err
	}
	return g.descriptors(), nil
}

func (*Builtin) Fingerprint(ctx context.Context, s molecule.Structure, t molecule.FingerprintType, p molecule.FingerprintParams) (*molecule.Fingerprint, error) {
	g, err := asGraph(s)
	if err != nil {
		return nil, err
	}
	p = p.WithDefaults(t)
	switch t {
	case molecule.FingerprintMorgan:
		return g.morganFingerprint(p.Radius, p.NumBits), nil
	case molecule.FingerprintMACCS:
		return g.structuralKeys(), nil
	}
	return nil, molecule.ErrFingerprintCalculation.WithDetail("unsupported fingerprint type " + string(t))
}
