package chemistry

import (
	"context"
	"fmt"

	"github.com/turtacn/molingest/internal/config"
	"github.com/turtacn/molingest/internal/domain/molecule"
	"github.com/turtacn/molingest/internal/infrastructure/cache"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
)

// CallObserver receives one event per engine call. status is "ok",
// "invalid" for structure verdicts or "error".
type CallObserver interface {
	NormalizerCall(engine, op, status string)
}

// New builds the configured engine, wrapped with the result cache when
// enabled and with call metrics when obs is set.
func New(cfg config.ChemistryConfig, c cache.Cache, obs CallObserver, log logging.Logger) (molecule.Normalizer, error) {
	var n molecule.Normalizer
	switch cfg.Engine {
	case EngineRDKit:
		n = NewRDKit(RDKitConfig{BaseURL: cfg.RDKitURL, Timeout: cfg.Timeout, RetryMax: cfg.RetryMax}, log.Named("rdkit"))
	case EngineBuiltin, "":
		n = NewBuiltin()
	case EnginePassthrough:
		n = Passthrough{}
	default:
		return nil, fmt.Errorf("chemistry: unknown engine %q", cfg.Engine)
	}
	if obs != nil {
		wrapped := &instrumented{inner: n, obs: obs}
		if codec, ok := n.(StructureCodec); ok {
			n = instrumentedCodec{instrumented: wrapped, StructureCodec: codec}
		} else {
			n = wrapped
		}
	}
	if cfg.CacheResults && c != nil {
		n = NewCaching(n, c, cfg.CacheTTL, log.Named("chemistry_cache"))
	}
	log.Info("chemistry engine selected",
		logging.String("engine", n.Engine()),
		logging.Bool("cache_results", cfg.CacheResults && c != nil))
	return n, nil
}

type instrumented struct {
	inner molecule.Normalizer
	obs   CallObserver
}

// instrumentedCodec keeps the engine's structure codec visible to the result
// cache through the metrics wrapper.
type instrumentedCodec struct {
	*instrumented
	StructureCodec
}

func (i *instrumented) record(op string, err error) {
	status := "ok"
	switch {
	case err == nil:
	case molecule.IsStructureError(err):
		status = "invalid"
	default:
		status = "error"
	}
	i.obs.NormalizerCall(i.inner.Engine(), op, status)
}

func (i *instrumented) Available() bool { return i.inner.Available() }
func (i *instrumented) Engine() string  { return i.inner.Engine() }

func (i *instrumented) Parse(ctx context.Context, text string, format molecule.StructureFormat) (molecule.Structure, error) {
	s, err := i.inner.Parse(ctx, text, format)
	i.record("parse", err)
	return s, err
}

func (i *instrumented) CanonicalSMILES(ctx context.Context, s molecule.Structure) (string, error) {
	out, err := i.inner.CanonicalSMILES(ctx, s)
	i.record("canonical", err)
	return out, err
}

func (i *instrumented) Identifiers(ctx context.Context, s molecule.Structure) (string, string, error) {
	inchi, key, err := i.inner.Identifiers(ctx, s)
	i.record("identifiers", err)
	return inchi, key, err
}

func (i *instrumented) Descriptors(ctx context.Context, s molecule.Structure) (*molecule.Descriptors, error) {
	d, err := i.inner.Descriptors(ctx, s)
	i.record("descriptors", err)
	return d, err
}

func (i *instrumented) Fingerprint(ctx context.Context, s molecule.Structure, t molecule.FingerprintType, p molecule.FingerprintParams) (*molecule.Fingerprint, error) {
	fp, err := i.inner.Fingerprint(ctx, s, t, p)
	i.record("fingerprint", err)
	return fp, err
}
