package chemistry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/turtacn/molingest/internal/domain/molecule"
	"github.com/turtacn/molingest/internal/infrastructure/cache"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

// StructureCodec is implemented by engines whose parsed structures can be
// serialized. Only those engines get their Parse results cached.
type StructureCodec interface {
	EncodeStructure(s molecule.Structure) ([]byte, error)
	DecodeStructure(data []byte) (molecule.Structure, error)
}

// Caching memoizes engine results through the cache port so the insertion
// pass reuses what validation computed. Only successful results and invalid
// structure verdicts are cached; engine failures always go to the engine.
type Caching struct {
	inner  molecule.Normalizer
	codec  StructureCodec
	cache  cache.Cache
	ttl    time.Duration
	logger logging.Logger
}

var _ molecule.Normalizer = (*Caching)(nil)

func NewCaching(inner molecule.Normalizer, c cache.Cache, ttl time.Duration, log logging.Logger) *Caching {
	codec, _ := inner.(StructureCodec)
	return &Caching{inner: inner, codec: codec, cache: c, ttl: ttl, logger: log}
}

func (c *Caching) Available() bool { return c.inner.Available() }
func (c *Caching) Engine() string  { return c.inner.Engine() }

func (c *Caching) key(op string, format molecule.StructureFormat, text string, extra ...interface{}) string {
	h := xxhash.New()
	_, _ = h.WriteString(string(format))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(text)
	for _, e := range extra {
		_, _ = fmt.Fprintf(h, "\x00%v", e)
	}
	return fmt.Sprintf("chem:%s:%s:%016x", c.inner.Engine(), op, h.Sum64())
}

func (c *Caching) load(ctx context.Context, key string, dest interface{}) bool {
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		if !cache.IsMiss(err) {
			c.logger.Debug("chemistry cache read failed", logging.String("key", key), logging.Err(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug("chemistry cache entry unreadable", logging.String("key", key), logging.Err(err))
		return false
	}
	return true
}

func (c *Caching) store(ctx context.Context, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Debug("chemistry cache write failed", logging.String("key", key), logging.Err(err))
	}
}

type cachedParse struct {
	Structure []byte `json:"structure,omitempty"`
	Invalid   string `json:"invalid,omitempty"`
}

func (c *Caching) Parse(ctx context.Context, text string, format molecule.StructureFormat) (molecule.Structure, error) {
	if c.codec == nil {
		return c.inner.Parse(ctx, text, format)
	}
	key := c.key("parse", format, text)
	var hit cachedParse
	if c.load(ctx, key, &hit) {
		if hit.Invalid != "" {
			return nil, molecule.InvalidStructure(hit.Invalid)
		}
		if s, err := c.codec.DecodeStructure(hit.Structure); err == nil {
			return s, nil
		}
	}

	s, err := c.inner.Parse(ctx, text, format)
	if err != nil {
		// unsupported-format verdicts carry a different code, so only plain
		// invalid structures are remembered
		if errors.IsCode(err, errors.ErrCodeChemInvalidStructure) {
			detail := err.Error()
			var ae *errors.AppError
			if errors.As(err, &ae) && ae.Detail != "" {
				detail = ae.Detail
			}
			c.store(ctx, key, cachedParse{Invalid: detail})
		}
		return nil, err
	}
	if data, encErr := c.codec.EncodeStructure(s); encErr == nil {
		c.store(ctx, key, cachedParse{Structure: data})
	}
	return s, nil
}

type cachedIdentifiers struct {
	InChI    string `json:"inchi"`
	InChIKey string `json:"inchikey"`
}

func (c *Caching) CanonicalSMILES(ctx context.Context, s molecule.Structure) (string, error) {
	key := c.key("canonical", s.Format(), s.Source())
	var out string
	if c.load(ctx, key, &out) {
		return out, nil
	}
	out, err := c.inner.CanonicalSMILES(ctx, s)
	if err != nil {
		return "", err
	}
	c.store(ctx, key, out)
	return out, nil
}

func (c *Caching) Identifiers(ctx context.Context, s molecule.Structure) (string, string, error) {
	key := c.key("identifiers", s.Format(), s.Source())
	var out cachedIdentifiers
	if c.load(ctx, key, &out) {
		return out.InChI, out.InChIKey, nil
	}
	inchi, inchiKey, err := c.inner.Identifiers(ctx, s)
	if err != nil {
		return "", "", err
	}
	c.store(ctx, key, cachedIdentifiers{InChI: inchi, InChIKey: inchiKey})
	return inchi, inchiKey, nil
}

func (c *Caching) Descriptors(ctx context.Context, s molecule.Structure) (*molecule.Descriptors, error) {
	key := c.key("descriptors", s.Format(), s.Source())
	var out molecule.Descriptors
	if c.load(ctx, key, &out) {
		return &out, nil
	}
	d, err := c.inner.Descriptors(ctx, s)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, d)
	return d, nil
}

type cachedFingerprint struct {
	Bits   string `json:"bits"`
	Length int    `json:"length"`
}

func (c *Caching) Fingerprint(ctx context.Context, s molecule.Structure, t molecule.FingerprintType, p molecule.FingerprintParams) (*molecule.Fingerprint, error) {
	p = p.WithDefaults(t)
	key := c.key("fingerprint", s.Format(), s.Source(), t, p.Radius, p.NumBits)
	var hit cachedFingerprint
	if c.load(ctx, key, &hit) {
		if fp, err := molecule.FingerprintFromHex(t, hit.Bits, hit.Length); err == nil {
			return fp, nil
		}
	}
	fp, err := c.inner.Fingerprint(ctx, s, t, p)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, cachedFingerprint{Bits: fp.Hex(), Length: fp.Length})
	return fp, nil
}
