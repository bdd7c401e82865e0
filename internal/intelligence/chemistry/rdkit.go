package chemistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/turtacn/molingest/internal/domain/molecule"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

const (
	EngineRDKit = "rdkit"

	healthRecheckInterval = 30 * time.Second
	maxErrorBody          = 4096
)

// RDKitConfig points the client at the RDKit sidecar.
type RDKitConfig struct {
	BaseURL      string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// RDKit talks to the RDKit sidecar over HTTP. One normalize call returns the
// parse result, canonical SMILES and identifiers together; they travel on the
// structure handle so later steps need no extra round trip.
type RDKit struct {
	baseURL string
	client  *retryablehttp.Client
	logger  logging.Logger
	now     func() time.Time

	mu          sync.Mutex
	healthy     bool
	lastChecked time.Time
}

var (
	_ molecule.Normalizer = (*RDKit)(nil)
	_ StructureCodec      = (*RDKit)(nil)
)

func NewRDKit(cfg RDKitConfig, log logging.Logger) *RDKit {
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = cfg.Timeout
	if client.HTTPClient.Timeout <= 0 {
		client.HTTPClient.Timeout = 10 * time.Second
	}
	client.Logger = nil
	client.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	// hand back the last response so 5xx can be told apart from no response
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &RDKit{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		logger:  log,
		now:     time.Now,
	}
}

func (r *RDKit) Engine() string { return EngineRDKit }

// Available probes /healthz at most once per recheck interval.
func (r *RDKit) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.lastChecked.IsZero() && r.now().Sub(r.lastChecked) < healthRecheckInterval {
		return r.healthy
	}
	r.lastChecked = r.now()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/healthz", nil)
	if err != nil {
		r.healthy = false
		return false
	}
	// the probe bypasses retries
	resp, err := r.client.HTTPClient.Do(req)
	if err != nil {
		if r.healthy || r.lastChecked.IsZero() {
			r.logger.Warn("RDKit sidecar unreachable", logging.String("url", r.baseURL), logging.Err(err))
		}
		r.healthy = false
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	r.healthy = resp.StatusCode == http.StatusOK
	return r.healthy
}

// ─────────────────────────────────────────────────────────────────────────────
// Wire types
// ─────────────────────────────────────────────────────────────────────────────

type normalizeRequest struct {
	Structure string `json:"structure"`
	Format    string `json:"format"`
}

type normalizeResponse struct {
	CanonicalSMILES string `json:"canonical_smiles"`
	InChI           string `json:"inchi"`
	InChIKey        string `json:"inchikey"`
	NumAtoms        int    `json:"num_atoms"`
	NumHeavyAtoms   int    `json:"num_heavy_atoms"`
	CanonicalError  string `json:"canonical_error,omitempty"`
	IdentifierError string `json:"identifier_error,omitempty"`
}

type fingerprintRequest struct {
	SMILES string `json:"smiles"`
	Type   string `json:"type"`
	Radius int    `json:"radius,omitempty"`
	NBits  int    `json:"n_bits,omitempty"`
}

type fingerprintResponse struct {
	Type   string `json:"type"`
	Length int    `json:"length"`
	Bits   string `json:"bits"`
}

type descriptorsRequest struct {
	SMILES string `json:"smiles"`
}

type sidecarError struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// rdkitStructure is the handle returned by Parse. Fields are exported for
// the structure codec.
type rdkitStructure struct {
	Fmt             molecule.StructureFormat `json:"format"`
	Text            string                   `json:"source"`
	Atoms           int                      `json:"atoms"`
	HeavyAtoms      int                      `json:"heavy_atoms"`
	Canonical       string                   `json:"canonical"`
	InChI           string                   `json:"inchi"`
	InChIKey        string                   `json:"inchikey"`
	CanonicalError  string                   `json:"canonical_error,omitempty"`
	IdentifierError string                   `json:"identifier_error,omitempty"`
}

func (s *rdkitStructure) Format() molecule.StructureFormat { return s.Fmt }
func (s *rdkitStructure) Source() string                   { return s.Text }
func (s *rdkitStructure) AtomCount() int                   { return s.Atoms }
func (s *rdkitStructure) HeavyAtomCount() int              { return s.HeavyAtoms }

// ─────────────────────────────────────────────────────────────────────────────
// Normalizer
// ─────────────────────────────────────────────────────────────────────────────

func (r *RDKit) Parse(ctx context.Context, text string, format molecule.StructureFormat) (molecule.Structure, error) {
	if format == "" {
		format = molecule.FormatSMILES
	}
	var out normalizeResponse
	if err := r.post(ctx, "/v1/normalize", normalizeRequest{Structure: text, Format: string(format)}, &out); err != nil {
		return nil, err
	}
	return &rdkitStructure{
		Fmt:             format,
		Text:            text,
		Atoms:           out.NumAtoms,
		HeavyAtoms:      out.NumHeavyAtoms,
		Canonical:       out.CanonicalSMILES,
		InChI:           out.InChI,
		InChIKey:        out.InChIKey,
		CanonicalError:  out.CanonicalError,
		IdentifierError: out.IdentifierError,
	}, nil
}

func (r *RDKit) structure(s molecule.Structure) (*rdkitStructure, error) {
	rs, ok := s.(*rdkitStructure)
	if !ok || rs == nil {
		return nil, errors.New(errors.ErrCodeInternal, "structure was not produced by the rdkit engine").
			WithDetail(fmt.Sprintf("%T", s))
	}
	return rs, nil
}

func (r *RDKit) CanonicalSMILES(ctx context.Context, s molecule.Structure) (string, error) {
	rs, err := r.structure(s)
	if err != nil {
		return "", err
	}
	if rs.CanonicalError != "" || rs.Canonical == "" {
		return "", molecule.ErrCanonicalization.WithDetail(rs.CanonicalError)
	}
	return rs.Canonical, nil
}

func (r *RDKit) Identifiers(ctx context.Context, s molecule.Structure) (string, string, error) {
	rs, err := r.structure(s)
	if err != nil {
		return "", "", err
	}
	if rs.IdentifierError != "" || rs.InChIKey == "" {
		return "", "", molecule.ErrIdentifierGeneration.WithDetail(rs.IdentifierError)
	}
	return rs.InChI, rs.InChIKey, nil
}

func (r *RDKit) Descriptors(ctx context.Context, s molecule.Structure) (*molecule.Descriptors, error) {
	rs, err := r.structure(s)
	if err != nil {
		return nil, err
	}
	var d molecule.Descriptors
	if err := r.post(ctx, "/v1/descriptors", descriptorsRequest{SMILES: rs.Canonical}, &d); err != nil {
		if molecule.IsStructureError(err) {
			return nil, molecule.ErrDescriptorCalculation.WithDetail(err.Error())
		}
		return nil, err
	}
	return &d, nil
}

func (r *RDKit) Fingerprint(ctx context.Context, s molecule.Structure, t molecule.FingerprintType, p molecule.FingerprintParams) (*molecule.Fingerprint, error) {
	rs, err := r.structure(s)
	if err != nil {
		return nil, err
	}
	p = p.WithDefaults(t)
	req := fingerprintRequest{SMILES: rs.Canonical, Type: string(t)}
	if t == molecule.FingerprintMorgan {
		req.Radius, req.NBits = p.Radius, p.NumBits
	}
	var out fingerprintResponse
	if err := r.post(ctx, "/v1/fingerprint", req, &out); err != nil {
		if molecule.IsStructureError(err) {
			return nil, molecule.ErrFingerprintCalculation.WithDetail(err.Error())
		}
		return nil, err
	}
	fp, err := molecule.FingerprintFromHex(t, out.Bits, out.Length)
	if err != nil {
		return nil, molecule.ErrFingerprintCalculation.WithCause(err)
	}
	return fp, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Structure codec
// ─────────────────────────────────────────────────────────────────────────────

func (r *RDKit) EncodeStructure(s molecule.Structure) ([]byte, error) {
	rs, err := r.structure(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rs)
}

func (r *RDKit) DecodeStructure(data []byte) (molecule.Structure, error) {
	var rs rdkitStructure
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode rdkit structure")
	}
	return &rs, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Transport
// ─────────────────────────────────────────────────────────────────────────────

// post maps transport failures to ErrEngineUnavailable, 422 responses to
// structure errors and any other non-2xx status to an external-service error.
func (r *RDKit) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode sidecar request")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to build sidecar request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.markUnhealthy()
		return molecule.ErrEngineUnavailable.WithCause(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		var se sidecarError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if json.Unmarshal(raw, &se) != nil || se.Detail == "" {
			se.Detail = strings.TrimSpace(string(raw))
		}
		if se.Code == "unsupported_in_format" {
			return errors.New(errors.ErrCodeChemUnsupportedInFormat, "structure not supported in this format").WithDetail(se.Detail)
		}
		return molecule.InvalidStructure(se.Detail)
	case resp.StatusCode >= 300:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errors.Newf(errors.ErrCodeExternalService, "rdkit sidecar returned %d", resp.StatusCode).
			WithDetail(strings.TrimSpace(string(raw)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to decode sidecar response")
	}
	return nil
}

func (r *RDKit) markUnhealthy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy = false
	r.lastChecked = r.now()
}
