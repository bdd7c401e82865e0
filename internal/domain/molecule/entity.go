// Package molecule holds the tenant-scoped molecule record that uploads
// deduplicate against, its fingerprints, and the ports used to normalize
// structures and persist molecules.
package molecule

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/molingest/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Metadata keys
// ─────────────────────────────────────────────────────────────────────────────

const (
	MetaSourceUploadID  = "source_upload_id"
	MetaSourceRowNumber = "source_row_number"
	MetaExternalID      = "external_id"
	MetaUploadHistory   = "upload_history"
)

var inchiKeyPattern = regexp.MustCompile(`^[A-Z]{14}-[A-Z]{10}-[A-Z]$`)

// IsStandardInChIKey reports whether key has the 27-character standard shape.
// Placeholder keys produced without a chemistry engine do not.
func IsStandardInChIKey(key string) bool {
	return inchiKeyPattern.MatchString(key)
}

// ─────────────────────────────────────────────────────────────────────────────
// Molecule
// ─────────────────────────────────────────────────────────────────────────────

// Molecule is a stored chemical entity. InChIKey is unique per tenant.
type Molecule struct {
	ID              string                           `json:"id"`
	TenantID        string                           `json:"tenant_id"`
	Name            string                           `json:"name,omitempty"`
	CanonicalSMILES string                           `json:"canonical_smiles"`
	InChI           string                           `json:"inchi,omitempty"`
	InChIKey        string                           `json:"inchi_key"`
	SMILESHash      string                           `json:"smiles_hash"`
	Descriptors     *Descriptors                     `json:"descriptors,omitempty"`
	Fingerprints    map[FingerprintType]*Fingerprint `json:"fingerprints,omitempty"`
	Metadata        map[string]interface{}           `json:"metadata,omitempty"`
	CreatedAt       time.Time                        `json:"created_at"`
	UpdatedAt       time.Time                        `json:"updated_at"`
	Version         int                              `json:"version"`
}

// NewMolecule builds an unsaved molecule for tenantID. The canonical SMILES
// and InChIKey are required; everything else is optional.
func NewMolecule(tenantID, canonicalSMILES, inchi, inchiKey, smilesHash string) (*Molecule, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, errors.InvalidParam("tenant id is required")
	}
	if strings.TrimSpace(canonicalSMILES) == "" {
		return nil, errors.InvalidParam("canonical SMILES is required")
	}
	if strings.TrimSpace(inchiKey) == "" {
		return nil, errors.InvalidParam("InChIKey is required")
	}
	now := time.Now().UTC()
	return &Molecule{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		CanonicalSMILES: canonicalSMILES,
		InChI:           inchi,
		InChIKey:        inchiKey,
		SMILESHash:      smilesHash,
		Fingerprints:    make(map[FingerprintType]*Fingerprint),
		Metadata:        make(map[string]interface{}),
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}, nil
}

// Fingerprint returns the fingerprint of type t or nil.
func (m *Molecule) Fingerprint(t FingerprintType) *Fingerprint {
	if m.Fingerprints == nil {
		return nil
	}
	return m.Fingerprints[t]
}

// SetFingerprint stores fp under its own type.
func (m *Molecule) SetFingerprint(fp *Fingerprint) {
	if fp == nil {
		return
	}
	if m.Fingerprints == nil {
		m.Fingerprints = make(map[FingerprintType]*Fingerprint)
	}
	m.Fingerprints[fp.Type] = fp
}

// MissingFingerprints returns the types in want that the molecule lacks.
func (m *Molecule) MissingFingerprints(want ...FingerprintType) []FingerprintType {
	var missing []FingerprintType
	for _, t := range want {
		if m.Fingerprint(t) == nil {
			missing = append(missing, t)
		}
	}
	return missing
}

// Apply merges patch into the molecule and bumps the version. Metadata keys
// are merged, fingerprints are merged per type.
func (m *Molecule) Apply(p MoleculePatch, now time.Time) {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.Descriptors != nil {
		m.Descriptors = p.Descriptors
	}
	for _, fp := range p.Fingerprints {
		m.SetFingerprint(fp)
	}
	if len(p.Metadata) > 0 {
		if m.Metadata == nil {
			m.Metadata = make(map[string]interface{}, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			m.Metadata[k] = v
		}
	}
	m.UpdatedAt = now.UTC()
	m.Version++
}

// Clone copies m deeply enough that changes to the copy's fields, maps and
// fingerprints do not reach m.
func (m *Molecule) Clone() *Molecule {
	if m == nil {
		return nil
	}
	c := *m
	if m.Descriptors != nil {
		d := *m.Descriptors
		c.Descriptors = &d
	}
	c.Fingerprints = make(map[FingerprintType]*Fingerprint, len(m.Fingerprints))
	for t, fp := range m.Fingerprints {
		c.Fingerprints[t] = fp.Clone()
	}
	c.Metadata = make(map[string]interface{}, len(m.Metadata))
	for k, v := range m.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// MoleculePatch is the bounded set of fields an upload may change on an
// existing molecule. Nil fields are left alone.
type MoleculePatch struct {
	Name         *string
	Descriptors  *Descriptors
	Fingerprints map[FingerprintType]*Fingerprint
	Metadata     map[string]interface{}
}

// IsEmpty reports whether the patch changes nothing.
func (p MoleculePatch) IsEmpty() bool {
	return p.Name == nil && p.Descriptors == nil && len(p.Fingerprints) == 0 && len(p.Metadata) == 0
}

// ─────────────────────────────────────────────────────────────────────────────
// Upload provenance
// ─────────────────────────────────────────────────────────────────────────────

// UploadHistoryEntry records one upload that touched an existing molecule.
type UploadHistoryEntry struct {
	UploadID  string    `json:"upload_id"`
	RowNumber int       `json:"row_number"`
	Action    string    `json:"action"`
	At        time.Time `json:"at"`
}

func (e UploadHistoryEntry) asMap() map[string]interface{} {
	return map[string]interface{}{
		"upload_id":  e.UploadID,
		"row_number": e.RowNumber,
		"action":     e.Action,
		"at":         e.At.UTC().Format(time.RFC3339),
	}
}

// AppendUploadHistory returns the upload_history list of meta with e
// appended. meta itself is not modified. The list may come back from JSON
// decoding as []interface{}, which is preserved.
func AppendUploadHistory(meta map[string]interface{}, e UploadHistoryEntry) []interface{} {
	var history []interface{}
	switch v := meta[MetaUploadHistory].(type) {
	case []interface{}:
		history = append(history, v...)
	case []map[string]interface{}:
		for _, h := range v {
			history = append(history, h)
		}
	}
	return append(history, e.asMap())
}

// ProvenanceMetadata is the metadata attached to a molecule created by an upload.
func ProvenanceMetadata(uploadID string, rowNumber int, externalID string) map[string]interface{} {
	meta := map[string]interface{}{
		MetaSourceUploadID:  uploadID,
		MetaSourceRowNumber: rowNumber,
	}
	if externalID != "" {
		meta[MetaExternalID] = externalID
	}
	return meta
}
