package molecule

import (
	"encoding/hex"
	"math/bits"
	"strings"

	"github.com/turtacn/molingest/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fingerprint types
// ─────────────────────────────────────────────────────────────────────────────

// FingerprintType identifies the algorithm that produced a fingerprint.
type FingerprintType string

const (
	// FingerprintMorgan is the circular fingerprint used for similarity search.
	FingerprintMorgan FingerprintType = "morgan"

	// FingerprintMACCS is the 166-bit structural key set.
	FingerprintMACCS FingerprintType = "maccs"
)

const (
	DefaultMorganRadius = 2
	DefaultMorganBits   = 2048
	MACCSBits           = 166
)

// AllFingerprintTypes lists the supported types in storage order.
func AllFingerprintTypes() []FingerprintType {
	return []FingerprintType{FingerprintMorgan, FingerprintMACCS}
}

func (t FingerprintType) IsValid() bool {
	return t == FingerprintMorgan || t == FingerprintMACCS
}

func (t FingerprintType) String() string { return string(t) }

// ParseFingerprintType accepts the stored name case-insensitively.
func ParseFingerprintType(s string) (FingerprintType, error) {
	t := FingerprintType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", errors.New(errors.ErrCodeFingerprintTypeUnsupported, "unsupported fingerprint type").WithDetail(s)
	}
	return t, nil
}

// FingerprintParams tunes fingerprint generation. Zero values pick the
// defaults for the type.
type FingerprintParams struct {
	Radius  int
	NumBits int
}

// WithDefaults fills zero fields for type t.
func (p FingerprintParams) WithDefaults(t FingerprintType) FingerprintParams {
	switch t {
	case FingerprintMACCS:
		p.NumBits = MACCSBits
		p.Radius = 0
	default:
		if p.Radius <= 0 {
			p.Radius = DefaultMorganRadius
		}
		if p.NumBits <= 0 {
			p.NumBits = DefaultMorganBits
		}
	}
	return p
}

// ─────────────────────────────────────────────────────────────────────────────
// Fingerprint
// ─────────────────────────────────────────────────────────────────────────────

// Fingerprint is a packed bit vector. Bit i lives in byte i/8 at position i%8.
type Fingerprint struct {
	Type      FingerprintType `json:"type"`
	Bits      []byte          `json:"bits"`
	Length    int             `json:"length"`
	NumOnBits int             `json:"num_on_bits"`
}

// ByteLen is the packed size of a fingerprint of length bits.
func ByteLen(length int) int { return (length + 7) / 8 }

// NewFingerprint wraps packed bits. data must hold exactly ByteLen(length) bytes.
func NewFingerprint(t FingerprintType, data []byte, length int) (*Fingerprint, error) {
	if !t.IsValid() {
		return nil, errors.New(errors.ErrCodeFingerprintTypeUnsupported, "unsupported fingerprint type").WithDetail(string(t))
	}
	if length <= 0 {
		return nil, errors.InvalidParam("fingerprint length must be positive")
	}
	if len(data) != ByteLen(length) {
		return nil, errors.Newf(errors.ErrCodeFingerprintLengthMismatch,
			"fingerprint of %d bits needs %d bytes, got %d", length, ByteLen(length), len(data))
	}
	return &Fingerprint{Type: t, Bits: data, Length: length, NumOnBits: popcount(data)}, nil
}

// NewEmptyFingerprint returns an all-zero fingerprint.
func NewEmptyFingerprint(t FingerprintType, length int) *Fingerprint {
	return &Fingerprint{Type: t, Bits: make([]byte, ByteLen(length)), Length: length}
}

// FingerprintFromHex decodes the hex form produced by Hex.
func FingerprintFromHex(t FingerprintType, s string, length int) (*Fingerprint, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidParam, "fingerprint is not valid hex")
	}
	return NewFingerprint(t, data, length)
}

func popcount(data []byte) int {
	n := 0
	for _, b := range data {
		n += bits.OnesCount8(b)
	}
	return n
}

// GetBit reports whether bit index is set. Out-of-range indexes are unset.
func (fp *Fingerprint) GetBit(index int) bool {
	if index < 0 || index >= fp.Length {
		return false
	}
	return fp.Bits[index/8]&(1<<uint(index%8)) != 0
}

// SetBit sets bit index; out-of-range indexes are ignored.
func (fp *Fingerprint) SetBit(index int) {
	if index < 0 || index >= fp.Length {
		return
	}
	before := fp.Bits[index/8]
	fp.Bits[index/8] |= 1 << uint(index%8)
	if before != fp.Bits[index/8] {
		fp.NumOnBits++
	}
}

// OnBits lists the indexes of set bits in ascending order.
func (fp *Fingerprint) OnBits() []int {
	out := make([]int, 0, fp.NumOnBits)
	for i := 0; i < fp.Length; i++ {
		if fp.GetBit(i) {
			out = append(out, i)
		}
	}
	return out
}

// IsEmpty reports whether no bit is set.
func (fp *Fingerprint) IsEmpty() bool { return fp.NumOnBits == 0 }

// Hex is the storage and cache encoding of the bits.
func (fp *Fingerprint) Hex() string { return hex.EncodeToString(fp.Bits) }

// Clone returns a deep copy.
func (fp *Fingerprint) Clone() *Fingerprint {
	if fp == nil {
		return nil
	}
	c := *fp
	c.Bits = append([]byte(nil), fp.Bits...)
	return &c
}
