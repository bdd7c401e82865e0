// Package storage holds what the file storage backends share: object key
// layout and the hashing writer that yields size and SHA-256 while a file
// streams through.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/turtacn/molingest/pkg/errors"
)

const (
	keyPrefix    = "uploads"
	fallbackName = "file"
	maxNameRunes = 120
)

// ErrFileNotFound is returned by Get for a path nothing is stored under.
var ErrFileNotFound = errors.New(errors.ErrCodeStorageNotFound, "stored file not found")

// NotFound returns ErrFileNotFound carrying p.
func NotFound(p string) error {
	return ErrFileNotFound.WithDetail(p)
}

// ObjectKey builds uploads/YYYY/MM/DD/<12 hex>_<sanitized name> for filename.
func ObjectKey(now time.Time, filename string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return path.Join(keyPrefix, now.UTC().Format("2006/01/02"), id+"_"+SanitizeFilename(filename))
}

// SanitizeFilename keeps letters, digits, dot, underscore and hyphen.
func SanitizeFilename(name string) string {
	var b strings.Builder
	n := 0
	for _, r := range path.Base(strings.ReplaceAll(name, "\\", "/")) {
		if n == maxNameRunes {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-') {
			b.WriteRune(r)
			n++
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return fallbackName
	}
	return out
}

// CleanKey rejects keys that would escape the storage root.
func CleanKey(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") {
		return "", errors.InvalidParam("invalid storage path").WithDetail(p)
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.InvalidParam("invalid storage path").WithDetail(p)
	}
	return cleaned, nil
}

// HashingReader counts and hashes what is read through it.
type HashingReader struct {
	r    io.Reader
	h    hash.Hash
	size int64
}

// NewHashingReader wraps r.
func NewHashingReader(r io.Reader) *HashingReader {
	return &HashingReader{r: r, h: sha256.New()}
}

func (h *HashingReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		h.h.Write(p[:n])
		h.size += int64(n)
	}
	return n, err
}

// Size is the number of bytes read so far.
func (h *HashingReader) Size() int64 { return h.size }

// SHA256 is the hex digest of the bytes read so far.
func (h *HashingReader) SHA256() string { return hex.EncodeToString(h.h.Sum(nil)) }
