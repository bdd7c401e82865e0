package upload

import (
	"context"
	"io"
	"time"

	domain "github.com/turtacn/molingest/internal/domain/upload"
)

// FileStorage keeps the bytes of uploaded files.
type FileStorage interface {
	// Save streams r into storage and returns where it went with its size
	// and SHA-256.
	Save(ctx context.Context, r io.Reader, filename, contentType string) (*domain.StoredFile, error)

	// Get opens a stored file. The caller closes it.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes a stored file and reports whether it existed.
	Delete(ctx context.Context, path string) (bool, error)
}

// Dispatcher hands a pass of an upload to whatever runs it.
type Dispatcher interface {
	Dispatch(ctx context.Context, job domain.Job) error
}

// Observer receives pipeline measurements.
type Observer interface {
	UploadCreated(fileType string)
	UploadTransition(from, to string)
	RowProcessed(phase, outcome string)
	RowError(code string)
	Duplicate(kind string)
	PhaseDuration(phase string, d time.Duration)
	MoleculeWritten(action string)
	UploadExpired()
}

// NopObserver discards measurements.
type NopObserver struct{}

func (NopObserver) UploadCreated(string)                {}
func (NopObserver) UploadTransition(string, string)     {}
func (NopObserver) RowProcessed(string, string)         {}
func (NopObserver) RowError(string)                     {}
func (NopObserver) Duplicate(string)                    {}
func (NopObserver) PhaseDuration(string, time.Duration) {}
func (NopObserver) MoleculeWritten(string)              {}
func (NopObserver) UploadExpired()                      {}
