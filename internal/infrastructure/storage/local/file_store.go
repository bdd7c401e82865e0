// Package local keeps uploaded files on a filesystem, for development and
// single-node deployments. The filesystem is an afero.Fs so tests run
// against memory.
package local

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/internal/infrastructure/storage"
	"github.com/turtacn/molingest/pkg/errors"
)

// BackendName is recorded on every StoredFile written here.
const BackendName = "local"

// FileStore stores files below a root directory.
type FileStore struct {
	fs     afero.Fs
	logger logging.Logger
	now    func() time.Time
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithClock overrides the time source used for the date part of keys.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore roots a store at root on the OS filesystem, creating it if
// needed.
func NewFileStore(root string, log logging.Logger, opts ...Option) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageWriteFailed, "failed to create storage root").WithDetail(root)
	}
	return NewFileStoreWithFs(afero.NewBasePathFs(afero.NewOsFs(), root), log, opts...), nil
}

// NewFileStoreWithFs uses fs as the storage root.
func NewFileStoreWithFs(fs afero.Fs, log logging.Logger, opts ...Option) *FileStore {
	s := &FileStore{fs: fs, logger: log.Named("local_storage"), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Save writes r under a fresh key. A failed write leaves nothing behind.
func (s *FileStore) Save(ctx context.Context, r io.Reader, filename, contentType string) (*domain.StoredFile, error) {
	key := storage.ObjectKey(s.now(), filename)
	if err := s.fs.MkdirAll(filepath.FromSlash(path.Dir(key)), 0o750); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageWriteFailed, "failed to create directory")
	}

	f, err := s.fs.OpenFile(filepath.FromSlash(key), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageWriteFailed, "failed to create file")
	}

	hr := storage.NewHashingReader(r)
	_, copyErr := io.Copy(f, contextReader{ctx: ctx, r: hr})
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		if rmErr := s.fs.Remove(filepath.FromSlash(key)); rmErr != nil {
			s.logger.Warn("failed to remove partial file", logging.String("path", key), logging.Err(rmErr))
		}
		return nil, errors.Wrap(copyErr, errors.ErrCodeStorageWriteFailed, "failed to write file")
	}

	s.logger.Debug("file stored",
		logging.String("path", key),
		logging.Int64("size", hr.Size()),
	)
	return &domain.StoredFile{
		OriginalFilename: filename,
		ContentType:      contentType,
		SizeBytes:        hr.Size(),
		StorageBackend:   BackendName,
		StoragePath:      key,
		SHA256:           hr.SHA256(),
	}, nil
}

// Get opens the file at p.
func (s *FileStore) Get(_ context.Context, p string) (io.ReadCloser, error) {
	key, err := storage.CleanKey(p)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(filepath.FromSlash(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.NotFound(p)
		}
		return nil, errors.Wrap(err, errors.ErrCodeStorageReadFailed, "failed to open file")
	}
	return f, nil
}

// Delete removes the file at p and reports whether it was there.
func (s *FileStore) Delete(_ context.Context, p string) (bool, error) {
	key, err := storage.CleanKey(p)
	if err != nil {
		return false, err
	}
	if err := s.fs.Remove(filepath.FromSlash(key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrCodeStorageWriteFailed, "failed to delete file")
	}
	return true, nil
}

// HealthCheck verifies the root is reachable.
func (s *FileStore) HealthCheck(_ context.Context) error {
	if _, err := s.fs.Stat("."); err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "storage root unavailable")
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
