package minio

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/tags"

	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/internal/infrastructure/storage"
	"github.com/turtacn/molingest/pkg/errors"
)

// BackendName is recorded on every StoredFile written here.
const BackendName = "minio"

const (
	metaOriginalFilename = "original-filename"
	tagSHA256            = "sha256"
)

// FileStore keeps uploaded files as objects in the client's bucket.
type FileStore struct {
	client *Client
	logger logging.Logger
	now    func() time.Time
}

// NewFileStore returns a store writing through client.
func NewFileStore(client *Client, log logging.Logger) *FileStore {
	return &FileStore{client: client, logger: log.Named("minio_storage"), now: time.Now}
}

// Save streams r as a multipart upload. The digest is only known once the
// stream ends, so it is attached afterwards as an object tag.
func (s *FileStore) Save(ctx context.Context, r io.Reader, filename, contentType string) (*domain.StoredFile, error) {
	if err := s.client.checkOpen(); err != nil {
		return nil, err
	}
	key := storage.ObjectKey(s.now(), filename)
	hr := storage.NewHashingReader(r)

	opts := minio.PutObjectOptions{
		ContentType:  contentType,
		PartSize:     s.client.partSize,
		UserMetadata: map[string]string{metaOriginalFilename: storage.SanitizeFilename(filename)},
	}
	if _, err := s.client.api.PutObject(ctx, s.client.bucket, key, hr, -1, opts); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageWriteFailed, "upload failed").WithDetail(key)
	}

	sum := hr.SHA256()
	if ot, err := tags.NewTags(map[string]string{tagSHA256: sum}, true); err == nil {
		if err := s.client.api.PutObjectTagging(ctx, s.client.bucket, key, ot, minio.PutObjectTaggingOptions{}); err != nil {
			s.logger.Warn("failed to tag object", logging.String("key", key), logging.Err(err))
		}
	}

	s.logger.Debug("file stored",
		logging.String("key", key),
		logging.Int64("size", hr.Size()),
	)
	return &domain.StoredFile{
		OriginalFilename: filename,
		ContentType:      contentType,
		SizeBytes:        hr.Size(),
		StorageBackend:   BackendName,
		StoragePath:      key,
		SHA256:           sum,
	}, nil
}

// Get opens the object at path.
func (s *FileStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := s.client.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := s.client.api.StatObject(ctx, s.client.bucket, path, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil, storage.NotFound(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeStorageReadFailed, "failed to stat object").WithDetail(path)
	}
	obj, err := s.client.api.GetObject(ctx, s.client.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageReadFailed, "download failed").WithDetail(path)
	}
	return obj, nil
}

// Delete removes the object at path and reports whether it existed.
func (s *FileStore) Delete(ctx context.Context, path string) (bool, error) {
	if err := s.client.checkOpen(); err != nil {
		return false, err
	}
	if _, err := s.client.api.StatObject(ctx, s.client.bucket, path, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrCodeStorageReadFailed, "failed to stat object").WithDetail(path)
	}
	if err := s.client.api.RemoveObject(ctx, s.client.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return false, errors.Wrap(err, errors.ErrCodeStorageWriteFailed, "failed to delete object").WithDetail(path)
	}
	return true, nil
}

// HealthCheck delegates to the client.
func (s *FileStore) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
