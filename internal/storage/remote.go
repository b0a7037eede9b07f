package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/logging"
)

// objectClient moves whole objects between local files and a bucket-style store.
// Download returns a NOT_FOUND error when the object does not exist.
type objectClient interface {
	Upload(ctx context.Context, bucket, key, file string, metadata map[string]string) error
	Download(ctx context.Context, bucket, key string, dest *os.File) error
}

// remoteBackend implements Backend on top of an objectClient. Uploads only
// become visible once complete, which is what the object stores guarantee.
type remoteBackend struct {
	storageType string
	scheme      string
	bucket      string
	prefix      string
	tempDir     string
	client      objectClient
	logger      *logging.Logger
}

func newRemoteBackend(storageType, scheme, bucket, prefix string, client objectClient, logger *logging.Logger) *remoteBackend {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &remoteBackend{
		storageType: storageType,
		scheme:      scheme,
		bucket:      bucket,
		prefix:      prefix,
		client:      client,
		logger:      logger,
	}
}

// Type implements Backend
func (b *remoteBackend) Type() string {
	return b.storageType
}

// SetTempDir sets where downloaded copies are written
func (b *remoteBackend) SetTempDir(dir string) {
	b.tempDir = dir
}

// Store implements Backend
func (b *remoteBackend) Store(ctx context.Context, file string, placement Placement) (string, error) {
	bucket := b.bucket
	if placement.Bucket != "" {
		bucket = placement.Bucket
	}
	if bucket == "" {
		return "", apperrors.NewStorageError(fmt.Sprintf("no %s bucket configured", strings.ToLower(b.storageType)), nil)
	}

	prefix := b.prefix
	if placement.Prefix != "" {
		prefix = placement.Prefix
	}

	if _, err := os.Stat(file); err != nil {
		return "", apperrors.NewStorageError(fmt.Sprintf("cannot read artifact %s", file), err)
	}

	key := objectKey(prefix, placement, file)
	metadata := map[string]string{
		"engine_type": placement.EngineType,
		"target_name": placement.TargetName,
	}
	if err := b.client.Upload(ctx, bucket, key, file, metadata); err != nil {
		return "", apperrors.NewStorageError(fmt.Sprintf("failed to upload artifact to %s", b.storageType), err).
			WithContext("bucket", bucket).
			WithContext("key", key)
	}

	location := fmt.Sprintf("%s://%s/%s", b.scheme, bucket, key)
	b.logger.WithFields(map[string]interface{}{
		"storage":  b.storageType,
		"location": location,
	}).Info("Artifact stored")

	return location, nil
}

// ResolveToLocalFile downloads the object into a temporary file
func (b *remoteBackend) ResolveToLocalFile(ctx context.Context, location string) (LocalFile, error) {
	bucket, key, err := parseLocator(b.scheme, location)
	if err != nil {
		return LocalFile{}, err
	}

	tmp, err := os.CreateTemp(b.tempDir, "restore-*-"+path.Base(key))
	if err != nil {
		return LocalFile{}, apperrors.NewStorageError("failed to create temporary file", err)
	}

	if err := b.client.Download(ctx, bucket, key, tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return LocalFile{}, err
		}
		return LocalFile{}, apperrors.NewStorageError(fmt.Sprintf("failed to download %s", location), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return LocalFile{}, apperrors.NewStorageError("failed to close downloaded artifact", err)
	}

	b.logger.WithFields(map[string]interface{}{
		"storage":  b.storageType,
		"location": location,
		"path":     tmp.Name(),
	}).Debug("Artifact downloaded")

	return LocalFile{Path: tmp.Name(), Temporary: true}, nil
}

// parseLocator splits scheme://bucket/key. A locator with another scheme or
// without a key cannot be resolved by this backend.
func parseLocator(scheme, location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", apperrors.NewNotFoundError(fmt.Sprintf("malformed storage location %q", location), err)
	}
	if u.Scheme != scheme {
		return "", "", apperrors.NewNotFoundError(
			fmt.Sprintf("storage location %q is not a %s:// locator", location, scheme), nil)
	}

	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", apperrors.NewNotFoundError(fmt.Sprintf("storage location %q has no bucket or key", location), nil)
	}
	return u.Host, key, nil
}
