package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/logging"
)

// GCS stores artifacts in Google Cloud Storage. Locators have the form gs://bucket/object.
type GCS struct {
	*remoteBackend
	client *gcs.Client
}

var _ Backend = (*GCS)(nil)

// NewGCS creates the GCS backend using the configured credentials file or the
// ambient application default credentials.
func NewGCS(ctx context.Context, config *GCSConfig, logger *logging.Logger) (*GCS, error) {
	if config == nil {
		return nil, apperrors.NewValidationError("GCS storage configuration is required", nil)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewValidationError("invalid GCS storage configuration", err)
	}

	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint), option.WithoutAuthentication())
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create GCS client", err)
	}

	return &GCS{
		remoteBackend: newRemoteBackend(TypeGCS, "gs", config.Bucket, config.Prefix, &gcsObjectClient{objects: gcsSDK{client: client}}, logger),
		client:        client,
	}, nil
}

// Close releases the underlying client
func (g *GCS) Close() error {
	return g.client.Close()
}

// gcsObjects is the part of the GCS client the backend uses
type gcsObjects interface {
	NewWriter(ctx context.Context, bucket, key string, metadata map[string]string) io.WriteCloser
	NewReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type gcsSDK struct {
	client *gcs.Client
}

func (s gcsSDK) NewWriter(ctx context.Context, bucket, key string, metadata map[string]string) io.WriteCloser {
	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = metadata
	return w
}

func (s gcsSDK) NewReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return s.client.Bucket(bucket).Object(key).NewReader(ctx)
}

type gcsObjectClient struct {
	objects gcsObjects
}

// Upload streams file into a new object. The object is only created when the
// writer closes cleanly; cancelling the context aborts it.
func (c *gcsObjectClient) Upload(ctx context.Context, bucket, key, file string, metadata map[string]string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := c.objects.NewWriter(ctx, bucket, key, metadata)
	if _, err := io.Copy(w, f); err != nil {
		cancel()
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (c *gcsObjectClient) Download(ctx context.Context, bucket, key string, dest *os.File) error {
	r, err := c.objects.NewReader(ctx, bucket, key)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
			return apperrors.NewNotFoundError(fmt.Sprintf("object gs://%s/%s does not exist", bucket, key), err)
		}
		return err
	}
	defer r.Close()

	_, err = io.Copy(dest, r)
	return err
}
