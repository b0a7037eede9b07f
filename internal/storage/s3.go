package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"

	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/logging"
)

// S3 stores artifacts in Amazon S3 or an S3-compatible service.
// Locators have the form s3://bucket/key.
type S3 struct {
	*remoteBackend
}

var _ Backend = (*S3)(nil)

// NewS3 creates the S3 backend
func NewS3(config *S3Config, logger *logging.Logger) (*S3, error) {
	if config == nil {
		return nil, apperrors.NewValidationError("S3 storage configuration is required", nil)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewValidationError("invalid S3 storage configuration", err)
	}

	awsConfig := &aws.Config{Region: aws.String(config.Region)}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(config.ForcePathStyle)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create AWS session", err)
	}

	client := s3.New(sess)
	return NewS3WithClients(config, s3manager.NewUploaderWithClient(client), s3manager.NewDownloaderWithClient(client), logger), nil
}

// NewS3WithClients creates the S3 backend over existing transfer managers
func NewS3WithClients(config *S3Config, uploader s3manageriface.UploaderAPI, downloader s3manageriface.DownloaderAPI, logger *logging.Logger) *S3 {
	client := &s3ObjectClient{uploader: uploader, downloader: downloader}
	return &S3{remoteBackend: newRemoteBackend(TypeS3, "s3", config.Bucket, config.Prefix, client, logger)}
}

type s3ObjectClient struct {
	uploader   s3manageriface.UploaderAPI
	downloader s3manageriface.DownloaderAPI
}

func (c *s3ObjectClient) Upload(ctx context.Context, bucket, key, file string, metadata map[string]string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	meta := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		meta[k] = aws.String(v)
	}

	_, err = c.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/octet-stream"),
		Metadata:    meta,
	})
	return err
}

func (c *s3ObjectClient) Download(ctx context.Context, bucket, key string, dest *os.File) error {
	_, err := c.downloader.DownloadWithContext(ctx, dest, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil
	}

	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return apperrors.NewNotFoundError(fmt.Sprintf("object s3://%s/%s does not exist", bucket, key), err)
		}
	}
	return err
}
