package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"

	"github.com/Azure/azure-storage-blob-go/azblob"

	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/logging"
)

// Azure stores artifacts in Azure Blob Storage. Locators have the form
// azure://container/blob.
type Azure struct {
	*remoteBackend
}

var _ Backend = (*Azure)(nil)

// NewAzure creates the Azure backend with shared key credentials
func NewAzure(config *AzureConfig, logger *logging.Logger) (*Azure, error) {
	if config == nil {
		return nil, apperrors.NewValidationError("Azure storage configuration is required", nil)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewValidationError("invalid Azure storage configuration", err)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create Azure credentials", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(config.ServiceURL)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to parse Azure service URL", err)
	}

	client := &azureObjectClient{blobs: azureSDK{service: azblob.NewServiceURL(*serviceURL, pipeline)}}
	return &Azure{remoteBackend: newRemoteBackend(TypeAzure, "azure", config.ContainerName, config.Prefix, client, logger)}, nil
}

// azureBlobs is the part of the blob service the backend uses
type azureBlobs interface {
	upload(ctx context.Context, container, blob string, f *os.File, metadata azblob.Metadata) error
	download(ctx context.Context, container, blob string, dest *os.File) error
}

type azureSDK struct {
	service azblob.ServiceURL
}

// upload stages blocks and commits them in one step, so a failed upload
// leaves no blob behind
func (s azureSDK) upload(ctx context.Context, container, blob string, f *os.File, metadata azblob.Metadata) error {
	blobURL := s.service.NewContainerURL(container).NewBlockBlobURL(blob)
	_, err := azblob.UploadFileToBlockBlob(ctx, f, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		Metadata:    metadata,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	return err
}

func (s azureSDK) download(ctx context.Context, container, blob string, dest *os.File) error {
	blobURL := s.service.NewContainerURL(container).NewBlobURL(blob)
	return azblob.DownloadBlobToFile(ctx, blobURL, 0, azblob.CountToEnd, dest, azblob.DownloadFromBlobOptions{})
}

// azureMetadataName matches the C# identifiers Azure accepts as metadata names
var azureMetadataName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// serviceCoder is satisfied by azblob.StorageError
type serviceCoder interface {
	ServiceCode() azblob.ServiceCodeType
}

type azureObjectClient struct {
	blobs azureBlobs
}

func (c *azureObjectClient) Upload(ctx context.Context, container, blob, file string, metadata map[string]string) error {
	for name := range metadata {
		if !azureMetadataName.MatchString(name) {
			return fmt.Errorf("invalid Azure metadata name %q", name)
		}
	}

	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	return c.blobs.upload(ctx, container, blob, f, azblob.Metadata(metadata))
}

func (c *azureObjectClient) Download(ctx context.Context, container, blob string, dest *os.File) error {
	err := c.blobs.download(ctx, container, blob, dest)
	if err == nil {
		return nil
	}

	var coder serviceCoder
	if errors.As(err, &coder) {
		switch coder.ServiceCode() {
		case azblob.ServiceCodeBlobNotFound, azblob.ServiceCodeContainerNotFound:
			return apperrors.NewNotFoundError(fmt.Sprintf("blob azure://%s/%s does not exist", container, blob), err)
		}
	}
	return err
}
