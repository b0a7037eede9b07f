package storage

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/logging"
)

type blobUpload struct {
	container, blob string
	body            string
	metadata        azblob.Metadata
}

// fakeBlobs records uploads and serves downloads from content
type fakeBlobs struct {
	uploads     []blobUpload
	content     map[string]string
	downloadErr error
}

func (f *fakeBlobs) upload(ctx context.Context, container, blob string, file *os.File, metadata azblob.Metadata) error {
	data, err := os.ReadFile(file.Name())
	if err != nil {
		return err
	}
	f.uploads = append(f.uploads, blobUpload{container: container, blob: blob, body: string(data), metadata: metadata})
	return nil
}

func (f *fakeBlobs) download(ctx context.Context, container, blob string, dest *os.File) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	data, ok := f.content[container+"/"+blob]
	if !ok {
		return serviceCodeError(azblob.ServiceCodeBlobNotFound)
	}
	_, err := dest.WriteString(data)
	return err
}

// serviceCodeError carries an Azure service code the way azblob.StorageError does
type serviceCodeError azblob.ServiceCodeType

func (e serviceCodeError) Error() string                       { return "azure: " + string(e) }
func (e serviceCodeError) ServiceCode() azblob.ServiceCodeType { return azblob.ServiceCodeType(e) }

func newTestAzure(t *testing.T, blobs *fakeBlobs) *remoteBackend {
	t.Helper()
	b := newRemoteBackend(TypeAzure, "azure", "artifacts", DefaultPrefix, &azureObjectClient{blobs: blobs}, logging.NewNopLogger())
	b.SetTempDir(t.TempDir())
	return b
}

func TestAzureStore(t *testing.T) {
	blobs := &fakeBlobs{}
	backend := newTestAzure(t, blobs)
	src := writeArtifact(t, t.TempDir(), "orders_full.sql.gz", "gz bytes")

	location, err := backend.Store(context.Background(), src, Placement{EngineType: "MYSQL", TargetName: "orders"})
	require.NoError(t, err)
	assert.Equal(t, "azure://artifacts/backups/mysql/orders/orders_full.sql.gz", location)

	require.Len(t, blobs.uploads, 1)
	up := blobs.uploads[0]
	assert.Equal(t, "artifacts", up.container)
	assert.Equal(t, "backups/mysql/orders/orders_full.sql.gz", up.blob)
	assert.Equal(t, "gz bytes", up.body)
	assert.Equal(t, "MYSQL", up.metadata["engine_type"])
	assert.Equal(t, "orders", up.metadata["target_name"])
	for name := range up.metadata {
		assert.Regexp(t, `^[A-Za-z_][A-Za-z0-9_]*$`, name, "Azure metadata names must be C# identifiers")
	}
}

func TestAzureUploadRejectsInvalidMetadataName(t *testing.T) {
	blobs := &fakeBlobs{}
	client := &azureObjectClient{blobs: blobs}
	src := writeArtifact(t, t.TempDir(), "x.sql", "x")

	err := client.Upload(context.Background(), "artifacts", "x.sql", src, map[string]string{"engine-type": "MYSQL"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine-type")
	assert.Empty(t, blobs.uploads)
}

func TestAzureResolve(t *testing.T) {
	blobs := &fakeBlobs{content: map[string]string{"artifacts/backups/mysql/orders/x.sql": "dump"}}
	backend := newTestAzure(t, blobs)

	file, err := backend.ResolveToLocalFile(context.Background(), "azure://artifacts/backups/mysql/orders/x.sql")
	require.NoError(t, err)
	defer file.Release()

	data, err := os.ReadFile(file.Path)
	require.NoError(t, err)
	assert.Equal(t, "dump", string(data))
}

func TestAzureResolveErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{"missing blob", nil, true},
		{"missing container", serviceCodeError(azblob.ServiceCodeContainerNotFound), true},
		{"auth failure", serviceCodeError("AuthenticationFailed"), false},
		{"transport failure", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newTestAzure(t, &fakeBlobs{downloadErr: tt.err})

			_, err := backend.ResolveToLocalFile(context.Background(), "azure://artifacts/missing.sql")
			require.Error(t, err)
			if tt.notFound {
				assert.ErrorIs(t, err, apperrors.ErrNotFound)
			} else {
				assert.ErrorIs(t, err, apperrors.ErrStorage)
				assert.NotErrorIs(t, err, apperrors.ErrNotFound)
			}
		})
	}
}
