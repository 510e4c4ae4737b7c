package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"dbvault/internal/config"
	"dbvault/internal/logging"
)

// AzureStore replicates backup artifacts to an Azure Blob Storage
// container.
type AzureStore struct {
	serviceURL azblob.ServiceURL
	container  string
	logger     *logging.Logger
}

func NewAzureStore(cfg *config.AzureConfig, logger *logging.Logger) (*AzureStore, error) {
	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure credentials: %w", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName))
	if err != nil {
		return nil, fmt.Errorf("failed to parse azure service URL: %w", err)
	}

	return &AzureStore{
		serviceURL: azblob.NewServiceURL(*serviceURL, pipeline),
		container:  cfg.ContainerName,
		logger:     logger,
	}, nil
}

func (a *AzureStore) containerURL() azblob.ContainerURL {
	return a.serviceURL.NewContainerURL(a.container)
}

func (a *AzureStore) Test(ctx context.Context) error {
	_, err := a.containerURL().GetProperties(ctx, azblob.LeaseAccessConditions{})
	if err != nil {
		return fmt.Errorf("azure container %s not accessible: %w", a.container, err)
	}
	return nil
}

func (a *AzureStore) Upload(ctx context.Context, key string, body []byte, meta ObjectMetadata) UploadResult {
	blobURL := a.containerURL().NewBlockBlobURL(key)

	_, err := azblob.UploadBufferToBlockBlob(ctx, body, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		Metadata: azblob.Metadata{
			"backupcode": meta.BackupCode,
			"backuptype": meta.BackupType,
			"checksum":   meta.Checksum,
		},
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return UploadResult{Error: fmt.Sprintf("failed to upload blob: %v", err)}
	}

	return UploadResult{
		Success: true,
		Key:     key,
		URL:     blobURL.String(),
	}
}

func (a *AzureStore) Download(ctx context.Context, key string) ([]byte, error) {
	blobURL := a.containerURL().NewBlockBlobURL(key)

	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download blob %s: %w", key, err)
	}

	body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3})
	defer body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

func (a *AzureStore) Delete(ctx context.Context, key string) error {
	blobURL := a.containerURL().NewBlockBlobURL(key)

	_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil {
		if stgErr, ok := err.(azblob.StorageError); ok && stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

func (a *AzureStore) List(ctx context.Context, prefix string) ListResult {
	var keys []string

	for marker := (azblob.Marker{}); marker.NotDone(); {
		segment, err := a.containerURL().ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: prefix,
		})
		if err != nil {
			return ListResult{Error: fmt.Sprintf("failed to list blobs: %v", err)}
		}

		for _, item := range segment.Segment.BlobItems {
			keys = append(keys, item.Name)
		}
		marker = segment.NextMarker
	}

	return ListResult{Keys: keys}
}
