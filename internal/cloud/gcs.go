package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"dbvault/internal/config"
	"dbvault/internal/logging"
)

// GCSStore replicates backup artifacts to a Google Cloud Storage
// bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	logger *logging.Logger
}

func NewGCSStore(ctx context.Context, cfg *config.GCSConfig, logger *logging.Logger) (*GCSStore, error) {
	var client *storage.Client
	var err error

	if cfg.CredentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(cfg.CredentialsPath))
	} else {
		// Default credentials from the environment or metadata server.
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

func (g *GCSStore) Test(ctx context.Context) error {
	_, err := g.client.Bucket(g.bucket).Attrs(ctx)
	if err != nil {
		return fmt.Errorf("gcs bucket %s not accessible: %w", g.bucket, err)
	}
	return nil
}

func (g *GCSStore) Upload(ctx context.Context, key string, body []byte, meta ObjectMetadata) UploadResult {
	obj := g.client.Bucket(g.bucket).Object(key)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.Metadata = map[string]string{
		"backup-code": meta.BackupCode,
		"backup-type": meta.BackupType,
		"checksum":    meta.Checksum,
	}

	if _, err := writer.Write(body); err != nil {
		writer.Close()
		return UploadResult{Error: fmt.Sprintf("failed to write object: %v", err)}
	}
	if err := writer.Close(); err != nil {
		return UploadResult{Error: fmt.Sprintf("failed to finalize object: %v", err)}
	}

	return UploadResult{
		Success: true,
		Key:     key,
		URL:     fmt.Sprintf("gs://%s/%s", g.bucket, key),
	}
}

func (g *GCSStore) Download(ctx context.Context, key string) ([]byte, error) {
	reader, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object %s not found", key)
		}
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (g *GCSStore) Delete(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (g *GCSStore) List(ctx context.Context, prefix string) ListResult {
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return ListResult{Error: fmt.Sprintf("failed to list objects: %v", err)}
		}
		keys = append(keys, attrs.Name)
	}
	return ListResult{Keys: keys}
}

// Close releases the underlying client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}
