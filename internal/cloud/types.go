// Package cloud replicates backup artifacts to an offsite object
// store. Providers for S3-compatible endpoints, Google Cloud Storage
// and Azure Blob Storage are available.
package cloud

import (
	"context"
	"fmt"
	"time"
)

// ObjectMetadata travels with an uploaded artifact.
type ObjectMetadata struct {
	BackupCode string
	BackupType string
	Checksum   string
}

// UploadResult reports the outcome of an upload.
type UploadResult struct {
	Success bool   `json:"success"`
	Key     string `json:"key,omitempty"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ListResult reports the outcome of a listing.
type ListResult struct {
	Keys  []string `json:"keys"`
	Error string   `json:"error,omitempty"`
}

// ObjectStore is an offsite store for backup artifacts.
type ObjectStore interface {
	// Test checks connectivity and credentials without transferring
	// data.
	Test(ctx context.Context) error
	Upload(ctx context.Context, key string, body []byte, meta ObjectMetadata) UploadResult
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ListResult
}

// ObjectKey builds the date-partitioned key for a backup file,
// e.g. "backups/2024/01/31/bkp-x.json.gz".
func ObjectKey(prefix string, createdAt time.Time, fileName string) string {
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s",
		prefix, createdAt.Year(), int(createdAt.Month()), createdAt.Day(), fileName)
}
