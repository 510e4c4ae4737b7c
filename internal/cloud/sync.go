package cloud

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"dbvault/internal/backup"
	"dbvault/internal/config"
	"dbvault/internal/logging"
)

// backupSyncStore is the slice of the backup repository the syncer
// needs.
type backupSyncStore interface {
	FindPendingCloudSync(ctx context.Context, limit int) ([]backup.Backup, error)
	Save(ctx context.Context, b *backup.Backup) error
}

// SyncResult summarizes one sync pass.
type SyncResult struct {
	Uploaded int `json:"uploaded"`
	Failed   int `json:"failed"`
}

// Syncer pushes completed backups that have no offsite copy yet to the
// object store, a bounded batch per pass.
type Syncer struct {
	store     ObjectStore
	backups   backupSyncStore
	files     *backup.FileStore
	logger    *logging.Logger
	keyPrefix string
	batchSize int
	now       func() time.Time

	running atomic.Bool
}

func NewSyncer(store ObjectStore, backups backupSyncStore, files *backup.FileStore, logger *logging.Logger, keyPrefix string, batchSize int) *Syncer {
	if keyPrefix == "" {
		keyPrefix = "backups"
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Syncer{
		store:     store,
		backups:   backups,
		files:     files,
		logger:    logger,
		keyPrefix: keyPrefix,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// SyncPending uploads the next batch of unsynced backups. Overlapping
// passes are skipped.
func (s *Syncer) SyncPending(ctx context.Context) (*SyncResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("cloud sync already running, skipping")
		return &SyncResult{}, nil
	}
	defer s.running.Store(false)

	pending, err := s.backups.FindPendingCloudSync(ctx, s.batchSize)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	for i := range pending {
		if err := s.syncOne(ctx, &pending[i]); err != nil {
			result.Failed++
			s.logger.WithField("backup_code", pending[i].BackupCode).Errorf("cloud sync failed: %v", err)
		} else {
			result.Uploaded++
		}
	}

	if result.Uploaded > 0 || result.Failed > 0 {
		s.logger.WithFields(map[string]interface{}{
			"uploaded": result.Uploaded,
			"failed":   result.Failed,
		}).Info("Cloud sync pass finished")
	}
	return result, nil
}

// SyncBackup uploads a single backup immediately, outside the batch
// cycle.
func (s *Syncer) SyncBackup(ctx context.Context, b *backup.Backup) error {
	if b.Status != backup.BackupStatusCompleted {
		return fmt.Errorf("backup %s is %s, only COMPLETED backups sync offsite", b.BackupCode, b.Status)
	}
	return s.syncOne(ctx, b)
}

func (s *Syncer) syncOne(ctx context.Context, b *backup.Backup) error {
	data, err := s.files.Read(b.FilePath)
	if err != nil {
		return err
	}

	// Keys partition by upload time, not by when the backup was taken.
	key := ObjectKey(s.keyPrefix, s.now().UTC(), b.FileName)

	start := time.Now()
	result := s.store.Upload(ctx, key, data, ObjectMetadata{
		BackupCode: b.BackupCode,
		BackupType: string(b.Type),
		Checksum:   b.Checksum,
	})
	var uploadErr error
	if !result.Success {
		uploadErr = fmt.Errorf("upload of %s rejected: %s", key, result.Error)
	}
	s.logger.LogCloudTransfer("upload", key, int64(len(data)), time.Since(start), uploadErr)
	if uploadErr != nil {
		return uploadErr
	}

	b.CloudKey = result.Key
	b.CloudURL = result.URL
	return s.backups.Save(ctx, b)
}

// NewObjectStore builds the configured provider.
func NewObjectStore(ctx context.Context, cfg *config.CloudConfig, logger *logging.Logger) (ObjectStore, error) {
	switch cfg.Provider {
	case "s3":
		if cfg.S3 == nil {
			return nil, fmt.Errorf("s3 provider selected but not configured")
		}
		return NewS3Store(cfg.S3, logger), nil
	case "gcs":
		if cfg.GCS == nil {
			return nil, fmt.Errorf("gcs provider selected but not configured")
		}
		return NewGCSStore(ctx, cfg.GCS, logger)
	case "azure":
		if cfg.Azure == nil {
			return nil, fmt.Errorf("azure provider selected but not configured")
		}
		return NewAzureStore(cfg.Azure, logger)
	default:
		return nil, fmt.Errorf("unsupported cloud provider %q", cfg.Provider)
	}
}
