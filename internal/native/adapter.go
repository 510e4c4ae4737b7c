package native

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"dbvault/internal/backup"
	"dbvault/internal/config"
	"dbvault/internal/logging"
)

// dumper abstracts the pg_dump runner for tests.
type dumper interface {
	Available() bool
	Dump(ctx context.Context, mode DumpMode) ([]byte, error)
}

// exporter abstracts the SQL export fallback for tests.
type exporter interface {
	Export(ctx context.Context) ([]byte, error)
}

// backupStore is the slice of the backup repository the adapter needs.
type backupStore interface {
	Save(ctx context.Context, b *backup.Backup) error
	Find(ctx context.Context, filter backup.BackupFilter) ([]backup.Backup, error)
}

// Adapter produces native SQL dumps on its own daily, weekly and
// monthly cadence, recorded through the regular backup bookkeeping.
type Adapter struct {
	runner      dumper
	exporter    exporter
	backups     backupStore
	files       *backup.FileStore
	compression *backup.CompressionManager
	logger      *logging.Logger
	cfg         config.NativeConfig
	tenantID    string
}

func NewAdapter(
	runner dumper,
	exporter exporter,
	backups backupStore,
	files *backup.FileStore,
	logger *logging.Logger,
	cfg config.NativeConfig,
	tenantID string,
) *Adapter {
	return &Adapter{
		runner:      runner,
		exporter:    exporter,
		backups:     backups,
		files:       files,
		compression: backup.NewCompressionManager(),
		logger:      logger,
		cfg:         cfg,
		tenantID:    tenantID,
	}
}

// DumpKindFor picks the dump cadence for a given day: monthly on the
// configured day of month, else weekly on the configured weekday, else
// daily.
func (a *Adapter) DumpKindFor(now time.Time) string {
	if now.Day() == a.cfg.MonthlyDay {
		return "monthly"
	}
	if int(now.Weekday()) == a.cfg.WeeklyDay {
		return "weekly"
	}
	return "daily"
}

// RunScheduled produces the dump that is due today and then applies
// native dump retention.
func (a *Adapter) RunScheduled(ctx context.Context, now time.Time) error {
	kind := a.DumpKindFor(now)
	if _, err := a.RunDump(ctx, kind, DumpModeFull); err != nil {
		return err
	}
	return a.Cleanup(ctx, now)
}

// RunDump takes one native dump and records it as a backup run.
func (a *Adapter) RunDump(ctx context.Context, kind string, mode DumpMode) (*backup.Backup, error) {
	backupType := backup.BackupTypeFull
	switch mode {
	case DumpModeSchemaOnly:
		backupType = backup.BackupTypeSchemaOnly
	case DumpModeDataOnly:
		backupType = backup.BackupTypeDataOnly
	}

	started := time.Now().UTC()
	b := &backup.Backup{
		TenantID:   a.tenantID,
		BackupCode: backup.GenerateCode("dmp"),
		Name:       fmt.Sprintf("native %s dump", kind),
		Type:       backupType,
		Trigger:    backup.TriggerAuto,
		Status:     backup.BackupStatusInProgress,
		StartedAt:  &started,
	}
	if a.cfg.RetentionDays > 0 {
		expires := started.AddDate(0, 0, a.cfg.RetentionDays)
		b.ExpiresAt = &expires
	}
	if err := a.backups.Save(ctx, b); err != nil {
		return nil, err
	}

	data, err := a.produceDump(ctx, mode)
	if err != nil {
		a.fail(ctx, b, err)
		return nil, err
	}

	compressed, _, err := a.compression.Compress(data, backup.CompressionTypeGzip, 0)
	if err != nil {
		a.fail(ctx, b, err)
		return nil, err
	}

	fileName := b.BackupCode + ".sql.gz"
	path, err := a.files.Write(fileName, compressed)
	if err != nil {
		a.fail(ctx, b, err)
		return nil, err
	}

	sum := sha256.Sum256(compressed)
	completed := time.Now().UTC()
	b.Status = backup.BackupStatusCompleted
	b.IsCompressed = true
	b.FilePath = path
	b.FileName = fileName
	b.FileSize = int64(len(compressed))
	b.Checksum = hex.EncodeToString(sum[:])
	b.CompletedAt = &completed
	b.DurationMs = completed.Sub(started).Milliseconds()

	if err := a.backups.Save(ctx, b); err != nil {
		return nil, err
	}

	a.logger.WithFields(map[string]interface{}{
		"backup_code": b.BackupCode,
		"kind":        kind,
		"size":        b.FileSize,
	}).Info("Native dump completed")
	return b, nil
}

// produceDump prefers pg_dump and falls back to the generated INSERT
// script.
func (a *Adapter) produceDump(ctx context.Context, mode DumpMode) ([]byte, error) {
	if a.runner != nil && a.runner.Available() {
		return a.runner.Dump(ctx, mode)
	}

	if a.exporter == nil {
		return nil, fmt.Errorf("pg_dump is not available and no fallback exporter is configured")
	}
	if mode == DumpModeSchemaOnly {
		return nil, fmt.Errorf("schema-only dumps require pg_dump")
	}

	a.logger.Warn("pg_dump not found, falling back to generated SQL export")
	return a.exporter.Export(ctx)
}

func (a *Adapter) fail(ctx context.Context, b *backup.Backup, cause error) {
	completed := time.Now().UTC()
	b.Status = backup.BackupStatusFailed
	b.Error = cause.Error()
	b.CompletedAt = &completed
	if b.StartedAt != nil {
		b.DurationMs = completed.Sub(*b.StartedAt).Milliseconds()
	}

	if err := a.backups.Save(ctx, b); err != nil {
		a.logger.WithField("backup_code", b.BackupCode).Errorf("failed to mark native dump failed: %v", err)
	}
}

// Cleanup removes native dumps past the age limit and enforces the
// dump count cap, oldest first.
func (a *Adapter) Cleanup(ctx context.Context, now time.Time) error {
	dumps, err := a.backups.Find(ctx, backup.BackupFilter{
		TenantID: a.tenantID,
		Trigger:  backup.TriggerAuto,
		Status:   backup.BackupStatusCompleted,
	})
	if err != nil {
		return err
	}

	// Find returns newest first, walk from the end for oldest first.
	var remaining []backup.Backup
	for i := len(dumps) - 1; i >= 0; i-- {
		d := dumps[i]
		if a.cfg.RetentionDays > 0 && d.CreatedAt.Before(now.AddDate(0, 0, -a.cfg.RetentionDays)) {
			a.deleteDump(ctx, &d)
			continue
		}
		remaining = append(remaining, d)
	}

	if a.cfg.MaxDumps > 0 && len(remaining) > a.cfg.MaxDumps {
		excess := len(remaining) - a.cfg.MaxDumps
		for i := 0; i < excess; i++ {
			a.deleteDump(ctx, &remaining[i])
		}
	}
	return nil
}

func (a *Adapter) deleteDump(ctx context.Context, b *backup.Backup) {
	if b.FilePath != "" {
		if err := a.files.Remove(b.FilePath); err != nil {
			a.logger.WithField("backup_code", b.BackupCode).Warnf("failed to remove dump file: %v", err)
		}
	}

	b.Status = backup.BackupStatusDeleted
	if err := a.backups.Save(ctx, b); err != nil {
		a.logger.WithField("backup_code", b.BackupCode).Errorf("failed to mark dump deleted: %v", err)
	}
}
