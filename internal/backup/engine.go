package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dbvault/internal/logging"
)

// EngineOptions configures artifact handling for the backup engine.
type EngineOptions struct {
	CompressionAlgorithm CompressionType
	CompressionLevel     int
	DefaultRetentionDays int
}

// backupStore is the slice of the backup repository the engine needs.
type backupStore interface {
	Save(ctx context.Context, b *Backup) error
	FindByID(ctx context.Context, tenantID string, id uint) (*Backup, error)
	Find(ctx context.Context, filter BackupFilter) ([]Backup, error)
}

// Engine creates backups: it snapshots the application tables into an
// artifact, runs it through the compression and encryption pipeline
// and records the run in the backup repository.
type Engine struct {
	backups     backupStore
	source      TableSource
	files       *FileStore
	compression *CompressionManager
	encryptor   *Encryptor
	logger      *logging.Logger
	opts        EngineOptions
}

func NewEngine(
	backups backupStore,
	source TableSource,
	files *FileStore,
	compression *CompressionManager,
	encryptor *Encryptor,
	logger *logging.Logger,
	opts EngineOptions,
) *Engine {
	if opts.CompressionAlgorithm == "" {
		opts.CompressionAlgorithm = CompressionTypeGzip
	}
	return &Engine{
		backups:     backups,
		source:      source,
		files:       files,
		compression: compression,
		encryptor:   encryptor,
		logger:      logger,
		opts:        opts,
	}
}

// ValidateSpec checks a backup request before it is accepted.
func (e *Engine) ValidateSpec(spec *BackupSpec) error {
	v := &ValidationErrors{}

	if spec.TenantID == "" {
		v.Add("tenantId", "is required")
	}
	if spec.Type == "" {
		spec.Type = BackupTypeFull
	} else if !isValidBackupType(spec.Type) {
		v.Add("type", fmt.Sprintf("unknown backup type %q", spec.Type))
	}
	for _, t := range spec.Tables {
		if err := validateTableName(t); err != nil {
			v.Add("tables", fmt.Sprintf("invalid table name %q", t))
			break
		}
	}

	return v.AsError()
}

// CreateBackup accepts a backup request, persists the PENDING record
// and starts the run asynchronously. The returned record reflects the
// accepted state, not the outcome.
func (e *Engine) CreateBackup(ctx context.Context, spec *BackupSpec, actor Actor) (*Backup, error) {
	if err := e.ValidateSpec(spec); err != nil {
		return nil, err
	}

	trigger := spec.Trigger
	if trigger == "" {
		trigger = TriggerManual
	}

	name := spec.Name
	if name == "" {
		name = fmt.Sprintf("%s backup %s", strings.ToLower(string(spec.Type)), time.Now().UTC().Format("2006-01-02 15:04"))
	}

	expiresAt := spec.ExpiresAt
	if expiresAt == nil && e.opts.DefaultRetentionDays > 0 {
		exp := time.Now().UTC().AddDate(0, 0, e.opts.DefaultRetentionDays)
		expiresAt = &exp
	}

	b := &Backup{
		TenantID:       spec.TenantID,
		BackupCode:     GenerateCode("bkp"),
		Name:           name,
		Description:    spec.Description,
		Type:           spec.Type,
		Trigger:        trigger,
		Status:         BackupStatusPending,
		IsCompressed:   spec.Compress,
		IsEncrypted:    spec.Encrypt && e.encryptor.Enabled(),
		TablesIncluded: spec.Tables,
		ScheduleID:     spec.ScheduleID,
		ExpiresAt:      expiresAt,
		CreatedBy:      actor.ID,
		CreatedByName:  actor.Name,
	}

	if spec.Encrypt && !e.encryptor.Enabled() {
		return nil, NewEncryptionError("encryption requested but no encryption key is configured", nil)
	}

	if err := e.backups.Save(ctx, b); err != nil {
		return nil, err
	}

	go e.runBackup(context.Background(), b.ID, b.TenantID)

	return b, nil
}

// runBackup executes an accepted backup to completion. Failures are
// recorded on the backup record, never returned.
func (e *Engine) runBackup(ctx context.Context, id uint, tenantID string) {
	b, err := e.backups.FindByID(ctx, tenantID, id)
	if err != nil {
		e.logger.WithField("backup_id", id).Errorf("failed to load accepted backup: %v", err)
		return
	}

	now := time.Now().UTC()
	b.Status = BackupStatusInProgress
	b.StartedAt = &now
	if err := e.backups.Save(ctx, b); err != nil {
		e.logger.WithField("backup_code", b.BackupCode).Errorf("failed to mark backup in progress: %v", err)
		return
	}

	artifact, err := e.buildArtifact(ctx, b)
	if err != nil {
		e.failBackup(ctx, b, err)
		return
	}

	data, checksum, ext, err := e.encodeArtifact(artifact, b.IsCompressed, b.IsEncrypted)
	if err != nil {
		e.failBackup(ctx, b, err)
		return
	}

	fileName := b.BackupCode + ext
	path, err := e.files.Write(fileName, data)
	if err != nil {
		e.failBackup(ctx, b, err)
		return
	}

	completed := time.Now().UTC()
	b.Status = BackupStatusCompleted
	b.FilePath = path
	b.FileName = fileName
	b.FileSize = int64(len(data))
	b.Checksum = checksum
	b.TablesIncluded = TableList(artifact.Metadata.Tables)
	b.TablesCount = len(artifact.Metadata.Tables)
	b.RecordsCount = artifact.Metadata.RecordsCount
	b.CompletedAt = &completed
	b.DurationMs = completed.Sub(*b.StartedAt).Milliseconds()

	if err := e.backups.Save(ctx, b); err != nil {
		e.logger.WithField("backup_code", b.BackupCode).Errorf("failed to mark backup completed: %v", err)
		return
	}

	backupsCompleted.WithLabelValues(string(b.Trigger)).Inc()
	e.logger.LogBackupRun(b.BackupCode, b.TablesCount, b.RecordsCount, time.Duration(b.DurationMs)*time.Millisecond, nil)
}

func (e *Engine) failBackup(ctx context.Context, b *Backup, cause error) {
	completed := time.Now().UTC()
	b.Status = BackupStatusFailed
	b.Error = cause.Error()
	b.CompletedAt = &completed
	if b.StartedAt != nil {
		b.DurationMs = completed.Sub(*b.StartedAt).Milliseconds()
	}

	if err := e.backups.Save(ctx, b); err != nil {
		e.logger.WithField("backup_code", b.BackupCode).Errorf("failed to mark backup failed: %v", err)
	}

	backupsFailed.WithLabelValues(string(b.Trigger)).Inc()
	e.logger.LogBackupRun(b.BackupCode, b.TablesCount, b.RecordsCount, time.Duration(b.DurationMs)*time.Millisecond, cause)
}

// buildArtifact snapshots the selected tables. A table that fails to
// read is logged and skipped so one bad table does not sink the run.
func (e *Engine) buildArtifact(ctx context.Context, b *Backup) (*Artifact, error) {
	available, err := e.source.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	tables := available
	if len(b.TablesIncluded) > 0 {
		availableSet := make(map[string]bool, len(available))
		for _, t := range available {
			availableSet[t] = true
		}
		tables = nil
		for _, t := range b.TablesIncluded {
			if !availableSet[t] {
				return nil, NewValidationError(fmt.Sprintf("table %q does not exist", t), nil)
			}
			tables = append(tables, t)
		}
	}

	artifact := &Artifact{
		Metadata: ArtifactMetadata{
			BackupCode: b.BackupCode,
			Type:       b.Type,
			CreatedAt:  time.Now().UTC(),
		},
		Data: make(map[string][]Row, len(tables)),
	}

	var included []string
	var records int64
	for _, table := range tables {
		if b.Type == BackupTypeSchemaOnly {
			included = append(included, table)
			artifact.Data[table] = nil
			continue
		}

		rows, err := e.source.ReadAll(ctx, table)
		if err != nil {
			e.logger.WithFields(map[string]interface{}{
				"backup_code": b.BackupCode,
				"table":       table,
			}).Warnf("skipping table: %v", err)
			continue
		}
		included = append(included, table)
		artifact.Data[table] = rows
		records += int64(len(rows))
	}

	if len(included) == 0 {
		return nil, NewStorageError("no tables could be read", nil)
	}

	artifact.Metadata.Tables = included
	artifact.Metadata.RecordsCount = records
	return artifact, nil
}

// encodeArtifact serializes an artifact through the JSON, compression
// and encryption pipeline. The checksum covers the final bytes as
// written to disk.
func (e *Engine) encodeArtifact(artifact *Artifact, compress, encrypt bool) (data []byte, checksum, ext string, err error) {
	data, err = json.Marshal(artifact)
	if err != nil {
		return nil, "", "", NewInternalError("failed to serialize artifact", err)
	}

	ext = ".json"
	if compress {
		compressed, _, cerr := e.compression.Compress(data, e.opts.CompressionAlgorithm, e.opts.CompressionLevel)
		if cerr != nil {
			return nil, "", "", cerr
		}
		data = compressed
		ext = ArtifactExtension(e.opts.CompressionAlgorithm)
	}

	if encrypt {
		encrypted, _, eerr := e.encryptor.Encrypt(data)
		if eerr != nil {
			return nil, "", "", eerr
		}
		data = encrypted
	}

	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), ext, nil
}

// LoadArtifact reads a completed backup's artifact back from disk,
// verifying the checksum and reversing encryption and compression.
func (e *Engine) LoadArtifact(ctx context.Context, b *Backup) (*Artifact, error) {
	if b.Status != BackupStatusCompleted {
		return nil, NewConflictError(fmt.Sprintf("backup %s is %s, not COMPLETED", b.BackupCode, b.Status), nil)
	}

	data, err := e.files.Read(b.FilePath)
	if err != nil {
		return nil, err
	}

	if b.Checksum != "" {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != b.Checksum {
			return nil, NewStorageError(fmt.Sprintf("checksum mismatch for backup %s", b.BackupCode), nil)
		}
	}

	if b.IsEncrypted {
		data, err = e.encryptor.Decrypt(data)
		if err != nil {
			return nil, err
		}
	}

	if b.IsCompressed {
		data, err = e.compression.Decompress(data, CompressionTypeForFile(b.FileName))
		if err != nil {
			return nil, err
		}
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, NewStorageError(fmt.Sprintf("backup %s artifact is corrupt", b.BackupCode), err)
	}
	return &artifact, nil
}

// GetBackup loads a backup record by ID.
func (e *Engine) GetBackup(ctx context.Context, tenantID string, id uint) (*Backup, error) {
	return e.backups.FindByID(ctx, tenantID, id)
}

// ListBackups lists backup records matching the filter.
func (e *Engine) ListBackups(ctx context.Context, filter BackupFilter) ([]Backup, error) {
	return e.backups.Find(ctx, filter)
}

// DeleteBackup removes a backup's artifact and marks the record
// DELETED. Only terminal backups can be deleted.
func (e *Engine) DeleteBackup(ctx context.Context, tenantID string, id uint) error {
	b, err := e.backups.FindByID(ctx, tenantID, id)
	if err != nil {
		return err
	}

	if !b.CanTransitionTo(BackupStatusDeleted) {
		return NewConflictError(fmt.Sprintf("backup %s cannot be deleted while %s", b.BackupCode, b.Status), nil)
	}

	if b.FilePath != "" {
		if err := e.files.Remove(b.FilePath); err != nil {
			e.logger.WithField("backup_code", b.BackupCode).Warnf("failed to remove backup file: %v", err)
		}
	}

	b.Status = BackupStatusDeleted
	return e.backups.Save(ctx, b)
}
