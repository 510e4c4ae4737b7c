package backup

import (
	"context"
	"fmt"
	"time"

	"dbvault/internal/logging"
)

// RestorerOptions tunes safety backup behavior.
type RestorerOptions struct {
	SafetyBackupTimeout time.Duration
	SafetyBackupPoll    time.Duration
}

// restoreStore is the slice of the restore repository the restorer
// needs.
type restoreStore interface {
	Save(ctx context.Context, rec *Restore) error
	FindByID(ctx context.Context, tenantID string, id uint) (*Restore, error)
	Find(ctx context.Context, tenantID string, limit, offset int) ([]Restore, error)
	FindForBackup(ctx context.Context, tenantID string, backupID uint) ([]Restore, error)
}

// Restorer applies a completed backup's artifact back onto the
// application tables inside a single transaction.
type Restorer struct {
	restores restoreStore
	backups  backupStore
	engine   *Engine
	source   TableSource
	logger   *logging.Logger
	opts     RestorerOptions
}

func NewRestorer(
	restores restoreStore,
	backups backupStore,
	engine *Engine,
	source TableSource,
	logger *logging.Logger,
	opts RestorerOptions,
) *Restorer {
	if opts.SafetyBackupTimeout == 0 {
		opts.SafetyBackupTimeout = 60 * time.Second
	}
	if opts.SafetyBackupPoll == 0 {
		opts.SafetyBackupPoll = time.Second
	}
	return &Restorer{
		restores: restores,
		backups:  backups,
		engine:   engine,
		source:   source,
		logger:   logger,
		opts:     opts,
	}
}

// ValidateSpec checks a restore request before it is accepted.
func (r *Restorer) ValidateSpec(spec *RestoreSpec) error {
	v := &ValidationErrors{}

	if spec.TenantID == "" {
		v.Add("tenantId", "is required")
	}
	if spec.BackupID == 0 {
		v.Add("backupId", "is required")
	}
	if spec.Mode == "" {
		spec.Mode = RestoreModeFull
	} else if !isValidRestoreMode(spec.Mode) {
		v.Add("mode", fmt.Sprintf("unknown restore mode %q", spec.Mode))
	}
	if spec.Mode == RestoreModeSelective && len(spec.Tables) == 0 {
		v.Add("tables", "SELECTIVE mode requires at least one table")
	}

	return v.AsError()
}

// CreateRestore accepts a restore request, persists the PENDING record
// and starts the run asynchronously.
func (r *Restorer) CreateRestore(ctx context.Context, spec *RestoreSpec, actor Actor) (*Restore, error) {
	if err := r.ValidateSpec(spec); err != nil {
		return nil, err
	}

	b, err := r.backups.FindByID(ctx, spec.TenantID, spec.BackupID)
	if err != nil {
		return nil, err
	}
	if b.Status != BackupStatusCompleted {
		return nil, NewConflictError(fmt.Sprintf("backup %s is %s, only COMPLETED backups can be restored", b.BackupCode, b.Status), nil)
	}

	backupID := b.ID
	rec := &Restore{
		TenantID:    spec.TenantID,
		RestoreCode: GenerateCode("rst"),
		BackupID:    &backupID,
		Status:      RestoreStatusPending,
		Mode:        spec.Mode,
		Tables:      spec.Tables,
		InitiatedBy: actor.ID,
	}
	if err := r.restores.Save(ctx, rec); err != nil {
		return nil, err
	}

	createSafety := spec.CreateBackupBefore == nil || *spec.CreateBackupBefore
	go r.runRestore(context.Background(), rec.ID, rec.TenantID, createSafety, actor)

	return rec, nil
}

func (r *Restorer) runRestore(ctx context.Context, id uint, tenantID string, createSafety bool, actor Actor) {
	rec, err := r.restores.FindByID(ctx, tenantID, id)
	if err != nil {
		r.logger.WithField("restore_id", id).Errorf("failed to load accepted restore: %v", err)
		return
	}

	now := time.Now().UTC()
	rec.Status = RestoreStatusInProgress
	rec.StartedAt = &now
	if err := r.restores.Save(ctx, rec); err != nil {
		r.logger.WithField("restore_code", rec.RestoreCode).Errorf("failed to mark restore in progress: %v", err)
		return
	}

	if createSafety {
		safetyID, err := r.createSafetyBackup(ctx, rec, actor)
		if err != nil {
			r.failRestore(ctx, rec, NewRestoreError("safety backup failed", err))
			return
		}
		rec.PreRestoreBackupID = &safetyID
		if err := r.restores.Save(ctx, rec); err != nil {
			r.logger.WithField("restore_code", rec.RestoreCode).Errorf("failed to record safety backup: %v", err)
		}
	}

	b, err := r.backups.FindByID(ctx, tenantID, *rec.BackupID)
	if err != nil {
		r.failRestore(ctx, rec, err)
		return
	}

	artifact, err := r.engine.LoadArtifact(ctx, b)
	if err != nil {
		r.failRestore(ctx, rec, err)
		return
	}

	tables, err := r.selectTables(rec, artifact)
	if err != nil {
		r.failRestore(ctx, rec, err)
		return
	}

	tablesRestored, recordsRestored, err := r.applyTables(ctx, rec.Mode, tables, artifact)
	if err != nil {
		// The transaction rolled back, the database is unchanged.
		r.failRestore(ctx, rec, err)
		return
	}

	completed := time.Now().UTC()
	rec.Status = RestoreStatusCompleted
	rec.TablesRestored = tablesRestored
	rec.RecordsRestored = recordsRestored
	rec.CompletedAt = &completed
	rec.DurationMs = completed.Sub(*rec.StartedAt).Milliseconds()

	if err := r.restores.Save(ctx, rec); err != nil {
		r.logger.WithField("restore_code", rec.RestoreCode).Errorf("failed to mark restore completed: %v", err)
		return
	}

	restoresCompleted.WithLabelValues(string(rec.Mode)).Inc()
	r.logger.LogRestoreRun(rec.RestoreCode, string(rec.Mode), tablesRestored, recordsRestored, time.Duration(rec.DurationMs)*time.Millisecond, nil)
}

// applyTables writes the selected artifact tables inside a single
// transaction. FULL and SELECTIVE clear each table first; MERGE
// inserts on top of existing rows, skipping duplicates.
func (r *Restorer) applyTables(ctx context.Context, mode RestoreMode, tables []string, artifact *Artifact) (int, int64, error) {
	var tablesRestored int
	var recordsRestored int64

	err := r.source.WithinTransaction(ctx, func(tx TableWriter) error {
		for _, table := range tables {
			if mode != RestoreModeMerge {
				if err := tx.DeleteAll(table); err != nil {
					return err
				}
			}
			for _, row := range artifact.Data[table] {
				if mode == RestoreModeMerge {
					inserted, err := tx.InsertSkipConflict(table, row)
					if err != nil {
						return err
					}
					if inserted {
						recordsRestored++
					}
				} else {
					if err := tx.Insert(table, row); err != nil {
						return err
					}
					recordsRestored++
				}
			}
			tablesRestored++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return tablesRestored, recordsRestored, nil
}

// createSafetyBackup takes a full backup before touching any table and
// waits for it to complete.
func (r *Restorer) createSafetyBackup(ctx context.Context, rec *Restore, actor Actor) (uint, error) {
	spec := &BackupSpec{
		TenantID: rec.TenantID,
		Name:     fmt.Sprintf("pre-restore safety for %s", rec.RestoreCode),
		Type:     BackupTypeFull,
		Compress: true,
		Trigger:  TriggerPreUpdate,
	}

	b, err := r.engine.CreateBackup(ctx, spec, actor)
	if err != nil {
		return 0, err
	}

	deadline := time.Now().Add(r.opts.SafetyBackupTimeout)
	for {
		current, err := r.backups.FindByID(ctx, rec.TenantID, b.ID)
		if err != nil {
			return 0, err
		}
		switch current.Status {
		case BackupStatusCompleted:
			return current.ID, nil
		case BackupStatusFailed:
			return 0, NewRestoreError(fmt.Sprintf("safety backup %s failed: %s", current.BackupCode, current.Error), nil)
		}

		if time.Now().After(deadline) {
			return 0, NewRestoreError(fmt.Sprintf("safety backup %s did not complete within %s", b.BackupCode, r.opts.SafetyBackupTimeout), nil)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(r.opts.SafetyBackupPoll):
		}
	}
}

// selectTables resolves which artifact tables the restore touches.
func (r *Restorer) selectTables(rec *Restore, artifact *Artifact) ([]string, error) {
	if rec.Mode != RestoreModeSelective {
		return artifact.Metadata.Tables, nil
	}

	inArtifact := make(map[string]bool, len(artifact.Metadata.Tables))
	for _, t := range artifact.Metadata.Tables {
		inArtifact[t] = true
	}

	var tables []string
	for _, t := range rec.Tables {
		if !inArtifact[t] {
			return nil, NewValidationError(fmt.Sprintf("table %q is not present in the backup", t), nil)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (r *Restorer) failRestore(ctx context.Context, rec *Restore, cause error) {
	completed := time.Now().UTC()
	rec.Status = RestoreStatusFailed
	rec.Error = cause.Error()
	rec.CompletedAt = &completed
	if rec.StartedAt != nil {
		rec.DurationMs = completed.Sub(*rec.StartedAt).Milliseconds()
	}

	if err := r.restores.Save(ctx, rec); err != nil {
		r.logger.WithField("restore_code", rec.RestoreCode).Errorf("failed to mark restore failed: %v", err)
	}

	restoresFailed.WithLabelValues(string(rec.Mode)).Inc()
	r.logger.LogRestoreRun(rec.RestoreCode, string(rec.Mode), rec.TablesRestored, rec.RecordsRestored, time.Duration(rec.DurationMs)*time.Millisecond, cause)
}

// GetRestore loads a restore record by ID.
func (r *Restorer) GetRestore(ctx context.Context, tenantID string, id uint) (*Restore, error) {
	return r.restores.FindByID(ctx, tenantID, id)
}

// ListRestores lists restore records for a tenant, newest first.
func (r *Restorer) ListRestores(ctx context.Context, tenantID string, limit, offset int) ([]Restore, error) {
	return r.restores.Find(ctx, tenantID, limit, offset)
}

// ListRestoresForBackup lists the restore runs taken from one backup.
func (r *Restorer) ListRestoresForBackup(ctx context.Context, tenantID string, backupID uint) ([]Restore, error) {
	return r.restores.FindForBackup(ctx, tenantID, backupID)
}
