package backup

import (
	"context"
	"sync/atomic"
	"time"

	"dbvault/internal/logging"
)

// CleanupResult summarizes one retention pass.
type CleanupResult struct {
	ExpiredDeleted int `json:"expiredDeleted"`
	AgeDeleted     int `json:"ageDeleted"`
	CountDeleted   int `json:"countDeleted"`
	Failed         int `json:"failed"`
}

// Total returns the number of backups removed in the pass.
func (r *CleanupResult) Total() int {
	return r.ExpiredDeleted + r.AgeDeleted + r.CountDeleted
}

// backupRetentionStore is the slice of the backup repository the
// retention pass needs.
type backupRetentionStore interface {
	FindExpired(ctx context.Context, now time.Time) ([]Backup, error)
	FindCompletedForSchedule(ctx context.Context, scheduleID uint) ([]Backup, error)
	FindCompletedManual(ctx context.Context) ([]Backup, error)
	Save(ctx context.Context, b *Backup) error
}

// scheduleRetentionStore lists schedules carrying a retention policy.
type scheduleRetentionStore interface {
	FindWithRetention(ctx context.Context) ([]BackupSchedule, error)
}

// RetentionManager removes backups past their retention policy: the
// record's own expiry, each schedule's age limit, each schedule's
// backup count cap, and a global count cap over manual backups.
type RetentionManager struct {
	backups   backupRetentionStore
	schedules scheduleRetentionStore
	files     *FileStore
	logger    *logging.Logger
	maxManual int

	running atomic.Bool
}

func NewRetentionManager(backups backupRetentionStore, schedules scheduleRetentionStore, files *FileStore, logger *logging.Logger, maxManual int) *RetentionManager {
	return &RetentionManager{
		backups:   backups,
		schedules: schedules,
		files:     files,
		logger:    logger,
		maxManual: maxManual,
	}
}

// Cleanup runs one retention pass. Overlapping invocations are
// skipped.
func (rm *RetentionManager) Cleanup(ctx context.Context, now time.Time) (*CleanupResult, error) {
	if !rm.running.CompareAndSwap(false, true) {
		rm.logger.Debug("retention cleanup already running, skipping")
		return &CleanupResult{}, nil
	}
	defer rm.running.Store(false)

	result := &CleanupResult{}

	expired, err := rm.backups.FindExpired(ctx, now)
	if err != nil {
		return result, err
	}
	for i := range expired {
		if rm.deleteBackup(ctx, &expired[i]) {
			result.ExpiredDeleted++
		} else {
			result.Failed++
		}
	}

	schedules, err := rm.schedules.FindWithRetention(ctx)
	if err != nil {
		return result, err
	}
	for i := range schedules {
		rm.cleanupSchedule(ctx, &schedules[i], now, result)
	}

	if rm.maxManual > 0 {
		if err := rm.capManualBackups(ctx, result); err != nil {
			return result, err
		}
	}

	if result.Total() > 0 || result.Failed > 0 {
		rm.logger.WithFields(map[string]interface{}{
			"expired": result.ExpiredDeleted,
			"age":     result.AgeDeleted,
			"count":   result.CountDeleted,
			"failed":  result.Failed,
		}).Info("Retention cleanup finished")
	}
	return result, nil
}

// cleanupSchedule applies a schedule's age limit, then its count cap
// over whatever remains.
func (rm *RetentionManager) cleanupSchedule(ctx context.Context, s *BackupSchedule, now time.Time, result *CleanupResult) {
	backups, err := rm.backups.FindCompletedForSchedule(ctx, s.ID)
	if err != nil {
		rm.logger.WithField("schedule_id", s.ID).Errorf("failed to list backups for retention: %v", err)
		return
	}

	var remaining []Backup
	if s.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -s.RetentionDays)
		for i := range backups {
			if backups[i].CreatedAt.Before(cutoff) {
				if rm.deleteBackup(ctx, &backups[i]) {
					result.AgeDeleted++
				} else {
					result.Failed++
					remaining = append(remaining, backups[i])
				}
			} else {
				remaining = append(remaining, backups[i])
			}
		}
	} else {
		remaining = backups
	}

	// remaining is ordered oldest first, drop from the front.
	if s.MaxBackups > 0 && len(remaining) > s.MaxBackups {
		excess := len(remaining) - s.MaxBackups
		for i := 0; i < excess; i++ {
			if rm.deleteBackup(ctx, &remaining[i]) {
				result.CountDeleted++
			} else {
				result.Failed++
			}
		}
	}
}

// capManualBackups keeps only the newest maxManual manually triggered
// backups, dropping the oldest of the excess.
func (rm *RetentionManager) capManualBackups(ctx context.Context, result *CleanupResult) error {
	manual, err := rm.backups.FindCompletedManual(ctx)
	if err != nil {
		return err
	}

	excess := len(manual) - rm.maxManual
	for i := 0; i < excess; i++ {
		if rm.deleteBackup(ctx, &manual[i]) {
			result.CountDeleted++
		} else {
			result.Failed++
		}
	}
	return nil
}

// deleteBackup removes the artifact file, then marks the record
// DELETED. A file removal error is logged and does not block the
// record update.
func (rm *RetentionManager) deleteBackup(ctx context.Context, b *Backup) bool {
	if b.FilePath != "" {
		if err := rm.files.Remove(b.FilePath); err != nil {
			rm.logger.WithField("backup_code", b.BackupCode).Warnf("failed to remove backup file: %v", err)
		}
	}

	b.Status = BackupStatusDeleted
	if err := rm.backups.Save(ctx, b); err != nil {
		rm.logger.WithField("backup_code", b.BackupCode).Errorf("failed to mark backup deleted: %v", err)
		return false
	}

	retentionDeletes.Inc()
	return true
}
