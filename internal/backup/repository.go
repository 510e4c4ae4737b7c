package backup

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// BackupFilter narrows backup listings.
type BackupFilter struct {
	TenantID   string
	Status     BackupStatus
	Type       BackupType
	Trigger    BackupTrigger
	ScheduleID *uint
	Limit      int
	Offset     int
}

// BackupRepository persists Backup records.
type BackupRepository struct {
	db *gorm.DB
}

func NewBackupRepository(db *gorm.DB) *BackupRepository {
	return &BackupRepository{db: db}
}

func (r *BackupRepository) Save(ctx context.Context, b *Backup) error {
	if err := r.db.WithContext(ctx).Save(b).Error; err != nil {
		return NewDatabaseError("failed to save backup record", err)
	}
	return nil
}

func (r *BackupRepository) FindByID(ctx context.Context, tenantID string, id uint) (*Backup, error) {
	var b Backup
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("backup not found", err)
		}
		return nil, NewDatabaseError("failed to load backup record", err)
	}
	return &b, nil
}

func (r *BackupRepository) FindByCode(ctx context.Context, tenantID, code string) (*Backup, error) {
	var b Backup
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND backup_code = ?", tenantID, code).
		First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("backup not found", err)
		}
		return nil, NewDatabaseError("failed to load backup record", err)
	}
	return &b, nil
}

func (r *BackupRepository) Find(ctx context.Context, filter BackupFilter) ([]Backup, error) {
	q := r.applyFilter(r.db.WithContext(ctx), filter).Order("created_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var backups []Backup
	if err := q.Find(&backups).Error; err != nil {
		return nil, NewDatabaseError("failed to list backup records", err)
	}
	return backups, nil
}

func (r *BackupRepository) Count(ctx context.Context, filter BackupFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&Backup{}), filter).Count(&count).Error; err != nil {
		return 0, NewDatabaseError("failed to count backup records", err)
	}
	return count, nil
}

// FindExpired returns completed backups whose expiry has passed.
func (r *BackupRepository) FindExpired(ctx context.Context, now time.Time) ([]Backup, error) {
	var backups []Backup
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", BackupStatusCompleted, now).
		Find(&backups).Error
	if err != nil {
		return nil, NewDatabaseError("failed to list expired backups", err)
	}
	return backups, nil
}

// FindCompletedForSchedule returns a schedule's completed backups
// ordered oldest first, for count-based retention.
func (r *BackupRepository) FindCompletedForSchedule(ctx context.Context, scheduleID uint) ([]Backup, error) {
	var backups []Backup
	err := r.db.WithContext(ctx).
		Where("schedule_id = ? AND status = ?", scheduleID, BackupStatusCompleted).
		Order("created_at ASC").
		Find(&backups).Error
	if err != nil {
		return nil, NewDatabaseError("failed to list schedule backups", err)
	}
	return backups, nil
}

// FindCompletedManual returns completed manually triggered backups
// ordered oldest first, for the global count cap.
func (r *BackupRepository) FindCompletedManual(ctx context.Context) ([]Backup, error) {
	var backups []Backup
	err := r.db.WithContext(ctx).
		Where("trigger = ? AND status = ?", TriggerManual, BackupStatusCompleted).
		Order("created_at ASC").
		Find(&backups).Error
	if err != nil {
		return nil, NewDatabaseError("failed to list manual backups", err)
	}
	return backups, nil
}

// FindPendingCloudSync returns completed backups not yet uploaded
// offsite, oldest first.
func (r *BackupRepository) FindPendingCloudSync(ctx context.Context, limit int) ([]Backup, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND (cloud_key = '' OR cloud_key IS NULL) AND file_path <> ''", BackupStatusCompleted).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var backups []Backup
	if err := q.Find(&backups).Error; err != nil {
		return nil, NewDatabaseError("failed to list backups pending cloud sync", err)
	}
	return backups, nil
}

func (r *BackupRepository) applyFilter(q *gorm.DB, filter BackupFilter) *gorm.DB {
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Trigger != "" {
		q = q.Where("trigger = ?", filter.Trigger)
	}
	if filter.ScheduleID != nil {
		q = q.Where("schedule_id = ?", *filter.ScheduleID)
	}
	return q
}

// RestoreRepository persists Restore records.
type RestoreRepository struct {
	db *gorm.DB
}

func NewRestoreRepository(db *gorm.DB) *RestoreRepository {
	return &RestoreRepository{db: db}
}

func (r *RestoreRepository) Save(ctx context.Context, rec *Restore) error {
	if err := r.db.WithContext(ctx).Save(rec).Error; err != nil {
		return NewDatabaseError("failed to save restore record", err)
	}
	return nil
}

func (r *RestoreRepository) FindByID(ctx context.Context, tenantID string, id uint) (*Restore, error) {
	var rec Restore
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("restore not found", err)
		}
		return nil, NewDatabaseError("failed to load restore record", err)
	}
	return &rec, nil
}

func (r *RestoreRepository) Find(ctx context.Context, tenantID string, limit, offset int) ([]Restore, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var restores []Restore
	if err := q.Find(&restores).Error; err != nil {
		return nil, NewDatabaseError("failed to list restore records", err)
	}
	return restores, nil
}

// FindForBackup lists the restore runs that reference a backup,
// newest first.
func (r *RestoreRepository) FindForBackup(ctx context.Context, tenantID string, backupID uint) ([]Restore, error) {
	var restores []Restore
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND backup_id = ?", tenantID, backupID).
		Order("created_at DESC").
		Find(&restores).Error
	if err != nil {
		return nil, NewDatabaseError("failed to list restore records for backup", err)
	}
	return restores, nil
}

// ScheduleRepository persists BackupSchedule records.
type ScheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) Save(ctx context.Context, s *BackupSchedule) error {
	if err := r.db.WithContext(ctx).Save(s).Error; err != nil {
		return NewDatabaseError("failed to save schedule record", err)
	}
	return nil
}

func (r *ScheduleRepository) FindByID(ctx context.Context, tenantID string, id uint) (*BackupSchedule, error) {
	var s BackupSchedule
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("schedule not found", err)
		}
		return nil, NewDatabaseError("failed to load schedule record", err)
	}
	return &s, nil
}

func (r *ScheduleRepository) Find(ctx context.Context, tenantID string) ([]BackupSchedule, error) {
	q := r.db.WithContext(ctx).Order("id ASC")
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}

	var schedules []BackupSchedule
	if err := q.Find(&schedules).Error; err != nil {
		return nil, NewDatabaseError("failed to list schedule records", err)
	}
	return schedules, nil
}

// FindDue returns active schedules whose next run is unset or has
// passed.
func (r *ScheduleRepository) FindDue(ctx context.Context, now time.Time) ([]BackupSchedule, error) {
	var schedules []BackupSchedule
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND (next_run_at IS NULL OR next_run_at <= ?)", true, now).
		Find(&schedules).Error
	if err != nil {
		return nil, NewDatabaseError("failed to list due schedules", err)
	}
	return schedules, nil
}

// FindWithRetention returns schedules carrying a retention policy.
func (r *ScheduleRepository) FindWithRetention(ctx context.Context) ([]BackupSchedule, error) {
	var schedules []BackupSchedule
	err := r.db.WithContext(ctx).
		Where("retention_days > 0 OR max_backups > 0").
		Find(&schedules).Error
	if err != nil {
		return nil, NewDatabaseError("failed to list schedules with retention", err)
	}
	return schedules, nil
}

func (r *ScheduleRepository) Delete(ctx context.Context, tenantID string, id uint) error {
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&BackupSchedule{})
	if result.Error != nil {
		return NewDatabaseError("failed to delete schedule record", result.Error)
	}
	if result.RowsAffected == 0 {
		return NewNotFoundError("schedule not found", nil)
	}
	return nil
}

// AutoMigrate creates or updates the backup subsystem tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Backup{}, &Restore{}, &BackupSchedule{}); err != nil {
		return NewDatabaseError("failed to migrate backup tables", err)
	}
	return nil
}
