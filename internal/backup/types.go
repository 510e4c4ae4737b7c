package backup

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BackupType identifies what a backup run captures.
type BackupType string

const (
	BackupTypeFull         BackupType = "FULL"
	BackupTypeIncremental  BackupType = "INCREMENTAL"
	BackupTypeDifferential BackupType = "DIFFERENTIAL"
	BackupTypeDataOnly     BackupType = "DATA_ONLY"
	BackupTypeSchemaOnly   BackupType = "SCHEMA_ONLY"
)

// BackupTrigger records what started a backup run.
type BackupTrigger string

const (
	TriggerManual    BackupTrigger = "MANUAL"
	TriggerScheduled BackupTrigger = "SCHEDULED"
	TriggerAuto      BackupTrigger = "AUTO"
	TriggerPreUpdate BackupTrigger = "PRE_UPDATE"
)

// BackupStatus tracks the backup run state machine.
// Transitions are PENDING -> IN_PROGRESS -> {COMPLETED, FAILED};
// DELETED is only reachable from terminal states via cleanup.
type BackupStatus string

const (
	BackupStatusPending    BackupStatus = "PENDING"
	BackupStatusInProgress BackupStatus = "IN_PROGRESS"
	BackupStatusCompleted  BackupStatus = "COMPLETED"
	BackupStatusFailed     BackupStatus = "FAILED"
	BackupStatusDeleted    BackupStatus = "DELETED"
)

// RestoreStatus tracks the restore run state machine.
type RestoreStatus string

const (
	RestoreStatusPending    RestoreStatus = "PENDING"
	RestoreStatusInProgress RestoreStatus = "IN_PROGRESS"
	RestoreStatusCompleted  RestoreStatus = "COMPLETED"
	RestoreStatusFailed     RestoreStatus = "FAILED"
	RestoreStatusRolledBack RestoreStatus = "ROLLED_BACK"
)

// RestoreMode selects how table data is applied during a restore.
type RestoreMode string

const (
	RestoreModeFull      RestoreMode = "FULL"
	RestoreModeSelective RestoreMode = "SELECTIVE"
	RestoreModeMerge     RestoreMode = "MERGE"
)

// ScheduleFrequency is how often a BackupSchedule fires.
type ScheduleFrequency string

const (
	FrequencyHourly  ScheduleFrequency = "HOURLY"
	FrequencyDaily   ScheduleFrequency = "DAILY"
	FrequencyWeekly  ScheduleFrequency = "WEEKLY"
	FrequencyMonthly ScheduleFrequency = "MONTHLY"
)

// CompressionType selects the artifact compression algorithm.
type CompressionType string

const (
	CompressionTypeNone CompressionType = "NONE"
	CompressionTypeGzip CompressionType = "GZIP"
	CompressionTypeLZ4  CompressionType = "LZ4"
	CompressionTypeZstd CompressionType = "ZSTD"
)

// TableList is an ordered list of table names stored as a JSON column.
// A nil TableList serializes to SQL NULL, distinct from an empty list.
type TableList []string

func (tl TableList) Value() (driver.Value, error) {
	if tl == nil {
		return nil, nil
	}
	return json.Marshal(tl)
}

func (tl *TableList) Scan(value interface{}) error {
	if value == nil {
		*tl = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into TableList", value)
	}
	return json.Unmarshal(data, tl)
}

// Contains reports whether the list includes the given table name.
func (tl TableList) Contains(name string) bool {
	for _, t := range tl {
		if t == name {
			return true
		}
	}
	return false
}

// Backup is the record for a single backup run and its artifact.
type Backup struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	TenantID    string        `gorm:"size:64;not null;index;uniqueIndex:idx_backups_tenant_code" json:"tenantId"`
	BackupCode  string        `gorm:"size:64;not null;uniqueIndex:idx_backups_tenant_code" json:"backupCode"`
	Name        string        `gorm:"size:255" json:"name"`
	Description string        `json:"description"`
	Type        BackupType    `gorm:"size:20;not null" json:"type"`
	Trigger     BackupTrigger `gorm:"size:20;not null" json:"trigger"`
	Status      BackupStatus  `gorm:"size:20;not null;index" json:"status"`

	FilePath     string `gorm:"size:512" json:"filePath"`
	FileName     string `gorm:"size:255" json:"fileName"`
	FileSize     int64  `json:"fileSize"`
	Checksum     string `gorm:"size:64" json:"checksum"`
	IsCompressed bool   `json:"isCompressed"`
	IsEncrypted  bool   `json:"isEncrypted"`

	TablesIncluded TableList `gorm:"type:jsonb" json:"tablesIncluded"`
	TablesCount    int       `json:"tablesCount"`
	RecordsCount   int64     `json:"recordsCount"`

	ScheduleID *uint `gorm:"index" json:"scheduleId,omitempty"`

	CloudKey string `gorm:"size:512" json:"cloudKey,omitempty"`
	CloudURL string `gorm:"size:1024" json:"cloudUrl,omitempty"`

	Error string `json:"error,omitempty"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DurationMs  int64      `json:"durationMs"`
	ExpiresAt   *time.Time `gorm:"index" json:"expiresAt,omitempty"`

	CreatedBy     string `gorm:"size:64" json:"createdBy"`
	CreatedByName string `gorm:"size:255" json:"createdByName"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsTerminal reports whether the backup can no longer change state,
// deletion bookkeeping aside.
func (b *Backup) IsTerminal() bool {
	switch b.Status {
	case BackupStatusCompleted, BackupStatusFailed, BackupStatusDeleted:
		return true
	}
	return false
}

// CanTransitionTo validates the backup status state machine.
func (b *Backup) CanTransitionTo(next BackupStatus) bool {
	switch b.Status {
	case BackupStatusPending:
		return next == BackupStatusInProgress
	case BackupStatusInProgress:
		return next == BackupStatusCompleted || next == BackupStatusFailed
	case BackupStatusCompleted, BackupStatusFailed:
		return next == BackupStatusDeleted
	}
	return false
}

// Restore is the record for a single restore run.
type Restore struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	TenantID    string        `gorm:"size:64;not null;index" json:"tenantId"`
	RestoreCode string        `gorm:"size:64;not null;uniqueIndex" json:"restoreCode"`
	BackupID    *uint         `gorm:"index" json:"backupId,omitempty"`
	Status      RestoreStatus `gorm:"size:20;not null;index" json:"status"`
	Mode        RestoreMode   `gorm:"size:20;not null" json:"mode"`

	Tables TableList `gorm:"type:jsonb" json:"tables,omitempty"`

	TablesRestored  int   `json:"tablesRestored"`
	RecordsRestored int64 `json:"recordsRestored"`

	PreRestoreBackupID *uint `json:"preRestoreBackupId,omitempty"`

	Error string `json:"error,omitempty"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DurationMs  int64      `json:"durationMs"`

	InitiatedBy string `gorm:"size:64" json:"initiatedBy"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BackupSchedule configures recurring backups for a tenant.
type BackupSchedule struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	TenantID string `gorm:"size:64;not null;index" json:"tenantId"`
	Name     string `gorm:"size:255;not null" json:"name"`
	IsActive bool   `gorm:"not null;default:true;index" json:"isActive"`

	BackupType BackupType        `gorm:"size:20;not null" json:"backupType"`
	Frequency  ScheduleFrequency `gorm:"size:20;not null" json:"frequency"`
	TimeOfDay  string            `gorm:"size:5;not null;default:'03:00'" json:"timeOfDay"`
	DayOfWeek  int               `json:"dayOfWeek"`
	DayOfMonth int               `json:"dayOfMonth"`

	RetentionDays int  `gorm:"default:30" json:"retentionDays"`
	MaxBackups    int  `gorm:"default:10" json:"maxBackups"`
	Compress      bool `gorm:"default:true" json:"compress"`
	Encrypt       bool `json:"encrypt"`

	IncludeTables TableList `gorm:"type:jsonb" json:"includeTables,omitempty"`
	ExcludeTables TableList `gorm:"type:jsonb" json:"excludeTables,omitempty"`

	LastRunAt    *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt    *time.Time `gorm:"index" json:"nextRunAt,omitempty"`
	SuccessCount int        `json:"successCount"`
	FailureCount int        `json:"failureCount"`
	LastError    string     `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BackupSpec describes a requested backup run.
type BackupSpec struct {
	TenantID    string     `json:"tenantId"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        BackupType `json:"type"`
	Tables      TableList  `json:"tables,omitempty"`
	Compress    bool       `json:"compress"`
	Encrypt     bool       `json:"encrypt"`
	Trigger     BackupTrigger
	ScheduleID  *uint
	ExpiresAt   *time.Time
}

// RestoreSpec describes a requested restore run.
type RestoreSpec struct {
	TenantID           string      `json:"tenantId"`
	BackupID           uint        `json:"backupId"`
	Mode               RestoreMode `json:"mode"`
	Tables             TableList   `json:"tables,omitempty"`
	CreateBackupBefore *bool       `json:"createBackupBefore,omitempty"`
}

// Actor identifies the user on whose behalf an operation runs.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Artifact is the serialized snapshot envelope written to the file store.
type Artifact struct {
	Metadata ArtifactMetadata `json:"metadata"`
	Data     map[string][]Row `json:"data"`
}

// ArtifactMetadata describes the contents of an artifact.
type ArtifactMetadata struct {
	BackupCode   string     `json:"backupCode"`
	Type         BackupType `json:"type"`
	CreatedAt    time.Time  `json:"createdAt"`
	Tables       []string   `json:"tables"`
	RecordsCount int64      `json:"recordsCount"`
}

// GenerateCode generates a unique, time-sortable code with the given
// prefix, e.g. "bkp-20240131-154502-3fa91c2e".
func GenerateCode(prefix string) string {
	timestamp := time.Now().UTC().Format("20060102-150405")
	short := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", prefix, timestamp, short)
}

func isValidBackupType(t BackupType) bool {
	switch t {
	case BackupTypeFull, BackupTypeIncremental, BackupTypeDifferential,
		BackupTypeDataOnly, BackupTypeSchemaOnly:
		return true
	}
	return false
}

func isValidRestoreMode(m RestoreMode) bool {
	switch m {
	case RestoreModeFull, RestoreModeSelective, RestoreModeMerge:
		return true
	}
	return false
}

func isValidFrequency(f ScheduleFrequency) bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

func isValidCompressionType(ct CompressionType) bool {
	switch ct {
	case CompressionTypeNone, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd:
		return true
	}
	return false
}
