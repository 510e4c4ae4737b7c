package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"dbvault/internal/backup"
	"dbvault/internal/cloud"
	"dbvault/internal/logging"
)

// backupService is the slice of the backup engine the handlers need.
type backupService interface {
	CreateBackup(ctx context.Context, spec *backup.BackupSpec, actor backup.Actor) (*backup.Backup, error)
	GetBackup(ctx context.Context, tenantID string, id uint) (*backup.Backup, error)
	ListBackups(ctx context.Context, filter backup.BackupFilter) ([]backup.Backup, error)
	DeleteBackup(ctx context.Context, tenantID string, id uint) error
}

type restoreService interface {
	CreateRestore(ctx context.Context, spec *backup.RestoreSpec, actor backup.Actor) (*backup.Restore, error)
	GetRestore(ctx context.Context, tenantID string, id uint) (*backup.Restore, error)
	ListRestores(ctx context.Context, tenantID string, limit, offset int) ([]backup.Restore, error)
	ListRestoresForBackup(ctx context.Context, tenantID string, backupID uint) ([]backup.Restore, error)
}

type scheduleService interface {
	CreateSchedule(ctx context.Context, s *backup.BackupSchedule) error
	UpdateSchedule(ctx context.Context, s *backup.BackupSchedule) error
	RunDue(ctx context.Context, now time.Time) error
	RunNow(ctx context.Context, tenantID string, id uint) error
}

type scheduleStore interface {
	FindByID(ctx context.Context, tenantID string, id uint) (*backup.BackupSchedule, error)
	Find(ctx context.Context, tenantID string) ([]backup.BackupSchedule, error)
	Delete(ctx context.Context, tenantID string, id uint) error
}

type retentionService interface {
	Cleanup(ctx context.Context, now time.Time) (*backup.CleanupResult, error)
}

type syncService interface {
	SyncPending(ctx context.Context) (*cloud.SyncResult, error)
	SyncBackup(ctx context.Context, b *backup.Backup) error
}

type fileReader interface {
	Read(path string) ([]byte, error)
}

// Handler exposes the backup subsystem over HTTP.
type Handler struct {
	backups   backupService
	restores  restoreService
	scheduler scheduleService
	schedules scheduleStore
	retention retentionService
	syncer    syncService
	store     cloud.ObjectStore
	files     fileReader
	logger    *logging.Logger

	defaultTenant string
	keyPrefix     string
}

func NewHandler(
	backups backupService,
	restores restoreService,
	scheduler scheduleService,
	schedules scheduleStore,
	retention retentionService,
	syncer syncService,
	store cloud.ObjectStore,
	files fileReader,
	logger *logging.Logger,
	defaultTenant string,
	keyPrefix string,
) *Handler {
	return &Handler{
		backups:       backups,
		restores:      restores,
		scheduler:     scheduler,
		schedules:     schedules,
		retention:     retention,
		syncer:        syncer,
		store:         store,
		files:         files,
		logger:        logger,
		defaultTenant: defaultTenant,
		keyPrefix:     keyPrefix,
	}
}

func (h *Handler) tenant(c echo.Context) string {
	if t := c.Request().Header.Get("X-Tenant-ID"); t != "" {
		return t
	}
	return h.defaultTenant
}

func (h *Handler) actor(c echo.Context) backup.Actor {
	a := backup.Actor{
		ID:   c.Request().Header.Get("X-Actor-ID"),
		Name: c.Request().Header.Get("X-Actor-Name"),
	}
	if a.ID == "" {
		a.ID = "api"
	}
	return a
}

func (h *Handler) httpError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case backup.IsType(err, backup.ErrorTypeValidation):
		status = http.StatusBadRequest
	case backup.IsType(err, backup.ErrorTypeNotFound):
		status = http.StatusNotFound
	case backup.IsType(err, backup.ErrorTypeConflict):
		status = http.StatusConflict
	case backup.IsType(err, backup.ErrorTypeCloud):
		status = http.StatusBadGateway
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func pathID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, backup.NewValidationError("invalid id", err)
	}
	return uint(id), nil
}

func queryInt(c echo.Context, name string, fallback int) int {
	v := c.QueryParam(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// CreateBackup accepts a backup request and starts the run in the
// background. The response carries the PENDING record.
func (h *Handler) CreateBackup(c echo.Context) error {
	var spec backup.BackupSpec
	if err := c.Bind(&spec); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	spec.TenantID = h.tenant(c)

	b, err := h.backups.CreateBackup(c.Request().Context(), &spec, h.actor(c))
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, b)
}

func (h *Handler) ListBackups(c echo.Context) error {
	filter := backup.BackupFilter{
		TenantID: h.tenant(c),
		Status:   backup.BackupStatus(c.QueryParam("status")),
		Type:     backup.BackupType(c.QueryParam("type")),
		Trigger:  backup.BackupTrigger(c.QueryParam("trigger")),
		Limit:    queryInt(c, "limit", 50),
		Offset:   queryInt(c, "offset", 0),
	}

	items, err := h.backups.ListBackups(c.Request().Context(), filter)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"backups": items})
}

func (h *Handler) GetBackup(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return h.httpError(c, err)
	}

	b, err := h.backups.GetBackup(c.Request().Context(), h.tenant(c), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBackup(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return h.httpError(c, err)
	}

	if err := h.backups.DeleteBackup(c.Request().Context(), h.tenant(c), id); err != nil {
		return h.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DownloadBackup streams the stored artifact bytes as written, still
// compressed and encrypted if the backup was taken that way.
func (h *Handler) DownloadBackup(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return h.httpError(c, err)
	}

	b, err := h.backups.GetBackup(c.Request().Context(), h.tenant(c), id)
	if err != nil {
		return h.httpError(c, err)
	}
	if b.Status != backup.BackupStatusCompleted {
		return h.httpError(c, backup.NewConflictError(
			fmt.Sprintf("backup %s is %s, only completed backups can be downloaded", b.BackupCode, b.Status), nil))
	}

	data, err := h.files.Read(b.FilePath)
	if err != nil {
		return h.httpError(c, backup.NewStorageError("failed to read backup artifact", err))
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", b.FileName))
	return c.Blob(http.StatusOK, "application/octet-stream", data)
}

func (h *Handler) CreateRestore(c echo.Context) error {
	var spec backup.RestoreSpec
	if err := c.Bind(&spec); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	spec.TenantID = h.tenant(c)

	rec, err := h.restores.CreateRestore(c.Request().Context(), &spec, h.actor(c))
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, rec)
}

// ListRestores lists restore runs, optionally narrowed to those taken
// from one backup via the backup_id query parameter.
func (h *Handler) ListRestores(c echo.Context) error {
	ctx := c.Request().Context()

	var items []backup.Restore
	var err error
	if backupID := queryInt(c, "backup_id", 0); backupID > 0 {
		items, err = h.restores.ListRestoresForBackup(ctx, h.tenant(c), uint(backupID))
	} else {
		items, err = h.restores.ListRestores(ctx, h.tenant(c),
			queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	}
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"restores": items})
}

func (h *Handler) GetRestore(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return h.httpError(c, err)
	}

	rec, err := h.restores.GetRestore(c.Request().Context(), h.tenant(c), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) CreateSchedule(c echo.Context) error {
	var s backup.BackupSchedule
	if err := c.Bind(&s); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	s.TenantID = h.tenant(c)

	if err := h.scheduler.CreateSchedule(c.Request().Context(), &s); err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) ListSchedules(c echo.Context) error {
	items, err := h.schedules.Find(c.Request().Context(), h.tenant(c))
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"schedules": items})
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return h.httpError(c, err)
	}

	s, err := h.schedules.FindByID(c.Request().Context(), h.tenant(c), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

// UpdateSchedule replaces the mutable fields of an existing schedule
// and recomputes its next run time.
func (h *Handler) UpdateSchedule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return h.httpError(c, err)
	}

	existing, err := h.schedules.FindByID(c.Request().Context(), h.tenant(c), id)
	if err != nil {
		return h.httpError(c, err)
	}

	var s backup.BackupSchedule
	if err := c.Bind(&s); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	s.ID = existing.ID
	s.TenantID = existing.TenantID
	s.CreatedAt = existing.CreatedAt
	s.LastRunAt = existing.LastRunAt
	s.SuccessCount = existing.SuccessCount
	s.FailureCount = existing.FailureCount

	if err := h.scheduler.UpdateSchedule(c.Request().Context(), &s); err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return h.httpError(c, err)
	}

	if err := h.schedules.Delete(c.Request().Context(), h.tenant(c), id); err != nil {
		return h.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RunSchedules triggers an immediate scan for due schedules, the same
// pass the 5 minute ticker runs.
func (h *Handler) RunSchedules(c echo.Context) error {
	if err := h.scheduler.RunDue(c.Request().Context(), time.Now().UTC()); err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "scan started"})
}

// RunSchedule runs one schedule immediately, out of band.
func (h *Handler) RunSchedule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return h.httpError(c, err)
	}

	if err := h.scheduler.RunNow(c.Request().Context(), h.tenant(c), id); err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "run started"})
}

// RunCleanup triggers an immediate retention pass.
func (h *Handler) RunCleanup(c echo.Context) error {
	result, err := h.retention.Cleanup(c.Request().Context(), time.Now().UTC())
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) CloudTest(c echo.Context) error {
	if h.store == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "cloud sync is not configured"})
	}

	if err := h.store.Test(c.Request().Context()); err != nil {
		return h.httpError(c, backup.NewCloudError("connectivity test failed", err))
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CloudSync(c echo.Context) error {
	if h.syncer == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "cloud sync is not configured"})
	}

	result, err := h.syncer.SyncPending(c.Request().Context())
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// SyncBackup uploads one backup to the object store, outside the
// hourly batch.
func (h *Handler) SyncBackup(c echo.Context) error {
	if h.syncer == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "cloud sync is not configured"})
	}

	id, err := pathID(c)
	if err != nil {
		return h.httpError(c, err)
	}

	b, err := h.backups.GetBackup(c.Request().Context(), h.tenant(c), id)
	if err != nil {
		return h.httpError(c, err)
	}
	if err := h.syncer.SyncBackup(c.Request().Context(), b); err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) CloudList(c echo.Context) error {
	if h.store == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "cloud sync is not configured"})
	}

	prefix := c.QueryParam("prefix")
	if prefix == "" {
		prefix = h.keyPrefix
	}

	result := h.store.List(c.Request().Context(), prefix)
	if result.Error != "" {
		return h.httpError(c, backup.NewCloudError(result.Error, nil))
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
