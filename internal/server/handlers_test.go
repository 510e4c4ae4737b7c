package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbvault/internal/backup"
	"dbvault/internal/cloud"
	"dbvault/internal/config"
	"dbvault/internal/logging"
)

type fakeBackupService struct {
	record     *backup.Backup
	list       []backup.Backup
	lastFilter backup.BackupFilter
	createErr  error
	getErr     error
	deleted    []uint
}

func (f *fakeBackupService) CreateBackup(ctx context.Context, spec *backup.BackupSpec, actor backup.Actor) (*backup.Backup, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	b := &backup.Backup{
		ID:         1,
		TenantID:   spec.TenantID,
		BackupCode: "bkp-20240131-103000-deadbeef",
		Name:       spec.Name,
		Status:     backup.BackupStatusPending,
		CreatedBy:  actor.ID,
	}
	f.record = b
	return b, nil
}

func (f *fakeBackupService) GetBackup(ctx context.Context, tenantID string, id uint) (*backup.Backup, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.record, nil
}

func (f *fakeBackupService) ListBackups(ctx context.Context, filter backup.BackupFilter) ([]backup.Backup, error) {
	f.lastFilter = filter
	return f.list, nil
}

func (f *fakeBackupService) DeleteBackup(ctx context.Context, tenantID string, id uint) error {
	if f.getErr != nil {
		return f.getErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeRestoreService struct {
	record    *backup.Restore
	forBackup uint
}

func (f *fakeRestoreService) CreateRestore(ctx context.Context, spec *backup.RestoreSpec, actor backup.Actor) (*backup.Restore, error) {
	bid := spec.BackupID
	r := &backup.Restore{ID: 7, TenantID: spec.TenantID, BackupID: &bid, Status: backup.RestoreStatusPending}
	f.record = r
	return r, nil
}

func (f *fakeRestoreService) GetRestore(ctx context.Context, tenantID string, id uint) (*backup.Restore, error) {
	if f.record == nil {
		return nil, backup.NewNotFoundError("restore not found", nil)
	}
	return f.record, nil
}

func (f *fakeRestoreService) ListRestores(ctx context.Context, tenantID string, limit, offset int) ([]backup.Restore, error) {
	if f.record == nil {
		return nil, nil
	}
	return []backup.Restore{*f.record}, nil
}

func (f *fakeRestoreService) ListRestoresForBackup(ctx context.Context, tenantID string, backupID uint) ([]backup.Restore, error) {
	f.forBackup = backupID
	if f.record == nil || f.record.BackupID == nil || *f.record.BackupID != backupID {
		return nil, nil
	}
	return []backup.Restore{*f.record}, nil
}

type fakeScheduleService struct {
	created *backup.BackupSchedule
	updated *backup.BackupSchedule
	ranDue  bool
	ranNow  uint
}

func (f *fakeScheduleService) CreateSchedule(ctx context.Context, s *backup.BackupSchedule) error {
	s.ID = 3
	next := time.Now().Add(time.Hour)
	s.NextRunAt = &next
	f.created = s
	return nil
}

func (f *fakeScheduleService) UpdateSchedule(ctx context.Context, s *backup.BackupSchedule) error {
	f.updated = s
	return nil
}

func (f *fakeScheduleService) RunDue(ctx context.Context, now time.Time) error {
	f.ranDue = true
	return nil
}

func (f *fakeScheduleService) RunNow(ctx context.Context, tenantID string, id uint) error {
	if id == 0 {
		return backup.NewNotFoundError("schedule not found", nil)
	}
	f.ranNow = id
	return nil
}

type fakeScheduleStore struct {
	schedules map[uint]*backup.BackupSchedule
	deleted   []uint
}

func (f *fakeScheduleStore) FindByID(ctx context.Context, tenantID string, id uint) (*backup.BackupSchedule, error) {
	s, ok := f.schedules[id]
	if !ok {
		return nil, backup.NewNotFoundError("schedule not found", nil)
	}
	return s, nil
}

func (f *fakeScheduleStore) Find(ctx context.Context, tenantID string) ([]backup.BackupSchedule, error) {
	var out []backup.BackupSchedule
	for _, s := range f.schedules {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeScheduleStore) Delete(ctx context.Context, tenantID string, id uint) error {
	if _, ok := f.schedules[id]; !ok {
		return backup.NewNotFoundError("schedule not found", nil)
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeRetentionService struct {
	result backup.CleanupResult
}

func (f *fakeRetentionService) Cleanup(ctx context.Context, now time.Time) (*backup.CleanupResult, error) {
	r := f.result
	return &r, nil
}

type fakeHandlerSyncer struct {
	result cloud.SyncResult
	called bool
	synced []uint
}

func (f *fakeHandlerSyncer) SyncPending(ctx context.Context) (*cloud.SyncResult, error) {
	f.called = true
	r := f.result
	return &r, nil
}

func (f *fakeHandlerSyncer) SyncBackup(ctx context.Context, b *backup.Backup) error {
	f.synced = append(f.synced, b.ID)
	return nil
}

type fakeHandlerStore struct {
	testErr error
	keys    []string
}

func (f *fakeHandlerStore) Test(ctx context.Context) error { return f.testErr }
func (f *fakeHandlerStore) Upload(ctx context.Context, key string, body []byte, meta cloud.ObjectMetadata) cloud.UploadResult {
	return cloud.UploadResult{Success: true, Key: key}
}
func (f *fakeHandlerStore) Download(ctx context.Context, key string) ([]byte, error) {
	return nil, nil
}
func (f *fakeHandlerStore) Delete(ctx context.Context, key string) error { return nil }
func (f *fakeHandlerStore) List(ctx context.Context, prefix string) cloud.ListResult {
	return cloud.ListResult{Keys: f.keys}
}

type fakeFileReader struct {
	data map[string][]byte
}

func (f *fakeFileReader) Read(path string) ([]byte, error) {
	data, ok := f.data[path]
	if !ok {
		return nil, backup.NewStorageError("no such file", nil)
	}
	return data, nil
}

type handlerFixture struct {
	backups   *fakeBackupService
	restores  *fakeRestoreService
	scheduler *fakeScheduleService
	schedules *fakeScheduleStore
	retention *fakeRetentionService
	syncer    *fakeHandlerSyncer
	store     *fakeHandlerStore
	files     *fakeFileReader
	handler   *Handler
	echo      *echo.Echo
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelQuiet})
	require.NoError(t, err)

	f := &handlerFixture{
		backups:   &fakeBackupService{},
		restores:  &fakeRestoreService{},
		scheduler: &fakeScheduleService{},
		schedules: &fakeScheduleStore{schedules: make(map[uint]*backup.BackupSchedule)},
		retention: &fakeRetentionService{},
		syncer:    &fakeHandlerSyncer{},
		store:     &fakeHandlerStore{},
		files:     &fakeFileReader{data: make(map[string][]byte)},
		echo:      echo.New(),
	}
	f.handler = NewHandler(
		f.backups, f.restores, f.scheduler, f.schedules, f.retention,
		f.syncer, f.store, f.files, logger, "default", "backups")
	return f
}

func (f *handlerFixture) request(method, target string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func registerTestRoutes(f *handlerFixture) {
	h := f.handler
	api := f.echo.Group("/api/v1")
	api.POST("/backups", h.CreateBackup)
	api.GET("/backups", h.ListBackups)
	api.GET("/backups/:id", h.GetBackup)
	api.GET("/backups/:id/download", h.DownloadBackup)
	api.POST("/backups/:id/sync", h.SyncBackup)
	api.DELETE("/backups/:id", h.DeleteBackup)
	api.POST("/restores", h.CreateRestore)
	api.GET("/restores", h.ListRestores)
	api.GET("/restores/:id", h.GetRestore)
	api.POST("/schedules", h.CreateSchedule)
	api.GET("/schedules", h.ListSchedules)
	api.GET("/schedules/:id", h.GetSchedule)
	api.PUT("/schedules/:id", h.UpdateSchedule)
	api.DELETE("/schedules/:id", h.DeleteSchedule)
	api.POST("/schedules/run", h.RunSchedules)
	api.POST("/schedules/:id/run", h.RunSchedule)
	api.POST("/cleanup", h.RunCleanup)
	api.GET("/cloud/test", h.CloudTest)
	api.POST("/cloud/sync", h.CloudSync)
	api.GET("/cloud/objects", h.CloudList)
}

func TestCreateBackupAccepted(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)

	rec := f.request(http.MethodPost, "/api/v1/backups",
		`{"name":"nightly","type":"FULL","compress":true}`,
		map[string]string{"X-Tenant-ID": "acme", "X-Actor-ID": "u-42"})

	require.Equal(t, http.StatusAccepted, rec.Code)

	var got backup.Backup
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "acme", got.TenantID)
	assert.Equal(t, backup.BackupStatusPending, got.Status)
	assert.Equal(t, "u-42", got.CreatedBy)
}

func TestCreateBackupDefaultTenant(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)

	rec := f.request(http.MethodPost, "/api/v1/backups", `{"name":"nightly"}`, nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "default", f.backups.record.TenantID)
}

func TestCreateBackupValidationError(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)
	f.backups.createErr = backup.NewValidationError("type INVALID is not a valid backup type", nil)

	rec := f.request(http.MethodPost, "/api/v1/backups", `{"type":"INVALID"}`, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "not a valid backup type")
}

func TestGetBackupNotFound(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)
	f.backups.getErr = backup.NewNotFoundError("backup not found", nil)

	rec := f.request(http.MethodGet, "/api/v1/backups/99", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBackupInvalidID(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)

	rec := f.request(http.MethodGet, "/api/v1/backups/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListBackupsMapsQueryFilter(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)

	rec := f.request(http.MethodGet, "/api/v1/backups?status=COMPLETED&trigger=SCHEDULED&limit=5", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, backup.BackupStatusCompleted, f.backups.lastFilter.Status)
	assert.Equal(t, backup.TriggerScheduled, f.backups.lastFilter.Trigger)
	assert.Equal(t, 5, f.backups.lastFilter.Limit)
	assert.Equal(t, "default", f.backups.lastFilter.TenantID)
}

func TestDeleteBackupNoContent(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)

	rec := f.request(http.MethodDelete, "/api/v1/backups/4", "", nil)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uint{4}, f.backups.deleted)
}

func TestDownloadBackupStreamsArtifact(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)
	f.backups.record = &backup.Backup{
		ID:       1,
		Status:   backup.BackupStatusCompleted,
		FilePath: "/backups/bkp-x.json.gz",
		FileName: "bkp-x.json.gz",
	}
	f.files.data["/backups/bkp-x.json.gz"] = []byte("artifact-bytes")

	rec := f.request(http.MethodGet, "/api/v1/backups/1/download", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "artifact-bytes", rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "bkp-x.json.gz")
}

func TestDownloadBackupRequiresCompleted(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)
	f.backups.record = &backup.Backup{ID: 1, Status: backup.BackupStatusInProgress}

	rec := f.request(http.MethodGet, "/api/v1/backups/1/download", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateRestoreAccepted(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)

	rec := f.request(http.MethodPost, "/api/v1/restores",
		`{"backupId":12,"mode":"MERGE"}`, nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, f.restores.record.BackupID)
	assert.Equal(t, uint(12), *f.restores.record.BackupID)
	assert.Equal(t, "default", f.restores.record.TenantID)
}

func TestScheduleLifecycle(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)

	rec := f.request(http.MethodPost, "/api/v1/schedules",
		`{"name":"nightly","backupType":"FULL","frequency":"DAILY","timeOfDay":"02:30"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, f.scheduler.created)
	assert.Equal(t, "default", f.scheduler.created.TenantID)

	f.schedules.schedules[3] = f.scheduler.created

	rec = f.request(http.MethodGet, "/api/v1/schedules/3", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(http.MethodPut, "/api/v1/schedules/3",
		`{"name":"nightly","backupType":"FULL","frequency":"DAILY","timeOfDay":"04:00"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.scheduler.updated)
	assert.Equal(t, uint(3), f.scheduler.updated.ID)
	assert.Equal(t, "04:00", f.scheduler.updated.TimeOfDay)

	rec = f.request(http.MethodDelete, "/api/v1/schedules/3", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uint{3}, f.schedules.deleted)
}

func TestUpdateScheduleNotFound(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)

	rec := f.request(http.MethodPut, "/api/v1/schedules/404", `{"name":"x"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunSchedulesTriggersScan(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)

	rec := f.request(http.MethodPost, "/api/v1/schedules/run", "", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, f.scheduler.ranDue)
}

func TestRunScheduleRunsOne(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)

	rec := f.request(http.MethodPost, "/api/v1/schedules/5/run", "", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, uint(5), f.scheduler.ranNow)
}

func TestListRestoresByBackup(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)
	bid := uint(12)
	f.restores.record = &backup.Restore{ID: 7, TenantID: "default", BackupID: &bid}

	rec := f.request(http.MethodGet, "/api/v1/restores?backup_id=12", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint(12), f.restores.forBackup)

	var got struct {
		Restores []backup.Restore `json:"restores"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Restores, 1)
	assert.Equal(t, uint(7), got.Restores[0].ID)
}

func TestSyncBackupUploadsOne(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)
	f.backups.record = &backup.Backup{ID: 9, Status: backup.BackupStatusCompleted}

	rec := f.request(http.MethodPost, "/api/v1/backups/9/sync", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uint{9}, f.syncer.synced)
}

func TestRunCleanupReturnsResult(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)
	f.retention.result = backup.CleanupResult{ExpiredDeleted: 2, CountDeleted: 1}

	rec := f.request(http.MethodPost, "/api/v1/cleanup", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var got backup.CleanupResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.ExpiredDeleted)
	assert.Equal(t, 1, got.CountDeleted)
}

func TestCloudSyncRunsBatch(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)
	f.syncer.result = cloud.SyncResult{Uploaded: 3}

	rec := f.request(http.MethodPost, "/api/v1/cloud/sync", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.syncer.called)

	var got cloud.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3, got.Uploaded)
}

func TestCloudEndpointsUnavailableWhenDisabled(t *testing.T) {
	f := newHandlerFixture(t)
	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelQuiet})
	require.NoError(t, err)
	f.handler = NewHandler(
		f.backups, f.restores, f.scheduler, f.schedules, f.retention,
		nil, nil, f.files, logger, "default", "backups")
	registerTestRoutes(f)

	for _, target := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/cloud/test"},
		{http.MethodPost, "/api/v1/cloud/sync"},
		{http.MethodGet, "/api/v1/cloud/objects"},
		{http.MethodPost, "/api/v1/backups/9/sync"},
	} {
		rec := f.request(target.method, target.path, "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target.path)
	}
}

func TestCloudListUsesDefaultPrefix(t *testing.T) {
	f := newHandlerFixture(t)
	registerTestRoutes(f)
	f.store.keys = []string{"backups/2024/01/31/bkp-x.json.gz"}

	rec := f.request(http.MethodGet, "/api/v1/cloud/objects", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var got cloud.ListResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{"backups/2024/01/31/bkp-x.json.gz"}, got.Keys)
}

func TestStatusReportsSubsystems(t *testing.T) {
	f := newHandlerFixture(t)
	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelQuiet})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Cloud.Enabled = true
	cfg.Cloud.Provider = "s3"

	srv := New(cfg, f.handler, nil, logger)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	cloudStatus, ok := got["cloud"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, cloudStatus["enabled"])
	assert.Equal(t, "s3", cloudStatus["provider"])
	assert.NotEmpty(t, got["scan_interval"])
}

func TestDailyCronSpec(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"02:00", "0 2 * * *"},
		{"14:35", "35 14 * * *"},
		{"00:00", "0 0 * * *"},
		{"25:00", "0 2 * * *"},
		{"garbage", "0 2 * * *"},
		{"", "0 2 * * *"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dailyCronSpec(tt.in), tt.in)
	}
}
