package native

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbvault/internal/backup"
	"dbvault/internal/config"
	"dbvault/internal/logging"
)

type stubDumper struct {
	available bool
	output    []byte
	err       error
	lastMode  DumpMode
}

func (d *stubDumper) Available() bool { return d.available }

func (d *stubDumper) Dump(ctx context.Context, mode DumpMode) ([]byte, error) {
	d.lastMode = mode
	return d.output, d.err
}

type stubExporter struct {
	output []byte
	called bool
}

func (e *stubExporter) Export(ctx context.Context) ([]byte, error) {
	e.called = true
	return e.output, nil
}

type stubBackupStore struct {
	records map[string]*backup.Backup
	nextID  uint
}

func newStubBackupStore() *stubBackupStore {
	return &stubBackupStore{records: make(map[string]*backup.Backup)}
}

func (s *stubBackupStore) Save(ctx context.Context, b *backup.Backup) error {
	if b.ID == 0 {
		s.nextID++
		b.ID = s.nextID
	}
	cp := *b
	s.records[b.BackupCode] = &cp
	return nil
}

func (s *stubBackupStore) Find(ctx context.Context, filter backup.BackupFilter) ([]backup.Backup, error) {
	var out []backup.Backup
	for _, b := range s.records {
		if filter.Trigger != "" && b.Trigger != filter.Trigger {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		out = append(out, *b)
	}
	// Newest first, matching the repository ordering.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func newTestAdapter(t *testing.T, runner dumper, exp exporter, store *stubBackupStore, cfg config.NativeConfig) (*Adapter, *backup.FileStore) {
	t.Helper()

	files := backup.NewFileStore(afero.NewMemMapFs(), "/backups/native")
	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelQuiet})
	require.NoError(t, err)

	return NewAdapter(runner, exp, store, files, logger, cfg, "default"), files
}

func TestRunDumpUsesPgDumpWhenAvailable(t *testing.T) {
	runner := &stubDumper{available: true, output: []byte("-- pg_dump output\n")}
	exp := &stubExporter{output: []byte("fallback")}
	store := newStubBackupStore()

	adapter, files := newTestAdapter(t, runner, exp, store, config.NativeConfig{})

	b, err := adapter.RunDump(context.Background(), "daily", DumpModeFull)
	require.NoError(t, err)

	assert.False(t, exp.called)
	assert.Equal(t, backup.BackupStatusCompleted, b.Status)
	assert.Equal(t, backup.TriggerAuto, b.Trigger)
	assert.NotEmpty(t, b.Checksum)
	assert.True(t, b.IsCompressed)
	assert.Equal(t, b.BackupCode+".sql.gz", b.FileName)

	data, err := files.Read(b.FilePath)
	require.NoError(t, err)
	plain, err := backup.NewCompressionManager().Decompress(data, backup.CompressionTypeGzip)
	require.NoError(t, err)
	assert.Equal(t, []byte("-- pg_dump output\n"), plain)
}

func TestRunDumpFallsBackToExporter(t *testing.T) {
	runner := &stubDumper{available: false}
	exp := &stubExporter{output: []byte("INSERT INTO users (id) VALUES (1);")}
	store := newStubBackupStore()

	adapter, _ := newTestAdapter(t, runner, exp, store, config.NativeConfig{})

	b, err := adapter.RunDump(context.Background(), "daily", DumpModeFull)
	require.NoError(t, err)

	assert.True(t, exp.called)
	assert.Equal(t, backup.BackupStatusCompleted, b.Status)
}

func TestRunDumpSchemaOnlyRequiresPgDump(t *testing.T) {
	runner := &stubDumper{available: false}
	store := newStubBackupStore()

	adapter, _ := newTestAdapter(t, runner, &stubExporter{}, store, config.NativeConfig{})

	_, err := adapter.RunDump(context.Background(), "daily", DumpModeSchemaOnly)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pg_dump")

	// The failed run is recorded.
	var failed int
	for _, b := range store.records {
		if b.Status == backup.BackupStatusFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestRunDumpRecordsFailure(t *testing.T) {
	runner := &stubDumper{available: true, err: errors.New("connection refused")}
	store := newStubBackupStore()

	adapter, _ := newTestAdapter(t, runner, nil, store, config.NativeConfig{})

	_, err := adapter.RunDump(context.Background(), "daily", DumpModeFull)
	require.Error(t, err)

	for _, b := range store.records {
		assert.Equal(t, backup.BackupStatusFailed, b.Status)
		assert.Contains(t, b.Error, "connection refused")
	}
}

func TestRunDumpPassesModeThrough(t *testing.T) {
	runner := &stubDumper{available: true, output: []byte("schema")}
	store := newStubBackupStore()

	adapter, _ := newTestAdapter(t, runner, nil, store, config.NativeConfig{})

	b, err := adapter.RunDump(context.Background(), "daily", DumpModeSchemaOnly)
	require.NoError(t, err)

	assert.Equal(t, DumpModeSchemaOnly, runner.lastMode)
	assert.Equal(t, backup.BackupTypeSchemaOnly, b.Type)
}

func TestDumpKindFor(t *testing.T) {
	adapter, _ := newTestAdapter(t, &stubDumper{}, nil, newStubBackupStore(), config.NativeConfig{
		WeeklyDay:  0, // Sunday
		MonthlyDay: 1,
	})

	// 2024-06-01 is a Saturday and the first of the month.
	assert.Equal(t, "monthly", adapter.DumpKindFor(time.Date(2024, time.June, 1, 2, 0, 0, 0, time.UTC)))
	// 2024-06-02 is a Sunday.
	assert.Equal(t, "weekly", adapter.DumpKindFor(time.Date(2024, time.June, 2, 2, 0, 0, 0, time.UTC)))
	// 2024-06-03 is a Monday.
	assert.Equal(t, "daily", adapter.DumpKindFor(time.Date(2024, time.June, 3, 2, 0, 0, 0, time.UTC)))
}

func TestCleanupEnforcesDumpCountCap(t *testing.T) {
	store := newStubBackupStore()
	adapter, files := newTestAdapter(t, &stubDumper{}, nil, store, config.NativeConfig{MaxDumps: 2})

	now := time.Date(2024, time.June, 10, 2, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		code := backup.GenerateCode("dmp")
		path, err := files.Write(code+".sql", []byte("dump"))
		require.NoError(t, err)
		store.Save(context.Background(), &backup.Backup{
			BackupCode: code,
			Trigger:    backup.TriggerAuto,
			Status:     backup.BackupStatusCompleted,
			FilePath:   path,
			FileName:   code + ".sql",
			CreatedAt:  now.Add(time.Duration(i) * time.Hour),
		})
	}

	require.NoError(t, adapter.Cleanup(context.Background(), now.Add(24*time.Hour)))

	var kept, deleted int
	for _, b := range store.records {
		switch b.Status {
		case backup.BackupStatusCompleted:
			kept++
		case backup.BackupStatusDeleted:
			deleted++
		}
	}
	assert.Equal(t, 2, kept)
	assert.Equal(t, 2, deleted)
}

func TestCleanupAppliesAgeLimit(t *testing.T) {
	store := newStubBackupStore()
	adapter, _ := newTestAdapter(t, &stubDumper{}, nil, store, config.NativeConfig{RetentionDays: 7})

	now := time.Date(2024, time.June, 10, 2, 0, 0, 0, time.UTC)
	old := backup.Backup{
		BackupCode: "dmp-old",
		Trigger:    backup.TriggerAuto,
		Status:     backup.BackupStatusCompleted,
		CreatedAt:  now.AddDate(0, 0, -10),
	}
	fresh := backup.Backup{
		BackupCode: "dmp-fresh",
		Trigger:    backup.TriggerAuto,
		Status:     backup.BackupStatusCompleted,
		CreatedAt:  now.AddDate(0, 0, -1),
	}
	store.Save(context.Background(), &old)
	store.Save(context.Background(), &fresh)

	require.NoError(t, adapter.Cleanup(context.Background(), now))

	assert.Equal(t, backup.BackupStatusDeleted, store.records["dmp-old"].Status)
	assert.Equal(t, backup.BackupStatusCompleted, store.records["dmp-fresh"].Status)
}
