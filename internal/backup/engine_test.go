package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbvault/internal/logging"
)

// fakeTableSource is an in-memory TableSource with transactional
// rollback semantics for tests.
type fakeTableSource struct {
	tables   map[string][]Row
	order    []string
	failRead map[string]bool
}

func newFakeTableSource() *fakeTableSource {
	return &fakeTableSource{
		tables:   make(map[string][]Row),
		failRead: make(map[string]bool),
	}
}

func (f *fakeTableSource) addTable(name string, rows ...Row) {
	f.tables[name] = rows
	f.order = append(f.order, name)
}

func (f *fakeTableSource) ListTables(ctx context.Context) ([]string, error) {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out, nil
}

func (f *fakeTableSource) ReadAll(ctx context.Context, table string) ([]Row, error) {
	if f.failRead[table] {
		return nil, NewDatabaseError("read failed", nil)
	}
	rows := make([]Row, len(f.tables[table]))
	copy(rows, f.tables[table])
	return rows, nil
}

func (f *fakeTableSource) WithinTransaction(ctx context.Context, fn func(tx TableWriter) error) error {
	snapshot := make(map[string][]Row, len(f.tables))
	for name, rows := range f.tables {
		cp := make([]Row, len(rows))
		copy(cp, rows)
		snapshot[name] = cp
	}

	if err := fn(&fakeTableWriter{source: f}); err != nil {
		f.tables = snapshot
		return err
	}
	return nil
}

type fakeTableWriter struct {
	source *fakeTableSource
}

func (w *fakeTableWriter) DeleteAll(table string) error {
	w.source.tables[table] = nil
	return nil
}

func (w *fakeTableWriter) Insert(table string, row Row) error {
	if w.hasConflict(table, row) {
		return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
	}
	w.source.tables[table] = append(w.source.tables[table], row)
	return nil
}

func (w *fakeTableWriter) InsertSkipConflict(table string, row Row) (bool, error) {
	if w.hasConflict(table, row) {
		return false, nil
	}
	w.source.tables[table] = append(w.source.tables[table], row)
	return true, nil
}

func (w *fakeTableWriter) hasConflict(table string, row Row) bool {
	id, ok := row["id"]
	if !ok {
		return false
	}
	for _, existing := range w.source.tables[table] {
		if existing["id"] == id {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T, source TableSource, passphrase string) (*Engine, *FileStore) {
	t.Helper()

	files := NewFileStore(afero.NewMemMapFs(), "/backups")
	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelQuiet})
	require.NoError(t, err)

	engine := NewEngine(
		nil,
		source,
		files,
		NewCompressionManager(),
		NewEncryptor([]byte(passphrase)),
		logger,
		EngineOptions{CompressionAlgorithm: CompressionTypeGzip, CompressionLevel: 6},
	)
	return engine, files
}

func TestBuildArtifactSnapshotsAllTables(t *testing.T) {
	source := newFakeTableSource()
	source.addTable("users",
		Row{"id": int64(1), "name": "alice"},
		Row{"id": int64(2), "name": "bob"},
	)
	source.addTable("orders", Row{"id": int64(10), "total": 42.5})

	engine, _ := newTestEngine(t, source, "")

	b := &Backup{BackupCode: "bkp-test", Type: BackupTypeFull}
	artifact, err := engine.buildArtifact(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, "bkp-test", artifact.Metadata.BackupCode)
	assert.ElementsMatch(t, []string{"users", "orders"}, artifact.Metadata.Tables)
	assert.Equal(t, int64(3), artifact.Metadata.RecordsCount)
	assert.Len(t, artifact.Data["users"], 2)
	assert.Len(t, artifact.Data["orders"], 1)
}

func TestBuildArtifactSelectedTables(t *testing.T) {
	source := newFakeTableSource()
	source.addTable("users", Row{"id": int64(1)})
	source.addTable("orders", Row{"id": int64(10)})

	engine, _ := newTestEngine(t, source, "")

	b := &Backup{BackupCode: "bkp-sel", Type: BackupTypeFull, TablesIncluded: TableList{"users"}}
	artifact, err := engine.buildArtifact(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, []string{"users"}, artifact.Metadata.Tables)
	_, hasOrders := artifact.Data["orders"]
	assert.False(t, hasOrders)
}

func TestBuildArtifactUnknownTableRejected(t *testing.T) {
	source := newFakeTableSource()
	source.addTable("users", Row{"id": int64(1)})

	engine, _ := newTestEngine(t, source, "")

	b := &Backup{BackupCode: "bkp-bad", Type: BackupTypeFull, TablesIncluded: TableList{"missing"}}
	_, err := engine.buildArtifact(context.Background(), b)
	require.Error(t, err)
	assert.True(t, IsType(err, ErrorTypeValidation))
}

func TestBuildArtifactSkipsUnreadableTable(t *testing.T) {
	source := newFakeTableSource()
	source.addTable("users", Row{"id": int64(1)})
	source.addTable("broken", Row{"id": int64(2)})
	source.failRead["broken"] = true

	engine, _ := newTestEngine(t, source, "")

	b := &Backup{BackupCode: "bkp-skip", Type: BackupTypeFull}
	artifact, err := engine.buildArtifact(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, []string{"users"}, artifact.Metadata.Tables)
}

func TestEncodeArtifactChecksumCoversFinalBytes(t *testing.T) {
	source := newFakeTableSource()
	source.addTable("users", Row{"id": int64(1), "name": "alice"})

	engine, _ := newTestEngine(t, source, "secret")

	b := &Backup{BackupCode: "bkp-sum", Type: BackupTypeFull}
	artifact, err := engine.buildArtifact(context.Background(), b)
	require.NoError(t, err)

	data, checksum, ext, err := engine.encodeArtifact(artifact, true, true)
	require.NoError(t, err)

	assert.Equal(t, ".json.gz", ext)
	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), checksum)
}

func TestArtifactRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		compress bool
		encrypt  bool
	}{
		{"plain", false, false},
		{"compressed", true, false},
		{"encrypted", false, true},
		{"compressed and encrypted", true, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			source := newFakeTableSource()
			source.addTable("users",
				Row{"id": float64(1), "name": "alice"},
				Row{"id": float64(2), "name": "bob"},
			)

			engine, files := newTestEngine(t, source, "passphrase")

			b := &Backup{BackupCode: "bkp-rt", Type: BackupTypeFull}
			artifact, err := engine.buildArtifact(context.Background(), b)
			require.NoError(t, err)

			data, checksum, ext, err := engine.encodeArtifact(artifact, tc.compress, tc.encrypt)
			require.NoError(t, err)

			fileName := b.BackupCode + ext
			path, err := files.Write(fileName, data)
			require.NoError(t, err)

			record := &Backup{
				BackupCode:   "bkp-rt",
				Status:       BackupStatusCompleted,
				FilePath:     path,
				FileName:     fileName,
				Checksum:     checksum,
				IsCompressed: tc.compress,
				IsEncrypted:  tc.encrypt,
			}

			loaded, err := engine.LoadArtifact(context.Background(), record)
			require.NoError(t, err)

			assert.Equal(t, artifact.Metadata.Tables, loaded.Metadata.Tables)
			assert.Equal(t, artifact.Metadata.RecordsCount, loaded.Metadata.RecordsCount)
			require.Len(t, loaded.Data["users"], 2)
			assert.Equal(t, "alice", loaded.Data["users"][0]["name"])
		})
	}
}

func TestLoadArtifactChecksumMismatch(t *testing.T) {
	source := newFakeTableSource()
	source.addTable("users", Row{"id": float64(1)})

	engine, files := newTestEngine(t, source, "")

	b := &Backup{BackupCode: "bkp-bad-sum", Type: BackupTypeFull}
	artifact, err := engine.buildArtifact(context.Background(), b)
	require.NoError(t, err)

	data, _, ext, err := engine.encodeArtifact(artifact, false, false)
	require.NoError(t, err)

	path, err := files.Write(b.BackupCode+ext, data)
	require.NoError(t, err)

	record := &Backup{
		BackupCode: "bkp-bad-sum",
		Status:     BackupStatusCompleted,
		FilePath:   path,
		FileName:   b.BackupCode + ext,
		Checksum:   "deadbeef",
	}

	_, err = engine.LoadArtifact(context.Background(), record)
	require.Error(t, err)
	assert.True(t, IsType(err, ErrorTypeStorage))
}

func TestLoadArtifactRequiresCompletedBackup(t *testing.T) {
	source := newFakeTableSource()
	engine, _ := newTestEngine(t, source, "")

	record := &Backup{BackupCode: "bkp-pending", Status: BackupStatusPending}
	_, err := engine.LoadArtifact(context.Background(), record)
	require.Error(t, err)
	assert.True(t, IsType(err, ErrorTypeConflict))
}

func TestCreateBackupDefaultsExpiry(t *testing.T) {
	source := newFakeTableSource()
	source.addTable("users", Row{"id": int64(1)})

	files := NewFileStore(afero.NewMemMapFs(), "/backups")
	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelQuiet})
	require.NoError(t, err)

	store := newFakeBackupStore()
	engine := NewEngine(store, source, files, NewCompressionManager(), NewEncryptor(nil), logger,
		EngineOptions{DefaultRetentionDays: 30})

	b, err := engine.CreateBackup(context.Background(), &BackupSpec{TenantID: "t1"}, Actor{ID: "u-1"})
	require.NoError(t, err)
	require.NotNil(t, b.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 30), *b.ExpiresAt, time.Minute)

	// An explicit expiry wins over the default.
	explicit := time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)
	b2, err := engine.CreateBackup(context.Background(), &BackupSpec{TenantID: "t1", ExpiresAt: &explicit}, Actor{ID: "u-1"})
	require.NoError(t, err)
	require.NotNil(t, b2.ExpiresAt)
	assert.Equal(t, explicit, *b2.ExpiresAt)
}

func TestValidateSpec(t *testing.T) {
	engine, _ := newTestEngine(t, newFakeTableSource(), "")

	t.Run("defaults type to FULL", func(t *testing.T) {
		spec := &BackupSpec{TenantID: "t1"}
		require.NoError(t, engine.ValidateSpec(spec))
		assert.Equal(t, BackupTypeFull, spec.Type)
	})

	t.Run("rejects missing tenant", func(t *testing.T) {
		err := engine.ValidateSpec(&BackupSpec{})
		require.Error(t, err)
		assert.True(t, IsType(err, ErrorTypeValidation))
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		err := engine.ValidateSpec(&BackupSpec{TenantID: "t1", Type: "WEIRD"})
		require.Error(t, err)
	})

	t.Run("rejects bad table name", func(t *testing.T) {
		err := engine.ValidateSpec(&BackupSpec{TenantID: "t1", Tables: TableList{"users; DROP"}})
		require.Error(t, err)
	})
}
