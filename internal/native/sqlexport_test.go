package native

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbvault/internal/backup"
)

type stubSource struct {
	tables map[string][]backup.Row
	order  []string
}

func (s *stubSource) ListTables(ctx context.Context) ([]string, error) {
	return s.order, nil
}

func (s *stubSource) ReadAll(ctx context.Context, table string) ([]backup.Row, error) {
	return s.tables[table], nil
}

func (s *stubSource) WithinTransaction(ctx context.Context, fn func(tx backup.TableWriter) error) error {
	return nil
}

func TestFormatSQLValue(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want string
	}{
		{"nil becomes NULL", nil, "NULL"},
		{"true", true, "TRUE"},
		{"false", false, "FALSE"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"float", 3.25, "3.25"},
		{"string", "alice", "'alice'"},
		{"string with quote", "O'Brien", "'O''Brien'"},
		{"bytes", []byte("raw"), "'raw'"},
		{"timestamp", time.Date(2024, time.January, 31, 15, 45, 2, 0, time.UTC), "'2024-01-31T15:45:02Z'"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatSQLValue(tc.in))
		})
	}
}

func TestInsertStatementOrdersColumns(t *testing.T) {
	row := backup.Row{"name": "alice", "id": int64(1), "active": true}
	stmt := insertStatement("users", row)
	assert.Equal(t, "INSERT INTO users (active, id, name) VALUES (TRUE, 1, 'alice');", stmt)
}

func TestExportWritesAllTables(t *testing.T) {
	source := &stubSource{
		order: []string{"orders", "users"},
		tables: map[string][]backup.Row{
			"users":  {{"id": int64(1), "name": "alice"}},
			"orders": {{"id": int64(10), "total": 42.5}, {"id": int64(11), "total": nil}},
		},
	}

	out, err := NewSQLExporter(source).Export(context.Background())
	require.NoError(t, err)

	script := string(out)
	assert.Contains(t, script, "-- table orders (2 rows)")
	assert.Contains(t, script, "-- table users (1 rows)")
	assert.Contains(t, script, "INSERT INTO users (id, name) VALUES (1, 'alice');")
	assert.Contains(t, script, "INSERT INTO orders (id, total) VALUES (11, NULL);")
}
