package native

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"dbvault/internal/backup"
)

// SQLExporter generates a plain INSERT script straight from the
// database tables. It is the fallback when pg_dump is not installed.
type SQLExporter struct {
	source backup.TableSource
}

func NewSQLExporter(source backup.TableSource) *SQLExporter {
	return &SQLExporter{source: source}
}

// Export writes INSERT statements for every table, one section per
// table in name order.
func (e *SQLExporter) Export(ctx context.Context) ([]byte, error) {
	tables, err := e.source.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("-- dbvault SQL export\n")
	b.WriteString(fmt.Sprintf("-- generated at %s\n\n", time.Now().UTC().Format(time.RFC3339)))

	for _, table := range tables {
		rows, err := e.source.ReadAll(ctx, table)
		if err != nil {
			return nil, err
		}

		b.WriteString(fmt.Sprintf("-- table %s (%d rows)\n", table, len(rows)))
		for _, row := range rows {
			b.WriteString(insertStatement(table, row))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	return []byte(b.String()), nil
}

func insertStatement(table string, row backup.Row) string {
	columns := make([]string, 0, len(row))
	for col := range row {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	values := make([]string, len(columns))
	for i, col := range columns {
		values[i] = FormatSQLValue(row[col])
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
		table, strings.Join(columns, ", "), strings.Join(values, ", "))
}

// FormatSQLValue renders a Go value as a SQL literal: NULL for nil,
// bare numerics and booleans, ISO 8601 for timestamps, and
// single-quote escaped strings for everything else.
func FormatSQLValue(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if value {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return fmt.Sprintf("%d", value)
	case int32:
		return fmt.Sprintf("%d", value)
	case int64:
		return fmt.Sprintf("%d", value)
	case float32:
		return fmt.Sprintf("%g", value)
	case float64:
		return fmt.Sprintf("%g", value)
	case time.Time:
		return "'" + value.UTC().Format("2006-01-02T15:04:05Z") + "'"
	case []byte:
		return quoteSQLString(string(value))
	case string:
		return quoteSQLString(value)
	default:
		return quoteSQLString(fmt.Sprintf("%v", value))
	}
}

func quoteSQLString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
