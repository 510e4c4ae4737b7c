package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Row is a single table row keyed by column name.
type Row map[string]interface{}

// TableWriter applies row changes inside a restore transaction.
// InsertSkipConflict reports whether the row was inserted; a unique
// constraint violation is swallowed and leaves the transaction usable.
type TableWriter interface {
	DeleteAll(table string) error
	Insert(table string, row Row) error
	InsertSkipConflict(table string, row Row) (bool, error)
}

// TableSource reads and writes the application tables that backups
// snapshot. Implementations must exclude the backup subsystem's own
// bookkeeping tables.
type TableSource interface {
	ListTables(ctx context.Context) ([]string, error)
	ReadAll(ctx context.Context, table string) ([]Row, error)
	WithinTransaction(ctx context.Context, fn func(tx TableWriter) error) error
}

// Tables owned by the backup subsystem, never part of a snapshot.
var reservedTables = map[string]bool{
	"backups":          true,
	"restores":         true,
	"backup_schedules": true,
}

// GormTableSource implements TableSource with raw SQL over a gorm
// connection.
type GormTableSource struct {
	db     *gorm.DB
	schema string
}

func NewGormTableSource(db *gorm.DB) *GormTableSource {
	return &GormTableSource{db: db, schema: "public"}
}

// ListTables returns the snapshot-eligible base tables sorted by name.
func (s *GormTableSource) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.WithContext(ctx).Raw(
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = ? AND table_type = 'BASE TABLE'`, s.schema).Rows()
	if err != nil {
		return nil, NewDatabaseError("failed to list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, NewDatabaseError("failed to scan table name", err)
		}
		if reservedTables[name] {
			continue
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, NewDatabaseError("failed to iterate tables", err)
	}

	sort.Strings(tables)
	return tables, nil
}

// ReadAll reads every row of a table.
func (s *GormTableSource) ReadAll(ctx context.Context, table string) ([]Row, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}

	rows, err := s.db.WithContext(ctx).Raw(fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(table))).Rows()
	if err != nil {
		return nil, NewDatabaseError(fmt.Sprintf("failed to read table %s", table), err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, NewDatabaseError("failed to read columns", err)
	}

	var result []Row
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, NewDatabaseError(fmt.Sprintf("failed to scan row of %s", table), err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, NewDatabaseError(fmt.Sprintf("failed to iterate rows of %s", table), err)
	}

	return result, nil
}

// WithinTransaction runs fn inside a single database transaction.
// Any error from fn rolls the whole transaction back.
func (s *GormTableSource) WithinTransaction(ctx context.Context, fn func(tx TableWriter) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTableWriter{tx: tx})
	})
}

type gormTableWriter struct {
	tx *gorm.DB
}

func (w *gormTableWriter) DeleteAll(table string) error {
	if err := validateTableName(table); err != nil {
		return err
	}
	if err := w.tx.Exec(fmt.Sprintf(`DELETE FROM %s`, quoteIdent(table))).Error; err != nil {
		return NewDatabaseError(fmt.Sprintf("failed to clear table %s", table), err)
	}
	return nil
}

func (w *gormTableWriter) Insert(table string, row Row) error {
	return w.insert(table, row)
}

// InsertSkipConflict wraps the insert in a savepoint so a unique
// violation can be rolled back without aborting the transaction.
func (w *gormTableWriter) InsertSkipConflict(table string, row Row) (bool, error) {
	w.tx.SavePoint("merge_row")
	if err := w.insert(table, row); err != nil {
		if IsUniqueViolation(err) {
			w.tx.RollbackTo("merge_row")
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (w *gormTableWriter) insert(table string, row Row) error {
	if err := validateTableName(table); err != nil {
		return err
	}
	if len(row) == 0 {
		return nil
	}

	columns := make([]string, 0, len(row))
	for col := range row {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	values := make([]interface{}, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
		placeholders[i] = "?"
		values[i] = row[col]
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	if err := w.tx.Exec(stmt, values...).Error; err != nil {
		return NewDatabaseError(fmt.Sprintf("failed to insert into %s", table), err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a postgres unique
// constraint violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func validateTableName(table string) error {
	if table == "" {
		return NewValidationError("table name is empty", nil)
	}
	for _, r := range table {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return NewValidationError(fmt.Sprintf("invalid table name %q", table), nil)
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
