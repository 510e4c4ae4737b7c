// Package native produces plain SQL dumps of the database, preferring
// the pg_dump tool and falling back to a generated INSERT script when
// the tool is not installed.
package native

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"dbvault/internal/config"
)

// DumpMode selects what a native dump contains.
type DumpMode string

const (
	DumpModeFull       DumpMode = "full"
	DumpModeSchemaOnly DumpMode = "schema-only"
	DumpModeDataOnly   DumpMode = "data-only"
)

// ParseDumpMode validates a user-supplied dump mode string.
func ParseDumpMode(s string) (DumpMode, error) {
	switch DumpMode(strings.ToLower(s)) {
	case "", DumpModeFull:
		return DumpModeFull, nil
	case DumpModeSchemaOnly:
		return DumpModeSchemaOnly, nil
	case DumpModeDataOnly:
		return DumpModeDataOnly, nil
	default:
		return "", fmt.Errorf("unknown dump mode %q, expected full, schema-only or data-only", s)
	}
}

// PgDumpRunner shells out to pg_dump.
type PgDumpRunner struct {
	path string
	db   config.DatabaseConfig
}

func NewPgDumpRunner(path string, db config.DatabaseConfig) *PgDumpRunner {
	if path == "" {
		path = "pg_dump"
	}
	return &PgDumpRunner{path: path, db: db}
}

// Available reports whether the pg_dump binary can be found.
func (r *PgDumpRunner) Available() bool {
	_, err := exec.LookPath(r.path)
	return err == nil
}

// Dump runs pg_dump and returns the SQL output. The password travels
// via PGPASSWORD, never on the command line.
func (r *PgDumpRunner) Dump(ctx context.Context, mode DumpMode) ([]byte, error) {
	args := []string{
		"--host", r.db.Host,
		"--port", strconv.Itoa(r.db.Port),
		"--username", r.db.User,
		"--dbname", r.db.Name,
		"--no-owner",
		"--no-privileges",
	}

	switch mode {
	case DumpModeSchemaOnly:
		args = append(args, "--schema-only")
	case DumpModeDataOnly:
		args = append(args, "--data-only")
	}

	cmd := exec.CommandContext(ctx, r.path, args...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+r.db.Password)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("pg_dump failed: %s", detail)
	}

	return stdout.Bytes(), nil
}
