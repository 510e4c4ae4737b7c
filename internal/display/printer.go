// Package display renders CLI output for backup operations with
// color support and terminal detection.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"dbvault/internal/backup"
)

// Printer writes formatted operation output to a terminal or plain
// text when the output is redirected.
type Printer struct {
	out            io.Writer
	colorSupported bool

	success *color.Color
	failure *color.Color
	warning *color.Color
	pending *color.Color
	muted   *color.Color
}

// NewPrinter creates a printer with color detection for stdout.
func NewPrinter() *Printer {
	return NewPrinterTo(os.Stdout, detectColorSupport())
}

// NewPrinterTo creates a printer for an explicit writer, used by
// tests and non-terminal output.
func NewPrinterTo(out io.Writer, colorSupported bool) *Printer {
	if !colorSupported {
		color.NoColor = true
	}
	return &Printer{
		out:            out,
		colorSupported: colorSupported,
		success:        color.New(color.FgGreen),
		failure:        color.New(color.FgRed),
		warning:        color.New(color.FgYellow),
		pending:        color.New(color.FgCyan),
		muted:          color.New(color.FgHiBlack),
	}
}

// detectColorSupport checks whether stdout is a color-capable
// terminal.
func detectColorSupport() bool {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return true
}

func (p *Printer) Printf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format, args...)
}

func (p *Printer) Println(args ...interface{}) {
	fmt.Fprintln(p.out, args...)
}

// Success prints a confirmation line.
func (p *Printer) Success(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.success.Sprintf(format, args...))
}

// Error prints a failure line.
func (p *Printer) Error(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.failure.Sprintf(format, args...))
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.warning.Sprintf(format, args...))
}

// StatusText renders a backup status with its conventional color.
func (p *Printer) StatusText(status backup.BackupStatus) string {
	switch status {
	case backup.BackupStatusCompleted:
		return p.success.Sprint(string(status))
	case backup.BackupStatusFailed:
		return p.failure.Sprint(string(status))
	case backup.BackupStatusPending, backup.BackupStatusInProgress:
		return p.pending.Sprint(string(status))
	case backup.BackupStatusDeleted:
		return p.muted.Sprint(string(status))
	default:
		return string(status)
	}
}

// BackupTable renders backups as an aligned text table.
func (p *Printer) BackupTable(backups []backup.Backup) {
	if len(backups) == 0 {
		p.Println("no backups found")
		return
	}

	table := NewTable("ID", "CODE", "TYPE", "STATUS", "SIZE", "TABLES", "CREATED")
	for _, b := range backups {
		table.AddRow(
			fmt.Sprintf("%d", b.ID),
			b.BackupCode,
			string(b.Type),
			p.StatusText(b.Status),
			FormatBytes(b.FileSize),
			fmt.Sprintf("%d", b.TablesCount),
			b.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	table.RenderTo(p.out)
}

// ScheduleTable renders backup schedules as an aligned text table.
func (p *Printer) ScheduleTable(schedules []backup.BackupSchedule) {
	if len(schedules) == 0 {
		p.Println("no schedules found")
		return
	}

	table := NewTable("ID", "NAME", "FREQUENCY", "TIME", "ACTIVE", "NEXT RUN", "OK/FAIL")
	for _, s := range schedules {
		next := "-"
		if s.NextRunAt != nil {
			next = s.NextRunAt.Format("2006-01-02 15:04")
		}
		active := "no"
		if s.IsActive {
			active = "yes"
		}
		table.AddRow(
			fmt.Sprintf("%d", s.ID),
			s.Name,
			string(s.Frequency),
			s.TimeOfDay,
			active,
			next,
			fmt.Sprintf("%d/%d", s.SuccessCount, s.FailureCount),
		)
	}
	table.RenderTo(p.out)
}

// FormatBytes renders a byte count in human readable units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatDuration renders a duration rounded to a readable precision.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(time.Millisecond * 100).String()
	default:
		return d.Round(time.Second).String()
	}
}

// Table is a minimal left-aligned text table.
type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// RenderTo writes the table with columns padded to their widest cell.
// The width calculation strips ANSI color sequences so colored cells
// align with plain ones.
func (t *Table) RenderTo(w io.Writer) {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				if l := visibleLen(cell); l > widths[i] {
					widths[i] = l
				}
			}
		}
	}

	writeRow := func(cells []string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			pad := widths[i] - visibleLen(cell)
			if pad < 0 {
				pad = 0
			}
			parts[i] = cell + strings.Repeat(" ", pad)
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	writeRow(t.headers)
	sep := make([]string, len(t.headers))
	for i := range sep {
		sep[i] = strings.Repeat("-", widths[i])
	}
	writeRow(sep)
	for _, row := range t.rows {
		writeRow(row)
	}
}

// visibleLen counts characters excluding ANSI escape sequences.
func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		switch {
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		case r == '\x1b':
			inEscape = true
		default:
			n++
		}
	}
	return n
}
