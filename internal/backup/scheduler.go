package backup

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"dbvault/internal/logging"
)

// scheduleStore is the slice of the schedule repository the scheduler
// needs.
type scheduleStore interface {
	Save(ctx context.Context, s *BackupSchedule) error
	FindByID(ctx context.Context, tenantID string, id uint) (*BackupSchedule, error)
	FindDue(ctx context.Context, now time.Time) ([]BackupSchedule, error)
}

// Scheduler runs due backup schedules. RunDue is called periodically
// by a cron ticker; overlapping ticks are skipped.
type Scheduler struct {
	schedules scheduleStore
	engine    *Engine
	source    TableSource
	logger    *logging.Logger

	running atomic.Bool
}

func NewScheduler(schedules scheduleStore, engine *Engine, source TableSource, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		schedules: schedules,
		engine:    engine,
		source:    source,
		logger:    logger,
	}
}

// ValidateSchedule checks a schedule definition.
func ValidateSchedule(s *BackupSchedule) error {
	v := &ValidationErrors{}

	if s.TenantID == "" {
		v.Add("tenantId", "is required")
	}
	if s.Name == "" {
		v.Add("name", "is required")
	}
	if s.BackupType == "" {
		s.BackupType = BackupTypeFull
	} else if !isValidBackupType(s.BackupType) {
		v.Add("backupType", fmt.Sprintf("unknown backup type %q", s.BackupType))
	}
	if !isValidFrequency(s.Frequency) {
		v.Add("frequency", fmt.Sprintf("unknown frequency %q", s.Frequency))
	}
	if _, _, err := parseTimeOfDay(s.TimeOfDay); err != nil {
		v.Add("timeOfDay", "must be HH:MM")
	}
	if s.Frequency == FrequencyWeekly && (s.DayOfWeek < 0 || s.DayOfWeek > 6) {
		v.Add("dayOfWeek", "must be 0 (Sunday) through 6 (Saturday)")
	}
	if s.Frequency == FrequencyMonthly && (s.DayOfMonth < 1 || s.DayOfMonth > 31) {
		v.Add("dayOfMonth", "must be 1 through 31")
	}
	if s.RetentionDays < 0 {
		v.Add("retentionDays", "cannot be negative")
	}
	if s.MaxBackups < 0 {
		v.Add("maxBackups", "cannot be negative")
	}

	if err := v.AsError(); err != nil {
		return NewScheduleError("invalid schedule", err)
	}
	return nil
}

// CreateSchedule validates and persists a new schedule with its first
// run time computed.
func (s *Scheduler) CreateSchedule(ctx context.Context, schedule *BackupSchedule) error {
	if schedule.TimeOfDay == "" {
		schedule.TimeOfDay = "03:00"
	}
	if err := ValidateSchedule(schedule); err != nil {
		return err
	}

	next := ComputeNextRun(schedule, time.Now().UTC())
	schedule.NextRunAt = &next
	return s.schedules.Save(ctx, schedule)
}

// UpdateSchedule validates and persists schedule changes, recomputing
// the next run time.
func (s *Scheduler) UpdateSchedule(ctx context.Context, schedule *BackupSchedule) error {
	if err := ValidateSchedule(schedule); err != nil {
		return err
	}

	next := ComputeNextRun(schedule, time.Now().UTC())
	schedule.NextRunAt = &next
	return s.schedules.Save(ctx, schedule)
}

// RunDue starts a backup for every active schedule whose next run has
// passed. A tick that arrives while the previous one is still running
// returns immediately.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) error {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("schedule scan already running, skipping tick")
		return nil
	}
	defer s.running.Store(false)

	due, err := s.schedules.FindDue(ctx, now)
	if err != nil {
		return err
	}

	for i := range due {
		schedule := &due[i]
		if err := s.runSchedule(ctx, schedule, now); err != nil {
			s.logger.LogScheduleRun(schedule.ID, schedule.Name, "", err)
		}
	}
	return nil
}

// RunNow runs a single schedule immediately, regardless of its next
// run time. The outcome is recorded the same way a scheduled run is.
func (s *Scheduler) RunNow(ctx context.Context, tenantID string, id uint) error {
	schedule, err := s.schedules.FindByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	return s.runSchedule(ctx, schedule, time.Now().UTC())
}

func (s *Scheduler) runSchedule(ctx context.Context, schedule *BackupSchedule, now time.Time) error {
	tables, err := s.resolveTables(ctx, schedule)
	if err != nil {
		s.recordOutcome(ctx, schedule, now, err)
		return err
	}

	scheduleID := schedule.ID
	spec := &BackupSpec{
		TenantID:   schedule.TenantID,
		Name:       fmt.Sprintf("%s (scheduled)", schedule.Name),
		Type:       schedule.BackupType,
		Tables:     tables,
		Compress:   schedule.Compress,
		Encrypt:    schedule.Encrypt,
		Trigger:    TriggerScheduled,
		ScheduleID: &scheduleID,
	}
	if schedule.RetentionDays > 0 {
		expires := now.AddDate(0, 0, schedule.RetentionDays)
		spec.ExpiresAt = &expires
	}

	b, err := s.engine.CreateBackup(ctx, spec, Actor{ID: "scheduler"})
	s.recordOutcome(ctx, schedule, now, err)
	if err != nil {
		return err
	}

	scheduleRuns.Inc()
	s.logger.LogScheduleRun(schedule.ID, schedule.Name, b.BackupCode, nil)
	return nil
}

// resolveTables applies the schedule's include and exclude lists.
func (s *Scheduler) resolveTables(ctx context.Context, schedule *BackupSchedule) (TableList, error) {
	if len(schedule.IncludeTables) > 0 {
		return schedule.IncludeTables, nil
	}
	if len(schedule.ExcludeTables) == 0 {
		return nil, nil
	}

	all, err := s.source.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	var tables TableList
	for _, t := range all {
		if !schedule.ExcludeTables.Contains(t) {
			tables = append(tables, t)
		}
	}
	return tables, nil
}

func (s *Scheduler) recordOutcome(ctx context.Context, schedule *BackupSchedule, now time.Time, runErr error) {
	lastRun := now
	next := ComputeNextRun(schedule, now)

	schedule.LastRunAt = &lastRun
	schedule.NextRunAt = &next
	if runErr != nil {
		schedule.FailureCount++
		schedule.LastError = runErr.Error()
	} else {
		schedule.SuccessCount++
		schedule.LastError = ""
	}

	if err := s.schedules.Save(ctx, schedule); err != nil {
		s.logger.WithField("schedule_id", schedule.ID).Errorf("failed to update schedule after run: %v", err)
	}
}

// ComputeNextRun returns the next time a schedule should fire, always
// strictly after now. The calculation is deterministic for a given
// schedule and reference time.
func ComputeNextRun(s *BackupSchedule, now time.Time) time.Time {
	hour, minute, err := parseTimeOfDay(s.TimeOfDay)
	if err != nil {
		hour, minute = 3, 0
	}

	switch s.Frequency {
	case FrequencyHourly:
		next := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.Add(time.Hour)
		}
		return next

	case FrequencyDaily:
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next

	case FrequencyWeekly:
		daysToAdd := s.DayOfWeek - int(now.Weekday())
		if daysToAdd < 0 {
			daysToAdd += 7
		}
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location()).
			AddDate(0, 0, daysToAdd)
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
		return next

	case FrequencyMonthly:
		day := s.DayOfMonth
		if day < 1 {
			day = 1
		}
		next := time.Date(now.Year(), now.Month(), day, hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 1, 0)
		}
		return next
	}

	// Unknown frequency, fall back to a day out.
	return now.AddDate(0, 0, 1)
}

func parseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}
