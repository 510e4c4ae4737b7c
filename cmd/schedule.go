package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"dbvault/internal/backup"
)

var (
	scheduleName       string
	scheduleType       string
	scheduleFrequency  string
	scheduleTimeOfDay  string
	scheduleDayOfWeek  int
	scheduleDayOfMonth int
	scheduleRetention  int
	scheduleMaxBackups int
	scheduleCompress   bool
	scheduleEncrypt    bool
	scheduleID         uint
	scheduleRunID      uint
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring backup schedules",
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a backup schedule",
	RunE:  runScheduleCreate,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup schedules",
	RunE:  runScheduleList,
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a backup schedule",
	RunE:  runScheduleDelete,
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan for due schedules and run them now, or run one by id",
	RunE:  runScheduleRun,
}

func init() {
	scheduleCreateCmd.Flags().StringVar(&scheduleName, "name", "", "schedule name")
	scheduleCreateCmd.Flags().StringVar(&scheduleType, "type", "FULL", "backup type")
	scheduleCreateCmd.Flags().StringVar(&scheduleFrequency, "frequency", "DAILY", "frequency (HOURLY, DAILY, WEEKLY, MONTHLY)")
	scheduleCreateCmd.Flags().StringVar(&scheduleTimeOfDay, "time", "03:00", "time of day (HH:MM)")
	scheduleCreateCmd.Flags().IntVar(&scheduleDayOfWeek, "day-of-week", 0, "day of week for WEEKLY (0=Sunday)")
	scheduleCreateCmd.Flags().IntVar(&scheduleDayOfMonth, "day-of-month", 1, "day of month for MONTHLY (1-31)")
	scheduleCreateCmd.Flags().IntVar(&scheduleRetention, "retention-days", 30, "days to keep backups from this schedule")
	scheduleCreateCmd.Flags().IntVar(&scheduleMaxBackups, "max-backups", 10, "maximum backups to keep from this schedule")
	scheduleCreateCmd.Flags().BoolVar(&scheduleCompress, "compress", true, "compress scheduled backups")
	scheduleCreateCmd.Flags().BoolVar(&scheduleEncrypt, "encrypt", false, "encrypt scheduled backups")
	scheduleCreateCmd.MarkFlagRequired("name")

	scheduleDeleteCmd.Flags().UintVar(&scheduleID, "id", 0, "schedule id")
	scheduleDeleteCmd.MarkFlagRequired("id")

	scheduleRunCmd.Flags().UintVar(&scheduleRunID, "id", 0, "run only this schedule, regardless of its next run time")

	scheduleCmd.AddCommand(scheduleCreateCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleDeleteCmd)
	scheduleCmd.AddCommand(scheduleRunCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func runScheduleCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	s := &backup.BackupSchedule{
		TenantID:      a.tenant(),
		Name:          scheduleName,
		IsActive:      true,
		BackupType:    backup.BackupType(scheduleType),
		Frequency:     backup.ScheduleFrequency(scheduleFrequency),
		TimeOfDay:     scheduleTimeOfDay,
		DayOfWeek:     scheduleDayOfWeek,
		DayOfMonth:    scheduleDayOfMonth,
		RetentionDays: scheduleRetention,
		MaxBackups:    scheduleMaxBackups,
		Compress:      scheduleCompress,
		Encrypt:       scheduleEncrypt,
	}

	if err := a.scheduler.CreateSchedule(ctx, s); err != nil {
		return err
	}

	if !quiet {
		printer.Success("schedule %q created (id %d)", s.Name, s.ID)
		if s.NextRunAt != nil {
			printer.Printf("next run: %s\n", s.NextRunAt.Format("2006-01-02 15:04 MST"))
		}
	}
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	items, err := a.schedules.Find(ctx, a.tenant())
	if err != nil {
		return err
	}

	printer.ScheduleTable(items)
	return nil
}

func runScheduleDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	if err := a.schedules.Delete(ctx, a.tenant(), scheduleID); err != nil {
		return err
	}

	if !quiet {
		printer.Success("schedule %d deleted", scheduleID)
	}
	return nil
}

func runScheduleRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	if scheduleRunID > 0 {
		if err := a.scheduler.RunNow(ctx, a.tenant(), scheduleRunID); err != nil {
			return err
		}
		if !quiet {
			printer.Success("schedule %d ran", scheduleRunID)
		}
		return nil
	}

	if err := a.scheduler.RunDue(ctx, time.Now().UTC()); err != nil {
		return err
	}

	if !quiet {
		printer.Success("schedule scan completed")
	}
	return nil
}
