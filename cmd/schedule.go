package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/lupppig/dotvault/internal/backup"
	"github.com/lupppig/dotvault/internal/config"
	apperrors "github.com/lupppig/dotvault/internal/errors"
	"github.com/lupppig/dotvault/internal/identity"
	"github.com/lupppig/dotvault/internal/logger"
	"github.com/lupppig/dotvault/internal/scheduler"
	"github.com/spf13/cobra"
)

// PasswordEnv holds the password for sealed scheduled backups.
const PasswordEnv = "DOTVAULT_PASSWORD"

var (
	cronSpec   string
	interval   string
	outputDir  string
	sealed     bool
	retries    int
	retryDelay string
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring backups",
	Long: `Manage recurring backups. Tasks are stored in ~/.dotvault/schedules.json and
run by "dotvault schedule start", which stays in the foreground until interrupted.`,
}

var scheduleAddCmd = &cobra.Command{
	Use:           "add",
	Short:         "Add a recurring backup",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		sched := cronSpec
		if interval != "" {
			sched = interval
		}
		if sched == "" {
			return apperrors.New(apperrors.TypeConfig, "either --cron or --interval is required", `e.g. --cron "0 2 * * *" or --interval 24h`)
		}
		if outputDir == "" {
			return apperrors.New(apperrors.TypeConfig, "--output-dir is required", "")
		}
		dir, err := absDir(outputDir)
		if err != nil {
			return err
		}
		if _, err := backup.ParseRetention(olderThan); err != nil {
			return apperrors.Wrap(err, apperrors.TypeConfig, "invalid --older-than", "")
		}

		s, err := loadScheduler(l)
		if err != nil {
			return err
		}
		defer s.Stop()

		task := &scheduler.Task{
			Schedule:   sched,
			OutputDir:  dir,
			Locations:  extraLocations,
			Sealed:     sealed,
			Keep:       keep,
			Retention:  olderThan,
			Retries:    retries,
			RetryDelay: retryDelay,
		}
		if err := s.AddTask(task); err != nil {
			return apperrors.Wrap(err, apperrors.TypeConfig, "failed to add schedule", "")
		}

		l.Info("Scheduled backup task added", "schedule", sched, "id", task.ID, "dir", dir)
		if sealed {
			l.Info(fmt.Sprintf("Sealed runs read the password from %s", PasswordEnv))
		}
		return nil
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:           "remove [ID]",
	Short:         "Remove a scheduled task",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		id := args[0]

		s, err := loadScheduler(l)
		if err != nil {
			return err
		}
		defer s.Stop()

		if err := s.RemoveTask(id); err != nil {
			return apperrors.Wrap(err, apperrors.TypeConfig, "failed to remove schedule", "Run 'dotvault schedule list' to see task IDs.")
		}

		l.Info("Task removed successfully", "id", id)
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:           "list",
	Short:         "List scheduled tasks",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		s, err := loadScheduler(l)
		if err != nil {
			return err
		}
		defer s.Stop()

		tasks := s.ListTasks()
		if len(tasks) == 0 {
			l.Info("No active schedules found")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSCHEDULE\tDIR\tSEALED\tSTATUS\tLAST RUN\tNEXT RUN")
		for _, t := range tasks {
			last, next := "N/A", "N/A"
			if t.LastRun != nil {
				last = t.LastRun.Format("2006-01-02 15:04:05")
			}
			if t.NextRun != nil {
				next = t.NextRun.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\t%s\n", t.ID, t.Schedule, t.OutputDir, t.Sealed, t.Status, last, next)
		}
		return w.Flush()
	},
}

var scheduleRunCmd = &cobra.Command{
	Use:           "run [ID]",
	Short:         "Run a scheduled task once, now",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		s, err := loadScheduler(l)
		if err != nil {
			return err
		}
		defer s.Stop()

		return s.RunNow(args[0])
	},
}

var scheduleStartCmd = &cobra.Command{
	Use:           "start",
	Short:         "Run the scheduler in the foreground",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		s, err := loadScheduler(l)
		if err != nil {
			return err
		}

		config.OnChange(func(c *config.Config) {
			l.Info("Configuration reloaded", "locations", len(c.Backup.Locations))
		})

		tasks := s.ListTasks()
		l.Info("Starting scheduler", "task_count", len(tasks), "dry_run", DryRun)
		s.Start()

		<-cmd.Context().Done()

		l.Info("Shutting down scheduler")
		<-s.Stop().Done()
		return nil
	},
}

func loadScheduler(l *logger.Logger) (*scheduler.Scheduler, error) {
	s, err := scheduler.New(scheduler.Options{Run: scheduledRun(l), Logger: l})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeResource, "failed to initialize scheduler", "")
	}
	if err := s.Load(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeResource, "failed to load schedules", "")
	}
	return s, nil
}

// scheduledRun performs one backup for a task and prunes the task's directory
// afterwards when it carries a retention setting. The configuration is read
// on every run so hot reloads take effect.
func scheduledRun(l *logger.Logger) scheduler.RunFunc {
	return func(ctx context.Context, t scheduler.Task) error {
		cfg := config.GetConfig()
		tl := l.With("task", t.ID)

		id, err := identity.Current()
		if err != nil {
			return err
		}

		var pw []byte
		if t.Sealed {
			pw = []byte(os.Getenv(PasswordEnv))
			if len(pw) == 0 {
				return apperrors.New(apperrors.TypeConfig, PasswordEnv+" is not set", "Sealed schedules need the password in the environment.")
			}
		}

		if _, err := runBackup(ctx, cfg, backupRequest{
			Identity:  id,
			Locations: configuredLocations(cfg, id, t.Locations),
			Dir:       t.OutputDir,
			Name:      backup.DefaultFileName(time.Now()),
			Password:  pw,
			DryRun:    DryRun,
			Logger:    tl,
		}); err != nil {
			return err
		}

		if t.Keep == 0 && t.Retention == "" {
			return nil
		}
		retention, err := backup.ParseRetention(t.Retention)
		if err != nil {
			return err
		}
		cat, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		if cat == nil {
			tl.Warn("Catalog is disabled, skipping prune")
			return nil
		}
		defer cat.Close()

		_, err = runPrune(ctx, cfg, cat, t.OutputDir, backup.PruneOptions{
			Keep:      t.Keep,
			Retention: retention,
			DryRun:    DryRun,
			Logger:    tl,
		})
		return err
	}
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleRunCmd)
	scheduleCmd.AddCommand(scheduleStartCmd)

	scheduleAddCmd.Flags().StringVar(&cronSpec, "cron", "", `cron schedule (e.g. "0 2 * * *" or "@daily")`)
	scheduleAddCmd.Flags().StringVar(&interval, "interval", "", `interval schedule (e.g. "24h", "30m")`)
	scheduleAddCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory the archives are written to")
	scheduleAddCmd.Flags().StringArrayVarP(&extraLocations, "extra-location", "l", nil, "additional file or directory to back up (repeatable)")
	scheduleAddCmd.Flags().BoolVar(&sealed, "sealed", false, "seal archives with the password from "+PasswordEnv)
	scheduleAddCmd.Flags().IntVar(&keep, "keep", 0, "number of newest archives to keep after each run")
	scheduleAddCmd.Flags().StringVar(&olderThan, "older-than", "", "remove archives older than this age after each run")
	scheduleAddCmd.Flags().IntVar(&retries, "retries", 3, "number of retries on failure")
	scheduleAddCmd.Flags().StringVar(&retryDelay, "retry-delay", "5m", "delay between retries")
	scheduleAddCmd.MarkFlagsMutuallyExclusive("cron", "interval")
}
