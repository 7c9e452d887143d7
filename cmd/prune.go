package cmd

import (
	"context"

	"github.com/lupppig/dotvault/internal/backup"
	"github.com/lupppig/dotvault/internal/catalog"
	"github.com/lupppig/dotvault/internal/config"
	apperrors "github.com/lupppig/dotvault/internal/errors"
	"github.com/lupppig/dotvault/internal/logger"
	"github.com/spf13/cobra"
)

var (
	pruneDir   string
	keep       int
	olderThan  string
	keepDaily  int
	keepWeekly int
	keepMonth  int
	keepYearly int
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old backups from a backup directory",
	Long: `Remove archives recorded in the catalog that fall outside the retention policy.
Only archives stored directly in --dir are considered. --keep protects the newest N
archives, --older-than removes anything older than the given age (e.g. "30d", "72h")
and the --keep-daily/weekly/monthly/yearly flags keep one archive per period.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		cfg := config.GetConfig()

		opts := backup.PruneOptions{
			Keep: keep,
			RetentionPolicy: backup.RetentionPolicy{
				KeepDaily:   keepDaily,
				KeepWeekly:  keepWeekly,
				KeepMonthly: keepMonth,
				KeepYearly:  keepYearly,
			},
			DryRun: DryRun,
			Logger: l,
		}
		if !cmd.Flags().Changed("keep") {
			opts.Keep = cfg.Backup.Keep
		}
		retention := olderThan
		if retention == "" {
			retention = cfg.Backup.Retention
		}
		d, err := backup.ParseRetention(retention)
		if err != nil {
			return apperrors.Wrap(err, apperrors.TypeConfig, "invalid --older-than", `Use a duration such as "72h" or a day count such as "30d".`)
		}
		opts.Retention = d

		cat, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		if cat == nil {
			return apperrors.New(apperrors.TypeConfig, "prune needs the backup catalog", "Set catalog.enabled to true.")
		}
		defer cat.Close()

		_, err = runPrune(cmd.Context(), cfg, cat, pruneDir, opts)
		return err
	},
}

func runPrune(ctx context.Context, cfg *config.Config, cat *catalog.Catalog, dir string, opts backup.PruneOptions) ([]catalog.Entry, error) {
	pruned, err := backup.NewPruneManager(newStorage(cfg, dir), cat, opts).Prune(ctx)
	if err != nil {
		return nil, err
	}
	if opts.Logger != nil {
		opts.Logger.Info("Prune complete", "dir", dir, "removed", len(pruned), "dry_run", opts.DryRun)
	}
	return pruned, nil
}

func init() {
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().StringVar(&pruneDir, "dir", ".", "directory holding the archives")
	pruneCmd.Flags().IntVar(&keep, "keep", 0, "number of newest archives to keep (defaults to backup.keep)")
	pruneCmd.Flags().StringVar(&olderThan, "older-than", "", "remove archives older than this age (defaults to backup.retention)")
	pruneCmd.Flags().IntVar(&keepDaily, "keep-daily", 0, "keep the newest archive of each of the last N days")
	pruneCmd.Flags().IntVar(&keepWeekly, "keep-weekly", 0, "keep the newest archive of each of the last N weeks")
	pruneCmd.Flags().IntVar(&keepMonth, "keep-monthly", 0, "keep the newest archive of each of the last N months")
	pruneCmd.Flags().IntVar(&keepYearly, "keep-yearly", 0, "keep the newest archive of each of the last N years")
}
