package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lupppig/dotvault/internal/archive"
	"github.com/lupppig/dotvault/internal/backup"
	"github.com/lupppig/dotvault/internal/config"
	"github.com/lupppig/dotvault/internal/identity"
	"github.com/lupppig/dotvault/internal/logger"
	"github.com/spf13/cobra"
)

var (
	extraLocations []string
	compression    string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a dotfile backup archive",
	Long: `Collect the configured backup locations into a zip archive with a manifest of
SHA-256 digests. When a password is given the archive is sealed and ".enc" is
appended to its file name.

Without --backup-file the archive is written to the current directory as
dotvault-<timestamp>.zip.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		cfg := config.GetConfig()

		id, err := identity.Current()
		if err != nil {
			return err
		}

		pw, err := resolvePassword(cmd, true)
		if err != nil {
			return err
		}

		target := backupFile
		if target == "" {
			target = backup.DefaultFileName(time.Now())
		}
		dir, name, err := splitTarget(target)
		if err != nil {
			return err
		}

		start := time.Now()
		res, err := runBackup(cmd.Context(), cfg, backupRequest{
			Identity:  id,
			Locations: configuredLocations(cfg, id, extraLocations),
			Dir:       dir,
			Name:      name,
			Password:  pw,
			Progress:  showProgress,
			DryRun:    DryRun,
			Logger:    l,
		})
		if err != nil {
			l.Error("Backup failed", "error", err)
			return err
		}

		if !DryRun {
			l.Info("Backup finished",
				"file", res.Location,
				"files", len(res.Manifest.AllBackupFiles()),
				"duration", time.Since(start).String(),
			)
		}
		return nil
	},
}

type backupRequest struct {
	Identity  identity.Identity
	Locations []string
	Dir       string
	Name      string
	Password  []byte
	Progress  bool
	DryRun    bool
	Logger    *logger.Logger
}

// runBackup wires storage, catalog and archive settings from cfg into one
// BackupManager run. It is shared by the backup command and scheduled tasks.
func runBackup(ctx context.Context, cfg *config.Config, req backupRequest) (*backup.BackupResult, error) {
	l := req.Logger

	comp := cfg.Archive.Compression
	if compression != "" {
		comp = compression
	}
	method, err := archive.ParseCompression(comp)
	if err != nil {
		return nil, err
	}

	shown := req.Name
	if len(req.Password) > 0 {
		shown = archive.SealedName(shown)
	}
	prefix := ""
	if req.DryRun {
		prefix = "[DRY-RUN] "
	}
	l.Info(fmt.Sprintf("%sCreating backup file '%s' of the following locations", prefix, shown))
	for _, loc := range req.Locations {
		l.Info("  " + loc)
	}

	opts := backup.BackupOptions{
		Locations:   req.Locations,
		Identity:    req.Identity,
		FileName:    req.Name,
		Password:    req.Password,
		Compression: method,
		Level:       cfg.Archive.Level,
		KDF:         kdfParams,
		DryRun:      req.DryRun,
		Logger:      l,
	}
	if req.Progress {
		p := backup.NewProgressContainer(os.Stderr)
		defer p.Wait()
		opts.Progress = p
	}

	mgr := backup.NewBackupManager(opts, newStorage(cfg, req.Dir))

	if !req.DryRun {
		cat, err := openCatalog(cfg)
		if err != nil {
			return nil, err
		}
		if cat != nil {
			defer cat.Close()
			mgr.SetRecorder(cat)
		}
	}

	return mgr.Run(ctx)
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.Flags().StringVarP(&backupFile, "backup-file", "b", "", "path of the archive to write")
	backupCmd.Flags().StringArrayVarP(&extraLocations, "extra-location", "l", nil, "additional file or directory to back up (repeatable)")
	backupCmd.Flags().StringVar(&compression, "compression", "", "zip entry compression (deflate, zstd, store); defaults to archive.compression")
	backupCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress bars")
	addPasswordFlags(backupCmd)
}
