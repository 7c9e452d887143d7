package cmd

import (
	"os"

	"github.com/lupppig/dotvault/internal/backup"
	"github.com/lupppig/dotvault/internal/identity"
	"github.com/lupppig/dotvault/internal/logger"
	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a dotfile backup into the current home directory",
	Long: `Restore a backup archive onto the current user.

The archive is unsealed when it ends in ".enc", extracted into a scratch directory
and every file is checked against the manifest digests before anything is moved.
Paths under the original home directory are rebased onto the current one. An
existing destination is copied to "<path>_<timestamp>" before it is replaced.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		blob, err := readArchive(backupFile)
		if err != nil {
			return err
		}

		id, err := identity.Current()
		if err != nil {
			return err
		}

		pw, err := resolvePassword(cmd, false)
		if err != nil {
			return err
		}

		opts := backup.RestoreOptions{
			Identity: id,
			Password: pw,
			KDF:      kdfParams,
			DryRun:   DryRun,
			Logger:   l,
		}
		if showProgress {
			p := backup.NewProgressContainer(os.Stderr)
			defer p.Wait()
			opts.Progress = p
		}

		report, err := backup.NewRestoreManager(opts).Run(cmd.Context(), blob)
		if err != nil {
			return err
		}

		if DryRun {
			l.Info("[DRY-RUN] Restore plan complete",
				"from", report.Manifest.OldUserHomeDir(),
				"to", id.HomeDir,
				"locations", len(report.Manifest.Locations()),
				"skipped", len(report.Skipped),
			)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringVarP(&backupFile, "backup-file", "b", "", "archive to restore (sealed archives end in .enc)")
	restoreCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress bars")
	addPasswordFlags(restoreCmd)
}
