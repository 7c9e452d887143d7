package cmd

import (
	"github.com/lupppig/dotvault/internal/backup"
	"github.com/lupppig/dotvault/internal/identity"
	"github.com/lupppig/dotvault/internal/logger"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check an archive against its manifest without restoring it",
	Long: `Unseal and extract an archive into a scratch directory and compare every file
with the SHA-256 digest recorded in the manifest. Nothing outside the scratch
directory is touched.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		blob, err := readArchive(backupFile)
		if err != nil {
			return err
		}

		pw, err := resolvePassword(cmd, false)
		if err != nil {
			return err
		}

		l.Info("Verifying integrity...", "file", backupFile, "sealed", blob.IsSealed())
		report, err := backup.NewRestoreManager(backup.RestoreOptions{
			Identity: identity.Identity{},
			Password: pw,
			KDF:      kdfParams,
			Logger:   l,
		}).Verify(cmd.Context(), blob)
		if err != nil {
			return err
		}

		l.Info("Integrity check passed. All files match the manifest.",
			"files", report.Verified,
			"locations", len(report.Manifest.Locations()),
			"old_user", report.Manifest.OldUser(),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVarP(&backupFile, "backup-file", "b", "", "archive to verify")
	addPasswordFlags(verifyCmd)
}
