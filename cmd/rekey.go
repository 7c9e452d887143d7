package cmd

import (
	"bytes"
	"fmt"

	"github.com/lupppig/dotvault/internal/archive"
	"github.com/lupppig/dotvault/internal/config"
	apperrors "github.com/lupppig/dotvault/internal/errors"
	"github.com/lupppig/dotvault/internal/logger"
	"github.com/spf13/cobra"
)

var (
	oldPassword string
	newPassword string
)

var rekeyCmd = &cobra.Command{
	Use:   "rekey",
	Short: "Re-seal an archive with a new password",
	Long: `Open a sealed archive with the old password and seal it again with the new one.
The archive is replaced in place once the new envelope is fully written; a fresh
salt and nonce are drawn.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		cfg := config.GetConfig()

		if oldPassword == "" || newPassword == "" {
			return apperrors.New(apperrors.TypeConfig, "both --old-password and --new-password are required", "")
		}

		blob, err := readArchive(backupFile)
		if err != nil {
			return err
		}
		sealed, ok := blob.(archive.Sealed)
		if !ok {
			return apperrors.New(apperrors.TypeConfig, fmt.Sprintf("'%s' is not sealed", backupFile), "Use encrypt to seal it.")
		}

		l.Info("Starting key rotation", "file", backupFile)
		plain, err := archive.Open(sealed, []byte(oldPassword), withKDF())
		if err != nil {
			return err
		}
		if _, err := archive.ReadManifest(plain); err != nil {
			return err
		}

		resealed, err := archive.Seal(plain, []byte(newPassword), withKDF())
		if err != nil {
			return err
		}

		if DryRun {
			l.Info(fmt.Sprintf("[DRY-RUN] Would rewrite '%s' with the new password", backupFile))
			return nil
		}

		dir, name, err := splitTarget(backupFile)
		if err != nil {
			return err
		}
		out, err := newStorage(cfg, dir).Save(cmd.Context(), name, bytes.NewReader(resealed))
		if err != nil {
			return apperrors.Wrap(err, apperrors.TypeResource, "failed to write re-sealed archive", "The original archive is unchanged.")
		}

		l.Info("Key rotation finished", "file", out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rekeyCmd)

	rekeyCmd.Flags().StringVarP(&backupFile, "backup-file", "b", "", "sealed archive to re-key")
	rekeyCmd.Flags().StringVar(&oldPassword, "old-password", "", "current password")
	rekeyCmd.Flags().StringVar(&newPassword, "new-password", "", "new password")
}
