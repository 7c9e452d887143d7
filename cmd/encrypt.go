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

var encryptCmd = &cobra.Command{
	Use:           "encrypt",
	Short:         "Seal an existing archive with a password",
	Long:          `Seal an unsealed backup archive and write it next to the original as FILE.enc.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		cfg := config.GetConfig()

		blob, err := readArchive(backupFile)
		if err != nil {
			return err
		}
		plain, ok := blob.(archive.Unsealed)
		if !ok {
			return apperrors.New(apperrors.TypeConfig, fmt.Sprintf("'%s' is already sealed", backupFile), "Use decrypt to open it.")
		}
		if _, err := archive.ReadManifest(plain); err != nil {
			return err
		}

		pw, err := resolvePassword(cmd, true)
		if err != nil {
			return err
		}
		if len(pw) == 0 {
			return apperrors.New(apperrors.TypeConfig, "a password is required to encrypt", "Pass it with -p or use -P to be prompted.")
		}

		sealed, err := archive.Seal(plain, pw, withKDF())
		if err != nil {
			return err
		}

		dir, name, err := splitTarget(backupFile)
		if err != nil {
			return err
		}
		out, err := newStorage(cfg, dir).Save(cmd.Context(), archive.SealedName(name), bytes.NewReader(sealed))
		if err != nil {
			return apperrors.Wrap(err, apperrors.TypeResource, "failed to write sealed archive", "")
		}

		l.Info(fmt.Sprintf("Encrypted file written to '%s'", out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(encryptCmd)

	encryptCmd.Flags().StringVarP(&backupFile, "backup-file", "b", "", "unsealed archive to encrypt")
	addPasswordFlags(encryptCmd)
}
