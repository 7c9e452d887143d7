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

var decryptCmd = &cobra.Command{
	Use:           "decrypt",
	Short:         "Open a sealed archive into a plain zip",
	Long:          `Open a sealed FILE.enc archive and write the plain zip next to it as FILE.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		cfg := config.GetConfig()

		blob, err := readArchive(backupFile)
		if err != nil {
			return err
		}
		sealed, ok := blob.(archive.Sealed)
		if !ok {
			return apperrors.New(apperrors.TypeConfig, fmt.Sprintf("'%s' is not sealed", backupFile),
				"Sealed archives end in "+archive.SealedSuffix+".")
		}

		pw, err := resolvePassword(cmd, false)
		if err != nil {
			return err
		}
		if len(pw) == 0 {
			return apperrors.New(apperrors.TypeAuthentication, "password required to open a sealed archive",
				"Pass the password with -p or use -P to be prompted.")
		}

		plain, err := archive.Open(sealed, pw, withKDF())
		if err != nil {
			return err
		}
		man, err := archive.ReadManifest(plain)
		if err != nil {
			return err
		}

		dir, name, err := splitTarget(backupFile)
		if err != nil {
			return err
		}
		out, err := newStorage(cfg, dir).Save(cmd.Context(), archive.UnsealedName(name), bytes.NewReader(plain))
		if err != nil {
			return apperrors.Wrap(err, apperrors.TypeResource, "failed to write archive", "")
		}

		l.Info(fmt.Sprintf("Decrypted file written to '%s'", out), "files", len(man.AllBackupFiles()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(decryptCmd)

	decryptCmd.Flags().StringVarP(&backupFile, "backup-file", "b", "", "sealed archive to decrypt")
	addPasswordFlags(decryptCmd)
}
