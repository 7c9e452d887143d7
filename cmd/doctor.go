package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"time"

	"github.com/lupppig/dotvault/internal/config"
	"github.com/lupppig/dotvault/internal/crypto"
	"github.com/lupppig/dotvault/internal/fsutil"
	"github.com/lupppig/dotvault/internal/identity"
	"github.com/lupppig/dotvault/internal/logger"
	"github.com/lupppig/dotvault/internal/storage"
	"github.com/spf13/cobra"
)

var doctorDir string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that dotvault can back up and restore on this machine",
	Long: `Check the configured backup locations, the catalog, write access to the backup
directory, the key derivation cost and, when present, the audit log chain.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		cfg := config.GetConfig()
		out := cmd.OutOrStdout()
		l.Info("dotvault doctor - System Environment Check", "os", runtime.GOOS, "arch", runtime.GOARCH)

		allOk := true
		check := func(ok bool, name, detail string) {
			mark := "[x]"
			if !ok {
				mark = "[ ]"
				allOk = false
			}
			fmt.Fprintf(out, "  %s %-12s: %s\n", mark, name, detail)
		}

		fmt.Fprintln(out, "[Locations]")
		id, err := identity.Current()
		if err != nil {
			check(false, "identity", err.Error())
		} else {
			check(true, "identity", fmt.Sprintf("%s (%s)", id.User, id.HomeDir))
			present := 0
			locs := configuredLocations(cfg, id, nil)
			for _, loc := range locs {
				if ok, _ := fsutil.Exists(loc); ok {
					present++
				}
			}
			check(present > 0, "locations", fmt.Sprintf("%d of %d present", present, len(locs)))
		}
		fmt.Fprintln(out)

		fmt.Fprintln(out, "[Catalog]")
		cat, err := openCatalog(cfg)
		switch {
		case err != nil:
			check(false, "catalog", err.Error())
		case cat == nil:
			check(true, "catalog", "disabled")
		default:
			entries, err := cat.List(cmd.Context())
			cat.Close()
			if err != nil {
				check(false, "catalog", err.Error())
			} else {
				check(true, "catalog", fmt.Sprintf("%s (%d backups)", cfg.Catalog.Path, len(entries)))
			}
		}
		fmt.Fprintln(out)

		fmt.Fprintln(out, "[Backup Directory]")
		dir, err := absDir(doctorDir)
		if err != nil {
			return err
		}
		local := storage.NewLocalStorage(dir)
		if err := local.PutMetadata(cmd.Context(), ".doctor_check", []byte("ok")); err != nil {
			check(false, "permissions", fmt.Sprintf("write failed: %v", err))
		} else {
			check(true, "permissions", dir+" READ/WRITE OK")
			_ = local.Delete(cmd.Context(), ".doctor_check")
		}

		if data, err := local.GetMetadata(cmd.Context(), storage.AuditLogName); err == nil {
			n, err := storage.VerifyAuditLog(data)
			if err != nil {
				check(false, "audit log", err.Error())
			} else {
				check(true, "audit log", fmt.Sprintf("%d entries, chain intact", n))
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			check(false, "audit log", err.Error())
		}
		fmt.Fprintln(out)

		fmt.Fprintln(out, "[Key Derivation]")
		params := kdfParams
		start := time.Now()
		if _, _, err := params.DeriveKey([]byte("doctor"), bytes.Repeat([]byte{0}, crypto.SaltSize), crypto.KeySize); err != nil {
			check(false, "scrypt", err.Error())
		} else {
			check(true, "scrypt", fmt.Sprintf("N=%d r=%d p=%d, %s per key", params.N, params.R, params.P, time.Since(start).Truncate(time.Millisecond)))
		}
		fmt.Fprintln(out)

		if allOk {
			fmt.Fprintln(out, "Result: All systems go! Your environment is ready for dotvault.")
		} else {
			fmt.Fprintln(out, "Result: Some checks failed. See the entries marked [ ] above.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().StringVar(&doctorDir, "dir", ".", "backup directory to check")
}
