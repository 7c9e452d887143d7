package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lupppig/dotvault/internal/config"
	"github.com/lupppig/dotvault/internal/logger"
	"github.com/spf13/cobra"
)

const DOTVAULT_VERSION = "0.1.0"

var (
	configFile string
	Debug      bool
	DryRun     bool
	LogJSON    bool
	NoColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "dotvault",
	Short: "dotvault backs up dotfiles into a portable, optionally encrypted archive",
	Long: `dotvault collects configuration files and directories from your home directory
into a single zip archive together with a manifest of SHA-256 digests. Archives can be
sealed with a password (scrypt + AES-256-GCM) and restored onto another machine or user,
where every path is rebased onto the new home directory and existing files are
snapshotted before they are replaced.

Commands run in dry-run mode unless --dry-run=false is given.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(configFile); err != nil {
			return err
		}
		cfg := config.GetConfig()

		if !cmd.Flags().Changed("dry-run") {
			DryRun = cfg.DryRun
		}

		level := slog.LevelInfo
		if Debug {
			level = slog.LevelDebug
		}
		l := logger.New(logger.Config{
			Writer:  cmd.OutOrStdout(),
			JSON:    LogJSON || cfg.LogJSON,
			NoColor: NoColor || cfg.NoColor,
			Level:   level,
		})
		l.Debug("Command started", "command", cmd.CommandPath(), "dry_run", DryRun)

		cmd.SetContext(logger.WithContext(cmd.Context(), l))
		return nil
	},
}

func init() {
	rootCmd.Version = DOTVAULT_VERSION
	rootCmd.SetVersionTemplate("dotvault version {{ .Version }}\n")

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to configuration file (default ./dotvault.yaml or ~/.dotvault/dotvault.yaml)")
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&DryRun, "dry-run", true, "only log what would be done (pass --dry-run=false to act)")
	rootCmd.PersistentFlags().BoolVar(&LogJSON, "log-json", false, "emit logs as JSON")
	rootCmd.PersistentFlags().BoolVar(&NoColor, "no-color", false, "disable colored log output")
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
