package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/lupppig/dotvault/internal/config"
	"github.com/lupppig/dotvault/internal/logger"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded backup runs",
	Long: `List the backups recorded in the catalog, newest first. The catalog lives at
catalog.path (default ~/.dotvault/catalog.db).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		cat, err := openCatalog(config.GetConfig())
		if err != nil {
			return err
		}
		if cat == nil {
			l.Info("Catalog is disabled, no history available")
			return nil
		}
		defer cat.Close()

		entries, err := cat.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			l.Info("No backups recorded yet")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED AT\tID\tSEALED\tFILES\tSIZE\tPATH")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\t%s\n",
				e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				shortID(e.ID),
				e.Sealed,
				e.FileCount,
				formatSize(e.Size),
				e.Path,
			)
		}
		return w.Flush()
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
