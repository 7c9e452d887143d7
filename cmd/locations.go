package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/lupppig/dotvault/internal/config"
	"github.com/lupppig/dotvault/internal/fsutil"
	"github.com/lupppig/dotvault/internal/identity"
	"github.com/spf13/cobra"
)

var printLocationsCmd = &cobra.Command{
	Use:           "print-backup-locations",
	Short:         "List the locations a backup would include",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identity.Current()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LOCATION\tPATH TYPE\tEXISTS")
		for _, loc := range configuredLocations(config.GetConfig(), id, extraLocations) {
			ok, _ := fsutil.Exists(loc)
			exists := "no"
			if ok {
				exists = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", loc, fsutil.PathType(loc), exists)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(printLocationsCmd)

	printLocationsCmd.Flags().StringArrayVarP(&extraLocations, "extra-location", "l", nil, "additional file or directory to include (repeatable)")
}
