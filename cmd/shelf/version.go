package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/shelf/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version info and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "shelf %s (commit=%s, built=%s, go=%s)\n",
			version.Version, version.Commit, version.BuildDate, version.GoVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
