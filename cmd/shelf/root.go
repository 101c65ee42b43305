package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "shelf",
	Short: "Personal bookmark manager with live multi-tab views",
	// No subcommand runs the server, like the container entrypoint expects.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ shelf: %v\n", err)
		os.Exit(1)
	}
}
