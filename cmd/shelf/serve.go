package main

import (
	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/shelf/internal/app"
	"github.com/MrSnakeDoc/shelf/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	a, err := app.New(config.Load())
	if err != nil {
		return err
	}
	return a.Run()
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
