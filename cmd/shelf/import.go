package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/shelf/internal/app"
	"github.com/MrSnakeDoc/shelf/internal/config"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/sources/homepage"
	"github.com/MrSnakeDoc/shelf/internal/utils"
)

type importFlags struct {
	owner  string // owner reference stamped on every imported row
	file   string // homepage bookmarks.yaml, "-" for stdin
	dryRun bool   // report what would be added without writing
}

func init() {
	flags := new(importFlags)

	var importCmd = &cobra.Command{
		Use:   "import --owner <user-id> --file <bookmarks.yaml>",
		Short: "Import a homepage bookmarks.yaml for one owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.owner == "" {
				return errors.New("--owner is required")
			}

			cfg := config.Load()
			log := app.NewLogger(cfg)
			defer func() { _ = log.Sync() }()

			parsed, err := homepage.NewLoader(flags.file).Load()
			if err != nil {
				return err
			}
			entries, rejected := homepage.MapDrafts(parsed)
			for _, r := range rejected {
				log.Warn("skipping entry", logger.String("entry", r.String()))
			}

			client, store, err := app.Connect(cfg, log, "shelf-import")
			if err != nil {
				return err
			}
			defer utils.MustClose(client, log)

			res, err := homepage.NewImporter(store, log).Import(context.Background(), flags.owner, entries, flags.dryRun)
			if err != nil {
				return err
			}

			verb := "added"
			if flags.dryRun {
				verb = "would add"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d, already present %d, failed %d, rejected %d\n",
				verb, res.Added, res.Existing, res.Failed, len(rejected))
			if res.Failed > 0 {
				return fmt.Errorf("%d bookmarks failed to import", res.Failed)
			}
			return nil
		},
	}

	importCmd.Flags().StringVar(&flags.owner, "owner", "", "owner user id")
	importCmd.Flags().StringVarP(&flags.file, "file", "f", "bookmarks.yaml", "bookmarks file, - for stdin")
	importCmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "only report what would be imported")

	rootCmd.AddCommand(importCmd)
}
