package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/shelf/internal/app"
	"github.com/MrSnakeDoc/shelf/internal/config"
)

type tokenFlags struct {
	user  string
	email string
	ttl   time.Duration
}

func init() {
	flags := new(tokenFlags)

	var tokenCmd = &cobra.Command{
		Use:   "token --user <user-id>",
		Short: "Mint a session token signed with the shared secret (development)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.user == "" {
				return errors.New("--user is required")
			}
			cfg := config.Load()
			ttl := flags.ttl
			if ttl <= 0 {
				ttl = cfg.SessionTTL
			}

			raw, err := app.NewSessions(cfg, nil).Mint(flags.user, flags.email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}

	tokenCmd.Flags().StringVar(&flags.user, "user", "", "subject (owner) of the token")
	tokenCmd.Flags().StringVar(&flags.email, "email", "", "email claim")
	tokenCmd.Flags().DurationVar(&flags.ttl, "ttl", 0, "token lifetime, defaults to SHELF_SESSION_TTL")

	rootCmd.AddCommand(tokenCmd)
}
