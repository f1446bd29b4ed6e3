package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggoodman/salon-mcp/booking/sqlitestore"
	"github.com/ggoodman/salon-mcp/internal/config"
)

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo services, clients and bookings into an empty database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.Database.Path = dbPath
			}
			hours, err := cfg.Hours()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := sqlitestore.Open(ctx, cfg.Database.Path, sqlitestore.WithLogger(log))
			if err != nil {
				return err
			}
			defer db.Close()

			seeded, err := db.Seed(ctx, time.Now(), hours.Location)
			if err != nil {
				return err
			}
			if seeded {
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s\n", cfg.Database.Path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already has data; nothing to do\n", cfg.Database.Path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides database.path)")
	return cmd
}
