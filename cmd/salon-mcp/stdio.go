package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/ggoodman/salon-mcp/broker/memorybroker"
	"github.com/ggoodman/salon-mcp/internal/config"
	"github.com/ggoodman/salon-mcp/internal/engine"
	"github.com/ggoodman/salon-mcp/stdio"
)

func newStdioCommand(opts *rootOptions) *cobra.Command {
	var (
		dbPath string
		seed   bool
	)

	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve MCP over stdin/stdout for a single client",
		Long: `stdio speaks newline-delimited JSON-RPC on stdin and stdout, for
assistants that launch the server as a subprocess. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.Database.Path = dbPath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a := &app{}
			defer func() { err = errors.Join(err, a.Close()) }()

			srv, err := openSalon(ctx, cfg, log, seed, a)
			if err != nil {
				return err
			}
			outbox := memorybroker.New()
			eng, err := engine.NewEngine(srv, engine.WithLogger(log), engine.WithBroker(outbox))
			if err != nil {
				return err
			}
			h, err := stdio.New(eng,
				stdio.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()),
				stdio.WithLogger(log),
				stdio.WithBroker(outbox))
			if err != nil {
				return err
			}
			if err := h.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides database.path)")
	cmd.Flags().BoolVar(&seed, "seed", false, "load demo data when the database is empty")
	return cmd
}
