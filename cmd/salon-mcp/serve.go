package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ggoodman/salon-mcp/booking"
	"github.com/ggoodman/salon-mcp/booking/sqlitestore"
	"github.com/ggoodman/salon-mcp/broker"
	"github.com/ggoodman/salon-mcp/broker/memorybroker"
	"github.com/ggoodman/salon-mcp/broker/redisbroker"
	"github.com/ggoodman/salon-mcp/internal/config"
	"github.com/ggoodman/salon-mcp/internal/engine"
	"github.com/ggoodman/salon-mcp/mcpservice"
	"github.com/ggoodman/salon-mcp/sessions"
	"github.com/ggoodman/salon-mcp/sessions/memorystore"
	"github.com/ggoodman/salon-mcp/sessions/redisstore"
	"github.com/ggoodman/salon-mcp/streaminghttp"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		addr   string
		dbPath string
		seed   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over streamable HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
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
			slog.SetDefault(log)

			return runServe(cmd.Context(), cfg, log, seed)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides database.path)")
	cmd.Flags().BoolVar(&seed, "seed", false, "load demo data when the database is empty")
	return cmd
}

// app is the assembled MCP endpoint and the resources backing it.
type app struct {
	handler http.Handler
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, seed bool) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	srv, err := openSalon(ctx, cfg, log, seed, a)
	if err != nil {
		return nil, err
	}

	store, outbox, err := openBackend(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	eng, err := engine.NewEngine(srv, engine.WithLogger(log), engine.WithBroker(outbox))
	if err != nil {
		return nil, err
	}

	h, err := streaminghttp.New(store, eng,
		streaminghttp.WithLogger(log),
		streaminghttp.WithBroker(outbox),
		streaminghttp.WithPath(cfg.Server.Path),
		streaminghttp.WithHeartbeatInterval(cfg.Stream.HeartbeatInterval),
		streaminghttp.WithStrictProtocolVersion(cfg.Server.StrictProtocolVersion),
	)
	if err != nil {
		return nil, err
	}
	a.handler = h
	return a, nil
}

// openSalon opens the database and builds the MCP server over it.
func openSalon(ctx context.Context, cfg *config.Config, log *slog.Logger, seed bool, a *app) (*mcpservice.Server, error) {
	hours, err := cfg.Hours()
	if err != nil {
		return nil, err
	}

	db, err := sqlitestore.Open(ctx, cfg.Database.Path, sqlitestore.WithLogger(log))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)

	if seed {
		if _, err := db.Seed(ctx, time.Now(), hours.Location); err != nil {
			return nil, fmt.Errorf("seeding database: %w", err)
		}
	}

	salon, err := booking.New(db, booking.WithHours(hours), booking.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return mcpservice.NewServer(salon.ServerOptions(version)...), nil
}

// openBackend picks the session store and outbox broker. The Redis backend
// shares one client between them and lets outbox keys expire with the
// session TTL; the memory backend drops an outbox when its session expires.
func openBackend(ctx context.Context, cfg *config.Config, a *app, memOpts ...memorystore.Option) (sessions.Store, broker.Broker, error) {
	switch cfg.Sessions.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		store := redisstore.New(client,
			redisstore.WithKeyPrefix(cfg.Redis.KeyPrefix+"sessions:"),
			redisstore.WithTTL(cfg.Sessions.TTL))
		outbox := redisbroker.New(client, redisbroker.Config{
			KeyPrefix: cfg.Redis.KeyPrefix + "outbox:",
			TTL:       cfg.Sessions.TTL,
		})
		return store, outbox, nil
	default:
		outbox := memorybroker.New()
		opts := append([]memorystore.Option{
			memorystore.WithTTL(cfg.Sessions.TTL),
			memorystore.WithExpiryHook(func(id string) {
				_ = outbox.Cleanup(context.Background(), id)
			}),
		}, memOpts...)
		store := memorystore.New(opts...)
		a.closers = append(a.closers, store.Close)
		return store, outbox, nil
	}
}

func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger, seed bool) error {
	a, err := newApp(ctx, cfg, log, seed)
	if err != nil {
		return err
	}
	defer a.Close()

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Open streams end when ctx is cancelled, which lets Shutdown finish.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "server.listen",
			slog.String("addr", cfg.Server.Addr),
			slog.String("path", cfg.Server.Path),
			slog.String("sessions", cfg.Sessions.Backend),
			slog.String("version", version))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("server.shutdown", slog.Duration("timeout", cfg.Server.ShutdownTimeout))
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
