package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/leonletto/chatsync/internal/config"
	"github.com/leonletto/chatsync/internal/server"
	"github.com/leonletto/chatsync/internal/store"
)

func serveCmd() *cobra.Command {
	var addr, dbPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference chat server",
		Long: `Run the server of record: the REST API under /api/v1, the push
channel at /ws and Prometheus metrics at /metrics.

Profiles listed under "profiles" in the config file are seeded at startup.

Examples:
  chatsync serve
  chatsync serve --addr :5001 --db /var/lib/chatsync/chat.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(zerolog.InfoLevel)

			cfg, err := config.LoadServer(config.ServerOverrides{
				ConfigPath: flagConfig,
				Addr:       addr,
				DBPath:     dbPath,
			})
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open store %s: %w", cfg.DBPath, err)
			}
			defer func() { _ = st.Close() }()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			srv := server.New(cfg, st, server.WithLogger(logger))
			if err := srv.Seed(ctx); err != nil {
				return err
			}
			if err := srv.Start(ctx); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			sig := <-sigCh
			logger.Info().Str("signal", sig.String()).Msg("shutting down")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (or CHATSYNC_ADDR env var)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (or CHATSYNC_DB env var)")
	return cmd
}
