package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/memory"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/watcher"
)

var sourceExtensions = []string{".md", ".jsonl"}

func newServeCmd(g *globals) *cobra.Command {
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and keep the index in sync with the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return g.withManager(ctx, func(ctx context.Context, m *memory.Manager, cfg *config.Config, logger *zap.Logger) error {
				return serve(ctx, m, cfg, logger, !noWatch && cfg.Watch.EnabledOrDefault())
			})
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not watch the workspace for changes")
	return cmd
}

func serve(ctx context.Context, m *memory.Manager, cfg *config.Config, logger *zap.Logger, watch bool) error {
	if report, err := m.Sync(ctx); err != nil {
		logger.Warn("initial sync failed", zap.Error(err))
	} else {
		logger.Info("initial sync done", zap.String("run_id", report.RunID), zap.Int("added", report.Added),
			zap.Int("updated", report.Updated), zap.Int("deleted", report.Deleted))
	}

	srv := server.NewServer(m, &cfg.Server, logger.Named("server"))
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	if watch {
		w := watcher.NewWatcher(m.WatchDirs(), sourceExtensions, func() {
			if _, err := m.Sync(gCtx); err != nil {
				logger.Warn("sync after change failed", zap.Error(err))
			}
		}, watcher.WithLogger(logger.Named("watcher")), watcher.WithDebounce(cfg.Watch.Debounce))
		g.Go(func() error {
			if err := w.Run(gCtx); err != nil {
				logger.Warn("watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	return g.Wait()
}
