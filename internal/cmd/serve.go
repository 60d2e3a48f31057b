package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nmtlab/nmtgate/internal/config"
	errwrap "github.com/nmtlab/nmtgate/internal/errors"
	"github.com/nmtlab/nmtgate/internal/metrics"
	"github.com/nmtlab/nmtgate/internal/observability"
	"github.com/nmtlab/nmtgate/internal/server"
	"github.com/nmtlab/nmtgate/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	Long: `Start the gateway HTTP server with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read the config file

The server stops accepting requests, drains in-flight ones, then flushes logs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errwrap.WrapInvalidInput(cmd.Context(), err, "invalid configuration")
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, map[string]any{
			"version": versionInfo.Version,
		})
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		logger.Info("Initializing server",
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Driver),
			zap.Bool("metrics", cfg.Metrics.Enabled),
			zap.Int("metrics_port", observability.GetMetricsPort()))

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		st, err := openStores(ctx, cfg, logger)
		if err != nil {
			return errwrap.WrapInternal(ctx, err, "store initialization failed")
		}
		if cfg.Keys.Watch {
			if err := st.watch(ctx); err != nil {
				logger.Warn("Key file watch disabled", zap.Error(err))
			}
		}

		rp := newRunPodClient(cfg)
		dispatcher := buildDispatcher(cfg, st.keys, rp, logger)
		dispatcher.Limiter.Start(ctx)
		api := buildAPI(cfg, dispatcher, st, rp, logger)

		if api.AdminKey == "" {
			logger.Warn("Admin key not configured; key management endpoints are disabled")
		}
		if !rp.Configured() {
			logger.Warn("RunPod API key not configured; only the OpenRouter fallback can serve chat")
		}

		hm := handlers.NewHealthManager(versionInfo.Version)
		registerHealthChecks(hm, cfg, st, rp)

		srv := server.New(cfg.Server, api, hm)

		// Shutdown handlers run LIFO: the server drains first, stores close,
		// then the logger flushes.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			dispatcher.Limiter.Stop()
			if err := st.Close(); err != nil {
				logger.Warn("Store close returned error", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancelShutdown := context.WithTimeout(ctx, srv.ShutdownTimeout())
			defer cancelShutdown()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")

			if err := viper.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if errors.As(err, &notFound) {
					logger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapInvalidInput(ctx, err, "config reload failed")
			}
			if _, err := loadConfig(); err != nil {
				logger.Error("Reloaded config is invalid", zap.Error(err))
				return errwrap.WrapInvalidInput(ctx, err, "config reload failed")
			}

			// Listeners, stores and backends keep their startup settings; a
			// restart applies the rest.
			logger.Info("Configuration reloaded", zap.String("file", viper.ConfigFileUsed()))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		metrics.SetServerStartTime(time.Now().Unix())

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(ctx, err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "0.0.0.0", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 3000, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
