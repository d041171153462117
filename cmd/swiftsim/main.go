package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/config"
)

// Config holds process level settings. Catalog, storage and identity settings
// are read by config.WithEnv under EnvPrefix.
type Config struct {
	Host              string        `env:"SWIFTSIM_HOST" env-default:"0.0.0.0"`
	LogLevel          string        `env:"SWIFTSIM_LOG_LEVEL" env-default:"info"`
	LogFormat         string        `env:"SWIFTSIM_LOG_FORMAT" env-default:"text"`
	ReadHeaderTimeout time.Duration `env:"SWIFTSIM_READ_HEADER_TIMEOUT" env-default:"10s"`
	ShutdownTimeout   time.Duration `env:"SWIFTSIM_SHUTDOWN_TIMEOUT" env-default:"10s"`
	EnvPrefix         string        `env:"SWIFTSIM_ENV_PREFIX" env-default:"SWIFTSIM_"`
}

func newLogger(cfg Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func main() {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	serverConfig, err := config.Load(config.WithEnv(cfg.EnvPrefix))
	if err != nil {
		logger.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}
	if len(serverConfig.Users) == 0 {
		logger.Warn("No users configured; every token request will be rejected", "hint", cfg.EnvPrefix+"USERNAME")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := serverConfig.BuildServer(ctx, logger)
	if err != nil {
		logger.Error("Failed to build server", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Host, serverConfig.Port),
		Handler:           srv,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	go func() {
		logger.Info("swiftsim starting",
			"addr", httpServer.Addr,
			"env", serverConfig.Environment,
			"catalog", serverConfig.DatabaseType,
			"storage", serverConfig.Storage.Type,
			"region", serverConfig.Region,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}
	logger.Info("Server exiting")
}
