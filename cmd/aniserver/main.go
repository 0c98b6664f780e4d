// aniserver serves the envelope websocket protocol and the static web app.
// Usage: go run ./cmd/aniserver --config configs/aniserver.example.yaml
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maja42/aniscraper/internal/config"
	"github.com/maja42/aniscraper/internal/logging"
	"github.com/maja42/aniscraper/internal/server"
	"github.com/maja42/aniscraper/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (empty = defaults)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadAndValidate(*configPath); err != nil {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}

	logger := logging.New(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting aniserver",
		"version", version.Version,
		"commit", version.Commit,
		"address", cfg.Server.Address,
		"webapp_dir", cfg.Server.WebappDir,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	srv := server.New(serverConfig(cfg.Server), logging.Module(logger, "server"))

	if err := srv.Run(ctx); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("aniserver stopped")
}

func serverConfig(c config.ServerConfig) server.Config {
	cfg := server.DefaultConfig()
	cfg.Address = c.Address
	cfg.ReadTimeout = c.ReadTimeout
	cfg.WriteTimeout = c.WriteTimeout
	cfg.WebappDir = c.WebappDir
	cfg.Greeting = c.Greeting
	cfg.MaxMessageSize = c.MaxMessageSize
	return cfg
}
