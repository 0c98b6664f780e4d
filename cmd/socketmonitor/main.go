// socketmonitor connects to an envelope server, verifies the echo channel and
// logs connection lifecycle events until interrupted or disconnected.
// Usage: go run ./cmd/socketmonitor --config configs/socketmonitor.example.yaml
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maja42/aniscraper/internal/config"
	"github.com/maja42/aniscraper/internal/connection"
	"github.com/maja42/aniscraper/internal/logging"
	"github.com/maja42/aniscraper/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (empty = defaults)")
	url := flag.String("url", "", "websocket URL, overrides client.url")
	statsInterval := flag.Duration("stats", 30*time.Second, "stats log interval (0 = off)")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *url)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting socket monitor",
		"version", version.Version,
		"commit", version.Commit,
		"url", cfg.Client.URL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	mgr := connection.NewManager(managerConfig(cfg.Client), logging.Module(logger, "connection"))
	mon := newMonitor(mgr, logging.Module(logger, "monitor"))
	if err := mon.attach(ctx); err != nil {
		logger.Error("failed to subscribe", "error", err)
		os.Exit(1)
	}

	if err := mgr.Connect(cfg.Client.URL); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	// There is no reconnect, so a disconnect ends the run.
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-mon.disconnected:
			cancel()
		}
		return nil
	})

	if *statsInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(*statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					s := mgr.Stats()
					logger.Info("stats",
						"state", s.State,
						"pending", s.Pending,
						"sent", s.Sent,
						"received", s.Received,
						"dropped", s.Dropped,
						"timeouts", s.Timeouts,
					)
				}
			}
		})
	}

	logger.Info("monitoring - press Ctrl+C to stop")
	g.Wait()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	if err := mgr.Close(shutdownCtx); err != nil {
		logger.Warn("connection manager shutdown", "error", err)
	}
	logger.Info("shutdown complete")
}

func loadConfig(path, url string) (*config.Config, error) {
	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		var err error
		if cfg, err = config.LoadWithDefaults(path); err != nil {
			return nil, err
		}
	}
	if url != "" {
		cfg.Client.URL = url
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func managerConfig(c config.ClientConfig) connection.ManagerConfig {
	cfg := connection.DefaultManagerConfig()
	cfg.RequestTimeout = c.RequestTimeout
	cfg.ExpiredIDs = c.ExpiredIDs
	cfg.Client.HandshakeTimeout = c.HandshakeTimeout
	cfg.Client.WriteTimeout = c.WriteTimeout
	cfg.Client.PingInterval = c.PingInterval
	cfg.Client.PingTimeout = c.PingTimeout
	cfg.Client.ReadLimit = c.ReadLimit
	cfg.Client.SendBuffer = c.SendBuffer
	return cfg
}
