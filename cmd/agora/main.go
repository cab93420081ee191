// agora runs the streaming relay: an HTTP control surface that connects to the
// market data stream, subscribes symbols on request and fans live trades and
// quotes out to WebSocket clients.
//
// Usage: go run ./cmd/agora --config configs/agora.example.yaml [--symbols AAPL,MSFT]
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/agora/internal/config"
	"github.com/rickgao/agora/internal/connection"
	"github.com/rickgao/agora/internal/relay"
	"github.com/rickgao/agora/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/agora.local.yaml", "path to config file")
	symbols := flag.String("symbols", "", "comma-separated symbols to subscribe at startup")
	flag.Parse()

	// Bootstrap logger until the configured one is built.
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = newLogger(os.Stdout, cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting agora",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)
	logger.Info("configuration loaded",
		"listen_addr", cfg.Relay.ListenAddr,
		"websocket_url", cfg.Alpaca.WebSocketURL,
		"api_key_set", cfg.Alpaca.APIKeyID != "",
		"api_secret_set", cfg.Alpaca.APISecretKey != "",
	)

	// Create context with cancellation
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

	rly := relay.New(relay.StaticSettings{
		KeyID:  cfg.Alpaca.APIKeyID,
		Secret: cfg.Alpaca.APISecretKey,
		URL:    cfg.Alpaca.WebSocketURL,
	}, connectionConfig(cfg.Connection), logger)

	srv := relay.NewServer(rly, relay.ServerConfig{
		StreamBufferSize:    cfg.Relay.StreamBufferSize,
		StreamMaxBufferSize: cfg.Relay.StreamMaxBufferSize,
		RequestTimeout:      cfg.Relay.RequestTimeout,
		WriteTimeout:        cfg.Connection.WriteTimeout,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.Relay.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("starting relay server", "addr", cfg.Relay.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if *symbols != "" {
		group.Go(func() error {
			list := strings.Split(*symbols, ",")
			result, err := rly.ConnectAndSubscribe(groupCtx, list)
			if err != nil {
				// Not fatal; the control surface can retry once configured.
				logger.Error("startup subscribe failed", "error", err)
				return nil
			}
			logger.Info("startup subscribe", "success", result.Success, "message", result.Message)
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()

		logger.Info("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*cfg.Connection.ShutdownTimeout)
		defer shutdownCancel()

		srv.CloseStreams()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("relay server shutdown", "error", err)
		}
		return rly.Close(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("agora exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("agora stopped")
}

// newLogger builds the configured slog handler. Config is validated, so the
// level always parses.
func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	level, _ := config.ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func connectionConfig(c config.ConnectionConfig) connection.Config {
	return connection.Config{
		HandshakeTimeout: c.HandshakeTimeout,
		WriteTimeout:     c.WriteTimeout,
		PingInterval:     c.PingInterval,
		ShutdownTimeout:  c.ShutdownTimeout,
		ReadLimit:        c.ReadLimit,
	}
}
