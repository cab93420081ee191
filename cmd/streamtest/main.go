// streamtest connects to the market data WebSocket and streams classified
// events to the console.
// Usage: go run ./cmd/streamtest --config configs/agora.example.yaml --symbols AAPL,MSFT
//
// Credentials come from the config file, typically via environment variables:
//
//	ALPACA_API_KEY_ID     - API key ID
//	ALPACA_API_SECRET_KEY - API secret key
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/agora/internal/auth"
	"github.com/rickgao/agora/internal/config"
	"github.com/rickgao/agora/internal/connection"
	"github.com/rickgao/agora/internal/model"
	"github.com/rickgao/agora/internal/stream"
)

func main() {
	configPath := flag.String("config", "configs/agora.example.yaml", "path to config file")
	symbols := flag.String("symbols", "AAPL", "comma-separated symbols to subscribe")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	creds := auth.Credentials{KeyID: cfg.Alpaca.APIKeyID, Secret: cfg.Alpaca.APISecretKey}
	if err := creds.Validate(); err != nil || cfg.Alpaca.WebSocketURL == "" {
		logger.Error("API credentials and websocket_url required",
			"api_key_set", cfg.Alpaca.APIKeyID != "",
			"api_secret_set", cfg.Alpaca.APISecretKey != "",
			"websocket_url_set", cfg.Alpaca.WebSocketURL != "",
		)
		logger.Info("Set environment variables: ALPACA_API_KEY_ID and ALPACA_API_SECRET_KEY")
		os.Exit(1)
	}
	logger.Info("using API credentials", "credentials", creds.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	dispatcher := stream.NewDispatcher(logger)
	dispatcher.RegisterFunc(func(ev stream.Event) { printEvent(ev, *verbose) },
		stream.KindTrade, stream.KindQuote, stream.KindSubscription, stream.KindSuccess, stream.KindError)

	conn := connection.New(connection.Config{
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		WriteTimeout:     cfg.Connection.WriteTimeout,
		PingInterval:     cfg.Connection.PingInterval,
		ShutdownTimeout:  cfg.Connection.ShutdownTimeout,
		ReadLimit:        cfg.Connection.ReadLimit,
	}, dispatcher, logger)

	if err := conn.Connect(ctx, creds, cfg.Alpaca.WebSocketURL); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	for _, sym := range strings.Split(*symbols, ",") {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		for _, ch := range model.Channels {
			if err := conn.Subscribe(ctx, sym, ch); err != nil {
				logger.Error("failed to subscribe", "symbol", sym, "channel", string(ch), "error", err)
			}
		}
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := dispatcher.Stats()
				logger.Info("stats",
					"state", conn.State().String(),
					"authenticated", dispatcher.Authenticated(),
					"subscriptions", len(conn.Subscriptions()),
					"received", stats.MessagesReceived,
					"dispatched", stats.EventsDispatched,
					"parse_errors", stats.ParseErrors,
					"unknown", stats.UnknownFrames,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown or a remote close
	select {
	case <-ctx.Done():
	case <-conn.Done():
		logger.Warn("stream closed by remote")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	conn.Disconnect(shutdownCtx)

	logger.Info("shutdown complete")
}

func printEvent(ev stream.Event, verbose bool) {
	if verbose {
		fmt.Printf("[%s] %s\n", strings.ToUpper(ev.Kind.String()), ev.Payload)
		return
	}

	switch ev.Kind {
	case stream.KindTrade:
		t, err := ev.Trade()
		if err != nil {
			fmt.Printf("[TRADE] undecodable: %v\n", err)
			return
		}
		fmt.Printf("[TRADE] symbol=%s id=%d price=%.4f size=%g exchange=%s\n",
			t.Symbol, t.ID, t.Price, t.Size, t.Exchange)
	case stream.KindQuote:
		q, err := ev.Quote()
		if err != nil {
			fmt.Printf("[QUOTE] undecodable: %v\n", err)
			return
		}
		fmt.Printf("[QUOTE] symbol=%s bid=%.4fx%g ask=%.4fx%g spread=%.4f\n",
			q.Symbol, q.BidPrice, q.BidSize, q.AskPrice, q.AskSize, q.Spread())
	case stream.KindSubscription:
		s, err := ev.Subscriptions()
		if err != nil {
			fmt.Printf("[SUBSCRIPTION] undecodable: %v\n", err)
			return
		}
		data, _ := json.Marshal(s)
		fmt.Printf("[SUBSCRIPTION] %s\n", data)
	case stream.KindSuccess:
		fmt.Printf("[SUCCESS] %s\n", ev.Message)
	case stream.KindError:
		fmt.Printf("[ERROR] %v\n", ev.RemoteError())
	}
}
