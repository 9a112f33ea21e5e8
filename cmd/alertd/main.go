// Alert Engine — evaluates price and movement alerts against live
// multi-exchange market data and delivers triggers in realtime.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires feed → buffers → evaluators → sink, runs the lease
//	adapter/             — Binance and Bybit REST adapters (prices, symbols, klines) behind a registry
//	feed/fanin.go        — multiplexes per-pair producers into one bounded broadcast stream
//	feed/binancews.go    — optional Binance miniTicker websocket push producer
//	buffer/ring.go       — short-window price histories per (exchange, market, symbol)
//	alerts/fastloop.go   — fast price-alert loop: touch/cross against fresh last prices
//	alerts/evaluator.go  — tick-driven complex alert evaluation over rolling windows
//	alerts/sweeper.go    — safety net re-evaluating buffered symbols that went quiet
//	alerts/klines.go     — historical 1m-candle sweep catching missed spikes
//	lease/coordinator.go — single firing worker election across replicas via SQLite lease
//	store/               — SQLite persistence: alerts, users, the lease row
//	notify/sink.go       — trigger sink: persist, realtime emit, Telegram dispatch
//	realtime/            — per-user websocket push server with health probe
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"alertengine/internal/config"
	"alertengine/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ALERT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	eng.Start()

	logger.Info("alert engine started",
		"pairs", len(cfg.Feed.Pairs),
		"single_worker", cfg.Engine.SingleWorker,
		"realtime", cfg.Realtime.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
