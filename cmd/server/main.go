package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/ratechat/internal/config"
	"github.com/Tyrowin/ratechat/internal/exchange"
	"github.com/Tyrowin/ratechat/internal/logging"
	"github.com/Tyrowin/ratechat/internal/metrics"
	"github.com/Tyrowin/ratechat/internal/server"
	"github.com/jonboulle/clockwork"
)

const redisPingTimeout = 2 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting ratechat server...", "addr", cfg.Addr(), "origins", cfg.Origins())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	relayMetrics := metrics.NewRelayMetrics(reg)

	cache, closeCache := newRateCache(ctx, cfg, logger)
	defer closeCache()

	rates := exchange.NewClient(exchange.Options{
		CurrentURL: cfg.ExchangeURL,
		HistoryURL: cfg.ExchangeHistoryURL,
		Currencies: cfg.Currencies(),
		Timeout:    cfg.ExchangeTimeout,
		Cache:      cache,
		Logger:     logger.With("component", "exchange"),
	})

	hub := server.NewHub(server.HubOptions{
		TriggerKeyword:          cfg.TriggerKeyword,
		RateLimitBurst:          cfg.RateLimitBurst,
		RateLimitRefillInterval: cfg.RateLimitRefillInterval,
		Client: server.ClientOptions{
			SendBufferSize: cfg.SendBufferSize,
			MaxMessageSize: cfg.MaxMessageSize,
			WriteTimeout:   cfg.WriteTimeout,
		},
		Reports: exchange.NewReporter(rates),
		Metrics: relayMetrics,
		Logger:  logger,
	})

	handlers := server.NewHandlers(hub, server.NewOriginPolicy(cfg.Origins(), logger), logger)
	router := server.NewRouter(handlers, metrics.Handler(reg), cfg.Origins())
	httpServer := server.CreateServer(cfg.Addr(), router)

	ln, err := server.Listen(httpServer)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, ln)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server stopped unexpectedly", "error", err)
		}
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
		logger.Warn("HTTP server did not shut down cleanly", "error", err)
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn("Hub did not shut down cleanly", "error", err)
	}

	logger.Info("Server stopped")
	return nil
}

// newRateCache returns a Redis-backed cache when REDIS_URL is set and
// reachable, and an in-memory one otherwise.
func newRateCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (exchange.Cache, func()) {
	memory := exchange.NewMemoryCache(clockwork.NewRealClock(), cfg.ExchangeCacheTTL)
	if cfg.RedisURL == "" {
		return memory, func() {}
	}

	rdb, err := exchange.NewRedisClient(cfg.RedisURL)
	if err != nil {
		logger.Warn("Invalid REDIS_URL, using in-memory rate cache", "error", err)
		return memory, func() {}
	}

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis unreachable, using in-memory rate cache", "error", err)
		_ = rdb.Close()
		return memory, func() {}
	}

	logger.Info("Using Redis rate cache")
	return exchange.NewRedisCache(rdb, cfg.ExchangeCacheTTL), func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("Error closing Redis client", "error", err)
		}
	}
}
