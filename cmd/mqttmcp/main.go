// Command mqttmcp serves MQTT publish/subscribe operations as MCP tools.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mqttmcp/internal/broker"
	"github.com/MrWong99/mqttmcp/internal/config"
	"github.com/MrWong99/mqttmcp/internal/health"
	"github.com/MrWong99/mqttmcp/internal/mcpserver"
	"github.com/MrWong99/mqttmcp/internal/observe"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	transport := flag.String("transport", "", `MCP transport, "http" or "stdio" (overrides config)`)
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mqttmcp: %v\n", err)
		return 1
	}
	if *transport != "" {
		cfg.Server.Transport = config.Transport(*transport)
		if !cfg.Server.Transport.IsValid() {
			fmt.Fprintf(os.Stderr, "mqttmcp: unknown transport %q\n", *transport)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The stdio transport owns stdout; logs always go to stderr.
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("mqttmcp starting",
		"version", version,
		"transport", cfg.Server.Transport,
		"default_broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "mqttmcp",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Gateway and MCP server ────────────────────────────────────────────────
	gateway := broker.New(broker.Settings{
		Host:     cfg.Broker.Host,
		Port:     cfg.Broker.Port,
		Username: cfg.Broker.Username,
		Password: cfg.Broker.Password,
	}, broker.WithMetrics(metrics))

	server := mcpserver.New(gateway, metrics)

	switch cfg.Server.Transport {
	case config.TransportStdio:
		if err := server.RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("stdio transport error", "err", err)
			return 1
		}
	case config.TransportHTTP:
		if err := serveHTTP(ctx, cfg, server, metrics); err != nil {
			slog.Error("http transport error", "err", err)
			return 1
		}
	}

	slog.Info("goodbye")
	return 0
}

// serveHTTP runs the streamable HTTP transport plus the operational
// endpoints (/metrics, /healthz, /readyz) until ctx is cancelled, then
// shuts the listener down gracefully.
func serveHTTP(ctx context.Context, cfg *config.Config, server *mcpserver.Server, metrics *observe.Metrics) error {
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server.MCPServer()
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpHandler)
	mux.Handle("/metrics", promhttp.Handler())
	health.New(
		health.BrokerChecker(net.JoinHostPort(cfg.Broker.Host, fmt.Sprint(cfg.Broker.Port))),
	).Register(mux)

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("serving MCP over streamable HTTP", "addr", cfg.Server.ListenAddr, "endpoint", "/mcp")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
