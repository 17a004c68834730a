// Command memoryengine is the companion-memory engine's process
// entrypoint: it loads config, wires every store/oracle/service through
// engine.New, and runs the outbox drainer and decay job until signaled to
// stop. The HTTP/SSE transport that would expose process_turn/stream_turn
// to callers is out of scope here (named by interface only, per the
// spec's Non-goals); engine.Engine.Conversation is the call surface a
// transport layer would sit in front of.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"os/signal"

	"github.com/rs/zerolog/log"

	"manifold/internal/config"
	"manifold/internal/engine"
	"manifold/internal/observability"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("memoryengine")
	}
}

func run() error {
	configPath := flag.String("config", getenv("MEMORYENGINE_CONFIG", "config.yaml"), "path to config.yaml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	baseCtx := context.Background()
	shutdownOTel, err := observability.InitOTel(baseCtx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = nil
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		MaxConnsPerHost:       200,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
	}
	httpClient := observability.NewHTTPClient(&http.Client{Transport: tr})

	eng, err := engine.New(baseCtx, *cfg, httpClient)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().Str("config", *configPath).Msg("memoryengine starting")
	if err := eng.Run(ctx); err != nil {
		return fmt.Errorf("engine stopped: %w", err)
	}
	log.Info().Msg("memoryengine stopped")
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
