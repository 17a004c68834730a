// Package engine wires the memory engine's collaborators together from a
// single loaded config, the way cmd/orchestrator's run() wires the
// teacher's tool registry, database manager, and MCP clients. Everything
// is constructed once at startup and threaded through context rather than
// kept in package-level state.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"manifold/internal/affinity"
	"manifold/internal/config"
	"manifold/internal/conversation"
	"manifold/internal/graphsvc"
	"manifold/internal/idempotency"
	"manifold/internal/observability"
	"manifold/internal/oracle"
	"manifold/internal/outbox"
	"manifold/internal/retrieve"
	"manifold/internal/store"
)

// Engine bundles every collaborator the memory engine needs once config is
// loaded and backends are constructed: the three stores (R/V/G), the two
// model oracles, and the services built on top of them.
type Engine struct {
	Cfg config.Config

	R store.Relational
	V store.Vector
	G store.Graph

	Embedder oracle.Embedder
	Provider oracle.Provider

	Retrieve     *retrieve.Service
	Affinity     *affinity.Service
	Conversation *conversation.Service
	Drainer      *outbox.Drainer
	Kafka        *outbox.KafkaTransport
	Decay        *graphsvc.DecayJob
	IdempCache   *idempotency.Cache

	pool *pgxpool.Pool
}

// New constructs an Engine from a loaded config. It opens a Postgres pool
// only when Database.DSN is set; a config without a DSN (tests, local dev)
// uses the in-memory relational store and never touches the network for it.
func New(ctx context.Context, cfg config.Config, httpClient *http.Client) (*Engine, error) {
	e := &Engine{Cfg: cfg}

	if cfg.Database.DSN != "" {
		pool, err := openPostgresPool(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open postgres pool: %w", err)
		}
		e.pool = pool
		e.R = store.NewPostgresRelational(pool)
	} else {
		e.R = store.NewMemoryRelational()
	}

	v, err := buildVector(cfg.Vector, e.pool)
	if err != nil {
		return nil, fmt.Errorf("build vector store: %w", err)
	}
	e.V = v

	e.G = buildGraph(cfg.Graph, e.pool)

	e.Embedder = oracle.NewHTTPEmbedder(cfg.Oracle.Embeddings, cfg.Vector.Dimension)
	provider, err := oracle.BuildProvider(cfg.Oracle.LLMClient, httpClient)
	if err != nil {
		return nil, fmt.Errorf("build generation provider: %w", err)
	}
	e.Provider = provider

	model := modelFor(cfg.Oracle.LLMClient)
	e.Retrieve = &retrieve.Service{
		Vector:   e.V,
		Graph:    e.G,
		R:        e.R,
		Embedder: e.Embedder,
		Provider: e.Provider,
		Model:    model,
		Cfg:      cfg.Retrieval,
	}
	e.Affinity = &affinity.Service{R: e.R, Cfg: cfg.Affinity}

	if cfg.Idempotency.RedisAddr != "" {
		cache, err := idempotency.New(cfg.Idempotency.RedisAddr)
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("idempotency cache unavailable, falling back to relational-only lookups")
		} else {
			e.IdempCache = cache
		}
	}

	e.Drainer = &outbox.Drainer{
		R:        e.R,
		V:        e.V,
		G:        e.G,
		Embedder: e.Embedder,
		Provider: e.Provider,
		Model:    model,
		Cfg:      cfg.Outbox,
	}
	e.Decay = &graphsvc.DecayJob{
		Graph:      e.G,
		PageSize:   cfg.Graph.DecayPageSize,
		Interval:   24 * time.Hour,
		BatchSleep: time.Duration(cfg.Graph.DecayBatchSleep) * time.Millisecond,
	}

	if cfg.Outbox.UseKafka {
		e.Kafka = &outbox.KafkaTransport{Drainer: e.Drainer, Brokers: cfg.Outbox.KafkaBrokers, Topic: cfg.Outbox.KafkaTopic}
	}

	e.Conversation = &conversation.Service{
		R:          e.R,
		Retrieve:   e.Retrieve,
		Affinity:   e.Affinity,
		Provider:   e.Provider,
		Model:      model,
		Cfg:        cfg,
		IdempCache: e.IdempCache,
		Kafka:      e.Kafka,
	}

	return e, nil
}

// Run starts the background workers (outbox drainer or its Kafka
// transport, decay job) and blocks until ctx is canceled or the outbox
// transport fails. cmd/memoryengine calls this under its SIGINT/SIGTERM
// context.
func (e *Engine) Run(ctx context.Context) error {
	log := observability.LoggerWithTrace(ctx)
	errCh := make(chan error, 1)

	go func() {
		var err error
		if e.Kafka != nil {
			err = e.Kafka.Run(ctx)
		} else {
			err = e.Drainer.Run(ctx)
		}
		if err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("outbox transport: %w", err)
			return
		}
		errCh <- nil
	}()
	go e.Decay.Run(ctx)

	select {
	case <-ctx.Done():
		log.Info().Msg("engine shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the Postgres pool and idempotency cache, if opened.
func (e *Engine) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
	if e.IdempCache != nil {
		_ = e.IdempCache.Close()
	}
}

func openPostgresPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = time.Duration(cfg.ConnMaxLifetime) * time.Minute
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func buildVector(cfg config.VectorConfig, pool *pgxpool.Pool) (store.Vector, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemoryVector(cfg.Dimension), nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("postgres vector backend requires database.dsn")
		}
		return store.NewPostgresVector(pool, cfg.Dimension), nil
	case "qdrant":
		return store.NewQdrantVector(cfg.QdrantAddr, cfg.Collection, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", cfg.Backend)
	}
}

// modelFor resolves the active generation model name from whichever
// provider block LLMClientConfig.Provider selects.
func modelFor(cfg config.LLMClientConfig) string {
	switch cfg.Provider {
	case "anthropic":
		return cfg.Anthropic.Model
	case "google":
		return cfg.Google.Model
	default:
		return cfg.OpenAI.Model
	}
}

func buildGraph(cfg config.GraphConfig, pool *pgxpool.Pool) store.Graph {
	switch cfg.Backend {
	case "postgres":
		if pool != nil {
			return store.NewPostgresGraph(pool)
		}
	}
	return store.NewMemoryGraph()
}
