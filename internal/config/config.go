// Package config loads the engine's single YAML configuration file into a
// tree of nested structs. Values are defaulted the way manifold's original
// loader defaulted Auth/Ingestion: apply the default and log a warning
// rather than fail startup.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig points at the relational store (R) — turns, memories,
// outbox, idempotency keys, affinity history, conflict records.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxConns        int32  `yaml:"max_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// VectorConfig selects and configures the vector store (V).
type VectorConfig struct {
	Backend    string `yaml:"backend"` // "postgres" | "qdrant" | "memory"
	Dimension  int    `yaml:"dimension"`
	Metric     string `yaml:"metric"` // "cosine" (default)
	QdrantAddr string `yaml:"qdrant_addr"`
	Collection string `yaml:"collection"`
}

// GraphConfig selects and configures the graph store (G).
type GraphConfig struct {
	Backend         string  `yaml:"backend"` // "postgres" | "memory"
	DefaultDecay    float64 `yaml:"default_decay_rate"`
	MinFloor        float64 `yaml:"min_floor"`
	DecayPageSize   int     `yaml:"decay_page_size"`
	DecayBatchSleep int     `yaml:"decay_batch_sleep_ms"`
}

// EmbeddingConfig configures the HTTP embedding oracle client.
type EmbeddingConfig struct {
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	Path      string `yaml:"path"`
	APIHeader string `yaml:"api_header"` // "Authorization" or a custom header name
	APIKey    string `yaml:"api_key"`
	Timeout   int    `yaml:"timeout_seconds"`
}

// OpenAIConfig configures the OpenAI-compatible generation client.
type OpenAIConfig struct {
	APIKey         string         `yaml:"api_key"`
	Model          string         `yaml:"model"`
	BaseURL        string         `yaml:"base_url"`
	SummaryBaseURL string         `yaml:"summary_base_url"`
	SummaryModel   string         `yaml:"summary_model"`
	API            string         `yaml:"api"` // "completions" | "responses"
	LogPayloads    bool           `yaml:"log_payloads"`
	ExtraParams    map[string]any `yaml:"extra_params"`
}

// AnthropicPromptCacheConfig controls Anthropic prompt caching of tool/system blocks.
type AnthropicPromptCacheConfig struct {
	Enabled       bool `yaml:"enabled"`
	CacheSystem   bool `yaml:"cache_system"`
	CacheTools    bool `yaml:"cache_tools"`
	CacheMessages bool `yaml:"cache_messages"`
}

// AnthropicConfig configures the Anthropic generation client.
type AnthropicConfig struct {
	APIKey      string                      `yaml:"api_key"`
	Model       string                      `yaml:"model"`
	BaseURL     string                      `yaml:"base_url"`
	ExtraParams map[string]any              `yaml:"extra_params"`
	PromptCache AnthropicPromptCacheConfig  `yaml:"prompt_cache"`
}

// GoogleConfig configures the Gemini generation client.
type GoogleConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout_seconds"`
}

// LLMClientConfig picks and configures the generation oracle backend.
type LLMClientConfig struct {
	Provider  string          `yaml:"provider"` // "openai" | "local" | "anthropic" | "google"
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Google    GoogleConfig    `yaml:"google"`
}

// OracleConfig bundles the two model oracles (embed, generate) the core depends on.
type OracleConfig struct {
	Embeddings       EmbeddingConfig `yaml:"embeddings"`
	LLMClient        LLMClientConfig `yaml:"llm_client"`
	GenerateTimeout  int             `yaml:"generate_timeout_seconds"`   // default 30
	EmbedTimeout     int             `yaml:"embed_timeout_seconds"`      // default 20
	FastExtractMs    int             `yaml:"fast_extract_timeout_ms"`    // default 800
}

// OutboxConfig tunes the drainer's worker pool, retry schedule, and DLQ path.
type OutboxConfig struct {
	Workers             int     `yaml:"workers"`               // default = NumCPU
	ClaimBatchSize      int     `yaml:"claim_batch_size"`      // default 10
	MaxRetries          int     `yaml:"max_retries"`           // default 8
	BackoffBase         float64 `yaml:"backoff_base_seconds"`  // default 1
	BackoffCap          float64 `yaml:"backoff_cap_seconds"`   // default 300
	ProcessingTimeoutMin int    `yaml:"processing_timeout_minutes"` // default 10
	ReconcilerInterval   int    `yaml:"reconciler_interval_seconds"` // default 60
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"` // default 0.35
	UseKafka            bool    `yaml:"use_kafka"`
	KafkaBrokers        []string `yaml:"kafka_brokers"`
	KafkaTopic          string  `yaml:"kafka_topic"`
}

// AffinityConfig tunes the bounded-scalar affinity subsystem.
type AffinityConfig struct {
	Alpha1UserInitiated   float64 `yaml:"alpha1_user_initiated"`   // default 0.03
	Alpha2Valence         float64 `yaml:"alpha2_valence"`          // default 0.05
	Alpha3Confirmation    float64 `yaml:"alpha3_confirmation"`     // default 0.02
	Alpha4Correction      float64 `yaml:"alpha4_correction"`       // default 0.05
	Alpha5SilenceDays     float64 `yaml:"alpha5_silence_days"`     // default 0.01
	Default               float64 `yaml:"default"`                 // default 0.5
}

// RetrievalConfig tunes hybrid retrieval's fusion weights and bounds.
type RetrievalConfig struct {
	TopK             int     `yaml:"top_k"`              // default 20
	TopKVector       int     `yaml:"top_k_vector"`       // default 32
	MaxHops          int     `yaml:"max_hops"`            // default 3
	MaxNodesPerHop   int     `yaml:"max_nodes_per_hop"`   // default 50
	WeightCosine     float64 `yaml:"weight_cosine"`       // default 0.55
	WeightEdge       float64 `yaml:"weight_edge"`         // default 0.20
	WeightRecency    float64 `yaml:"weight_recency"`      // default 0.15
	WeightAffinity   float64 `yaml:"weight_affinity"`     // default 0.10
	RecencyHalfLifeDays float64 `yaml:"recency_half_life_days"` // default 30
	RecentBoostDays  int     `yaml:"recent_boost_days"`   // default 7
	RecentBoostScore float64 `yaml:"recent_boost_score"`  // default 0.15
}

// RateLimitConfig tunes the per-client-IP token bucket in front of C.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"` // default 100
	LRUCapacity       int `yaml:"lru_capacity"`        // default 10000
	RedisAddr         string `yaml:"redis_addr"`
}

// ObsConfig controls OpenTelemetry tracing/metrics export.
type ObsConfig struct {
	OTLP           string `yaml:"otlp"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
}

// IdempotencyConfig tunes the TTL-bounded idempotency-key cache.
type IdempotencyConfig struct {
	TTLMinutes int    `yaml:"ttl_minutes"` // default 60
	RedisAddr  string `yaml:"redis_addr"`
}

type Config struct {
	Host        string            `yaml:"host"`
	Port        int               `yaml:"port"`
	LogLevel    string            `yaml:"log_level"`
	LogPath     string            `yaml:"log_path"`
	Database    DatabaseConfig    `yaml:"database"`
	Vector      VectorConfig      `yaml:"vector"`
	Graph       GraphConfig       `yaml:"graph"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Outbox      OutboxConfig      `yaml:"outbox"`
	Affinity    AffinityConfig    `yaml:"affinity"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Obs         ObsConfig         `yaml:"otel"`
}

// LoadConfig reads the YAML configuration file at path, unmarshals it, and
// fills in defaults for anything left at its zero value.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDefaults(&cfg)
	log.Info().Str("path", path).Msg("configuration loaded")
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Vector.Dimension <= 0 {
		cfg.Vector.Dimension = 1024
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "memory"
	}
	if cfg.Vector.Metric == "" {
		cfg.Vector.Metric = "cosine"
	}
	if cfg.Graph.Backend == "" {
		cfg.Graph.Backend = "memory"
	}
	if cfg.Graph.DefaultDecay <= 0 {
		cfg.Graph.DefaultDecay = 0.03
	}
	if cfg.Graph.MinFloor <= 0 {
		cfg.Graph.MinFloor = 0.01
	}
	if cfg.Graph.DecayPageSize <= 0 {
		cfg.Graph.DecayPageSize = 1000
	}
	if cfg.Oracle.GenerateTimeout <= 0 {
		cfg.Oracle.GenerateTimeout = 30
		log.Warn().Msg("no generate timeout configured, defaulting to 30s")
	}
	if cfg.Oracle.EmbedTimeout <= 0 {
		cfg.Oracle.EmbedTimeout = 20
	}
	if cfg.Oracle.FastExtractMs <= 0 {
		cfg.Oracle.FastExtractMs = 800
	}
	if cfg.Outbox.Workers <= 0 {
		cfg.Outbox.Workers = runtime.NumCPU()
		log.Info().Int("workers", cfg.Outbox.Workers).Msg("no outbox worker count specified, defaulting to CPU count")
	}
	if cfg.Outbox.ClaimBatchSize <= 0 {
		cfg.Outbox.ClaimBatchSize = 10
	}
	if cfg.Outbox.MaxRetries <= 0 {
		cfg.Outbox.MaxRetries = 8
	}
	if cfg.Outbox.BackoffBase <= 0 {
		cfg.Outbox.BackoffBase = 1
	}
	if cfg.Outbox.BackoffCap <= 0 {
		cfg.Outbox.BackoffCap = 300
	}
	if cfg.Outbox.ProcessingTimeoutMin <= 0 {
		cfg.Outbox.ProcessingTimeoutMin = 10
	}
	if cfg.Outbox.ReconcilerInterval <= 0 {
		cfg.Outbox.ReconcilerInterval = 60
	}
	if cfg.Outbox.LowConfidenceThreshold <= 0 {
		cfg.Outbox.LowConfidenceThreshold = 0.35
	}
	if cfg.Affinity.Alpha1UserInitiated == 0 {
		cfg.Affinity.Alpha1UserInitiated = 0.03
	}
	if cfg.Affinity.Alpha2Valence == 0 {
		cfg.Affinity.Alpha2Valence = 0.05
	}
	if cfg.Affinity.Alpha3Confirmation == 0 {
		cfg.Affinity.Alpha3Confirmation = 0.02
	}
	if cfg.Affinity.Alpha4Correction == 0 {
		cfg.Affinity.Alpha4Correction = 0.05
	}
	if cfg.Affinity.Alpha5SilenceDays == 0 {
		cfg.Affinity.Alpha5SilenceDays = 0.01
	}
	if cfg.Affinity.Default == 0 {
		cfg.Affinity.Default = 0.5
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 20
	}
	if cfg.Retrieval.TopKVector <= 0 {
		cfg.Retrieval.TopKVector = 32
	}
	if cfg.Retrieval.MaxHops <= 0 {
		cfg.Retrieval.MaxHops = 3
	}
	if cfg.Retrieval.MaxNodesPerHop <= 0 {
		cfg.Retrieval.MaxNodesPerHop = 50
	}
	if cfg.Retrieval.WeightCosine == 0 {
		cfg.Retrieval.WeightCosine = 0.55
	}
	if cfg.Retrieval.WeightEdge == 0 {
		cfg.Retrieval.WeightEdge = 0.20
	}
	if cfg.Retrieval.WeightRecency == 0 {
		cfg.Retrieval.WeightRecency = 0.15
	}
	if cfg.Retrieval.WeightAffinity == 0 {
		cfg.Retrieval.WeightAffinity = 0.10
	}
	if cfg.Retrieval.RecencyHalfLifeDays <= 0 {
		cfg.Retrieval.RecencyHalfLifeDays = 30
	}
	if cfg.Retrieval.RecentBoostDays <= 0 {
		cfg.Retrieval.RecentBoostDays = 7
	}
	if cfg.Retrieval.RecentBoostScore == 0 {
		cfg.Retrieval.RecentBoostScore = 0.15
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 100
	}
	if cfg.RateLimit.LRUCapacity <= 0 {
		cfg.RateLimit.LRUCapacity = 10000
	}
	if cfg.Idempotency.TTLMinutes <= 0 {
		cfg.Idempotency.TTLMinutes = 60
	}
	if cfg.Obs.ServiceName == "" {
		cfg.Obs.ServiceName = "memoryengine"
	}
}

// IdempotencyTTL returns the configured idempotency TTL as a duration.
func (c Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.Idempotency.TTLMinutes) * time.Minute
}
