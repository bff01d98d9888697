// Package app reads the process configuration and wires the stores, AI
// clients and services shared by the server, the worker and the CLI.
package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/relgraph/backend/internal/queue"
	"github.com/relgraph/backend/internal/storage"
	"github.com/relgraph/backend/internal/util"
)

const (
	AdapterOpenAI  = "openai"
	AdapterOllama  = "ollama"
	AdapterPattern = "pattern"
)

type Config struct {
	DatabaseURL string
	Port        string
	Debug       bool
	InstanceID  string

	AIAdapter    string
	ChatURL      string
	ChatKey      string
	EmbedURL     string
	EmbedKey     string
	ExtractModel string
	EmbedModel   string
	EmbedDim     int
	AIParallel   int64
	AITimeout    time.Duration

	ExtractConcurrency    int
	ExtractMaxRetries     int
	ExtractRatePerSec     float64
	ExtractRateBurst      int
	ExtractAttemptTimeout time.Duration
	CorroborationStep     float64

	GraphTimeout  time.Duration
	VectorTimeout time.Duration
	VectorK       int
	RetrieveCost  string

	ToolMaxDepth  int
	ToolMaxTopK   int
	ToolMaxBudget int

	LeaseTTL time.Duration

	RabbitMQ          queue.Config
	RetryTTL          time.Duration
	MaxMessageRetries int

	S3           storage.S3Config
	SnapshotKeep int

	FetchUserAgent string
}

// LoadConfig reads the environment. Call util.LoadEnv first to pick up a
// .env file.
func LoadConfig() (Config, error) {
	host, _ := os.Hostname()
	cfg := Config{
		DatabaseURL: util.GetEnv("DATABASE_URL"),
		Port:        util.GetEnvString("PORT", "8080"),
		Debug:       util.GetEnvBool("DEBUG", false),
		InstanceID:  util.GetEnvString("INSTANCE_ID", host),

		AIAdapter:    strings.ToLower(util.GetEnvString("AI_ADAPTER", AdapterOpenAI)),
		ChatURL:      util.GetEnv("AI_CHAT_URL"),
		ChatKey:      util.GetEnv("AI_CHAT_KEY"),
		EmbedURL:     util.GetEnv("AI_EMBED_URL"),
		EmbedKey:     util.GetEnv("AI_EMBED_KEY"),
		ExtractModel: util.GetEnv("AI_EXTRACT_MODEL"),
		EmbedModel:   util.GetEnv("AI_EMBED_MODEL"),
		EmbedDim:     util.GetEnvInt("AI_EMBED_DIM", 1536),
		AIParallel:   int64(util.GetEnvInt("AI_PARALLEL_REQ", 8)),
		AITimeout:    util.GetEnvDuration("AI_TIMEOUT", 2*time.Minute),

		ExtractConcurrency:    util.GetEnvInt("EXTRACT_CONCURRENCY", 4),
		ExtractMaxRetries:     util.GetEnvInt("EXTRACT_MAX_RETRIES", 3),
		ExtractRatePerSec:     util.GetEnvNumeric("EXTRACT_RATE_PER_SEC", 0),
		ExtractRateBurst:      util.GetEnvInt("EXTRACT_RATE_BURST", 1),
		ExtractAttemptTimeout: util.GetEnvDuration("EXTRACT_ATTEMPT_TIMEOUT", 5*time.Minute),
		CorroborationStep:     util.GetEnvNumeric("CONSOLIDATE_CORROBORATION_STEP", 0.05),

		GraphTimeout:  util.GetEnvDuration("RETRIEVE_GRAPH_TIMEOUT", 2*time.Second),
		VectorTimeout: util.GetEnvDuration("RETRIEVE_VECTOR_TIMEOUT", 3*time.Second),
		VectorK:       util.GetEnvInt("RETRIEVE_VECTOR_K", 8),
		RetrieveCost:  strings.ToLower(util.GetEnvString("RETRIEVE_COST", "chars")),

		ToolMaxDepth:  util.GetEnvInt("TOOL_MAX_DEPTH", 4),
		ToolMaxTopK:   util.GetEnvInt("TOOL_MAX_TOP_K", 50),
		ToolMaxBudget: util.GetEnvInt("TOOL_MAX_BUDGET", 32000),

		LeaseTTL: util.GetEnvDuration("SNAPSHOT_LEASE_TTL", 5*time.Minute),

		RabbitMQ: queue.Config{
			User:     util.GetEnvString("RABBITMQ_USER", "guest"),
			Password: util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
			Host:     util.GetEnv("RABBITMQ_HOST"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
		},
		RetryTTL:          util.GetEnvDuration("RABBITMQ_RETRY_TTL", queue.DefaultRetryTTL),
		MaxMessageRetries: util.GetEnvInt("RABBITMQ_MAX_RETRIES", queue.DefaultMaxRetries),

		S3: storage.S3Config{
			Region:    util.GetEnvString("S3_REGION", "us-east-1"),
			Endpoint:  util.GetEnv("S3_ENDPOINT"),
			AccessKey: util.GetEnv("S3_ACCESS_KEY"),
			SecretKey: util.GetEnv("S3_SECRET_KEY"),
			Bucket:    util.GetEnv("S3_BUCKET"),
		},
		SnapshotKeep: util.GetEnvInt("S3_SNAPSHOT_KEEP", 20),

		FetchUserAgent: util.GetEnvString("FETCH_USER_AGENT", "relgraph-backend admin@example.com"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.AIAdapter {
	case AdapterOpenAI, AdapterOllama, AdapterPattern:
	default:
		return fmt.Errorf("AI_ADAPTER must be one of openai, ollama, pattern; got %q", c.AIAdapter)
	}
	if c.AIAdapter != AdapterPattern && c.ExtractModel == "" {
		return fmt.Errorf("AI_EXTRACT_MODEL is required for adapter %s", c.AIAdapter)
	}
	switch c.RetrieveCost {
	case "chars", "tokens":
	default:
		return fmt.Errorf("RETRIEVE_COST must be chars or tokens; got %q", c.RetrieveCost)
	}
	if c.ExtractConcurrency < 1 {
		return fmt.Errorf("EXTRACT_CONCURRENCY must be at least 1")
	}
	if c.ExtractMaxRetries < 0 {
		return fmt.Errorf("EXTRACT_MAX_RETRIES must not be negative")
	}
	return nil
}

func (c Config) QueueEnabled() bool   { return c.RabbitMQ.Host != "" }
func (c Config) ArchiveEnabled() bool { return c.S3.Bucket != "" }
