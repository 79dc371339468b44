// Package config loads ragcore settings from an optional .env file, an
// optional YAML file and the process environment.
//
// Precedence (highest to lowest):
//  1. Environment variables (EMBEDDING_BATCH_SIZE, CACHE_TTL_HOURS, ...)
//  2. YAML config file, using the lower-cased variable names as keys
//  3. Defaults
//
// A .env file only fills variables that are not already set.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/poiesic/ragcore/ai"
	"github.com/poiesic/ragcore/chunker"
	"github.com/poiesic/ragcore/core"
	"github.com/poiesic/ragcore/embedding"
	"github.com/poiesic/ragcore/ingestion"
	"github.com/poiesic/ragcore/progress"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Vector store backends.
const (
	BackendBadger  = "badger"
	BackendChromem = "chromem"
)

// Config holds every setting of a ragcore engine.
type Config struct {
	// Embedding provider
	EmbeddingHost        string        `koanf:"embedding_host"`
	EmbeddingModel       string        `koanf:"embedding_model"`
	EmbeddingDimensions  int           `koanf:"embedding_dimensions"`
	APIKey               string        `koanf:"openai_api_key"`
	EmbeddingBatchSize   int           `koanf:"embedding_batch_size"`
	EmbeddingMaxRetries  int           `koanf:"embedding_max_retries"`
	EmbeddingCallTimeout time.Duration `koanf:"embedding_call_timeout"`
	EmbeddingRPS         float64       `koanf:"embedding_rps"`
	EmbeddingBurst       int           `koanf:"embedding_burst"`

	// Answer generation; an empty model disables it.
	GeneratorHost  string `koanf:"generator_host"`
	GeneratorModel string `koanf:"generator_model"`

	// Cache
	CacheTTLHours int `koanf:"cache_ttl_hours"`

	// Ingestion
	IngestRequestTimeout time.Duration `koanf:"ingest_request_timeout"`
	IngestPoolSize       int           `koanf:"ingest_pool_size"`
	ChunkMaxChars        int           `koanf:"chunk_max_chars"`
	ChunkOverlapChars    int           `koanf:"chunk_overlap_chars"`

	// Storage. An empty DataDir keeps everything in memory.
	VectorBackend string `koanf:"vector_backend"`
	DataDir       string `koanf:"data_dir"`

	// Serving and progress
	HTTPAddr           string `koanf:"http_addr"`
	NATSURL            string `koanf:"nats_url"`
	ProgressBufferSize int    `koanf:"progress_buffer_size"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		EmbeddingHost:        aiDefaults.EmbeddingHost,
		EmbeddingModel:       aiDefaults.EmbeddingModel,
		EmbeddingBatchSize:   embedding.DefaultBatchSize,
		EmbeddingMaxRetries:  embedding.DefaultMaxRetries,
		EmbeddingCallTimeout: embedding.DefaultCallTimeout,
		EmbeddingBurst:       1,
		CacheTTLHours:        24,
		IngestRequestTimeout: ingestion.DefaultRequestTimeout,
		ChunkMaxChars:        chunker.DefaultMaxChars,
		ChunkOverlapChars:    chunker.DefaultOverlapChars,
		VectorBackend:        BackendBadger,
		HTTPAddr:             ":8080",
		ProgressBufferSize:   progress.DefaultBufferSize,
	}
}

// Load builds a Config from envFile, configFile and the environment, then
// validates it. Either path may be empty. A missing envFile is ignored; a
// missing configFile is an error.
func Load(envFile, configFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, core.Errorf(core.KindConfiguration, "failed to load .env file: %w", err)
		}
	}

	k := koanf.New(".")

	if configFile != "" {
		content, err := readConfigFile(configFile)
		if err != nil {
			return nil, core.NewError(core.KindConfiguration, err.Error(), err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, core.Errorf(core.KindConfiguration, "failed to load config file %s: %w", configFile, err)
		}
	}

	// EMBEDDING_BATCH_SIZE -> embedding_batch_size
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, core.Errorf(core.KindConfiguration, "failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, core.Errorf(core.KindConfiguration, "failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return io.ReadAll(f)
}

// AI returns the provider configuration.
func (c *Config) AI() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.EmbeddingHost),
		ai.WithGeneratorHost(c.GeneratorHost),
		ai.WithEmbeddingModel(c.EmbeddingModel),
		ai.WithEmbeddingDimensions(c.EmbeddingDimensions),
		ai.WithGeneratorModel(c.GeneratorModel),
		ai.WithAPIKey(c.APIKey),
	)
}

// CacheTTL returns the page cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// Validate checks that the configuration is complete and consistent.
// Failures are configuration errors.
func (c *Config) Validate() error {
	if err := c.AI().Validate(); err != nil {
		return err
	}

	switch {
	case c.EmbeddingBatchSize <= 0:
		return invalid("EMBEDDING_BATCH_SIZE must be greater than zero")
	case c.EmbeddingMaxRetries < 0:
		return invalid("EMBEDDING_MAX_RETRIES cannot be negative")
	case c.EmbeddingCallTimeout <= 0:
		return invalid("EMBEDDING_CALL_TIMEOUT must be greater than zero")
	case c.EmbeddingRPS < 0:
		return invalid("EMBEDDING_RPS cannot be negative")
	case c.EmbeddingRPS > 0 && c.EmbeddingBurst <= 0:
		return invalid("EMBEDDING_BURST must be greater than zero when EMBEDDING_RPS is set")
	case c.CacheTTLHours <= 0:
		return invalid("CACHE_TTL_HOURS must be greater than zero")
	case c.IngestRequestTimeout <= 0:
		return invalid("INGEST_REQUEST_TIMEOUT must be greater than zero")
	case c.IngestPoolSize < 0:
		return invalid("INGEST_POOL_SIZE cannot be negative")
	case c.ProgressBufferSize <= 0:
		return invalid("PROGRESS_BUFFER_SIZE must be greater than zero")
	}

	if _, err := chunker.Count(0, c.ChunkMaxChars, c.ChunkOverlapChars); err != nil {
		return core.Errorf(core.KindConfiguration, "config: CHUNK_MAX_CHARS/CHUNK_OVERLAP_CHARS: %w", err)
	}

	switch c.VectorBackend {
	case BackendBadger, BackendChromem:
	default:
		return invalid(fmt.Sprintf("VECTOR_BACKEND must be %q or %q, got %q", BackendBadger, BackendChromem, c.VectorBackend))
	}
	return nil
}

func invalid(message string) error {
	return core.NewError(core.KindConfiguration, "config: "+message, nil)
}
