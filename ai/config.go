// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ai

import (
	"net/url"
	"strings"

	"github.com/poiesic/ragcore/core"
)

// Config holds configuration for AI service providers.
type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "embeddinggemma", "text-embedding-3-small"
	EmbeddingModel string

	// EmbeddingDimensions requests a specific vector size from models that
	// support it. Zero leaves the model default.
	EmbeddingDimensions int

	// APIKey authenticates against hosted providers. Local servers accept
	// any token.
	APIKey string

	// GeneratorHost is the base URL for the answer generation API.
	GeneratorHost string

	// GeneratorModel is the chat model used to draft answers from retrieved
	// context. Empty disables answer generation.
	GeneratorModel string
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithGeneratorHost sets the answer generation host URL.
func WithGeneratorHost(host string) ConfigOption {
	return func(c *Config) {
		c.GeneratorHost = host
	}
}

// WithHost sets both embedding and generator hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.GeneratorHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithEmbeddingDimensions sets the requested embedding size.
func WithEmbeddingDimensions(dims int) ConfigOption {
	return func(c *Config) {
		c.EmbeddingDimensions = dims
	}
}

// WithGeneratorModel sets the answer generation model identifier.
func WithGeneratorModel(model string) ConfigOption {
	return func(c *Config) {
		c.GeneratorModel = model
	}
}

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// DefaultConfig returns a Config with sensible defaults for local OpenAI-compatible services.
// Answer generation is disabled until a generator model is set.
func DefaultConfig() *Config {
	defaultHost := "http://localhost:11434/v1"
	return &Config{
		EmbeddingHost:  defaultHost,
		GeneratorHost:  defaultHost,
		EmbeddingModel: "embeddinggemma",
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithHost("https://api.openai.com/v1"),
//	    WithEmbeddingModel("text-embedding-3-small"),
//	    WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// It automatically adds the /v1 suffix to hosts if missing, which is required
// by most OpenAI-compatible APIs (Ollama, LocalAI, vLLM, etc).
func (c *Config) Normalize() {
	c.EmbeddingHost = normalizeHost(c.EmbeddingHost)
	c.GeneratorHost = normalizeHost(c.GeneratorHost)
	if c.GeneratorHost == "" {
		c.GeneratorHost = c.EmbeddingHost
	}
}

func normalizeHost(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}

// RequiresAPIKey reports whether host is a hosted endpoint rather than a
// loopback server.
func RequiresAPIKey(host string) bool {
	u, err := url.Parse(host)
	if err != nil {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1", "":
		return false
	}
	return true
}

// Token returns the bearer token to send. Local servers get a placeholder.
func (c *Config) Token() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return "none"
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
// Failures are configuration errors.
func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return core.Errorf(core.KindConfiguration, "ai config: EmbeddingHost is required")
	}
	if c.EmbeddingModel == "" {
		return core.Errorf(core.KindConfiguration, "ai config: EmbeddingModel is required")
	}
	if c.EmbeddingDimensions < 0 {
		return core.Errorf(core.KindConfiguration, "ai config: EmbeddingDimensions cannot be negative")
	}
	if c.APIKey == "" && RequiresAPIKey(c.EmbeddingHost) {
		return core.Errorf(core.KindConfiguration, "ai config: APIKey is required for %s", c.EmbeddingHost)
	}
	return nil
}
