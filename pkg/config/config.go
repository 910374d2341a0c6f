// Package config defines the service configuration and the per-request
// resolved configuration chain: request overrides, knowledge-base
// config, tenant defaults, system defaults, environment defaults.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML string parsing ("30s", "1m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		var n int64
		if err := value.Decode(&n); err != nil {
			return fmt.Errorf("invalid duration: %s", value.Value)
		}
		*d = Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root service configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Sparse    SparseConfig    `yaml:"sparse"`
	Providers ProvidersConfig `yaml:"providers"`
	Defaults  SystemDefaults  `yaml:"defaults"`
}

// LoggingConfig controls the slog setup.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// StorageConfig selects the relational driver.
type StorageConfig struct {
	// Driver is "sqlite", "postgres", or "memory".
	Driver string `yaml:"driver,omitempty"`
	// DSN is the driver connection string (file path for sqlite).
	DSN string `yaml:"dsn,omitempty"`
}

func (c *StorageConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.Driver == "sqlite" && c.DSN == "" {
		c.DSN = ".tessera/tessera.db"
	}
}

func (c *StorageConfig) Validate() error {
	switch c.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("invalid storage driver %q (valid: sqlite, postgres, memory)", c.Driver)
	}
	if c.Driver == "postgres" && c.DSN == "" {
		return fmt.Errorf("dsn is required for postgres storage")
	}
	return nil
}

// VectorConfig selects the dense store driver.
type VectorConfig struct {
	// Type is "chromem" (embedded) or "qdrant".
	Type      string `yaml:"type,omitempty"`
	Host      string `yaml:"host,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	EnableTLS bool   `yaml:"enable_tls,omitempty"`
	// PersistPath enables chromem file persistence.
	PersistPath string `yaml:"persist_path,omitempty"`
	// SharedCollection names the collection used under shared isolation.
	SharedCollection string `yaml:"shared_collection,omitempty"`
	// AutoThreshold is the per-tenant document count above which the
	// auto isolation strategy switches to per-tenant collections.
	AutoThreshold int64 `yaml:"auto_threshold,omitempty"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Type == "qdrant" && c.Port == 0 {
		c.Port = 6334
	}
	if c.SharedCollection == "" {
		c.SharedCollection = "tessera_chunks"
	}
	if c.AutoThreshold <= 0 {
		c.AutoThreshold = 10000
	}
}

func (c *VectorConfig) Validate() error {
	switch c.Type {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("invalid vector store type %q (valid: chromem, qdrant)", c.Type)
	}
	if c.Type == "qdrant" && c.Host == "" {
		return fmt.Errorf("host is required for qdrant vector store")
	}
	return nil
}

// SparseConfig controls the BM25 store.
type SparseConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
	// K1 and B are the BM25 parameters.
	K1 float64 `yaml:"k1,omitempty"`
	B  float64 `yaml:"b,omitempty"`
	// Normalization is "sigmoid" or "minmax".
	Normalization string `yaml:"normalization,omitempty"`
	// SigmoidThreshold is the absolute raw-score midpoint for sigmoid
	// normalization.
	SigmoidThreshold float64 `yaml:"sigmoid_threshold,omitempty"`
}

func (c *SparseConfig) SetDefaults() {
	if c.K1 <= 0 {
		c.K1 = 1.2
	}
	if c.B <= 0 {
		c.B = 0.75
	}
	if c.Normalization == "" {
		c.Normalization = "sigmoid"
	}
	if c.SigmoidThreshold == 0 {
		c.SigmoidThreshold = 5.0
	}
}

func (c *SparseConfig) Validate() error {
	switch c.Normalization {
	case "sigmoid", "minmax":
	default:
		return fmt.Errorf("invalid sparse normalization %q (valid: sigmoid, minmax)", c.Normalization)
	}
	return nil
}

// ProviderConfig configures one model provider endpoint.
type ProviderConfig struct {
	// Type is "openai" (any OpenAI-compatible endpoint) or "ollama".
	Type    string   `yaml:"type"`
	BaseURL string   `yaml:"base_url,omitempty"`
	APIKey  string   `yaml:"api_key,omitempty"`
	// FallbackAPIKey is tried when the primary key fails auth.
	FallbackAPIKey string   `yaml:"fallback_api_key,omitempty"`
	Model          string   `yaml:"model,omitempty"`
	Dimension      int      `yaml:"dimension,omitempty"`
	Timeout        Duration `yaml:"timeout,omitempty"`
	MaxRetries     int      `yaml:"max_retries,omitempty"`
}

func (c *ProviderConfig) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = Duration(30 * time.Second)
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// ProvidersConfig groups the model providers the core consumes.
type ProvidersConfig struct {
	Embedding *ProviderConfig `yaml:"embedding,omitempty"`
	LLM       *ProviderConfig `yaml:"llm,omitempty"`
	Rerank    *ProviderConfig `yaml:"rerank,omitempty"`
}

func (c *ProvidersConfig) SetDefaults() {
	if c.Embedding != nil {
		c.Embedding.SetDefaults()
	}
	if c.LLM != nil {
		c.LLM.SetDefaults()
	}
	if c.Rerank != nil {
		c.Rerank.SetDefaults()
	}
}

// SetDefaults applies defaults across the whole config.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Storage.SetDefaults()
	c.Vector.SetDefaults()
	c.Sparse.SetDefaults()
	c.Providers.SetDefaults()
	c.Defaults.SetDefaults()
}

// Validate checks the whole config.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	if err := c.Sparse.Validate(); err != nil {
		return fmt.Errorf("sparse: %w", err)
	}
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references with environment values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads, expands, defaults, and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
