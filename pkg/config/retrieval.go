package config

import (
	"fmt"
	"time"
)

// Retrieval bounds. TopK outside the range is clamped, not rejected.
const (
	MinTopK     = 1
	MaxTopK     = 50
	DefaultTopK = 10
)

// RetrievalConfig carries the tunables a retrieval request resolves to.
type RetrievalConfig struct {
	TopK int `yaml:"top_k,omitempty"`
	// Threshold drops hits scoring below it. Zero keeps everything.
	Threshold float32 `yaml:"threshold,omitempty"`
	// DenseWeight and SparseWeight apply to weighted hybrid merging.
	DenseWeight  float32 `yaml:"dense_weight,omitempty"`
	SparseWeight float32 `yaml:"sparse_weight,omitempty"`
	// FusionK is the rank constant in reciprocal rank fusion.
	FusionK int `yaml:"fusion_k,omitempty"`
	// LegTimeout bounds each retrieval leg of a composite strategy.
	LegTimeout Duration `yaml:"leg_timeout,omitempty"`

	Rerank RerankConfig `yaml:"rerank,omitempty"`
	Window WindowConfig `yaml:"window,omitempty"`
}

// RerankConfig controls the rerank post-processing step.
type RerankConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
	// TopN truncates the reranked list; zero keeps all survivors.
	TopN int `yaml:"top_n,omitempty"`
}

// WindowConfig controls context window expansion.
type WindowConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
	// Before and After are neighbor counts on each side of a hit.
	Before int `yaml:"before,omitempty"`
	After  int `yaml:"after,omitempty"`
	// MaxTokens caps the assembled context text per hit.
	MaxTokens int `yaml:"max_tokens,omitempty"`
}

func (c *RetrievalConfig) SetDefaults() {
	if c.TopK == 0 {
		c.TopK = DefaultTopK
	}
	if c.DenseWeight == 0 && c.SparseWeight == 0 {
		c.DenseWeight = 0.7
		c.SparseWeight = 0.3
	}
	if c.FusionK <= 0 {
		c.FusionK = 60
	}
	if c.LegTimeout <= 0 {
		c.LegTimeout = Duration(15 * time.Second)
	}
	if c.Window.Enabled {
		if c.Window.Before == 0 && c.Window.After == 0 {
			c.Window.Before = 1
			c.Window.After = 1
		}
		if c.Window.MaxTokens <= 0 {
			c.Window.MaxTokens = 2000
		}
	}
}

func (c *RetrievalConfig) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be in [0,1], got %g", c.Threshold)
	}
	if c.DenseWeight < 0 || c.SparseWeight < 0 {
		return fmt.Errorf("hybrid weights must be non-negative")
	}
	if c.Window.Before < 0 || c.Window.After < 0 {
		return fmt.Errorf("window neighbor counts must be non-negative")
	}
	return nil
}

// ClampTopK forces k into [MinTopK, MaxTopK] and reports whether it was
// adjusted.
func ClampTopK(k int) (int, bool) {
	if k < MinTopK {
		return MinTopK, k != 0
	}
	if k > MaxTopK {
		return MaxTopK, true
	}
	return k, false
}

// SystemDefaults is the bottom of the resolution chain below tenant
// defaults.
type SystemDefaults struct {
	Retrieval RetrievalConfig `yaml:"retrieval,omitempty"`
	// Isolation is the strategy assigned to tenants that do not choose
	// one.
	Isolation string `yaml:"isolation,omitempty"`
}

func (c *SystemDefaults) SetDefaults() {
	c.Retrieval.SetDefaults()
	if c.Isolation == "" {
		c.Isolation = "shared"
	}
}

func (c *SystemDefaults) Validate() error {
	switch c.Isolation {
	case "shared", "per_tenant", "auto":
	default:
		return fmt.Errorf("invalid isolation strategy %q (valid: shared, per_tenant, auto)", c.Isolation)
	}
	return c.Retrieval.Validate()
}
