package config

import (
	"os"
	"strconv"

	"github.com/tessera-kb/tessera/pkg/types"
)

// Overrides are the per-request knobs a caller may set. Nil pointers
// mean "inherit from the next layer down".
type Overrides struct {
	TopK         *int
	Threshold    *float32
	DenseWeight  *float32
	SparseWeight *float32
	Rerank       *bool
	RerankTopN   *int
	Window       *bool
}

// TenantDefaults sits between knowledge-base config and system
// defaults in the resolution chain.
type TenantDefaults struct {
	Retrieval *RetrievalConfig `yaml:"retrieval,omitempty" json:"retrieval,omitempty"`
}

// KBRetrievalParams are the retrieval tunables a knowledge base may pin
// in its retriever operator params. They are decoded from the operator
// param map, so every field is optional.
type KBRetrievalParams struct {
	TopK         int     `mapstructure:"top_k"`
	Threshold    float32 `mapstructure:"threshold"`
	DenseWeight  float32 `mapstructure:"dense_weight"`
	SparseWeight float32 `mapstructure:"sparse_weight"`
	FusionK      int     `mapstructure:"fusion_k"`
}

// Resolve walks the chain request overrides, knowledge-base params,
// tenant defaults, system defaults, environment defaults and returns
// the effective retrieval config. Later layers only fill what earlier
// layers left unset. TopK clamping is reported, not rejected.
func Resolve(ov *Overrides, kb *KBRetrievalParams, tenant *TenantDefaults, system *SystemDefaults) (RetrievalConfig, bool) {
	out := envDefaults()
	if system != nil {
		mergeRetrieval(&out, &system.Retrieval)
	}
	if tenant != nil && tenant.Retrieval != nil {
		mergeRetrieval(&out, tenant.Retrieval)
	}
	if kb != nil {
		if kb.TopK != 0 {
			out.TopK = kb.TopK
		}
		if kb.Threshold != 0 {
			out.Threshold = kb.Threshold
		}
		if kb.DenseWeight != 0 || kb.SparseWeight != 0 {
			out.DenseWeight = kb.DenseWeight
			out.SparseWeight = kb.SparseWeight
		}
		if kb.FusionK != 0 {
			out.FusionK = kb.FusionK
		}
	}
	if ov != nil {
		if ov.TopK != nil {
			out.TopK = *ov.TopK
		}
		if ov.Threshold != nil {
			out.Threshold = *ov.Threshold
		}
		if ov.DenseWeight != nil {
			out.DenseWeight = *ov.DenseWeight
		}
		if ov.SparseWeight != nil {
			out.SparseWeight = *ov.SparseWeight
		}
		if ov.Rerank != nil {
			out.Rerank.Enabled = *ov.Rerank
		}
		if ov.RerankTopN != nil {
			out.Rerank.TopN = *ov.RerankTopN
		}
		if ov.Window != nil {
			out.Window.Enabled = *ov.Window
		}
	}

	out.SetDefaults()
	clamped, adjusted := ClampTopK(out.TopK)
	out.TopK = clamped
	return out, adjusted
}

// envDefaults reads the environment layer at the bottom of the chain.
func envDefaults() RetrievalConfig {
	var out RetrievalConfig
	if v := os.Getenv("TESSERA_DEFAULT_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			out.TopK = k
		}
	}
	if v := os.Getenv("TESSERA_FUSION_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			out.FusionK = k
		}
	}
	return out
}

// mergeRetrieval overlays set fields from layer onto out.
func mergeRetrieval(out, layer *RetrievalConfig) {
	if layer.TopK != 0 {
		out.TopK = layer.TopK
	}
	if layer.Threshold != 0 {
		out.Threshold = layer.Threshold
	}
	if layer.DenseWeight != 0 || layer.SparseWeight != 0 {
		out.DenseWeight = layer.DenseWeight
		out.SparseWeight = layer.SparseWeight
	}
	if layer.FusionK != 0 {
		out.FusionK = layer.FusionK
	}
	if layer.LegTimeout != 0 {
		out.LegTimeout = layer.LegTimeout
	}
	if layer.Rerank.Enabled {
		out.Rerank = layer.Rerank
	}
	if layer.Window.Enabled {
		out.Window = layer.Window
	}
}

// ValidateKBConfigUpdate rejects embedding changes on a knowledge base
// that already has indexed chunks. Other operator swaps only affect
// future ingestion and pass freely.
func ValidateKBConfigUpdate(current, proposed types.KBConfig, indexedChunks int64) error {
	if indexedChunks > 0 && !current.Embedding.Equal(proposed.Embedding) {
		return types.NewError(types.ErrKBConfigError,
			"embedding config cannot change once the knowledge base has indexed chunks; create a new knowledge base and re-ingest")
	}
	return nil
}
