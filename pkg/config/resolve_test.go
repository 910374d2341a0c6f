package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-kb/tessera/pkg/types"
)

func intPtr(v int) *int         { return &v }
func f32Ptr(v float32) *float32 { return &v }
func boolPtr(v bool) *bool      { return &v }

func TestResolveChainPrecedence(t *testing.T) {
	system := &SystemDefaults{}
	system.SetDefaults()
	system.Retrieval.TopK = 8

	tenant := &TenantDefaults{Retrieval: &RetrievalConfig{TopK: 12, Threshold: 0.2}}
	kb := &KBRetrievalParams{TopK: 20}

	cfg, clamped := Resolve(nil, kb, tenant, system)
	assert.False(t, clamped)
	assert.Equal(t, 20, cfg.TopK, "kb params override tenant defaults")
	assert.InDelta(t, 0.2, cfg.Threshold, 1e-6, "tenant threshold survives when kb is silent")

	cfg, clamped = Resolve(&Overrides{TopK: intPtr(5)}, kb, tenant, system)
	assert.False(t, clamped)
	assert.Equal(t, 5, cfg.TopK, "request overrides win over everything")
}

func TestResolveTopKClamp(t *testing.T) {
	cfg, clamped := Resolve(&Overrides{TopK: intPtr(500)}, nil, nil, nil)
	assert.True(t, clamped)
	assert.Equal(t, MaxTopK, cfg.TopK)

	cfg, clamped = Resolve(&Overrides{TopK: intPtr(-3)}, nil, nil, nil)
	assert.True(t, clamped)
	assert.Equal(t, MinTopK, cfg.TopK)
}

func TestResolveDefaults(t *testing.T) {
	cfg, clamped := Resolve(nil, nil, nil, nil)
	assert.False(t, clamped)
	assert.Equal(t, DefaultTopK, cfg.TopK)
	assert.Equal(t, 60, cfg.FusionK)
	assert.InDelta(t, 0.7, cfg.DenseWeight, 1e-6)
	assert.InDelta(t, 0.3, cfg.SparseWeight, 1e-6)
}

func TestResolveEnvLayer(t *testing.T) {
	t.Setenv("TESSERA_DEFAULT_TOP_K", "7")

	cfg, _ := Resolve(nil, nil, nil, nil)
	assert.Equal(t, 7, cfg.TopK, "env default applies when nothing above sets top_k")

	tenant := &TenantDefaults{Retrieval: &RetrievalConfig{TopK: 9}}
	cfg, _ = Resolve(nil, nil, tenant, nil)
	assert.Equal(t, 9, cfg.TopK, "tenant defaults shadow the env layer")
}

func TestResolveHybridWeightOverrides(t *testing.T) {
	cfg, _ := Resolve(&Overrides{DenseWeight: f32Ptr(0.5), SparseWeight: f32Ptr(0.5)}, nil, nil, nil)
	assert.InDelta(t, 0.5, cfg.DenseWeight, 1e-6)
	assert.InDelta(t, 0.5, cfg.SparseWeight, 1e-6)

	cfg, _ = Resolve(&Overrides{Rerank: boolPtr(true), Window: boolPtr(true)}, nil, nil, nil)
	assert.True(t, cfg.Rerank.Enabled)
	assert.True(t, cfg.Window.Enabled)
	assert.Equal(t, 1, cfg.Window.Before, "enabling the window fills neighbor defaults")
	assert.Equal(t, 2000, cfg.Window.MaxTokens)
}

func TestValidateKBConfigUpdate(t *testing.T) {
	current := types.KBConfig{
		Embedding: types.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimension: 1536},
	}

	changedModel := current
	changedModel.Embedding.Model = "text-embedding-3-large"
	changedModel.Embedding.Dimension = 3072

	err := ValidateKBConfigUpdate(current, changedModel, 0)
	require.NoError(t, err, "embedding may change while nothing is indexed")

	err = ValidateKBConfigUpdate(current, changedModel, 1)
	require.Error(t, err)
	var coded *types.Error
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, types.ErrKBConfigError, coded.Code)

	swapRetriever := current
	swapRetriever.Retriever = types.OperatorRef{Name: "hybrid"}
	err = ValidateKBConfigUpdate(current, swapRetriever, 100)
	assert.NoError(t, err, "non-embedding operator swaps are allowed after indexing")
}
