package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.TopKDense)
	assert.Equal(t, 50, cfg.TopKLex)
	assert.Equal(t, 20, cfg.MMRFinalSize)
	assert.InDelta(t, 0.7, cfg.MMRLambda, 1e-9)
	assert.Equal(t, 20, cfg.RerankTopN)
	assert.Equal(t, 6, cfg.RerankFinalN)
	assert.Equal(t, 4, cfg.ContextK)
	assert.Equal(t, 4096, cfg.PromptMaxTokens)
	assert.Equal(t, 400, cfg.PromptReservedAnswer)
	assert.Equal(t, 200, cfg.PromptOverhead)
	assert.InDelta(t, 0.3, cfg.RAGScoreFallbackThreshold, 1e-9)
	assert.Equal(t, 768, cfg.EmbedDim)
	assert.Equal(t, 8, cfg.EmbedBatchSize)
	assert.Equal(t, 900, cfg.SessionTTLSec)
	assert.Equal(t, 1000, cfg.PayloadCacheMax)
	assert.Equal(t, 300, cfg.PayloadCacheTTLSec)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("TOPK_DENSE", "25")
	t.Setenv("LLM_PROVIDER", "openai")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.TopKDense)
	assert.Equal(t, "openai", cfg.LLMProvider)
}

func TestValidateRejectsBadLambda(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.MMRLambda = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsContextLargerThanFinal(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.ContextK = 10
	cfg.RerankFinalN = 6
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.LLMProvider = "bard"
	assert.Error(t, cfg.Validate())
}
