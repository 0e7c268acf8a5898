package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/banana-gateway/internal/provider"
)

func setRequired(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/banana")
	t.Setenv("REDIS_ADDR", "localhost:6379")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, provider.DefaultNanoAPIBaseURL, cfg.NanoAPIBaseURL)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "stdout", cfg.OTELExporterType)
	assert.Equal(t, int64(100000), cfg.DefaultRateLimitTPM)
	assert.False(t, cfg.CircuitBreaker)
	assert.True(t, cfg.MetricsEnabled)
	assert.NotNil(t, cfg.CredentialLookup)
}

func TestLoad_RequiresDatabaseAndCache(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	_, err := Load()
	assert.ErrorContains(t, err, "POSTGRES_DSN")

	t.Setenv("POSTGRES_DSN", "postgres://localhost/banana")
	t.Setenv("REDIS_ADDR", "")
	_, err = Load()
	assert.ErrorContains(t, err, "REDIS_ADDR")

	// the CLI does not need either
	_, err = LoadCLI()
	assert.NoError(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"DEFAULT_RATE_LIMIT_TPM":  "lots",
		"CIRCUIT_BREAKER_ENABLED": "maybe",
		"LOG_FORMAT":              "xml",
		"OTEL_EXPORTER_TYPE":      "zipkin",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("OTEL_EXPORTER_TYPE", "none")
	t.Setenv("CIRCUIT_BREAKER_ENABLED", "true")
	t.Setenv("NANO_API_BASE_URL", "http://nano.local")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "none", cfg.OTELExporterType)
	assert.True(t, cfg.CircuitBreaker)
	assert.Equal(t, "http://nano.local", cfg.NanoAPIBaseURL)
}

func TestLoadProviders_Defaults(t *testing.T) {
	descs, prices, err := LoadProviders("", "http://nano.local")
	require.NoError(t, err)

	require.Len(t, descs, 2)
	assert.Equal(t, provider.NanoAPI, descs[0].ID)
	assert.Equal(t, "http://nano.local", descs[0].BaseURL)
	assert.Equal(t, "0.35", prices.CostFor("nano_api", "gemini-3-pro-image-preview").String())
}

func TestLoadProviders_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	err := os.WriteFile(path, []byte(`
providers:
  - id: openrouter
    kind: openai
    base_url: https://openrouter.ai/api/v1
    credential_env: OPENROUTER_API_KEY
    priority: 1
  - id: nano_api
    kind: gemini
    base_url: https://api.naga.ac
    credential_env: NANO_API_KEY
    enabled: false
    priority: 2
    model_mapping:
      google/gemini-2.5-flash: gemini-2.5-flash
credit_costs:
  openrouter:
    google/gemini-2.5-flash-image-preview: "0.10"
`), 0o600)
	require.NoError(t, err)

	descs, prices, err := LoadProviders(path, "")
	require.NoError(t, err)

	require.Len(t, descs, 2)
	assert.Equal(t, provider.OpenRouter, descs[0].ID)
	assert.Equal(t, provider.KindOpenAI, descs[0].Kind)
	assert.Equal(t, "OPENROUTER_API_KEY", descs[0].CredentialKey)
	assert.True(t, descs[0].Enabled)
	assert.False(t, descs[1].Enabled)
	assert.Equal(t, "gemini-2.5-flash", descs[1].ModelMapping["google/gemini-2.5-flash"])

	assert.Equal(t, "0.1", prices.CostFor("openrouter", "google/gemini-2.5-flash-image-preview").String())
	assert.True(t, prices.CostFor("nano_api", "gemini-3-pro-image-preview").IsZero())
}

func TestLoadProviders_Errors(t *testing.T) {
	_, _, err := LoadProviders(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("credit_costs:\n  nano_api:\n    m: free\n"), 0o600))
	_, _, err = LoadProviders(path, "")
	assert.Error(t, err)
}
