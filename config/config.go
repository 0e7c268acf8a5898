package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/vnmchuo/banana-gateway/internal/provider"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Providers. API keys are not copied here; the registry resolves each
	// descriptor's credential_env through CredentialLookup.
	NanoAPIBaseURL   string // default: https://api.naga.ac
	ProvidersFile    string // optional YAML override of providers and credit costs
	CredentialLookup provider.CredentialLookup
	CircuitBreaker   bool

	// Logging
	LogFormat string // "text" or "json"
	LogLevel  string

	// Observability
	OTELExporterType     string // "stdout", "otlp" or "none"
	OTELExporterEndpoint string // default: "localhost:4317"
	MetricsEnabled       bool

	// Rate Limiting
	DefaultRateLimitTPM int64 // tokens per minute, default: 100000

	RunSeed bool
}

// Load reads the server configuration. POSTGRES_DSN and REDIS_ADDR are
// required.
func Load() (*Config, error) {
	cfg, err := LoadCLI()
	if err != nil {
		return nil, err
	}

	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

// LoadCLI reads the same settings without requiring the database or cache,
// for tools that only talk to upstream providers.
func LoadCLI() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		NanoAPIBaseURL:       getEnv("NANO_API_BASE_URL", provider.DefaultNanoAPIBaseURL),
		ProvidersFile:        os.Getenv("PROVIDERS_FILE"),
		CredentialLookup:     os.LookupEnv,
		LogFormat:            strings.ToLower(getEnv("LOG_FORMAT", "text")),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		OTELExporterType:     strings.ToLower(getEnv("OTEL_EXPORTER_TYPE", "stdout")),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	tpm, err := strconv.ParseInt(getEnv("DEFAULT_RATE_LIMIT_TPM", "100000"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_TPM: %w", err)
	}
	if tpm <= 0 {
		return nil, fmt.Errorf("DEFAULT_RATE_LIMIT_TPM must be positive, got %d", tpm)
	}
	cfg.DefaultRateLimitTPM = tpm

	if cfg.CircuitBreaker, err = getBool("CIRCUIT_BREAKER_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.MetricsEnabled, err = getBool("METRICS_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.RunSeed, err = getBool("RUN_SEED", false); err != nil {
		return nil, err
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q (want text or json)", cfg.LogFormat)
	}
	switch cfg.OTELExporterType {
	case "stdout", "otlp", "none":
	default:
		return nil, fmt.Errorf("invalid OTEL_EXPORTER_TYPE %q (want stdout, otlp or none)", cfg.OTELExporterType)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
