// Package config provides configuration loading for the application.
// Everything comes from environment variables with sensible defaults, in
// line with container deployments; the strategy catalog and feature specs
// live in YAML files whose paths are configured here.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// HTTP server port.
	Port string

	// StorePath is the SQLite database path; empty selects the in-memory
	// store.
	StorePath string

	// YAML file paths.
	CatalogPath  string
	FeaturesPath string

	// OpenTelemetry endpoint for observability; empty disables tracing.
	OtelEndpoint string

	// Recompute engine sizing.
	Workers   int
	QueueSize int

	// Pull signal source.
	SignalSourceName string
	SignalSourceURL  string
	SignalSourceKey  string
	SignalSourceRPS  float64
	Instruments      []string
	PollInterval     time.Duration

	// Push signal source.
	NATSEnabled bool
	NATSURL     string
	NATSSubject string

	// Signal circuit breaker.
	GuardMaxAbsValue  float64
	GuardMaxJumpRatio float64
	GuardMinFeatures  int
	GuardResetDelay   time.Duration

	// Recommendation export.
	ExportWebhookURL string
	ExportAPIKey     string
	ExportBatchSize  int
	ExportInterval   time.Duration

	// Recommendation signing.
	AttestEnabled bool

	// Cron specs for the periodic jobs.
	CatalogReloadSpec string
	StaleSweepSpec    string
}

// Load creates a Config from environment variables.
func Load() Config {
	return Config{
		Port:         GetEnvOrDefault("PORT", "8080"),
		StorePath:    GetEnvOrDefault("STORE_PATH", ""),
		CatalogPath:  GetEnvOrDefault("CATALOG_PATH", "configs/catalog.yaml"),
		FeaturesPath: GetEnvOrDefault("FEATURES_PATH", "configs/features.yaml"),
		OtelEndpoint: GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		Workers:   GetEnvAsInt("RECOMPUTE_WORKERS", 4),
		QueueSize: GetEnvAsInt("RECOMPUTE_QUEUE_SIZE", 1024),

		SignalSourceName: GetEnvOrDefault("SIGNAL_SOURCE_NAME", "primary"),
		SignalSourceURL:  GetEnvOrDefault("SIGNAL_SOURCE_URL", ""),
		SignalSourceKey:  GetEnvOrDefault("SIGNAL_SOURCE_API_KEY", ""),
		SignalSourceRPS:  GetEnvAsFloat("SIGNAL_SOURCE_RPS", 5.0),
		Instruments:      splitList(GetEnvOrDefault("INSTRUMENTS", "")),
		PollInterval:     GetEnvAsDuration("SIGNAL_POLL_INTERVAL", time.Minute),

		NATSEnabled: GetEnvAsBool("NATS_ENABLED", false),
		NATSURL:     GetEnvOrDefault("NATS_URL", "nats://localhost:4222"),
		NATSSubject: GetEnvOrDefault("NATS_SUBJECT", "signals.>"),

		GuardMaxAbsValue:  GetEnvAsFloat("GUARD_MAX_ABS_VALUE", 1e9),
		GuardMaxJumpRatio: GetEnvAsFloat("GUARD_MAX_JUMP_RATIO", 10.0),
		GuardMinFeatures:  GetEnvAsInt("GUARD_MIN_FEATURES", 1),
		GuardResetDelay:   GetEnvAsDuration("GUARD_RESET_DELAY", 5*time.Minute),

		ExportWebhookURL: GetEnvOrDefault("EXPORT_WEBHOOK_URL", ""),
		ExportAPIKey:     GetEnvOrDefault("EXPORT_WEBHOOK_API_KEY", ""),
		ExportBatchSize:  GetEnvAsInt("EXPORT_BATCH_SIZE", 100),
		ExportInterval:   GetEnvAsDuration("EXPORT_INTERVAL", time.Minute),

		AttestEnabled: GetEnvAsBool("ATTEST_ENABLED", false),

		CatalogReloadSpec: GetEnvOrDefault("CATALOG_RELOAD_SPEC", "@every 1m"),
		StaleSweepSpec:    GetEnvOrDefault("STALE_SWEEP_SPEC", "@every 30s"),
	}
}

// GetEnv retrieves an environment variable and whether it exists.
func GetEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// GetEnvOrDefault retrieves an environment variable or the default.
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer.
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float.
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean.
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration.
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
