// Package config loads the gateway's configuration from an optional
// YAML file, a .env file, and environment variables: env vars over
// built-in defaults, extended with a structured file so the growing
// set of provider/signing/storage settings doesn't collapse into a
// flat list of ad-hoc env vars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mnemom/aip/pkg/enforcement"
	"github.com/mnemom/aip/pkg/types"
)

// ProviderConfig is one upstream's base URL and the header the
// gateway forwards the caller's credential on.
type ProviderConfig struct {
	BaseURL          string `yaml:"base_url"`
	CredentialHeader string `yaml:"credential_header"`
}

// Config is everything cmd/aip-gateway needs to wire a Gateway.
type Config struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	DatabaseDriver string `yaml:"database_driver"` // "sqlite" or "postgres"
	DatabaseURL    string `yaml:"database_url"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	Providers map[string]ProviderConfig `yaml:"providers"`

	JWTSecret  string `yaml:"jwt_secret"`
	CFAIGToken string `yaml:"cf_aig_token"`

	AnalysisModelAPIKey string `yaml:"analysis_model_api_key"`
	AnalysisModel       string `yaml:"analysis_model"`

	KMSKeystorePath string `yaml:"kms_keystore_path"`

	SlackToken   string `yaml:"slack_token"`
	SlackChannel string `yaml:"slack_channel"`

	DefaultEnforcementMode   string `yaml:"default_enforcement_mode"`
	AutoContainmentThreshold int    `yaml:"auto_containment_threshold"`

	NudgeStrategy            string  `yaml:"nudge_strategy"`
	NudgeSamplingRatePercent float64 `yaml:"nudge_sampling_rate_percent"`
	NudgeThresholdViolations int     `yaml:"nudge_threshold_violations"`

	ObserverPollInterval string `yaml:"observer_poll_interval"`

	ServiceName           string `yaml:"service_name"`
	OTelCollectorEndpoint string `yaml:"otel_collector_endpoint"`

	// ExportS3Bucket gates cold-storage checkpoint archival: the sweep
	// worker is only started when this is set.
	ExportS3Bucket    string `yaml:"export_s3_bucket"`
	ExportS3Region    string `yaml:"export_s3_region"`
	ExportS3Endpoint  string `yaml:"export_s3_endpoint"`
	ExportS3Prefix    string `yaml:"export_s3_prefix"`
	ExportRetention   string `yaml:"export_retention"`
	ExportSweepPeriod string `yaml:"export_sweep_period"`
}

// defaults holds the fallback value of every setting a gateway process
// needs.
func defaults() Config {
	return Config{
		Port:            8080,
		LogLevel:        "INFO",
		DatabaseDriver:  "sqlite",
		DatabaseURL:     "./aip-gateway.db",
		RedisAddr:       "localhost:6379",
		KMSKeystorePath: "./aip-keystore.json",
		Providers: map[string]ProviderConfig{
			"anthropic": {BaseURL: "https://api.anthropic.com", CredentialHeader: "x-api-key"},
			"openai":    {BaseURL: "https://api.openai.com", CredentialHeader: "Authorization"},
			"gemini":    {BaseURL: "https://generativelanguage.googleapis.com", CredentialHeader: "x-goog-api-key"},
		},
		AnalysisModel:            "claude-3-5-haiku-20241022",
		DefaultEnforcementMode:   string(types.EnforcementObserve),
		NudgeStrategy:            string(enforcement.StrategyThreshold),
		NudgeThresholdViolations: 2,
		ObserverPollInterval:     "30s",
		ServiceName:              "aip-gateway",
		ExportS3Region:           "us-east-1",
		ExportRetention:          "720h",
		ExportSweepPeriod:        "1h",
	}
}

// Load reads an optional .env file (via godotenv, silently ignored if
// absent — development convenience only, never required) and an
// optional YAML config file at path, then applies environment
// variable overrides on top of both: a set env var always wins.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	strOverride(&cfg.LogLevel, "LOG_LEVEL")
	strOverride(&cfg.DatabaseDriver, "DATABASE_DRIVER")
	strOverride(&cfg.DatabaseURL, "DATABASE_URL")
	strOverride(&cfg.RedisAddr, "REDIS_ADDR")
	strOverride(&cfg.RedisPassword, "REDIS_PASSWORD")
	strOverride(&cfg.JWTSecret, "JWT_SECRET")
	strOverride(&cfg.CFAIGToken, "CF_AIG_TOKEN")
	strOverride(&cfg.AnalysisModelAPIKey, "ANALYSIS_MODEL_API_KEY")
	strOverride(&cfg.AnalysisModel, "ANALYSIS_MODEL")
	strOverride(&cfg.KMSKeystorePath, "KMS_KEYSTORE_PATH")
	strOverride(&cfg.SlackToken, "SLACK_TOKEN")
	strOverride(&cfg.SlackChannel, "SLACK_CHANNEL")
	strOverride(&cfg.DefaultEnforcementMode, "DEFAULT_ENFORCEMENT_MODE")
	strOverride(&cfg.ServiceName, "SERVICE_NAME")
	strOverride(&cfg.OTelCollectorEndpoint, "OTEL_COLLECTOR_ENDPOINT")
	strOverride(&cfg.ExportS3Bucket, "EXPORT_S3_BUCKET")
	strOverride(&cfg.ExportS3Region, "EXPORT_S3_REGION")
	strOverride(&cfg.ExportS3Endpoint, "EXPORT_S3_ENDPOINT")
	strOverride(&cfg.ExportS3Prefix, "EXPORT_S3_PREFIX")
	strOverride(&cfg.ExportRetention, "EXPORT_RETENTION")
	strOverride(&cfg.ExportSweepPeriod, "EXPORT_SWEEP_PERIOD")

	if v := os.Getenv("AUTO_CONTAINMENT_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AutoContainmentThreshold = n
		}
	}

	if raw := os.Getenv("PROVIDER_BASE_URLS"); raw != "" {
		// NAME=url,NAME=url — lets a deployment override just the
		// provider base URLs without shipping a full YAML file, e.g.
		// to point "anthropic" at a Cloudflare AI Gateway origin.
		for _, pair := range strings.Split(raw, ",") {
			name, url, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			entry := cfg.Providers[name]
			entry.BaseURL = url
			cfg.Providers[name] = entry
		}
	}
}

func strOverride(dst *string, envVar string) {
	if v := os.Getenv(envVar); v != "" {
		*dst = v
	}
}

// EnforcementMode parses DefaultEnforcementMode, falling back to
// observe on anything unrecognized rather than refusing to start.
func (c Config) EnforcementMode() types.EnforcementMode {
	switch types.EnforcementMode(c.DefaultEnforcementMode) {
	case types.EnforcementObserve, types.EnforcementNudge, types.EnforcementEnforce:
		return types.EnforcementMode(c.DefaultEnforcementMode)
	default:
		return types.EnforcementObserve
	}
}

// ExportRetentionDuration parses ExportRetention, falling back to 30
// days on anything unparseable.
func (c Config) ExportRetentionDuration() time.Duration {
	if d, err := time.ParseDuration(c.ExportRetention); err == nil {
		return d
	}
	return 720 * time.Hour
}

// ExportSweepPeriodDuration parses ExportSweepPeriod, falling back to
// one hour on anything unparseable.
func (c Config) ExportSweepPeriodDuration() time.Duration {
	if d, err := time.ParseDuration(c.ExportSweepPeriod); err == nil {
		return d
	}
	return time.Hour
}

// NudgeStrategyKind parses NudgeStrategy the same permissive way.
func (c Config) NudgeStrategyKind() enforcement.Strategy {
	switch enforcement.Strategy(c.NudgeStrategy) {
	case enforcement.StrategyAlways, enforcement.StrategySampling, enforcement.StrategyThreshold, enforcement.StrategyOff:
		return enforcement.Strategy(c.NudgeStrategy)
	default:
		return enforcement.StrategyThreshold
	}
}
