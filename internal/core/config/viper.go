package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/solatis/watchkeeper/internal/notify"
)

// secretKeys may never appear in a config file.
var secretKeys = []string{
	"token", "ha_token", "pushover_token", "pushover_user",
	"webhook_secret", "minio.access_key", "minio.secret_key",
}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults matching DefaultConfig
	d := DefaultConfig()
	v.SetDefault("engine.min_delay", d.Engine.MinDelay.String())
	v.SetDefault("engine.score_threshold", d.Engine.ScoreThreshold)
	v.SetDefault("engine.ignore_unbounded_detections", false)
	v.SetDefault("engine.reconcile_interval", d.Engine.ReconcileInterval.String())
	v.SetDefault("engine.snapshot_width", d.Engine.SnapshotWidth)
	v.SetDefault("engine.snapshot_height", d.Engine.SnapshotHeight)
	v.SetDefault("engine.time_zone", d.Engine.TimeZone)
	v.SetDefault("nats.subject_prefix", d.NATS.SubjectPrefix)
	v.SetDefault("nats.ingest_prefix", d.NATS.IngestPrefix)
	v.SetDefault("nats.ingest", false)
	v.SetDefault("nats.telemetry", false)
	v.SetDefault("minio.bucket", d.MinIO.Bucket)
	v.SetDefault("minio.url_expiry", d.MinIO.URLExpiry.String())
	v.SetDefault("gateway.timeout", d.Gateway.Timeout.String())
	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("grpc.host", d.GRPC.Host)
	v.SetDefault("grpc.port", d.GRPC.Port)
	v.SetDefault("journal_dir", d.JournalDir)
	v.SetDefault("rules_file", "")
	v.SetDefault("database_url", "")
	v.SetDefault("nvr.url", "")
	v.SetDefault("nvr.server_id", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("minio.endpoint", "")
	v.SetDefault("gateway.url", "")

	// Bind environment variables with WK_ prefix
	v.SetEnvPrefix("WK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets must be environment-only
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks ranges, notifier definitions and listener ports.
func validateConfig(cfg *Config) error {
	if cfg.Engine.MinDelay < 0 {
		return fmt.Errorf("engine.min_delay must not be negative, got %v", cfg.Engine.MinDelay)
	}
	if cfg.Engine.ScoreThreshold < 0 || cfg.Engine.ScoreThreshold > 1 {
		return fmt.Errorf("engine.score_threshold must be within [0, 1], got %v", cfg.Engine.ScoreThreshold)
	}
	if cfg.Engine.ReconcileInterval <= 0 {
		return fmt.Errorf("engine.reconcile_interval must be positive, got %v", cfg.Engine.ReconcileInterval)
	}
	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("engine.time_zone: %w", err)
	}
	for _, l := range []ListenConfig{cfg.HTTP, cfg.GRPC} {
		if l.Port < 0 || l.Port > 65535 {
			return fmt.Errorf("port must be between 0 and 65535, got %d", l.Port)
		}
	}

	if cfg.NATS.Ingest && cfg.NATS.Telemetry && cfg.NATS.SubjectPrefix == cfg.NATS.IngestPrefix {
		return fmt.Errorf("nats.ingest_prefix must differ from nats.subject_prefix, both are %q", cfg.NATS.SubjectPrefix)
	}

	seen := make(map[string]bool, len(cfg.Notifiers))
	for i, n := range cfg.Notifiers {
		if n.ID == "" {
			return fmt.Errorf("notifiers[%d]: id required", i)
		}
		if seen[n.ID] {
			return fmt.Errorf("notifiers[%d]: duplicate id %q", i, n.ID)
		}
		seen[n.ID] = true
		switch n.Provider {
		case notify.ProviderHomeAssistant:
			if n.URL == "" || n.Service == "" {
				return fmt.Errorf("notifier %q: homeassistant requires url and service", n.ID)
			}
		case notify.ProviderWebhook:
			if n.URL == "" {
				return fmt.Errorf("notifier %q: webhook requires url", n.ID)
			}
		case notify.ProviderPushover:
		default:
			return fmt.Errorf("notifier %q: unknown provider %q", n.ID, n.Provider)
		}
		if n.Scale < 0 {
			return fmt.Errorf("notifier %q: scale must not be negative", n.ID)
		}
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	for _, key := range secretKeys {
		if v.InConfig(key) {
			return fmt.Errorf("secret %q not allowed in config files (use WK_* environment variables)", key)
		}
	}
	list, _ := v.Get("notifiers").([]any)
	for i, raw := range list {
		if m, ok := raw.(map[string]any); ok {
			if _, has := m["token"]; has {
				return fmt.Errorf("notifiers[%d]: tokens not allowed in config files (use WK_* environment variables)", i)
			}
		}
	}
	return nil
}
