// Package config provides configuration management for WatchKeeper.
package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/solatis/watchkeeper/internal/types"
)

// Config is the full service configuration.
type Config struct {
	Engine        EngineConfig                 `mapstructure:"engine"`
	NVR           NVRConfig                    `mapstructure:"nvr"`
	Texts         map[string]string            `mapstructure:"texts"`
	NotifierTexts map[string]map[string]string `mapstructure:"notifier_texts"`
	Notifiers     []NotifierConfig             `mapstructure:"notifiers"`
	RulesFile     string                       `mapstructure:"rules_file"`
	DatabaseURL   string                       `mapstructure:"database_url"`
	NATS          NATSConfig                   `mapstructure:"nats"`
	Kafka         KafkaConfig                  `mapstructure:"kafka"`
	MinIO         MinIOConfig                  `mapstructure:"minio"`
	Gateway       GatewayConfig                `mapstructure:"gateway"`
	HTTP          ListenConfig                 `mapstructure:"http"`
	GRPC          ListenConfig                 `mapstructure:"grpc"`
	JournalDir    string                       `mapstructure:"journal_dir"`
}

// EngineConfig holds engine-wide defaults.
type EngineConfig struct {
	MinDelay                  time.Duration `mapstructure:"min_delay"`
	ScoreThreshold            float64       `mapstructure:"score_threshold"`
	IgnoreUnboundedDetections bool          `mapstructure:"ignore_unbounded_detections"`
	ReconcileInterval         time.Duration `mapstructure:"reconcile_interval"`
	SnapshotWidth             int           `mapstructure:"snapshot_width"`
	SnapshotHeight            int           `mapstructure:"snapshot_height"`
	TimeZone                  string        `mapstructure:"time_zone"`
}

// NVRConfig locates the recorder UI for deep links.
type NVRConfig struct {
	URL      string `mapstructure:"url"`
	ServerID string `mapstructure:"server_id"`
}

// NotifierConfig describes one notifier sink. Credentials come from Secrets.
type NotifierConfig struct {
	ID       string  `mapstructure:"id"`
	Name     string  `mapstructure:"name"`
	Provider string  `mapstructure:"provider"`
	URL      string  `mapstructure:"url"`
	Service  string  `mapstructure:"service"`
	Scale    float64 `mapstructure:"scale"`
}

// NATSConfig configures the detector source and telemetry bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	IngestPrefix  string `mapstructure:"ingest_prefix"`
	Ingest        bool   `mapstructure:"ingest"`
	Telemetry     bool   `mapstructure:"telemetry"`
}

// KafkaConfig configures the optional Kafka telemetry mirror.
type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	StateTopic      string   `mapstructure:"state_topic"`
	DetectionsTopic string   `mapstructure:"detections_topic"`
}

// MinIOConfig configures snapshot archiving.
type MinIOConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Bucket    string        `mapstructure:"bucket"`
	Secure    bool          `mapstructure:"secure"`
	URLExpiry time.Duration `mapstructure:"url_expiry"`
}

// GatewayConfig locates the detector gateway serving snapshots.
type GatewayConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ListenConfig is a host/port pair. Port 0 disables the listener.
type ListenConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MinDelay:          types.DefaultMinDelay,
			ScoreThreshold:    types.DefaultScoreThreshold,
			ReconcileInterval: 30 * time.Second,
			SnapshotWidth:     types.DefaultSnapshotWidth,
			SnapshotHeight:    types.DefaultSnapshotHeight,
			TimeZone:          "Local",
		},
		NATS:       NATSConfig{SubjectPrefix: "watchkeeper", IngestPrefix: "detector"},
		MinIO:      MinIOConfig{Bucket: "watchkeeper-snapshots", URLExpiry: 24 * time.Hour},
		Gateway:    GatewayConfig{Timeout: 10 * time.Second},
		HTTP:       ListenConfig{Host: "0.0.0.0", Port: 9090},
		GRPC:       ListenConfig{Host: "0.0.0.0", Port: 50051},
		JournalDir: "./data",
	}
}

// Location resolves Engine.TimeZone.
func (c *Config) Location() (*time.Location, error) {
	if c.Engine.TimeZone == "" || c.Engine.TimeZone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Engine.TimeZone)
}

// Secrets are read from the environment only.
type Secrets struct {
	HomeAssistantToken string `env:"WK_HA_TOKEN"`
	PushoverToken      string `env:"WK_PUSHOVER_TOKEN"`
	PushoverUser       string `env:"WK_PUSHOVER_USER"`
	WebhookSecret      string `env:"WK_WEBHOOK_SECRET"`
	MinIOAccessKey     string `env:"WK_MINIO_ACCESS_KEY"`
	MinIOSecretKey     string `env:"WK_MINIO_SECRET_KEY"`
}

// LoadSecrets parses Secrets from the environment.
func LoadSecrets() (*Secrets, error) {
	var s Secrets
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return &s, nil
}

// WebhookKey decodes WebhookSecret. Empty means unsigned webhooks.
func (s *Secrets) WebhookKey() ([]byte, error) {
	if s.WebhookSecret == "" {
		return nil, nil
	}
	key, err := ParseHMACSecret(s.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("WK_WEBHOOK_SECRET: %w", err)
	}
	return key, nil
}

// ParseHMACSecret decodes a base64-encoded HMAC secret from an environment variable.
func ParseHMACSecret(envValue string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envValue))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}
