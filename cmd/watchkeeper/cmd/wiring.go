package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/solatis/watchkeeper/internal/core/config"
	"github.com/solatis/watchkeeper/internal/notify"
	"github.com/solatis/watchkeeper/internal/snapshot"
	"github.com/solatis/watchkeeper/internal/store"
	"github.com/solatis/watchkeeper/internal/telemetry"
	"github.com/solatis/watchkeeper/internal/types"
)

func notifierIDs(cfg *config.Config) []string {
	ids := make([]string, 0, len(cfg.Notifiers))
	for _, n := range cfg.Notifiers {
		ids = append(ids, n.ID)
	}
	return ids
}

// buildNotifiers creates one sink per configured notifier, pairing it with
// its provider's credentials from the environment.
func buildNotifiers(cfg *config.Config, secrets *config.Secrets) ([]*notify.Notifier, error) {
	key, err := secrets.WebhookKey()
	if err != nil {
		return nil, err
	}

	out := make([]*notify.Notifier, 0, len(cfg.Notifiers))
	for _, nc := range cfg.Notifiers {
		var sink notify.Sink
		switch nc.Provider {
		case notify.ProviderHomeAssistant:
			if secrets.HomeAssistantToken == "" {
				return nil, fmt.Errorf("notifier %s: WK_HA_TOKEN is not set", nc.ID)
			}
			sink, err = notify.NewHomeAssistantSink(nc.URL, nc.Service, secrets.HomeAssistantToken)
		case notify.ProviderPushover:
			if secrets.PushoverToken == "" || secrets.PushoverUser == "" {
				return nil, fmt.Errorf("notifier %s: WK_PUSHOVER_TOKEN and WK_PUSHOVER_USER are required", nc.ID)
			}
			endpoint := nc.URL
			if endpoint == "" {
				endpoint = notify.DefaultPushoverEndpoint
			}
			sink, err = notify.NewPushoverSink(endpoint, secrets.PushoverToken, secrets.PushoverUser)
		case notify.ProviderWebhook:
			sink, err = notify.NewWebhookSink(nc.URL, key)
		default:
			err = fmt.Errorf("unknown provider %q", nc.Provider)
		}
		if err != nil {
			return nil, fmt.Errorf("notifier %s: %w", nc.ID, err)
		}
		out = append(out, &notify.Notifier{
			ID:       nc.ID,
			Name:     nc.Name,
			Provider: nc.Provider,
			Scale:    nc.Scale,
			Sink:     sink,
		})
	}
	return out, nil
}

// buildSnapshotter returns nil when no gateway is configured. Archiving is
// layered on when a MinIO endpoint is set.
func buildSnapshotter(ctx context.Context, cfg *config.Config, secrets *config.Secrets, logger *slog.Logger) (snapshot.Snapshotter, error) {
	if cfg.Gateway.URL == "" {
		return nil, nil
	}
	camera, err := snapshot.NewHTTPCamera(cfg.Gateway.URL, &http.Client{Timeout: cfg.Gateway.Timeout})
	if err != nil {
		return nil, err
	}
	if cfg.MinIO.Endpoint == "" {
		return camera, nil
	}

	client, err := snapshot.NewMinioClient(cfg.MinIO.Endpoint, secrets.MinIOAccessKey, secrets.MinIOSecretKey, cfg.MinIO.Secure)
	if err != nil {
		return nil, err
	}
	archive := snapshot.NewArchive(client, cfg.MinIO.Bucket, cfg.MinIO.URLExpiry)
	if err := archive.EnsureBucket(ctx); err != nil {
		// Captures still work; uploads will be retried per snapshot.
		logger.Warn("snapshot bucket unavailable", "bucket", cfg.MinIO.Bucket, "error", err)
	}
	return snapshot.NewArchiving(camera, archive, logger), nil
}

// buildPublisher fans telemetry out to every configured bus.
func buildPublisher(cfg *config.Config, logger *slog.Logger) (telemetry.Publisher, error) {
	var fan telemetry.Fanout
	if cfg.NATS.Telemetry {
		if cfg.NATS.URL == "" {
			return nil, errors.New("nats.telemetry requires nats.url")
		}
		p, err := telemetry.DialNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return nil, err
		}
		fan = append(fan, p)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := telemetry.DialKafka(cfg.Kafka.Brokers, cfg.Kafka.StateTopic, cfg.Kafka.DetectionsTopic, logger)
		if err != nil {
			_ = fan.Close()
			return nil, err
		}
		fan = append(fan, p)
	}
	if len(fan) == 0 {
		return telemetry.Nop{}, nil
	}
	return fan, nil
}

// definitions loads devices and rules. Devices always come from the rules
// file; rules come from the database when one is configured.
type definitions struct {
	rulesFile string
	sql       *store.SQLStore
	logger    *slog.Logger
}

func (d *definitions) load(ctx context.Context) ([]types.DetectionRule, []types.DeviceSettings, error) {
	var file store.File
	if d.rulesFile != "" {
		f, err := store.LoadFile(d.rulesFile)
		if err != nil {
			return nil, nil, err
		}
		file = *f
	}
	if d.sql == nil {
		return file.Rules, file.Devices, nil
	}

	if len(file.Rules) > 0 {
		d.logger.Warn("rules in rules file ignored, database is authoritative", "count", len(file.Rules))
	}
	defs, skipped, err := d.sql.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(skipped) > 0 {
		d.logger.Warn("stored rules skipped", "count", len(skipped))
	}
	return defs, file.Devices, nil
}

// reload publishes a fresh snapshot. A failed load keeps the current one.
func (d *definitions) reload(ctx context.Context, st *store.Store) error {
	defs, devices, err := d.load(ctx)
	if err != nil {
		return err
	}
	snap := st.Replace(defs, devices)
	d.logger.Info("configuration loaded",
		"version", snap.Version, "rules", snap.Rules.Len(),
		"rejected", len(snap.Rules.Rejected()), "devices", len(snap.Devices))
	return nil
}
