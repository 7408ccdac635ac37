package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/watchkeeper/internal/core/config"
	"github.com/solatis/watchkeeper/internal/core/db"
	"github.com/solatis/watchkeeper/internal/core/server"
	"github.com/solatis/watchkeeper/internal/engine"
	"github.com/solatis/watchkeeper/internal/ingest"
	"github.com/solatis/watchkeeper/internal/metrics"
	"github.com/solatis/watchkeeper/internal/notify"
	"github.com/solatis/watchkeeper/internal/rules"
	"github.com/solatis/watchkeeper/internal/store"
	"github.com/solatis/watchkeeper/internal/types"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the detection engine",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("rules", "", "rules file (devices and rules), overrides rules_file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("rules") {
		cfg.RulesFile, _ = cmd.Flags().GetString("rules")
	}
	secrets, err := config.LoadSecrets()
	if err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		database *sqlx.DB
		sqlStore *store.SQLStore
	)
	if url := databaseURL(cfg.DatabaseURL); url != "" {
		database, err = db.Open(ctx, url)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		if sqlStore, err = migratedStore(cmd, database); err != nil {
			return err
		}
	}
	if cfg.RulesFile == "" && sqlStore == nil {
		return errors.New("no rules source: set rules_file or database_url")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	notifiers, err := buildNotifiers(cfg, secrets)
	if err != nil {
		return err
	}
	snapshotter, err := buildSnapshotter(ctx, cfg, secrets, logger)
	if err != nil {
		return fmt.Errorf("failed to configure snapshots: %w", err)
	}
	publisher, err := buildPublisher(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to configure telemetry: %w", err)
	}
	defer publisher.Close()

	dispatchOpts := []notify.DispatcherOption{
		notify.WithNVR(notify.NVR{BaseURL: cfg.NVR.URL, ServerID: cfg.NVR.ServerID}),
		notify.WithLogger(logger),
	}
	engineOpts := []engine.Option{
		engine.WithPublisher(publisher),
		engine.WithMetrics(m),
		engine.WithJournal(ingest.NewJournal(cfg.JournalDir, logger)),
		engine.WithLogger(logger),
	}
	if snapshotter != nil {
		dispatchOpts = append(dispatchOpts, notify.WithSnapshotter(snapshotter))
		engineOpts = append(engineOpts, engine.WithSnapshotter(snapshotter))
	}
	var history server.History
	if sqlStore != nil {
		engineOpts = append(engineOpts, engine.WithAuditor(sqlStore))
		history = sqlStore
	}

	dispatcher := notify.NewDispatcher(notifiers,
		notify.NewTexts(cfg.Texts, cfg.NotifierTexts, loc), dispatchOpts...)

	st := store.New(rules.CompileOptions{Notifiers: notifierIDs(cfg)}, logger)
	defs := &definitions{rulesFile: cfg.RulesFile, sql: sqlStore, logger: logger}
	if err := defs.reload(ctx, st); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	eng := engine.New(engine.Config{
		MinDelay:                  cfg.Engine.MinDelay,
		ScoreThreshold:            cfg.Engine.ScoreThreshold,
		IgnoreUnboundedDetections: cfg.Engine.IgnoreUnboundedDetections,
		SnapshotSize:              types.SizeHint{Width: cfg.Engine.SnapshotWidth, Height: cfg.Engine.SnapshotHeight},
	}, st, dispatcher, engineOpts...)
	defer eng.Close()

	var source ingest.Source
	if cfg.NATS.Ingest {
		src, err := ingest.DialNATSSource(cfg.NATS.URL, cfg.NATS.IngestPrefix, logger)
		if err != nil {
			return fmt.Errorf("failed to connect detector source: %w", err)
		}
		defer src.Close()
		source = src
	}
	watcher := engine.NewWatcher(eng, st, source, cfg.Engine.ReconcileInterval, logger)

	logger.Info("starting watchkeeper", "version", Version,
		"notifiers", len(notifiers), "ingest", cfg.NATS.Ingest)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := watcher.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error { return reloadOnHangup(gctx, defs, st, logger) })

	if cfg.HTTP.Port != 0 {
		httpServer := server.NewHTTPServer(cfg.HTTP.Addr(), eng, history, watcher.Ready, reg, logger)
		g.Go(httpServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(sctx)
		})
	}
	if cfg.GRPC.Port != 0 {
		grpcServer, err := server.NewGRPCServer(cfg.GRPC.Addr(), watcher.Ready, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return grpcServer.Start(gctx, time.Second) })
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return grpcServer.Shutdown(sctx)
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

// reloadOnHangup re-reads rule definitions on SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, defs *definitions, st *store.Store, logger *slog.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := defs.reload(ctx, st); err != nil {
				logger.Error("reload failed, keeping current rules", "error", err)
			}
		}
	}
}
