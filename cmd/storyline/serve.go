package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/storyline/internal/backup"
	"github.com/scrypster/storyline/internal/config"
	"github.com/scrypster/storyline/internal/engine"
	"github.com/scrypster/storyline/internal/ingest"
	"github.com/scrypster/storyline/internal/scheduler"
	"github.com/scrypster/storyline/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with scheduled rebuilds, ingestion and backups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eng, err := openEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer eng.Close()

		addr, _, err := server.Start(ctx, cfg, eng)
		if err != nil {
			return err
		}
		log.Printf("Storyline API running at http://%s", addr)

		sched := scheduler.New(eng, scheduler.Config{
			GraphCron:    cfg.Scheduler.GraphCron,
			ClustersCron: cfg.Scheduler.ClustersCron,
		})
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()

		stopIngest, err := startIngest(ctx, cfg, eng)
		if err != nil {
			return err
		}
		defer stopIngest()

		stopBackup, err := startBackup(ctx, cfg, eng)
		if err != nil {
			return err
		}
		defer stopBackup()

		<-ctx.Done()
		log.Println("Shutting down gracefully...")
		// give the HTTP server its shutdown window
		time.Sleep(500 * time.Millisecond)
		return nil
	},
}

// startIngest starts the Kafka consumer and inbox watcher when configured.
func startIngest(ctx context.Context, cfg *config.Config, eng *engine.Storyline) (func(), error) {
	var stops []func()
	stopAll := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if len(cfg.Ingest.KafkaBrokers) > 0 {
		consumer, err := ingest.NewKafkaConsumer(ingest.KafkaConfig{
			Brokers: cfg.Ingest.KafkaBrokers,
			Topic:   cfg.Ingest.KafkaTopic,
			GroupID: cfg.Ingest.KafkaGroup,
		}, eng)
		if err != nil {
			return nil, err
		}
		if err := consumer.Start(ctx); err != nil {
			_ = consumer.Close()
			return nil, err
		}
		stops = append(stops, func() {
			if err := consumer.Close(); err != nil {
				log.Printf("ingest: close kafka consumer: %v", err)
			}
		})
	}

	if cfg.Ingest.InboxDir != "" {
		watcher := ingest.NewInboxWatcher(cfg.Ingest.InboxDir, eng)
		if err := watcher.Start(ctx); err != nil {
			stopAll()
			return nil, err
		}
		stops = append(stops, watcher.Stop)
	}

	return stopAll, nil
}

// startBackup runs periodic snapshots when an interval is configured.
func startBackup(ctx context.Context, cfg *config.Config, eng *engine.Storyline) (func(), error) {
	if cfg.Backup.Interval <= 0 {
		return func() {}, nil
	}

	svc, err := newBackupService(ctx, cfg, eng)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("backup: %v", err)
		}
	}()

	return func() {
		if ctx.Err() == nil {
			if err := svc.Stop(); err != nil {
				log.Printf("backup: stop: %v", err)
			}
		}
		<-done
	}, nil
}

// newBackupService picks the S3 sink when a bucket is configured and the
// local directory sink otherwise.
func newBackupService(ctx context.Context, cfg *config.Config, eng *engine.Storyline) (*backup.Service, error) {
	var sink backup.Sink
	if cfg.Backup.S3Bucket != "" {
		s3Sink, err := backup.NewS3Sink(ctx, backup.S3Config{
			Bucket: cfg.Backup.S3Bucket,
			Prefix: cfg.Backup.S3Prefix,
			Region: cfg.Backup.S3Region,
		})
		if err != nil {
			return nil, err
		}
		sink = s3Sink
	} else {
		dirSink, err := backup.NewDirSink(cfg.Backup.Dir)
		if err != nil {
			return nil, err
		}
		sink = dirSink
	}

	svc, err := backup.NewService(eng.Repository(), sink, backup.Config{
		Retention: cfg.Backup.Retention,
		Interval:  cfg.Backup.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create backup service: %w", err)
	}
	return svc, nil
}
