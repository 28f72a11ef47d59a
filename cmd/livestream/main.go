// Command livestream relays an RTSP camera to HLS on demand. A websocket
// command channel starts and stops stream sessions; each session runs a
// supervised encoder into a staging directory whose output the upload
// dispatcher ships to S3. A remote retention sweeper prunes aged segments.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camera-pipeline/internal/cloudmetrics"
	"camera-pipeline/internal/command"
	"camera-pipeline/internal/encoder"
	"camera-pipeline/internal/pipeline"
	"camera-pipeline/internal/platform/config"
	"camera-pipeline/internal/platform/logger"
	"camera-pipeline/internal/platform/metrics"
	"camera-pipeline/internal/session"
	"camera-pipeline/internal/storage"
	"camera-pipeline/internal/streamcfg"
)

func main() {
	_ = config.Load()

	cfgPath := config.GetEnv("STREAM_CONFIG", "stream.yaml")
	uploadInterval := config.GetEnvDuration("UPLOAD_INTERVAL", 100*time.Millisecond)
	uploadWorkers := config.GetEnvInt("UPLOAD_WORKERS", 4)
	sweepInterval := config.GetEnvDuration("SWEEP_INTERVAL", time.Hour)
	reconnect := config.GetEnvDuration("COMMAND_RECONNECT_INTERVAL", 5*time.Second)
	sampleInterval := config.GetEnvDuration("SYSTEM_METRICS_INTERVAL", 30*time.Minute)

	log := logger.New("livestream", config.GetEnv("LOG_LEVEL", "info"), config.GetEnv("LOG_FORMAT", "json"))

	cfg, err := streamcfg.Load(cfgPath)
	if err != nil {
		log.Error("failed to load stream config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	log = log.With("stream_id", cfg.StreamID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, err := storage.NewS3Sink(ctx, cfg.Region, cfg.S3Bucket)
	if err != nil {
		log.Error("failed to initialize storage sink", "error", err)
		os.Exit(1)
	}

	met := metrics.New()

	reporter := &cloudmetrics.Reporter{
		DefaultDims: map[string]string{
			"StreamType": cfg.StreamType,
			"StreamId":   cfg.StreamID,
		},
		Log: log,
	}
	if cw, err := cloudmetrics.NewCloudWatchSink(ctx, cfg.Region, cfg.CWNamespace); err != nil {
		log.Error("cloudwatch disabled", "error", err)
	} else {
		reporter.Sink = cw
	}

	manager := &session.Manager{
		BasePrefix: cfg.S3Prefix,
		Log:        log,
		Metrics:    met,
		Reporter:   reporter,
	}
	manager.Run = func(ctx context.Context, sess *session.Session) {
		spec := encoder.RelaySpec{
			SourceURL:      cfg.RTSPURL,
			OutputDir:      sess.Dir,
			SegmentSeconds: cfg.SegmentSeconds,
			ListSize:       cfg.PlaylistSize,
		}
		guard := pipeline.NewDiskGuard(sess.Dir, 95)
		supervisor := &pipeline.Supervisor{
			NewCommand: spec.Command,
			PreLaunch: func(ctx context.Context) error {
				if ok, used := guard.Check(); !ok {
					return fmt.Errorf("staging disk usage %.1f%% over threshold", used)
				}
				return nil
			},
			RetryDelay:   5 * time.Second,
			LongPause:    time.Minute,
			MaxRetries:   5,
			MinUptime:    30 * time.Second,
			GateCooldown: time.Minute,
			KillGrace:    5 * time.Second,
			Log:          log.With("run_id", sess.RunID),
			Metrics:      met,
		}
		uploader := &pipeline.Uploader{
			Root:     sess.Dir,
			Sink:     sink,
			Prefix:   sess.RemotePrefix,
			Interval: uploadInterval,
			Workers:  uploadWorkers,
			Log:      log.With("run_id", sess.RunID),
			Metrics:  met,
		}
		pipeline.RunAll(ctx, supervisor, uploader)
	}

	remoteSweeper := &pipeline.RemoteSweeper{
		Sink:         sink,
		Prefix:       cfg.S3Prefix + "/",
		PlaylistName: "stream.m3u8",
		Window:       cfg.Retention.Std(),
		Interval:     sweepInterval,
		Log:          log,
	}

	sampler := &cloudmetrics.SystemSampler{
		Reporter: reporter,
		Interval: sampleInterval,
		DiskPath: "/",
		Log:      log,
	}

	listener := &command.Listener{
		URL:               cfg.WebsocketURL,
		ReconnectInterval: reconnect,
		Log:               log,
	}

	log.Info("livestream starting", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)

	go listener.Run(ctx, &controller{manager: manager, log: log})
	pipeline.RunAll(ctx, remoteSweeper, sampler)

	// Shutdown: terminate any live session before exiting.
	manager.Stop("shutdown")
	log.Info("livestream stopped")
}

// controller adapts the session manager to the command channel.
type controller struct {
	manager *session.Manager
	log     *slog.Logger
}

func (c *controller) StartStream(ctx context.Context, runID string) {
	if err := c.manager.Start(ctx, runID); err != nil {
		c.log.Error("failed to start session", "run_id", runID, "error", err)
	}
}

func (c *controller) StopStream(reason string) {
	c.manager.Stop(reason)
}
