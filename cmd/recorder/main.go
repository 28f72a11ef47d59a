// Command recorder continuously records an RTSP camera into per-minute MP4
// segments under a local archive tree, finalizing completed segments,
// reclaiming aged recordings, and reporting pipeline and system metrics.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"camera-pipeline/internal/cloudmetrics"
	"camera-pipeline/internal/encoder"
	"camera-pipeline/internal/pipeline"
	"camera-pipeline/internal/platform/config"
	"camera-pipeline/internal/platform/logger"
	"camera-pipeline/internal/platform/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	rtspURL := config.GetEnv("RTSP_URL", "")
	outputDir := config.GetEnv("OUTPUT_DIR", "/media/external/raw")
	metricsAddr := config.GetEnv("METRICS_ADDR", ":9100")
	region := config.GetEnv("AWS_REGION", "us-east-1")
	namespace := config.GetEnv("CLOUDWATCH_NAMESPACE", "CameraLocalWriter")
	diskLimit := config.GetEnvFloat("DISK_LIMIT_PERCENT", 90)
	segmentDuration := config.GetEnvDuration("SEGMENT_DURATION", 60*time.Second)
	finalizeGrace := config.GetEnvDuration("FINALIZE_GRACE", 10*time.Second)
	finalizeInterval := config.GetEnvDuration("FINALIZE_INTERVAL", 30*time.Second)
	retention := config.GetEnvDuration("RETENTION_WINDOW", 7*24*time.Hour)
	sweepInterval := config.GetEnvDuration("SWEEP_INTERVAL", time.Hour)
	retryDelay := config.GetEnvDuration("ENCODER_RETRY_DELAY", 15*time.Second)
	longPause := config.GetEnvDuration("ENCODER_LONG_PAUSE", 5*time.Minute)
	maxRetries := config.GetEnvInt("ENCODER_MAX_RETRIES", 5)
	sampleInterval := config.GetEnvDuration("SYSTEM_METRICS_INTERVAL", 30*time.Minute)

	log := logger.New("recorder", config.GetEnv("LOG_LEVEL", "info"), config.GetEnv("LOG_FORMAT", "json"))

	if rtspURL == "" {
		log.Error("RTSP_URL is required")
		os.Exit(1)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		log.Error("failed to create output directory", "dir", outputDir, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	met := metrics.New()

	reporter := &cloudmetrics.Reporter{
		DefaultDims: map[string]string{"Stream": "recorder"},
		Log:         log,
	}
	if sink, err := cloudmetrics.NewCloudWatchSink(ctx, region, namespace); err != nil {
		// Metrics are best-effort; recording continues without them.
		log.Error("cloudwatch disabled", "error", err)
	} else {
		reporter.Sink = sink
	}

	guard := pipeline.NewDiskGuard(outputDir, diskLimit)

	spec := encoder.ArchiveSpec{
		SourceURL:       rtspURL,
		OutputRoot:      outputDir,
		SegmentDuration: segmentDuration,
	}

	supervisor := &pipeline.Supervisor{
		NewCommand: spec.Command,
		PreLaunch: func(ctx context.Context) error {
			ok, used := guard.Check()
			met.SetDiskUsedPercent(used)
			if !ok {
				reporter.Emit(ctx, "EncoderPaused", 1, "Count", map[string]string{"Reason": "DiskFull"})
				return fmt.Errorf("disk usage %.1f%% at or above limit %.1f%%", used, diskLimit)
			}
			// The segment muxer needs the hour directory to exist.
			hourDir := filepath.Join(outputDir, time.Now().Format(filepath.Join("2006", "01", "02", "15")))
			return os.MkdirAll(hourDir, 0o755)
		},
		RetryDelay:   retryDelay,
		LongPause:    longPause,
		MaxRetries:   maxRetries,
		MinUptime:    2 * segmentDuration,
		GateCooldown: time.Minute,
		KillGrace:    5 * time.Second,
		Log:          log,
		Metrics:      met,
	}

	finalizer := &pipeline.Finalizer{
		Root:            outputDir,
		SegmentDuration: segmentDuration,
		Grace:           finalizeGrace,
		Interval:        finalizeInterval,
		Log:             log,
		Metrics:         met,
	}

	sweeper := &pipeline.Sweeper{
		Root:     outputDir,
		Window:   retention,
		Interval: sweepInterval,
		Log:      log,
		Metrics:  met,
	}

	sampler := &cloudmetrics.SystemSampler{
		Reporter: reporter,
		Interval: sampleInterval,
		DiskPath: guard.MountPoint(),
		Log:      log,
	}

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", met.Handler(func() {
		_, used := guard.Check()
		met.SetDiskUsedPercent(used)
	}).ServeHTTP)

	srv := &http.Server{Addr: metricsAddr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	log.Info("recorder starting",
		"output_dir", outputDir,
		"segment_duration", segmentDuration.String(),
		"retention", retention.String(),
		"disk_limit_percent", diskLimit,
	)

	pipeline.RunAll(ctx, supervisor, finalizer, sweeper, sampler)

	log.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown error", "error", err)
	}
	log.Info("recorder stopped")
}
