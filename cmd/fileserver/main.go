// Command fileserver serves the recording archive over HTTP for playback
// clients: date/time listings and range-capable video streaming.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"camera-pipeline/internal/fileserver"
	"camera-pipeline/internal/platform/config"
	"camera-pipeline/internal/platform/logger"
	"camera-pipeline/internal/platform/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	root := config.GetEnv("VIDEO_DIR", "/media/external/raw")

	log := logger.New("fileserver", config.GetEnv("LOG_LEVEL", "info"), config.GetEnv("LOG_FORMAT", "json"))

	if _, err := os.Stat(root); err != nil {
		log.Error("video directory not accessible", "dir", root, "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	h := fileserver.New(root, log)

	r := chi.NewRouter()
	r.Use(fileserver.CORS)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/", h.Index)
	r.Get("/health", h.Health)
	r.Get("/metrics", met.Handler(nil).ServeHTTP)
	r.Get("/listAvailableDates", h.ListAvailableDates)
	r.Get("/listAvailableTimes", h.ListAvailableTimes)
	r.Get("/getRawVideo", h.GetRawVideo)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("file server starting", "port", port, "video_dir", root)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
