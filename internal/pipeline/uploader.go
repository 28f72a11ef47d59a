package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"camera-pipeline/internal/platform/metrics"
	"camera-pipeline/internal/storage"
)

// DefaultCacheControl matches the live-streaming use case: segments and
// playlists must never be cached between reader and origin.
const DefaultCacheControl = "no-cache, no-store, must-revalidate"

// Uploader watches a local directory and ships new or changed files to the
// storage sink. Change detection is by (mtime, size) fingerprint; a file's
// fingerprint is recorded only after a confirmed upload, so failures are
// retried on the next poll cycle for as long as the file exists. Each cycle
// submits manifest files before data files. Local files are deleted only
// after the sink acknowledges the upload.
type Uploader struct {
	Root         string
	Sink         storage.Sink
	Prefix       string // remote key prefix, e.g. "live-stream/<runId>/"
	Interval     time.Duration
	Workers      int
	CacheControl string

	Log     *slog.Logger
	Metrics *metrics.Metrics

	mu   sync.Mutex
	seen map[string]Fingerprint

	// inflight guards against submitting a file twice while an upload for it
	// is outstanding. Keyed by filename.
	inflight sync.Map

	jobs chan uploadJob

	health LoopHealth
}

type uploadJob struct {
	name string
	path string
	fp   Fingerprint
}

// Health exposes the dispatcher loop health.
func (u *Uploader) Health() *LoopHealth { return &u.health }

// Run polls until ctx is cancelled, uploading through a bounded worker pool.
func (u *Uploader) Run(ctx context.Context) {
	workers := u.Workers
	if workers <= 0 {
		workers = 4
	}
	u.jobs = make(chan uploadJob, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range u.jobs {
				u.upload(ctx, job)
				u.inflight.Delete(job.name)
			}
		}()
	}

	for {
		if err := u.PollOnce(ctx); err != nil {
			u.Log.Error("upload poll failed", "error", err)
			u.health.Failure()
		} else {
			u.health.Success()
		}
		if !wait(ctx, u.Interval) {
			break
		}
	}

	close(u.jobs)
	wg.Wait()
}

// PollOnce lists the watched directory and submits every new or changed file,
// manifests first. When Run's worker pool is not active (tests), uploads
// execute synchronously in submission order.
func (u *Uploader) PollOnce(ctx context.Context) error {
	entries, err := os.ReadDir(u.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil // staging dir not created yet
		}
		return err
	}

	var manifests, data []os.DirEntry
	for _, e := range entries {
		if e.IsDir() || IsTemp(e.Name()) {
			continue
		}
		if IsManifest(e.Name()) {
			manifests = append(manifests, e)
		} else {
			data = append(data, e)
		}
	}

	// Manifests first so a remote reader rarely sees a playlist referencing
	// segments that are not uploaded yet. Best effort, not a guarantee.
	for _, group := range [][]os.DirEntry{manifests, data} {
		for _, e := range group {
			u.maybeSubmit(ctx, e)
		}
	}
	return nil
}

func (u *Uploader) maybeSubmit(ctx context.Context, e os.DirEntry) {
	name := e.Name()
	info, err := e.Info()
	if err != nil {
		return // vanished between list and stat, benign
	}
	fp := FingerprintOf(info)

	u.mu.Lock()
	prev, known := u.seen[name]
	u.mu.Unlock()
	if known && prev == fp {
		return
	}

	if _, loaded := u.inflight.LoadOrStore(name, struct{}{}); loaded {
		return // an upload for this file is already outstanding
	}

	job := uploadJob{name: name, path: filepath.Join(u.Root, name), fp: fp}
	if u.jobs == nil {
		u.upload(ctx, job)
		u.inflight.Delete(name)
		return
	}
	select {
	case u.jobs <- job:
	default:
		// Pool saturated; drop the claim and retry next cycle.
		u.inflight.Delete(name)
	}
}

func (u *Uploader) upload(ctx context.Context, job uploadJob) {
	if _, err := os.Stat(job.path); err != nil {
		return // deleted before upload, benign
	}

	key := u.remoteKey(job.name)
	cacheControl := u.CacheControl
	if cacheControl == "" {
		cacheControl = DefaultCacheControl
	}

	start := time.Now()
	err := u.Sink.Put(ctx, key, job.path, ContentTypeFor(job.name), cacheControl)
	if err != nil {
		// Fingerprint stays unrecorded so the next poll retries.
		u.Metrics.IncUploadFailures()
		u.Log.Error("upload failed", "key", key, "error", err)
		return
	}
	dur := time.Since(start)

	u.mu.Lock()
	if u.seen == nil {
		u.seen = make(map[string]Fingerprint)
	}
	u.seen[job.name] = job.fp
	u.mu.Unlock()

	u.Metrics.ObserveUpload(dur)
	u.Log.Info("uploaded", "key", key, "bytes", job.fp.Size, "duration_ms", dur.Milliseconds())

	if err := os.Remove(job.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		u.Log.Error("failed to remove uploaded file", "path", job.path, "error", err)
	}
}

func (u *Uploader) remoteKey(name string) string {
	if u.Prefix == "" {
		return name
	}
	return strings.TrimSuffix(u.Prefix, "/") + "/" + name
}
