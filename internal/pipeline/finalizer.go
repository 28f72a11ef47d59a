package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"camera-pipeline/internal/platform/metrics"
)

// Finalizer promotes completed temp segments to their final names. A temp
// file is considered complete once its age reaches SegmentDuration plus
// Grace: the encoder never touches a segment again after opening the next
// one, and the grace buffer absorbs clock and filesystem latency. The
// currently-open temp file is therefore always too young to be renamed, so
// no lock against the supervisor is needed.
type Finalizer struct {
	Root            string
	SegmentDuration time.Duration
	Grace           time.Duration
	Interval        time.Duration

	Log     *slog.Logger
	Metrics *metrics.Metrics

	now func() time.Time // test seam

	health LoopHealth
}

// Health exposes the finalizer loop health.
func (f *Finalizer) Health() *LoopHealth { return &f.health }

// Run scans on every interval until ctx is cancelled.
func (f *Finalizer) Run(ctx context.Context) {
	for {
		if _, err := f.Scan(); err != nil {
			f.Log.Error("segment scan failed", "error", err)
			f.Metrics.IncFinalizeErrors()
			f.health.Failure()
		} else {
			f.health.Success()
		}
		if !wait(ctx, f.Interval) {
			return
		}
	}
}

// Scan walks the staging tree once and finalizes every eligible temp file.
// It is idempotent and safe to run concurrently with the encoder writing new
// segments. Returns the number of files renamed.
func (f *Finalizer) Scan() (renamed int, err error) {
	minAge := f.SegmentDuration + f.Grace
	now := f.clock()

	err = filepath.WalkDir(f.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// A directory vanishing mid-walk is a race with the sweeper.
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() || !IsTemp(d.Name()) {
			return nil
		}

		final := filepath.Join(filepath.Dir(path), FinalName(d.Name()))

		// A final file already present means the encoder or a prior scan
		// raced us; the temp copy is redundant.
		if _, statErr := os.Stat(final); statErr == nil {
			f.Log.Warn("final segment already exists, removing temp file", "temp", path, "final", final)
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				f.Log.Error("failed to remove redundant temp file", "path", path, "error", rmErr)
				f.Metrics.IncFinalizeErrors()
			}
			return nil
		}

		info, statErr := d.Info()
		if statErr != nil {
			if errors.Is(statErr, fs.ErrNotExist) {
				return nil // deleted between list and stat
			}
			return statErr
		}
		if age := now.Sub(info.ModTime()); age < minAge {
			f.Log.Debug("temp segment too recent, skipping", "path", path, "age", age.String())
			return nil
		}

		if renameErr := os.Rename(path, final); renameErr != nil {
			if errors.Is(renameErr, fs.ErrNotExist) {
				return nil // concurrently renamed or deleted, benign
			}
			f.Log.Error("failed to finalize segment", "temp", path, "error", renameErr)
			f.Metrics.IncFinalizeErrors()
			return nil
		}
		renamed++
		f.Log.Info("segment finalized", "path", final)
		f.Metrics.IncSegmentsFinalized()
		return nil
	})
	return renamed, err
}

func (f *Finalizer) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}
