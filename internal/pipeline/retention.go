package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"camera-pipeline/internal/platform/metrics"
	"camera-pipeline/internal/storage"
)

// Sweeper deletes finalized files older than the retention window from a
// local tree and prunes directories left empty, bottom up. Temp-named files
// are never touched (they belong to the finalizer) and neither is the root.
type Sweeper struct {
	Root     string
	Window   time.Duration
	Interval time.Duration

	Log     *slog.Logger
	Metrics *metrics.Metrics

	now func() time.Time // test seam

	health LoopHealth
}

// Health exposes the sweeper loop health.
func (s *Sweeper) Health() *LoopHealth { return &s.health }

// Run sweeps on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		files, dirs, err := s.Sweep()
		if err != nil {
			s.Log.Error("retention sweep failed", "error", err)
			s.health.Failure()
		} else {
			s.Log.Info("retention sweep finished", "files_removed", files, "dirs_removed", dirs)
			s.Metrics.AddSwept(files, dirs)
			s.health.Success()
		}
		if !wait(ctx, s.Interval) {
			return
		}
	}
}

// Sweep walks the tree once. Deletion is best effort: races with concurrent
// writers are expected and non-fatal.
func (s *Sweeper) Sweep() (filesRemoved, dirsRemoved int, err error) {
	cutoff := s.clock().Add(-s.Window)
	filesRemoved, dirsRemoved = s.sweepDir(s.Root, cutoff, true)
	if _, statErr := os.Stat(s.Root); statErr != nil {
		return filesRemoved, dirsRemoved, statErr
	}
	return filesRemoved, dirsRemoved, nil
}

// sweepDir processes children before the directory itself so that emptied
// subtrees collapse in a single pass.
func (s *Sweeper) sweepDir(dir string, cutoff time.Time, isRoot bool) (files, dirs int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.Log.Warn("cannot read directory during sweep", "dir", dir, "error", err)
		}
		return 0, 0
	}

	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			f, d := s.sweepDir(path, cutoff, false)
			files += f
			dirs += d
			continue
		}
		// Temp files are still owned by the finalizer.
		if IsTemp(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // vanished between list and stat
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.Log.Error("failed to remove aged file", "path", path, "error", err)
			}
			continue
		}
		files++
		s.Log.Info("removed aged file", "path", path, "modified", info.ModTime().Format(time.RFC3339))
	}

	if !isRoot {
		// Removing a just-repopulated directory fails; that is fine.
		if err := os.Remove(dir); err == nil {
			dirs++
			s.Log.Info("removed empty directory", "dir", dir)
		}
	}
	return files, dirs
}

func (s *Sweeper) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// RemoteSweeper prunes stale objects from the storage sink under a prefix.
// Objects older than the retention window are always deleted. When
// PlaylistName is set, .ts segments that have rolled out of their
// directory's playlist are deleted as well, without waiting for the window.
// Deletion happens in bounded batches so a single sweep cannot overwhelm the
// sink.
type RemoteSweeper struct {
	Sink         storage.Sink
	Prefix       string
	PlaylistName string // e.g. "stream.m3u8"; "" disables membership pruning
	Window       time.Duration
	Interval     time.Duration
	BatchSize    int // max keys deleted per sweep; 0 means DefaultSweepBatch

	Log *slog.Logger

	now func() time.Time // test seam

	health LoopHealth
}

// DefaultSweepBatch bounds remote deletions per sweep.
const DefaultSweepBatch = 50

// Health exposes the remote sweeper loop health.
func (s *RemoteSweeper) Health() *LoopHealth { return &s.health }

// Run sweeps the remote tree on every interval until ctx is cancelled.
func (s *RemoteSweeper) Run(ctx context.Context) {
	for {
		removed, err := s.Sweep(ctx)
		if err != nil {
			s.Log.Error("remote retention sweep failed", "error", err)
			s.health.Failure()
		} else {
			if removed > 0 {
				s.Log.Info("remote retention sweep finished", "objects_removed", removed)
			}
			s.health.Success()
		}
		if !wait(ctx, s.Interval) {
			return
		}
	}
}

// Sweep lists the prefix and deletes objects older than the window plus, when
// playlist pruning is enabled, segments no longer referenced by a playlist.
func (s *RemoteSweeper) Sweep(ctx context.Context) (removed int, err error) {
	cutoff := s.clock().Add(-s.Window)
	objects, err := s.Sink.List(ctx, s.Prefix)
	if err != nil {
		return 0, err
	}
	referenced := s.playlistIndex(ctx, objects)

	limit := s.BatchSize
	if limit <= 0 {
		limit = DefaultSweepBatch
	}

	var keys []string
	for _, o := range objects {
		if !s.prunable(o, cutoff, referenced) {
			continue
		}
		keys = append(keys, o.Key)
		if len(keys) >= limit {
			break
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.Sink.Delete(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// prunable reports whether the object is past the retention window, or is a
// segment its directory's playlist no longer names.
func (s *RemoteSweeper) prunable(o storage.Object, cutoff time.Time, referenced map[string]map[string]bool) bool {
	if o.LastModified.Before(cutoff) {
		return true
	}
	refs, ok := referenced[path.Dir(o.Key)]
	if !ok {
		return false
	}
	name := path.Base(o.Key)
	return strings.HasSuffix(name, ".ts") && !refs[name]
}

// playlistIndex reads every playlist under the listed objects and returns the
// segment names each one still references, keyed by directory. Directories
// whose playlist cannot be read are left out, so their segments fall back to
// age-based expiry rather than being deleted on incomplete information.
func (s *RemoteSweeper) playlistIndex(ctx context.Context, objects []storage.Object) map[string]map[string]bool {
	if s.PlaylistName == "" {
		return nil
	}
	index := make(map[string]map[string]bool)
	for _, o := range objects {
		if path.Base(o.Key) != s.PlaylistName {
			continue
		}
		body, err := s.Sink.Get(ctx, o.Key)
		if err != nil {
			s.Log.Warn("cannot read playlist during sweep", "key", o.Key, "error", err)
			continue
		}
		refs := make(map[string]bool)
		for _, line := range strings.Split(string(body), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			refs[path.Base(line)] = true
		}
		index[path.Dir(o.Key)] = refs
	}
	return index
}

func (s *RemoteSweeper) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
