package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"camera-pipeline/internal/storage"
)

func newTestSweeper(root string, ref time.Time) *Sweeper {
	return &Sweeper{
		Root:   root,
		Window: 7 * 24 * time.Hour,
		Log:    discardLogger(),
		now:    func() time.Time { return ref },
	}
}

func TestSweeper_removesAgedFilesKeepsFresh(t *testing.T) {
	root := t.TempDir()
	ref := time.Now()
	s := newTestSweeper(root, ref)

	aged := filepath.Join(root, "2025", "02", "27", "10", "00.mp4")
	fresh := filepath.Join(root, "2025", "03", "06", "10", "00.mp4")
	writeFileAged(t, aged, 8*24*time.Hour, ref)
	writeFileAged(t, fresh, 24*time.Hour, ref)

	files, dirs, err := s.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if files != 1 {
		t.Errorf("files removed = %d, want 1", files)
	}
	// Emptied hour, day, and month dirs collapse; 2025 still holds 03.
	if dirs != 3 {
		t.Errorf("dirs removed = %d, want 3", dirs)
	}
	if _, err := os.Stat(aged); !os.IsNotExist(err) {
		t.Error("aged file survived the sweep")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh file removed: %v", err)
	}
}

func TestSweeper_windowBoundary(t *testing.T) {
	root := t.TempDir()
	ref := time.Now()
	s := newTestSweeper(root, ref)

	justInside := filepath.Join(root, "inside.mp4")
	justOutside := filepath.Join(root, "outside.mp4")
	writeFileAged(t, justInside, s.Window-time.Second, ref)
	writeFileAged(t, justOutside, s.Window+time.Second, ref)

	if _, _, err := s.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(justInside); err != nil {
		t.Errorf("file inside the window was removed: %v", err)
	}
	if _, err := os.Stat(justOutside); !os.IsNotExist(err) {
		t.Error("file outside the window survived")
	}
}

func TestSweeper_skipsTempFiles(t *testing.T) {
	root := t.TempDir()
	ref := time.Now()
	s := newTestSweeper(root, ref)

	temp := filepath.Join(root, "2025", "01", "01", "00", "30_temp.mp4")
	writeFileAged(t, temp, 30*24*time.Hour, ref)

	files, dirs, err := s.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if files != 0 || dirs != 0 {
		t.Errorf("sweep removed (%d files, %d dirs), want (0, 0)", files, dirs)
	}
	if _, err := os.Stat(temp); err != nil {
		t.Errorf("temp file removed by sweeper: %v", err)
	}
}

func TestSweeper_neverRemovesRoot(t *testing.T) {
	root := t.TempDir()
	ref := time.Now()
	s := newTestSweeper(root, ref)

	writeFileAged(t, filepath.Join(root, "old.mp4"), 30*24*time.Hour, ref)

	if _, _, err := s.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory removed: %v", err)
	}
}

func TestSweeper_missingRootReportsError(t *testing.T) {
	s := newTestSweeper(filepath.Join(t.TempDir(), "gone"), time.Now())
	if _, _, err := s.Sweep(); err == nil {
		t.Error("Sweep should report a missing root")
	}
}

func TestRemoteSweeper_deletesAgedObjects(t *testing.T) {
	sink := storage.NewMemorySink()
	ref := time.Now()

	seed := func(key string, age time.Duration) {
		t.Helper()
		local := filepath.Join(t.TempDir(), "seg.ts")
		if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := sink.Put(context.Background(), key, local, "video/MP2T", ""); err != nil {
			t.Fatal(err)
		}
		sink.SetModified(key, ref.Add(-age))
	}
	seed("live-stream/run1/segment_000.ts", 48*time.Hour)
	seed("live-stream/run2/segment_000.ts", time.Hour)
	seed("other/segment_000.ts", 48*time.Hour)

	s := &RemoteSweeper{
		Sink:   sink,
		Prefix: "live-stream/",
		Window: 24 * time.Hour,
		Log:    discardLogger(),
		now:    func() time.Time { return ref },
	}

	removed, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := sink.Stored("live-stream/run1/segment_000.ts"); ok {
		t.Error("aged object under prefix survived")
	}
	if _, ok := sink.Stored("live-stream/run2/segment_000.ts"); !ok {
		t.Error("fresh object was deleted")
	}
	if _, ok := sink.Stored("other/segment_000.ts"); !ok {
		t.Error("object outside the prefix was deleted")
	}
}

func TestRemoteSweeper_prunesSegmentsDroppedFromPlaylist(t *testing.T) {
	sink := storage.NewMemorySink()
	ref := time.Now()
	put := func(key, body string) {
		t.Helper()
		local := filepath.Join(t.TempDir(), "obj")
		if err := os.WriteFile(local, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := sink.Put(context.Background(), key, local, "", ""); err != nil {
			t.Fatal(err)
		}
	}

	// Rolling playlist names only the three newest segments.
	put("live-stream/run1/stream.m3u8",
		"#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:5\n"+
			"#EXTINF:2.0,\nsegment_005.ts\n"+
			"#EXTINF:2.0,\nsegment_006.ts\n"+
			"#EXTINF:2.0,\nsegment_007.ts\n")
	for i := 0; i <= 7; i++ {
		put(fmt.Sprintf("live-stream/run1/segment_%03d.ts", i), "seg")
	}
	// A sibling run dir without a playlist only ages out.
	put("live-stream/run2/segment_000.ts", "seg")

	s := &RemoteSweeper{
		Sink:         sink,
		Prefix:       "live-stream/",
		PlaylistName: "stream.m3u8",
		Window:       24 * time.Hour,
		Log:          discardLogger(),
		now:          func() time.Time { return ref },
	}

	removed, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 5 {
		t.Errorf("removed = %d, want the 5 segments the playlist dropped", removed)
	}
	for i := 0; i <= 4; i++ {
		key := fmt.Sprintf("live-stream/run1/segment_%03d.ts", i)
		if _, ok := sink.Stored(key); ok {
			t.Errorf("%s survived despite falling out of the playlist", key)
		}
	}
	for i := 5; i <= 7; i++ {
		key := fmt.Sprintf("live-stream/run1/segment_%03d.ts", i)
		if _, ok := sink.Stored(key); !ok {
			t.Errorf("%s removed despite being referenced", key)
		}
	}
	if _, ok := sink.Stored("live-stream/run1/stream.m3u8"); !ok {
		t.Error("playlist itself was removed")
	}
	if _, ok := sink.Stored("live-stream/run2/segment_000.ts"); !ok {
		t.Error("fresh segment without a playlist was removed")
	}
}

func TestRemoteSweeper_playlistPruningDisabledByDefault(t *testing.T) {
	sink := storage.NewMemorySink()
	ref := time.Now()
	put := func(key, body string) {
		t.Helper()
		local := filepath.Join(t.TempDir(), "obj")
		if err := os.WriteFile(local, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := sink.Put(context.Background(), key, local, "", ""); err != nil {
			t.Fatal(err)
		}
	}
	put("live-stream/run1/stream.m3u8", "#EXTM3U\nsegment_001.ts\n")
	put("live-stream/run1/segment_000.ts", "seg")
	put("live-stream/run1/segment_001.ts", "seg")

	s := &RemoteSweeper{
		Sink:   sink,
		Prefix: "live-stream/",
		Window: 24 * time.Hour,
		Log:    discardLogger(),
		now:    func() time.Time { return ref },
	}

	removed, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0 with membership pruning off", removed)
	}
}

func TestRemoteSweeper_batchLimit(t *testing.T) {
	sink := storage.NewMemorySink()
	ref := time.Now()
	local := filepath.Join(t.TempDir(), "seg.ts")
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"p/a.ts", "p/b.ts", "p/c.ts"} {
		if err := sink.Put(context.Background(), key, local, "video/MP2T", ""); err != nil {
			t.Fatal(err)
		}
		sink.SetModified(key, ref.Add(-48*time.Hour))
	}

	s := &RemoteSweeper{
		Sink:      sink,
		Prefix:    "p/",
		Window:    24 * time.Hour,
		BatchSize: 2,
		Log:       discardLogger(),
		now:       func() time.Time { return ref },
	}

	removed, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want batch limit 2", removed)
	}
	if sink.Len() != 1 {
		t.Errorf("objects left = %d, want 1", sink.Len())
	}
}
