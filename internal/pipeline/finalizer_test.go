package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFileAged(t *testing.T, path string, age time.Duration, ref time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("segment-data"), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := ref.Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func newTestFinalizer(root string, ref time.Time) *Finalizer {
	return &Finalizer{
		Root:            root,
		SegmentDuration: 60 * time.Second,
		Grace:           10 * time.Second,
		Log:             discardLogger(),
		now:             func() time.Time { return ref },
	}
}

func TestFinalizer_renamesAgedTempFiles(t *testing.T) {
	root := t.TempDir()
	ref := time.Now()
	f := newTestFinalizer(root, ref)

	aged := filepath.Join(root, "2025", "03", "07", "14", "09_temp.mp4")
	writeFileAged(t, aged, 71*time.Second, ref)

	renamed, err := f.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if renamed != 1 {
		t.Fatalf("renamed = %d, want 1", renamed)
	}
	final := filepath.Join(root, "2025", "03", "07", "14", "09.mp4")
	if _, err := os.Stat(final); err != nil {
		t.Errorf("final segment missing: %v", err)
	}
	if _, err := os.Stat(aged); !os.IsNotExist(err) {
		t.Errorf("temp file still present after rename")
	}
}

func TestFinalizer_leavesYoungTempFiles(t *testing.T) {
	root := t.TempDir()
	ref := time.Now()
	f := newTestFinalizer(root, ref)

	// Age 69s < 60s + 10s: this is the segment the encoder may still be writing.
	young := filepath.Join(root, "2025", "03", "07", "14", "10_temp.mp4")
	writeFileAged(t, young, 69*time.Second, ref)

	renamed, err := f.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if renamed != 0 {
		t.Fatalf("renamed = %d, want 0", renamed)
	}
	if _, err := os.Stat(young); err != nil {
		t.Errorf("young temp file was touched: %v", err)
	}
}

func TestFinalizer_boundaryAgeIsEligible(t *testing.T) {
	root := t.TempDir()
	ref := time.Now()
	f := newTestFinalizer(root, ref)

	boundary := filepath.Join(root, "12_temp.mp4")
	writeFileAged(t, boundary, 70*time.Second, ref)

	renamed, err := f.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if renamed != 1 {
		t.Errorf("renamed = %d, want 1 at exactly duration+grace", renamed)
	}
}

func TestFinalizer_removesTempWhenFinalExists(t *testing.T) {
	root := t.TempDir()
	ref := time.Now()
	f := newTestFinalizer(root, ref)

	temp := filepath.Join(root, "09_temp.mp4")
	final := filepath.Join(root, "09.mp4")
	writeFileAged(t, temp, 2*time.Minute, ref)
	if err := os.WriteFile(final, []byte("already-final"), 0o644); err != nil {
		t.Fatal(err)
	}

	renamed, err := f.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if renamed != 0 {
		t.Errorf("renamed = %d, want 0 when the final already exists", renamed)
	}
	if _, err := os.Stat(temp); !os.IsNotExist(err) {
		t.Error("redundant temp file not removed")
	}
	body, err := os.ReadFile(final)
	if err != nil || string(body) != "already-final" {
		t.Errorf("existing final segment was overwritten: %q, %v", body, err)
	}
}

func TestFinalizer_ignoresFinalizedFiles(t *testing.T) {
	root := t.TempDir()
	ref := time.Now()
	f := newTestFinalizer(root, ref)

	writeFileAged(t, filepath.Join(root, "08.mp4"), 3*time.Hour, ref)

	renamed, err := f.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if renamed != 0 {
		t.Errorf("renamed = %d, want 0 for already-final files", renamed)
	}
}
