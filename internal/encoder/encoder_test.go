package encoder

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatalf("flag %s not present in %v", flag, args)
	return ""
}

func TestArchiveSpec_outputPattern(t *testing.T) {
	s := ArchiveSpec{OutputRoot: "/media/raw"}
	want := filepath.Join("/media/raw", "%Y", "%m", "%d", "%H", "%M_temp.mp4")
	if got := s.OutputPattern(); got != want {
		t.Errorf("OutputPattern = %q, want %q", got, want)
	}
}

func TestArchiveSpec_command(t *testing.T) {
	s := ArchiveSpec{
		SourceURL:       "rtsp://cam.local/stream",
		OutputRoot:      "/media/raw",
		SegmentDuration: 60 * time.Second,
	}
	cmd := s.Command(context.Background())

	if !strings.HasSuffix(cmd.Path, "ffmpeg") && cmd.Args[0] != "ffmpeg" {
		t.Errorf("binary = %q, want ffmpeg", cmd.Args[0])
	}
	args := cmd.Args[1:]
	if got := argValue(t, args, "-i"); got != "rtsp://cam.local/stream" {
		t.Errorf("-i = %q", got)
	}
	if got := argValue(t, args, "-segment_time"); got != "60" {
		t.Errorf("-segment_time = %q", got)
	}
	if got := argValue(t, args, "-c:v"); got != "copy" {
		t.Errorf("-c:v = %q, video must not be re-encoded", got)
	}
	if got := argValue(t, args, "-segment_atclocktime"); got != "1" {
		t.Errorf("-segment_atclocktime = %q", got)
	}
	if got := args[len(args)-1]; got != s.OutputPattern() {
		t.Errorf("output = %q, want %q", got, s.OutputPattern())
	}
}

func TestArchiveSpec_customBinary(t *testing.T) {
	s := ArchiveSpec{Binary: "/opt/ffmpeg/bin/ffmpeg", SourceURL: "rtsp://x", OutputRoot: "/r", SegmentDuration: time.Minute}
	cmd := s.Command(context.Background())
	if cmd.Args[0] != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("binary = %q", cmd.Args[0])
	}
}

func TestRelaySpec_command(t *testing.T) {
	s := RelaySpec{
		SourceURL: "rtsp://cam.local/stream",
		OutputDir: "/tmp/stage",
	}
	cmd := s.Command(context.Background())
	args := cmd.Args[1:]

	if got := argValue(t, args, "-hls_time"); got != "2" {
		t.Errorf("-hls_time default = %q, want 2", got)
	}
	if got := argValue(t, args, "-hls_list_size"); got != "6" {
		t.Errorf("-hls_list_size default = %q, want 6", got)
	}
	if got := argValue(t, args, "-hls_segment_filename"); got != filepath.Join("/tmp/stage", "segment_%03d.ts") {
		t.Errorf("segment filename = %q", got)
	}
	if got := args[len(args)-1]; got != filepath.Join("/tmp/stage", "stream.m3u8") {
		t.Errorf("playlist = %q", got)
	}
	if got := argValue(t, args, "-hls_flags"); got != "omit_endlist" {
		t.Errorf("-hls_flags = %q", got)
	}
}

func TestRelaySpec_overrides(t *testing.T) {
	s := RelaySpec{
		SourceURL:      "rtsp://x",
		OutputDir:      "/tmp/stage",
		PlaylistName:   "live.m3u8",
		SegmentSeconds: 4,
		ListSize:       10,
	}
	args := s.Command(context.Background()).Args[1:]
	if got := argValue(t, args, "-hls_time"); got != "4" {
		t.Errorf("-hls_time = %q", got)
	}
	if got := argValue(t, args, "-hls_list_size"); got != "10" {
		t.Errorf("-hls_list_size = %q", got)
	}
	if got := args[len(args)-1]; got != filepath.Join("/tmp/stage", "live.m3u8") {
		t.Errorf("playlist = %q", got)
	}
}
