// Package encoder builds ffmpeg invocations for the two pipeline modes:
// clock-aligned MP4 archive segments and a low-latency HLS relay. The
// encoder is an external collaborator; the pipeline only relies on it
// writing one file per time window and flushing container metadata
// progressively so partially-written files stay playable.
package encoder

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"camera-pipeline/internal/pipeline"
)

// DefaultBinary is looked up on PATH unless a Spec overrides it.
const DefaultBinary = "ffmpeg"

// rtspTimeout is the stream read/write timeout handed to ffmpeg, in
// microseconds.
const rtspTimeout = 5 * time.Second

// ArchiveSpec describes a continuous RTSP-to-MP4 segment recording.
// Segments are aligned to wall-clock minutes and written under a temp name
// the finalizer later strips.
type ArchiveSpec struct {
	Binary          string
	SourceURL       string
	OutputRoot      string
	SegmentDuration time.Duration
}

// OutputPattern returns the strftime pattern the segment muxer writes to:
// root/YYYY/MM/DD/HH/MM_temp.mp4. The filename is the segment's start time.
func (s ArchiveSpec) OutputPattern() string {
	return filepath.Join(s.OutputRoot, "%Y", "%m", "%d", "%H", "%M"+pipeline.TempMarker+".mp4")
}

// Command builds the ffmpeg invocation. Video is stream-copied (no
// re-encode); audio is transcoded to AAC for container compatibility.
func (s ArchiveSpec) Command(ctx context.Context) *exec.Cmd {
	binary := s.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-rtsp_transport", "tcp",
		"-timeout", fmt.Sprintf("%d", rtspTimeout.Microseconds()),
		"-fflags", "+igndts",
		"-i", s.SourceURL,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "128k",
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%d", int(s.SegmentDuration.Seconds())),
		"-segment_format", "mp4",
		"-segment_atclocktime", "1",
		"-segment_time_delta", "0.05",
		"-strftime", "1",
		"-reset_timestamps", "1",
		"-movflags", "+faststart",
		s.OutputPattern(),
	}
	return exec.CommandContext(ctx, binary, args...)
}

// RelaySpec describes a low-latency HLS transcode of an RTSP source into a
// session directory: numbered .ts segments plus a rolling playlist.
type RelaySpec struct {
	Binary         string
	SourceURL      string
	OutputDir      string
	PlaylistName   string // default "stream.m3u8"
	SegmentSeconds int    // default 2
	ListSize       int    // default 6
}

// Command builds the ffmpeg invocation for the relay.
func (s RelaySpec) Command(ctx context.Context) *exec.Cmd {
	binary := s.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	playlist := s.PlaylistName
	if playlist == "" {
		playlist = "stream.m3u8"
	}
	segSeconds := s.SegmentSeconds
	if segSeconds <= 0 {
		segSeconds = 2
	}
	listSize := s.ListSize
	if listSize <= 0 {
		listSize = 6
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-rtsp_transport", "tcp",
		"-i", s.SourceURL,
		"-vf", "format=yuv420p",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-c:a", "aac",
		"-g", "30",
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", segSeconds),
		"-hls_list_size", fmt.Sprintf("%d", listSize),
		"-hls_flags", "omit_endlist",
		"-hls_segment_filename", filepath.Join(s.OutputDir, "segment_%03d.ts"),
		filepath.Join(s.OutputDir, playlist),
	}
	return exec.CommandContext(ctx, binary, args...)
}
