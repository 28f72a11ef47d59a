package pipeline

import (
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// TempMarker is inserted before the extension while the encoder is still
// writing a segment, e.g. "17_temp.mp4". The finalizer strips it once the
// file is provably complete.
const TempMarker = "_temp"

// Fingerprint identifies one version of a file for upload change detection.
// Two observations with equal fingerprints are treated as the same content.
type Fingerprint struct {
	ModTime time.Time
	Size    int64
}

// FingerprintOf builds a Fingerprint from file info.
func FingerprintOf(info fs.FileInfo) Fingerprint {
	return Fingerprint{ModTime: info.ModTime(), Size: info.Size()}
}

// IsTemp reports whether name carries the temp marker before its extension.
func IsTemp(name string) bool {
	ext := path.Ext(name)
	return strings.HasSuffix(strings.TrimSuffix(name, ext), TempMarker)
}

// FinalName strips the temp marker from name. Names without the marker are
// returned unchanged.
func FinalName(name string) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return strings.TrimSuffix(base, TempMarker) + ext
}

// IsManifest reports whether name is a playlist/index file that remote
// readers dereference. Manifests are uploaded before data files each cycle
// to keep the dangling-reference window small.
func IsManifest(name string) bool {
	return strings.EqualFold(path.Ext(name), ".m3u8")
}

// ContentTypeFor returns the MIME type used when uploading the file.
func ContentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/MP2T"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// SegmentStart derives the wall-clock start of a finalized archive segment
// from its position in the root/YYYY/MM/DD/HH/MM.mp4 tree. ok is false when
// the path does not follow that layout.
func SegmentStart(root, p string) (t time.Time, ok bool) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return time.Time{}, false
	}
	name := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	stamp := filepath.Join(filepath.Dir(rel), name)
	t, err = time.ParseInLocation(filepath.Join("2006", "01", "02", "15", "04"), stamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
