// Package fileserver exposes the recording tree over HTTP: date and time
// listings plus per-minute video serving with HTTP Range support for
// seeking.
package fileserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"camera-pipeline/internal/pipeline"
)

// Handler serves the archived recording tree (root/YYYY/MM/DD/HH/MM.mp4).
type Handler struct {
	Root string
	Log  *slog.Logger

	startedAt time.Time
}

// New returns a Handler over root.
func New(root string, log *slog.Logger) *Handler {
	return &Handler{Root: root, Log: log, startedAt: time.Now()}
}

// Index handles GET / with service information.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	_, dirErr := os.Stat(h.Root)
	writeJSON(w, http.StatusOK, map[string]any{
		"service":          "camera-file-server",
		"status":           "running",
		"uptime_seconds":   int(time.Since(h.startedAt).Seconds()),
		"base_directory":   h.Root,
		"directory_exists": dirErr == nil,
		"endpoints": map[string]string{
			"/":                   "this information page",
			"/health":             "health check",
			"/metrics":            "prometheus metrics",
			"/listAvailableDates": "available recording dates",
			"/listAvailableTimes": "available times for ?date=YYYY-MM-DD",
			"/getRawVideo":        "video for ?date=YYYY-MM-DD&hour=HH&minute=MM",
		},
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"server":    "camera-file-server",
	})
}

// ListAvailableDates handles GET /listAvailableDates: recording dates in
// YYYY-MM-DD format, newest first.
func (h *Handler) ListAvailableDates(w http.ResponseWriter, r *http.Request) {
	var dates []string
	for _, year := range numericSubdirs(h.Root) {
		for _, month := range numericSubdirs(filepath.Join(h.Root, year)) {
			for _, day := range numericSubdirs(filepath.Join(h.Root, year, month)) {
				y, _ := strconv.Atoi(year)
				m, _ := strconv.Atoi(month)
				d, _ := strconv.Atoi(day)
				dates = append(dates, fmt.Sprintf("%04d-%02d-%02d", y, m, d))
			}
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	writeJSON(w, http.StatusOK, dates)
}

// ListAvailableTimes handles GET /listAvailableTimes?date=YYYY-MM-DD: the
// minutes from midnight that have a finalized recording.
func (h *Handler) ListAvailableTimes(w http.ResponseWriter, r *http.Request) {
	date, ok := h.parseDate(w, r)
	if !ok {
		return
	}

	dateDir := filepath.Join(h.Root,
		fmt.Sprintf("%04d", date.Year()),
		fmt.Sprintf("%02d", int(date.Month())),
		fmt.Sprintf("%02d", date.Day()))

	minutes := []int{}
	for _, hour := range numericSubdirs(dateDir) {
		entries, err := os.ReadDir(filepath.Join(dateDir, hour))
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || pipeline.IsTemp(name) || !strings.HasSuffix(name, ".mp4") {
				continue
			}
			// The tree position is the recording time; anything that does not
			// parse as one (stray files, out-of-range names) is not a segment.
			start, ok := pipeline.SegmentStart(h.Root, filepath.Join(dateDir, hour, name))
			if !ok {
				continue
			}
			minutes = append(minutes, start.Hour()*60+start.Minute())
		}
	}
	sort.Ints(minutes)
	writeJSON(w, http.StatusOK, minutes)
}

// GetRawVideo handles GET /getRawVideo?date=YYYY-MM-DD&hour=HH&minute=MM.
// Range requests are honored so players can seek.
func (h *Handler) GetRawVideo(w http.ResponseWriter, r *http.Request) {
	date, ok := h.parseDate(w, r)
	if !ok {
		return
	}
	hour, ok := h.parseIntParam(w, r, "hour", 0, 23)
	if !ok {
		return
	}
	minute, ok := h.parseIntParam(w, r, "minute", 0, 59)
	if !ok {
		return
	}

	path := filepath.Join(h.Root,
		fmt.Sprintf("%04d", date.Year()),
		fmt.Sprintf("%02d", int(date.Month())),
		fmt.Sprintf("%02d", date.Day()),
		fmt.Sprintf("%02d", hour),
		fmt.Sprintf("%02d.mp4", minute))

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		h.Log.Warn("video not found", "path", path)
		writeJSONError(w, http.StatusNotFound, "video file not found for the specified time")
		return
	}

	w.Header().Set("Cache-Control", cacheControlFor(r.URL.Query().Get("quality")))
	// ServeFile handles Range and Content-Type.
	http.ServeFile(w, r, path)
}

func (h *Handler) parseDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	s := r.URL.Query().Get("date")
	if s == "" {
		writeJSONError(w, http.StatusBadRequest, "missing 'date' query parameter")
		return time.Time{}, false
	}
	date, err := time.Parse("2006-01-02", s)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid date format, expected YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

func (h *Handler) parseIntParam(w http.ResponseWriter, r *http.Request, name string, min, max int) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		writeJSONError(w, http.StatusBadRequest, "missing '"+name+"' query parameter")
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		writeJSONError(w, http.StatusBadRequest, "invalid '"+name+"' value")
		return 0, false
	}
	return n, true
}

// cacheControlFor tunes caching by requested quality; higher quality variants
// are cached longer.
func cacheControlFor(quality string) string {
	switch quality {
	case "high":
		return "public, max-age=7200, s-maxage=86400"
	case "low":
		return "public, max-age=1800, s-maxage=7200"
	default:
		return "public, max-age=3600, s-maxage=86400"
	}
}

// numericSubdirs lists the numeric child directories of dir, sorted.
func numericSubdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// CORS allows browser playback from other origins and exposes the headers
// range-aware players need.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Expose-Headers", "Accept-Ranges, Content-Range, Content-Length")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Range")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
