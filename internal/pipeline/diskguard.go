package pipeline

import (
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskGuard is the admission-control gate in front of the encoder: recording
// may only (re)start while utilization of the mount holding the staging
// directory is below the threshold. Stat failures count as over threshold.
type DiskGuard struct {
	Path             string  // staging directory whose mount is checked
	ThresholdPercent float64 // e.g. 90

	// Seams for tests; nil means gopsutil.
	partitions func(all bool) ([]disk.PartitionStat, error)
	usage      func(path string) (*disk.UsageStat, error)
}

// NewDiskGuard returns a guard for the mount containing path.
func NewDiskGuard(path string, thresholdPercent float64) *DiskGuard {
	return &DiskGuard{
		Path:             path,
		ThresholdPercent: thresholdPercent,
		partitions:       disk.Partitions,
		usage:            disk.Usage,
	}
}

// Check resolves the mount point containing the guarded path and compares its
// utilization against the threshold. ok is false when usage is at or above
// the threshold or when the mount cannot be inspected.
func (g *DiskGuard) Check() (ok bool, usedPercent float64) {
	mount := g.MountPoint()
	u, err := g.usage(mount)
	if err != nil {
		return false, 0
	}
	return u.UsedPercent < g.ThresholdPercent, u.UsedPercent
}

// MountPoint returns the most specific mounted filesystem containing the
// guarded path: the longest mount-point prefix that matches on full path
// components. Falls back to "/" when enumeration fails.
func (g *DiskGuard) MountPoint() string {
	parts, err := g.partitions(true)
	if err != nil {
		return "/"
	}
	best := "/"
	for _, p := range parts {
		if mountContains(p.Mountpoint, g.Path) && len(p.Mountpoint) > len(best) {
			best = p.Mountpoint
		}
	}
	return best
}

// mountContains reports whether path lives under mount, matching whole path
// components so that /media does not claim /media2/foo.
func mountContains(mount, path string) bool {
	if mount == "/" {
		return strings.HasPrefix(path, "/")
	}
	mount = strings.TrimSuffix(mount, string(os.PathSeparator))
	return path == mount || strings.HasPrefix(path, mount+string(os.PathSeparator))
}
