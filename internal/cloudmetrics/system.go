package cloudmetrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemSampler periodically emits CPU, memory, and disk utilization.
// It runs independently of per-event pipeline metrics.
type SystemSampler struct {
	Reporter *Reporter
	Interval time.Duration
	DiskPath string // mount point or directory whose disk usage is sampled

	Log *slog.Logger

	// Seams for tests; nil means gopsutil.
	cpuPercent    func(interval time.Duration, percpu bool) ([]float64, error)
	virtualMemory func() (*mem.VirtualMemoryStat, error)
	diskUsage     func(path string) (*disk.UsageStat, error)
}

// Run samples on every interval until ctx is cancelled.
func (s *SystemSampler) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		s.sample(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *SystemSampler) sample(ctx context.Context) {
	cpuFn := s.cpuPercent
	if cpuFn == nil {
		cpuFn = cpu.Percent
	}
	memFn := s.virtualMemory
	if memFn == nil {
		memFn = mem.VirtualMemory
	}
	diskFn := s.diskUsage
	if diskFn == nil {
		diskFn = disk.Usage
	}

	if vals, err := cpuFn(0, false); err == nil && len(vals) > 0 {
		s.Reporter.Emit(ctx, "CPUUsage", vals[0], "Percent", nil)
	} else if err != nil {
		s.Log.Error("cpu sample failed", "error", err)
	}

	if vm, err := memFn(); err == nil {
		s.Reporter.Emit(ctx, "MemoryUsage", vm.UsedPercent, "Percent", nil)
	} else {
		s.Log.Error("memory sample failed", "error", err)
	}

	if s.DiskPath != "" {
		if du, err := diskFn(s.DiskPath); err == nil {
			s.Reporter.Emit(ctx, "DiskUsage", du.UsedPercent, "Percent",
				map[string]string{"MountPoint": "VideoStorage"})
		} else {
			s.Log.Error("disk sample failed", "path", s.DiskPath, "error", err)
		}
	}
}
