// Package monitoring reports host and process resource usage.
package monitoring

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// DiskUsage of the filesystem holding the recordings directory.
type DiskUsage struct {
	Path        string  `json:"path"`
	UsedBytes   uint64  `json:"usedBytes"`
	TotalBytes  uint64  `json:"totalBytes"`
	UsedPercent float64 `json:"usedPercent"`
}

// MemoryUsage of the host.
type MemoryUsage struct {
	AvailableBytes uint64  `json:"availableBytes"`
	TotalBytes     uint64  `json:"totalBytes"`
	UsedPercent    float64 `json:"usedPercent"`
}

// SystemInfo is the snapshot shown on the system panel. A nil field means the
// metric could not be read.
type SystemInfo struct {
	Disk       *DiskUsage   `json:"disk,omitempty"`
	Memory     *MemoryUsage `json:"memory,omitempty"`
	CPUPercent *float64     `json:"cpuPercent,omitempty"`
	TakenAt    time.Time    `json:"takenAt"`
}

// String renders the snapshot the way the system panel prints it.
func (s SystemInfo) String() string {
	diskStr, ramStr, cpuStr := "N/A", "N/A", "N/A"
	if d := s.Disk; d != nil {
		diskStr = fmt.Sprintf("%.1f GB used / %.1f GB total (%.1f%%)", float64(d.UsedBytes)/1e9, float64(d.TotalBytes)/1e9, d.UsedPercent)
	}
	if m := s.Memory; m != nil {
		ramStr = fmt.Sprintf("%.1f MB free / %.1f MB total (%.1f%% used)", float64(m.AvailableBytes)/1e6, float64(m.TotalBytes)/1e6, m.UsedPercent)
	}
	if s.CPUPercent != nil {
		cpuStr = fmt.Sprintf("%.1f %%", *s.CPUPercent)
	}
	return fmt.Sprintf("Disk: %s | RAM: %s | CPU: %s", diskStr, ramStr, cpuStr)
}

// Snapshot samples disk usage of path, host memory and CPU load. CPU is
// measured over sample; a zero sample compares against the previous call.
func Snapshot(ctx context.Context, path string, sample time.Duration) SystemInfo {
	info := SystemInfo{TakenAt: time.Now()}

	if du, err := disk.UsageWithContext(ctx, path); err == nil {
		info.Disk = &DiskUsage{
			Path:        path,
			UsedBytes:   du.Used,
			TotalBytes:  du.Total,
			UsedPercent: du.UsedPercent,
		}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.Memory = &MemoryUsage{
			AvailableBytes: vm.Available,
			TotalBytes:     vm.Total,
			UsedPercent:    vm.UsedPercent,
		}
	}
	if pct, err := cpu.PercentWithContext(ctx, sample, false); err == nil && len(pct) > 0 {
		v := pct[0]
		info.CPUPercent = &v
	}
	return info
}

// ResourceUsage of this process.
type ResourceUsage struct {
	CPUPercent    float64
	MemoryUsedMB  float64
	MemoryTotalMB float64
	MemoryPercent float64
	NumGoroutines int
}

// ProcessMonitor samples the recorder's own resource usage.
type ProcessMonitor struct {
	proc   *process.Process
	logger zerolog.Logger
}

// NewProcessMonitor attaches to the current process.
func NewProcessMonitor(logger zerolog.Logger) (*ProcessMonitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("error getting process: %w", err)
	}
	return &ProcessMonitor{proc: proc, logger: logger}, nil
}

// Usage returns the current process usage.
func (m *ProcessMonitor) Usage() (ResourceUsage, error) {
	var usage ResourceUsage

	cpuPercent, err := m.proc.CPUPercent()
	if err != nil {
		return usage, fmt.Errorf("error getting CPU usage: %w", err)
	}
	usage.CPUPercent = cpuPercent

	virtualMem, err := mem.VirtualMemory()
	if err != nil {
		return usage, fmt.Errorf("error getting memory info: %w", err)
	}
	procMem, err := m.proc.MemoryInfo()
	if err != nil {
		return usage, fmt.Errorf("error getting process memory: %w", err)
	}

	usage.MemoryUsedMB = float64(procMem.RSS) / 1024 / 1024
	usage.MemoryTotalMB = float64(virtualMem.Total) / 1024 / 1024
	usage.MemoryPercent = float64(procMem.RSS) / float64(virtualMem.Total) * 100
	usage.NumGoroutines = runtime.NumGoroutine()

	return usage, nil
}

// LogUsage writes one resource usage line.
func (m *ProcessMonitor) LogUsage() {
	usage, err := m.Usage()
	if err != nil {
		m.logger.Warn().Err(err).Msg("Error getting resource usage")
		return
	}
	m.logger.Info().
		Float64("cpu_pct", usage.CPUPercent).
		Float64("mem_mb", usage.MemoryUsedMB).
		Float64("mem_pct", usage.MemoryPercent).
		Int("goroutines", usage.NumGoroutines).
		Msgf("Resource Usage - CPU: %.2f%%, Memory: %.2f/%.2f MB (%.2f%%), Goroutines: %d",
			usage.CPUPercent, usage.MemoryUsedMB, usage.MemoryTotalMB, usage.MemoryPercent, usage.NumGoroutines)
}
