package monitoring

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotReadsDisk(t *testing.T) {
	info := Snapshot(context.Background(), t.TempDir(), 0)
	require.NotNil(t, info.Disk)
	assert.Greater(t, info.Disk.TotalBytes, uint64(0))
	assert.False(t, info.TakenAt.IsZero())
}

func TestSnapshotMissingPath(t *testing.T) {
	info := Snapshot(context.Background(), "/nonexistent/pict/recordings", 0)
	assert.Nil(t, info.Disk)
	assert.Contains(t, info.String(), "Disk: N/A")
}

func TestSystemInfoString(t *testing.T) {
	cpu := 12.5
	s := SystemInfo{
		Disk:       &DiskUsage{UsedBytes: 3e9, TotalBytes: 30e9, UsedPercent: 10},
		Memory:     &MemoryUsage{AvailableBytes: 400e6, TotalBytes: 1000e6, UsedPercent: 60},
		CPUPercent: &cpu,
		TakenAt:    time.Now(),
	}
	out := s.String()
	assert.True(t, strings.HasPrefix(out, "Disk: 3.0 GB used / 30.0 GB total (10.0%)"))
	assert.Contains(t, out, "RAM: 400.0 MB free / 1000.0 MB total (60.0% used)")
	assert.Contains(t, out, "CPU: 12.5 %")
}

func TestProcessMonitorUsage(t *testing.T) {
	m, err := NewProcessMonitor(zerolog.Nop())
	require.NoError(t, err)
	u, err := m.Usage()
	require.NoError(t, err)
	assert.Greater(t, u.NumGoroutines, 0)
	assert.Greater(t, u.MemoryUsedMB, 0.0)
	m.LogUsage()
}
