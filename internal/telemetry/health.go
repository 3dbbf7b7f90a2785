package telemetry

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// HealthSnapshot is the host-resource view returned by the monitoring
// endpoint (§4.4.4): process uptime plus host CPU/memory/disk utilization
// and per-provider reachability.
type HealthSnapshot struct {
	UptimeSeconds float64                  `json:"uptime_seconds"`
	CPUPercent    float64                  `json:"cpu_percent"`
	MemPercent    float64                  `json:"mem_percent"`
	DiskPercent   float64                  `json:"disk_percent"`
	Providers     map[string]bool          `json:"providers"` // provider id -> reachable (breaker not open)
}

// HealthCollector samples host resource usage via gopsutil and tracks
// process start time for uptime.
type HealthCollector struct {
	startedAt time.Time
	diskPath  string
}

// NewHealthCollector creates a collector that reports disk usage for
// diskPath (e.g. "/" or the blob store root).
func NewHealthCollector(diskPath string) *HealthCollector {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HealthCollector{startedAt: time.Now(), diskPath: diskPath}
}

// Snapshot samples current CPU/mem/disk usage. CPUPercent is measured over a
// short blocking window; callers on a hot request path should call this from
// a background goroutine and cache the result rather than inline.
func (h *HealthCollector) Snapshot(ctx context.Context, providers map[string]bool) HealthSnapshot {
	snap := HealthSnapshot{
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Providers:     providers,
	}

	if percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemPercent = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, h.diskPath); err == nil {
		snap.DiskPercent = du.UsedPercent
	}

	return snap
}
