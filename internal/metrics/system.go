package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

/* SystemMetrics is a host snapshot plus gateway process figures */
type SystemMetrics struct {
	Timestamp time.Time      `json:"timestamp"`
	CPU       CPUMetrics     `json:"cpu"`
	Memory    MemoryMetrics  `json:"memory"`
	Disk      DiskMetrics    `json:"disk"`
	Network   NetworkMetrics `json:"network"`
	Process   ProcessMetrics `json:"process"`
}

/* CPUMetrics contains CPU usage information */
type CPUMetrics struct {
	UsagePercent float64 `json:"usage_percent"`
	Count        int     `json:"count"`
}

/* MemoryMetrics contains memory usage information */
type MemoryMetrics struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Available   uint64  `json:"available"`
	UsedPercent float64 `json:"used_percent"`
}

/* DiskMetrics contains root filesystem usage */
type DiskMetrics struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

/* NetworkMetrics contains network counters and rates since the previous collection */
type NetworkMetrics struct {
	BytesSent     uint64  `json:"bytes_sent"`
	BytesRecv     uint64  `json:"bytes_recv"`
	BytesSentRate float64 `json:"bytes_sent_rate,omitempty"`
	BytesRecvRate float64 `json:"bytes_recv_rate,omitempty"`
}

/* ProcessMetrics describes the gateway process */
type ProcessMetrics struct {
	GoRoutines        int    `json:"go_routines"`
	HeapAlloc         uint64 `json:"heap_alloc"`
	HeapInuse         uint64 `json:"heap_inuse"`
	ActiveConnections int    `json:"active_connections"`
}

/* SystemCollector gathers host metrics. It remembers the last network sample to derive rates. */
type SystemCollector struct {
	sampleInterval time.Duration

	mu          sync.Mutex
	lastNetwork *net.IOCountersStat
	lastNetTime time.Time
}

/* NewSystemCollector creates a collector. sampleInterval is the CPU sampling window; zero compares against the previous call. */
func NewSystemCollector(sampleInterval time.Duration) *SystemCollector {
	return &SystemCollector{sampleInterval: sampleInterval}
}

/* Collect gathers current metrics. Sources that fail are left zero. */
func (c *SystemCollector) Collect(ctx context.Context, activeConnections int) *SystemMetrics {
	metrics := &SystemMetrics{
		Timestamp: time.Now().UTC(),
	}

	if cpuPercent, err := cpu.PercentWithContext(ctx, c.sampleInterval, false); err == nil && len(cpuPercent) > 0 {
		metrics.CPU.UsagePercent = cpuPercent[0]
	}
	if cpuCount, err := cpu.CountsWithContext(ctx, true); err == nil {
		metrics.CPU.Count = cpuCount
	}

	if memStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		metrics.Memory.Total = memStat.Total
		metrics.Memory.Used = memStat.Used
		metrics.Memory.Available = memStat.Available
		metrics.Memory.UsedPercent = memStat.UsedPercent
	}

	if diskStat, err := disk.UsageWithContext(ctx, "/"); err == nil {
		metrics.Disk.Total = diskStat.Total
		metrics.Disk.Used = diskStat.Used
		metrics.Disk.Free = diskStat.Free
		metrics.Disk.UsedPercent = diskStat.UsedPercent
	}

	if netIO, err := net.IOCountersWithContext(ctx, false); err == nil && len(netIO) > 0 {
		c.fillNetwork(&metrics.Network, netIO[0], metrics.Timestamp)
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.Process.GoRoutines = runtime.NumGoroutine()
	metrics.Process.HeapAlloc = m.HeapAlloc
	metrics.Process.HeapInuse = m.HeapInuse
	metrics.Process.ActiveConnections = activeConnections

	return metrics
}

func (c *SystemCollector) fillNetwork(out *NetworkMetrics, stats net.IOCountersStat, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out.BytesSent = stats.BytesSent
	out.BytesRecv = stats.BytesRecv

	if c.lastNetwork != nil {
		elapsed := now.Sub(c.lastNetTime).Seconds()
		// counters can reset when interfaces come and go
		if elapsed > 0 && stats.BytesSent >= c.lastNetwork.BytesSent && stats.BytesRecv >= c.lastNetwork.BytesRecv {
			out.BytesSentRate = float64(stats.BytesSent-c.lastNetwork.BytesSent) / elapsed
			out.BytesRecvRate = float64(stats.BytesRecv-c.lastNetwork.BytesRecv) / elapsed
		}
	}
	c.lastNetwork = &stats
	c.lastNetTime = now
}
