package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/xela07ax/opsguard/internal/domain"
)

// HostSource снимает CPU, память, диск и сетевой трафик локального хоста.
// Поля database/application остаются нулевыми: их дает HTTPProbe.
type HostSource struct {
	diskPath string
	now      func() time.Time

	mu          sync.Mutex
	lastCPUTot  float64
	lastCPUIdle float64
	lastNetAt   time.Time
	lastRecv    uint64
	lastSent    uint64
}

func NewHostSource(diskPath string) *HostSource {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostSource{diskPath: diskPath, now: time.Now}
}

func (h *HostSource) Sample(ctx context.Context) (domain.SystemMetricSample, error) {
	now := h.now()
	s := domain.SystemMetricSample{Timestamp: now}

	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil || len(times) == 0 {
		if err == nil {
			err = errors.New("no cpu stats")
		}
		return s, fmt.Errorf("cpu times: %w", err)
	}
	s.CPU = h.cpuPercent(times[0])

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("virtual memory: %w", err)
	}
	s.Memory = clamp(vm.UsedPercent)

	if du, err := disk.UsageWithContext(ctx, h.diskPath); err == nil {
		s.Disk = clamp(du.UsedPercent)
	}

	if counters, err := gnet.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		s.Network.Inbound, s.Network.Outbound = h.netRates(counters[0].BytesRecv, counters[0].BytesSent, now)
	}
	return s, nil
}

// cpuPercent: загрузка между двумя вызовами. Первый вызов дает 0.
func (h *HostSource) cpuPercent(t cpu.TimesStat) float64 {
	total := t.User + t.System + t.Nice + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal + t.Guest + t.GuestNice
	idle := t.Idle + t.Iowait

	h.mu.Lock()
	defer h.mu.Unlock()

	dTotal, dIdle := total-h.lastCPUTot, idle-h.lastCPUIdle
	hasPrev := h.lastCPUTot > 0
	h.lastCPUTot, h.lastCPUIdle = total, idle
	if !hasPrev || dTotal <= 0 {
		return 0
	}
	return clamp((dTotal - dIdle) / dTotal * 100)
}

// netRates: КБ/с с прошлого вызова.
func (h *HostSource) netRates(recv, sent uint64, now time.Time) (float64, float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var in, out float64
	if !h.lastNetAt.IsZero() {
		if elapsed := now.Sub(h.lastNetAt).Seconds(); elapsed > 0 {
			if recv >= h.lastRecv {
				in = float64(recv-h.lastRecv) / elapsed / 1024
			}
			if sent >= h.lastSent {
				out = float64(sent-h.lastSent) / elapsed / 1024
			}
		}
	}
	h.lastNetAt, h.lastRecv, h.lastSent = now, recv, sent
	return in, out
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
