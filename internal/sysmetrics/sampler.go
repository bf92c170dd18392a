// Package sysmetrics samples the host CPU, memory and storage figures a
// display reports in its heartbeat.
package sysmetrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
)

// cpuTotals is the sum of the counters across every core.
type cpuTotals struct {
	busy  float64
	total float64
}

// Sampler computes CPU usage as the delta between consecutive snapshots of
// the per-core time counters. The first call has no previous snapshot and
// reports the busy share since boot.
type Sampler struct {
	storagePath string

	timesCollector   func(context.Context, bool) ([]cpu.TimesStat, error)
	memoryCollector  func(context.Context) (*mem.VirtualMemoryStat, error)
	storageCollector func(context.Context, string) (*disk.UsageStat, error)

	mu   sync.Mutex
	prev *cpuTotals
}

// NewSampler creates a sampler whose storage figure is the used bytes of the
// filesystem holding storagePath.
func NewSampler(storagePath string) *Sampler {
	if storagePath == "" {
		storagePath = "/"
	}
	return &Sampler{
		storagePath:      storagePath,
		timesCollector:   cpu.TimesWithContext,
		memoryCollector:  mem.VirtualMemoryWithContext,
		storageCollector: disk.UsageWithContext,
	}
}

// CPUUsage returns the busy percentage since the previous call, clamped to
// [0, 100]. A zero elapsed total yields 0.
func (s *Sampler) CPUUsage(ctx context.Context) (float64, error) {
	times, err := s.timesCollector(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("reading cpu times: %w", err)
	}
	cur := sumTimes(times)

	s.mu.Lock()
	prev := s.prev
	s.prev = &cur
	s.mu.Unlock()

	busy, total := cur.busy, cur.total
	if prev != nil {
		busy -= prev.busy
		total -= prev.total
	}
	return usagePercent(busy, total), nil
}

func sumTimes(times []cpu.TimesStat) cpuTotals {
	var t cpuTotals
	for _, c := range times {
		busy := c.User + c.Nice + c.System + c.Irq
		t.busy += busy
		t.total += busy + c.Idle
	}
	return t
}

func usagePercent(busy, total float64) float64 {
	if total <= 0 {
		return 0
	}
	pct := busy / total * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// MemoryUsage returns the used share of physical memory as a percentage.
func (s *Sampler) MemoryUsage(ctx context.Context) (float64, error) {
	vm, err := s.memoryCollector(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading memory stats: %w", err)
	}
	return vm.UsedPercent, nil
}

// StorageUsed returns the used bytes of the storage filesystem.
func (s *Sampler) StorageUsed(ctx context.Context) (int64, error) {
	u, err := s.storageCollector(ctx, s.storagePath)
	if err != nil {
		return 0, fmt.Errorf("reading disk usage of %s: %w", s.storagePath, err)
	}
	return int64(u.Used), nil //nolint:gosec // Disk sizes fit in int64
}

// Sample collects all three metrics. A failing collector leaves its field
// at zero; the first error is returned alongside the partial result.
func (s *Sampler) Sample(ctx context.Context) (protocol.Metrics, error) {
	var (
		m        protocol.Metrics
		firstErr error
	)
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if v, err := s.CPUUsage(ctx); err != nil {
		keep(err)
	} else {
		m.CPUUsage = v
	}
	if v, err := s.MemoryUsage(ctx); err != nil {
		keep(err)
	} else {
		m.MemoryUsage = v
	}
	if v, err := s.StorageUsed(ctx); err != nil {
		keep(err)
	} else {
		m.StorageUsed = v
	}
	return m, firstErr
}
