package monitor

import (
	"expvar"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemCollector periodically samples CPU, memory and disk usage of the
// volume holding the scratch directory.
type SystemCollector struct {
	CPUUsagePercent  *expvar.Float
	MemUsagePercent  *expvar.Float
	DiskUsagePercent *expvar.Float
	DiskFreeBytes    *expvar.Int

	diskPath string
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewSystemCollector creates a collector for the disk holding diskPath.
func NewSystemCollector(diskPath string, interval time.Duration, publishGlobally bool, logger *slog.Logger) *SystemCollector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	sc := &SystemCollector{
		diskPath: diskPath,
		interval: interval,
		stopChan: make(chan struct{}),
		logger:   logger.With("component", "SystemCollector"),
	}
	if publishGlobally {
		sc.CPUUsagePercent = publishExpvarFloat("system_cpu_usage_percent")
		sc.MemUsagePercent = publishExpvarFloat("system_mem_usage_percent")
		sc.DiskUsagePercent = publishExpvarFloat("system_disk_usage_percent")
		sc.DiskFreeBytes = publishExpvarInt("system_disk_free_bytes")
	} else {
		sc.CPUUsagePercent = new(expvar.Float)
		sc.MemUsagePercent = new(expvar.Float)
		sc.DiskUsagePercent = new(expvar.Float)
		sc.DiskFreeBytes = new(expvar.Int)
	}
	return sc
}

// Start begins the background collection loop.
func (sc *SystemCollector) Start() {
	sc.logger.Info("Starting system metrics collector", "interval", sc.interval, "path", sc.diskPath)
	sc.wg.Add(1)
	go sc.collectLoop()
}

// Stop terminates the loop and waits for it. It is safe to call twice.
func (sc *SystemCollector) Stop() {
	sc.stopOnce.Do(func() {
		close(sc.stopChan)
	})
	sc.wg.Wait()
}

// Collect takes one sample. CPU usage is measured over cpuWindow.
func (sc *SystemCollector) Collect(cpuWindow time.Duration) {
	if pct, err := cpu.Percent(cpuWindow, false); err == nil && len(pct) > 0 {
		sc.CPUUsagePercent.Set(pct[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sc.MemUsagePercent.Set(vm.UsedPercent)
	}
	if du, err := disk.Usage(sc.diskPath); err == nil {
		sc.DiskUsagePercent.Set(du.UsedPercent)
		sc.DiskFreeBytes.Set(int64(du.Free))
	} else {
		sc.logger.Debug("Disk usage unavailable", "path", sc.diskPath, "error", err)
	}
}

func (sc *SystemCollector) collectLoop() {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	// The CPU window must end before the next tick.
	window := sc.interval - sc.interval/10
	if window > time.Second {
		window = time.Second
	}
	for {
		select {
		case <-ticker.C:
			sc.Collect(window)
		case <-sc.stopChan:
			return
		}
	}
}
