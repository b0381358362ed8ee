package monitor

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// SystemStats is the most recent resource sample.
type SystemStats struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	MemoryUsedMB  float64   `json:"memory_used_mb"`
	DiskPercent   float64   `json:"disk_percent"`
	SampledAt     time.Time `json:"sampled_at"`
}

// SystemPoller samples host CPU, memory and disk pressure on a fixed
// interval and exposes the numbers as gauges.
type SystemPoller struct {
	interval time.Duration
	diskPath string

	mu      sync.Mutex
	stats   SystemStats
	running bool
	quit    chan struct{}
	wg      sync.WaitGroup

	prevIdle  float64
	prevTotal float64

	cpuGauge  prometheus.Gauge
	memGauge  prometheus.Gauge
	diskGauge prometheus.Gauge
}

// NewSystemPoller polls every interval; diskPath is the filesystem the
// captures land on.
func NewSystemPoller(reg *prometheus.Registry, interval time.Duration, diskPath string) *SystemPoller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	p := &SystemPoller{
		interval: interval,
		diskPath: diskPath,
	}

	p.cpuGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "oin_system_cpu_percent",
		Help: "Host CPU utilization",
	})
	p.memGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "oin_system_memory_percent",
		Help: "Host memory utilization",
	})
	p.diskGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "oin_system_disk_percent",
		Help: "Capture filesystem utilization",
	})
	if reg != nil {
		reg.MustRegister(p.cpuGauge, p.memGauge, p.diskGauge)
	}
	return p
}

// Start is idempotent; Stop must be called once per successful Start.
func (p *SystemPoller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.quit = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(p.quit)
	log.Printf("Monitor: system poller started (interval %v)", p.interval)
}

func (p *SystemPoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	quit := p.quit
	p.mu.Unlock()

	close(quit)
	p.wg.Wait()
}

func (p *SystemPoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SystemPoller) run(quit chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.sample()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			p.sample()
		}
	}
}

func (p *SystemPoller) sample() {
	stats := SystemStats{SampledAt: time.Now()}

	if fs, err := procfs.NewDefaultFS(); err == nil {
		if stat, err := fs.Stat(); err == nil {
			c := stat.CPUTotal
			total := c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
			idle := c.Idle + c.Iowait

			p.mu.Lock()
			dTotal := total - p.prevTotal
			dIdle := idle - p.prevIdle
			if p.prevTotal > 0 && dTotal > 0 {
				stats.CPUPercent = 100 * (dTotal - dIdle) / dTotal
			}
			p.prevTotal, p.prevIdle = total, idle
			p.mu.Unlock()
		}
		if mem, err := fs.Meminfo(); err == nil && mem.MemTotal != nil && mem.MemAvailable != nil && *mem.MemTotal > 0 {
			used := *mem.MemTotal - *mem.MemAvailable
			stats.MemoryPercent = 100 * float64(used) / float64(*mem.MemTotal)
			stats.MemoryUsedMB = float64(used) / 1024
		}
	}

	var st unix.Statfs_t
	if err := unix.Statfs(p.diskPath, &st); err == nil && st.Blocks > 0 {
		free := float64(st.Bavail)
		total := float64(st.Blocks)
		stats.DiskPercent = 100 * (total - free) / total
	}

	p.mu.Lock()
	p.stats = stats
	p.mu.Unlock()

	p.cpuGauge.Set(stats.CPUPercent)
	p.memGauge.Set(stats.MemoryPercent)
	p.diskGauge.Set(stats.DiskPercent)
}

// Stats returns the latest sample.
func (p *SystemPoller) Stats() SystemStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
