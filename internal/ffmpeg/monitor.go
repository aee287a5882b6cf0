package ffmpeg

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats is a point-in-time resource snapshot of an ffmpeg process.
type ProcessStats struct {
	PID           int32     `json:"pid"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryRSS     uint64    `json:"memory_rss_bytes"`
	MemoryPercent float32   `json:"memory_percent"`
	NumThreads    int32     `json:"num_threads"`
	SampledAt     time.Time `json:"sampled_at"`
}

// ProcessMonitor samples resource usage of one process on a fixed interval
// until stopped.
type ProcessMonitor struct {
	pid      int32
	interval time.Duration

	mu    sync.RWMutex
	stats ProcessStats

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewProcessMonitor creates a monitor for the given pid.
func NewProcessMonitor(pid int32) *ProcessMonitor {
	return &ProcessMonitor{
		pid:      pid,
		interval: 5 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// SetInterval overrides the sampling interval. Call before Start.
func (m *ProcessMonitor) SetInterval(d time.Duration) {
	if d > 0 {
		m.interval = d
	}
}

// Start begins background sampling.
func (m *ProcessMonitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop halts sampling. Safe to call more than once.
func (m *ProcessMonitor) Stop() {
	m.once.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

// Stats returns the latest sample.
func (m *ProcessMonitor) Stats() ProcessStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *ProcessMonitor) loop() {
	defer m.wg.Done()

	proc, err := process.NewProcess(m.pid)
	if err != nil {
		return
	}
	m.sample(proc)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sample(proc)
		}
	}
}

func (m *ProcessMonitor) sample(proc *process.Process) {
	stats := ProcessStats{PID: m.pid, SampledAt: time.Now()}

	if cpu, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.MemoryRSS = mem.RSS
	}
	if pct, err := proc.MemoryPercent(); err == nil {
		stats.MemoryPercent = pct
	}
	if threads, err := proc.NumThreads(); err == nil {
		stats.NumThreads = threads
	}

	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()
}
