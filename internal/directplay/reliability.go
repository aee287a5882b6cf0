package directplay

import (
	"sync"
	"time"

	"github.com/vodarr/vodarr/internal/config"
)

// Verdict classifies how well a client behaves when issuing byte ranges.
type Verdict string

const (
	VerdictTrusted   Verdict = "trusted"
	VerdictSuspect   Verdict = "suspect"
	VerdictUntrusted Verdict = "untrusted"
)

// RangeStats are running counters for one direct-play session. Never
// persisted past the session; only the verdict is.
type RangeStats struct {
	Total        int64     `json:"total"`
	Successful   int64     `json:"successful"`
	Failed       int64     `json:"failed"`
	OutOfOrder   int64     `json:"out_of_order"`
	AvgChunkSize int64     `json:"avg_chunk_size"`
	LastRequest  time.Time `json:"last_request"`
}

// ReliabilityTracker accumulates range request outcomes for one session and
// classifies the client once enough samples exist.
type ReliabilityTracker struct {
	minSamples        int
	failureRateMax    float64
	outOfOrderRateMax float64
	outOfOrderMax     int64

	mu        sync.Mutex
	stats     RangeStats
	lastStart int64
	haveLast  bool
}

// NewReliabilityTracker creates a tracker with the configured thresholds.
func NewReliabilityTracker(cfg config.DirectPlayConfig) *ReliabilityTracker {
	return &ReliabilityTracker{
		minSamples:        cfg.MinSamples,
		failureRateMax:    cfg.FailureRateMax,
		outOfOrderRateMax: cfg.OutOfOrderRateMax,
		outOfOrderMax:     int64(cfg.OutOfOrderMax),
	}
}

// Record adds one request outcome. A request starting before the previous
// request's start offset counts as out of order; players stepping forward
// through a file never do that outside of user seeks.
func (t *ReliabilityTracker) Record(start, length int64, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Total++
	if success {
		t.stats.Successful++
	} else {
		t.stats.Failed++
	}
	if t.haveLast && start < t.lastStart {
		t.stats.OutOfOrder++
	}
	t.lastStart = start
	t.haveLast = true

	if length > 0 {
		// Running average, integer precision is plenty here.
		t.stats.AvgChunkSize += (length - t.stats.AvgChunkSize) / t.stats.Total
	}
	t.stats.LastRequest = time.Now()
}

// Verdict classifies the session. Below the minimum sample size everything
// is trusted; thresholds only mean something with data behind them.
func (t *ReliabilityTracker) Verdict() Verdict {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stats.Total < int64(t.minSamples) {
		return VerdictTrusted
	}
	total := float64(t.stats.Total)
	if float64(t.stats.Failed)/total > t.failureRateMax {
		return VerdictUntrusted
	}
	if float64(t.stats.OutOfOrder)/total > t.outOfOrderRateMax {
		return VerdictSuspect
	}
	if t.outOfOrderMax > 0 && t.stats.OutOfOrder > t.outOfOrderMax {
		return VerdictSuspect
	}
	return VerdictTrusted
}

// Stats returns a copy of the counters.
func (t *ReliabilityTracker) Stats() RangeStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
