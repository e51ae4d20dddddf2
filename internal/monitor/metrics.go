package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks runtime counters and latency for the admin status surface.
type Metrics struct {
	// LedgerLatency samples end-to-end wallet mutation time.
	LedgerLatency *LatencyHistogram

	started time.Time

	mutationsApplied  uint64
	mutationsRejected uint64
}

// NewMetrics creates a metrics collector anchored at the current time.
func NewMetrics() *Metrics {
	return &Metrics{
		LedgerLatency: NewLatencyHistogram(1000),
		started:       time.Now(),
	}
}

// MutationApplied counts a committed wallet mutation.
func (m *Metrics) MutationApplied() {
	atomic.AddUint64(&m.mutationsApplied, 1)
}

// MutationRejected counts a mutation refused by validation or wallet state.
func (m *Metrics) MutationRejected() {
	atomic.AddUint64(&m.mutationsRejected, 1)
}

// Snapshot is a point-in-time view of process health.
type Snapshot struct {
	Uptime            string       `json:"uptime"`
	OnlineConnections int          `json:"online_connections"`
	MutationsApplied  uint64       `json:"mutations_applied"`
	MutationsRejected uint64       `json:"mutations_rejected"`
	LedgerLatency     LatencyStats `json:"ledger_latency_ms"`
	GoroutineCount    int          `json:"goroutine_count"`
	HeapAlloc         uint64       `json:"heap_alloc_bytes"`
	HeapSys           uint64       `json:"heap_sys_bytes"`
	Timestamp         time.Time    `json:"timestamp"`
}

// GetSnapshot returns current process health; online is supplied by the
// caller since connection state lives in the hub.
func (m *Metrics) GetSnapshot(online int) Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		Uptime:            time.Since(m.started).Round(time.Second).String(),
		OnlineConnections: online,
		MutationsApplied:  atomic.LoadUint64(&m.mutationsApplied),
		MutationsRejected: atomic.LoadUint64(&m.mutationsRejected),
		LedgerLatency:     m.LedgerLatency.Stats(),
		GoroutineCount:    runtime.NumGoroutine(),
		HeapAlloc:         memStats.HeapAlloc,
		HeapSys:           memStats.HeapSys,
		Timestamp:         time.Now().UTC(),
	}
}

// LatencyHistogram tracks latency samples over a sliding window. Stats are
// recomputed lazily, only when samples changed since the last call.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts d to milliseconds and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg and percentiles over the current window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Timer measures one operation and records it on Stop.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer starts a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
