package monitor

import (
	"testing"
	"time"
)

func TestHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(10)

	if s := h.Stats(); s.Count != 0 {
		t.Fatalf("empty histogram count = %d", s.Count)
	}

	for _, v := range []float64{10, 20, 30, 40, 50} {
		h.Record(v)
	}
	s := h.Stats()
	if s.Count != 5 || s.Min != 10 || s.Max != 50 || s.Avg != 30 {
		t.Fatalf("stats = %+v", s)
	}
	if s.P50 != 30 {
		t.Fatalf("p50 = %v, want 30", s.P50)
	}
}

func TestHistogramSlidingWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{1, 2, 3, 4} {
		h.Record(v)
	}
	s := h.Stats()
	if s.Count != 3 || s.Min != 2 || s.Max != 4 {
		t.Fatalf("stats after overflow = %+v", s)
	}
}

func TestHistogramCachesUntilDirty(t *testing.T) {
	h := NewLatencyHistogram(10)
	h.Record(5)

	first := h.Stats()
	second := h.Stats()
	if first != second {
		t.Fatalf("repeated Stats differ: %+v vs %+v", first, second)
	}

	h.Record(15)
	if s := h.Stats(); s.Count != 2 || s.Max != 15 {
		t.Fatalf("stats after new sample = %+v", s)
	}
}

func TestSnapshotCounters(t *testing.T) {
	m := NewMetrics()
	m.MutationApplied()
	m.MutationApplied()
	m.MutationRejected()

	timer := NewTimer(m.LedgerLatency)
	time.Sleep(time.Millisecond)
	if elapsed := timer.Stop(); elapsed <= 0 {
		t.Fatalf("elapsed = %v", elapsed)
	}

	s := m.GetSnapshot(3)
	if s.MutationsApplied != 2 || s.MutationsRejected != 1 {
		t.Fatalf("counters = %d/%d, want 2/1", s.MutationsApplied, s.MutationsRejected)
	}
	if s.OnlineConnections != 3 {
		t.Fatalf("online = %d, want 3", s.OnlineConnections)
	}
	if s.LedgerLatency.Count != 1 {
		t.Fatalf("latency samples = %d, want 1", s.LedgerLatency.Count)
	}
	if s.GoroutineCount <= 0 || s.Timestamp.IsZero() {
		t.Fatalf("snapshot = %+v", s)
	}
}
