package resilience

import (
	"sync"
	"time"
)

// FillRecord is the execution quality of one confirmed or rejected leg.
type FillRecord struct {
	Owner         string    `json:"owner"`
	OrderID       string    `json:"order_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Tag           string    `json:"tag"`
	QuotedPremium float64   `json:"quoted_premium"`
	FilledPremium float64   `json:"filled_premium"`
	Slippage      float64   `json:"slippage"`
	SlippagePct   float64   `json:"slippage_pct"`
	LatencyMs     int64     `json:"latency_ms"`
	Rejected      bool      `json:"rejected"`
	RejectReason  string    `json:"reject_reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// FillStats aggregates fill quality over the tracked window.
type FillStats struct {
	TotalFills      int64   `json:"total_fills"`
	TotalRejections int64   `json:"total_rejections"`
	RejectionRate   float64 `json:"rejection_rate"`
	AvgSlippagePct  float64 `json:"avg_slippage_pct"`
	MaxSlippagePct  float64 `json:"max_slippage_pct"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	MaxLatencyMs    int64   `json:"max_latency_ms"`
}

// FillTracker records quoted versus filled premium, confirmation latency and
// rejections for entry legs.
type FillTracker struct {
	mu sync.RWMutex

	window int
	recent []FillRecord

	totalFills      int64
	totalRejections int64
	totalSlippage   float64
	totalLatency    int64
	maxSlippage     float64
	maxLatency      int64

	// SlippageAlertPct triggers onAlert when the absolute slippage exceeds it.
	slippageAlertPct float64
	onAlert          func(FillRecord)
}

// NewFillTracker creates a tracker keeping the last window records.
func NewFillTracker(window int, slippageAlertPct float64) *FillTracker {
	if window <= 0 {
		window = 100
	}
	return &FillTracker{
		window:           window,
		recent:           make([]FillRecord, 0, window),
		slippageAlertPct: slippageAlertPct,
	}
}

// OnAlert sets the callback for fills exceeding the slippage threshold.
func (t *FillTracker) OnAlert(fn func(FillRecord)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAlert = fn
}

// RecordFill records a confirmed fill.
func (t *FillTracker) RecordFill(rec FillRecord) {
	if rec.QuotedPremium > 0 {
		rec.Slippage = rec.FilledPremium - rec.QuotedPremium
		rec.SlippagePct = rec.Slippage / rec.QuotedPremium * 100
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	t.mu.Lock()
	t.totalFills++
	t.totalSlippage += rec.SlippagePct
	t.totalLatency += rec.LatencyMs
	if abs(rec.SlippagePct) > t.maxSlippage {
		t.maxSlippage = abs(rec.SlippagePct)
	}
	if rec.LatencyMs > t.maxLatency {
		t.maxLatency = rec.LatencyMs
	}
	t.push(rec)

	alert := t.onAlert
	t.mu.Unlock()

	if alert != nil && t.slippageAlertPct > 0 && abs(rec.SlippagePct) > t.slippageAlertPct {
		alert(rec)
	}
}

// RecordRejection records a leg the broker refused.
func (t *FillTracker) RecordRejection(owner, symbol, tag, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalRejections++
	t.push(FillRecord{
		Owner:        owner,
		Symbol:       symbol,
		Tag:          tag,
		Rejected:     true,
		RejectReason: reason,
		Timestamp:    time.Now(),
	})
}

func (t *FillTracker) push(rec FillRecord) {
	t.recent = append(t.recent, rec)
	if len(t.recent) > t.window {
		t.recent = t.recent[1:]
	}
}

// Stats returns aggregate fill statistics.
func (t *FillTracker) Stats() FillStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := FillStats{
		TotalFills:      t.totalFills,
		TotalRejections: t.totalRejections,
		MaxSlippagePct:  t.maxSlippage,
		MaxLatencyMs:    t.maxLatency,
	}
	if t.totalFills > 0 {
		stats.AvgSlippagePct = t.totalSlippage / float64(t.totalFills)
		stats.AvgLatencyMs = float64(t.totalLatency) / float64(t.totalFills)
	}
	if total := t.totalFills + t.totalRejections; total > 0 {
		stats.RejectionRate = float64(t.totalRejections) / float64(total) * 100
	}
	return stats
}

// Recent returns up to limit of the most recent records, newest first.
func (t *FillTracker) Recent(limit int) []FillRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.recent) {
		limit = len(t.recent)
	}
	out := make([]FillRecord, 0, limit)
	for i := len(t.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, t.recent[i])
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
