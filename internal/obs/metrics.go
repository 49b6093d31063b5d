package obs

import (
	"sync/atomic"
	"time"

	"main/internal/schema"
)

const maxQuoteField = int(schema.FieldAskSize)

// Metrics collects lightweight counters and latency stats for the
// gateway's ingestion and delivery paths.
type Metrics struct {
	fieldCounts        [maxQuoteField + 1]uint64
	malformedDropped   uint64
	unresolvedDropped  uint64
	heartbeatsDropped  uint64
	replayDropped      uint64
	broadcastDropped   uint64
	sessionConnects    uint64
	sessionDisconnects uint64
	ordersSubmitted    uint64
	ordersRejected     uint64

	ingestLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	FieldCounts        map[schema.QuoteField]uint64
	MalformedDropped   uint64
	UnresolvedDropped  uint64
	HeartbeatsDropped  uint64
	ReplayDropped      uint64
	BroadcastDropped   uint64
	SessionConnects    uint64
	SessionDisconnects uint64
	OrdersSubmitted    uint64
	OrdersRejected     uint64
	IngestLatency      LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveUpdate counts an applied quote update and its ingest latency.
func (m *Metrics) ObserveUpdate(field schema.QuoteField, since time.Time) {
	if m == nil {
		return
	}
	idx := int(field)
	if idx >= 0 && idx < len(m.fieldCounts) {
		atomic.AddUint64(&m.fieldCounts[idx], 1)
	}
	if !since.IsZero() {
		m.ingestLatency.Observe(time.Since(since))
	}
}

// IncMalformed records a dropped malformed event.
func (m *Metrics) IncMalformed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.malformedDropped, 1)
}

// IncUnresolved records an event that referenced an unknown request id.
func (m *Metrics) IncUnresolved() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.unresolvedDropped, 1)
}

// IncHeartbeat records a discarded housekeeping record.
func (m *Metrics) IncHeartbeat() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.heartbeatsDropped, 1)
}

// IncReplay records an update discarded as a replay or out-of-order
// duplicate.
func (m *Metrics) IncReplay() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.replayDropped, 1)
}

// IncBroadcastDrop records a subscriber queue overflow.
func (m *Metrics) IncBroadcastDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.broadcastDropped, 1)
}

// IncConnect records a session reaching the connected state.
func (m *Metrics) IncConnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.sessionConnects, 1)
}

// IncDisconnect records a session leaving the connected state.
func (m *Metrics) IncDisconnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.sessionDisconnects, 1)
}

// IncOrderSubmitted records an accepted order submission.
func (m *Metrics) IncOrderSubmitted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersSubmitted, 1)
}

// IncOrderRejected records a refused order submission.
func (m *Metrics) IncOrderRejected() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersRejected, 1)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	fieldCounts := make(map[schema.QuoteField]uint64)
	for i := range m.fieldCounts {
		if v := atomic.LoadUint64(&m.fieldCounts[i]); v > 0 {
			fieldCounts[schema.QuoteField(i)] = v
		}
	}
	return Snapshot{
		FieldCounts:        fieldCounts,
		MalformedDropped:   atomic.LoadUint64(&m.malformedDropped),
		UnresolvedDropped:  atomic.LoadUint64(&m.unresolvedDropped),
		HeartbeatsDropped:  atomic.LoadUint64(&m.heartbeatsDropped),
		ReplayDropped:      atomic.LoadUint64(&m.replayDropped),
		BroadcastDropped:   atomic.LoadUint64(&m.broadcastDropped),
		SessionConnects:    atomic.LoadUint64(&m.sessionConnects),
		SessionDisconnects: atomic.LoadUint64(&m.sessionDisconnects),
		OrdersSubmitted:    atomic.LoadUint64(&m.ordersSubmitted),
		OrdersRejected:     atomic.LoadUint64(&m.ordersRejected),
		IngestLatency:      m.ingestLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
