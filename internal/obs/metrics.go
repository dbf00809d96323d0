// Package obs holds lightweight in-process counters exposed over the
// internal monitoring endpoint.
package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects atomic counters and publish latency stats shared by the
// trading service and the relay.
type Metrics struct {
	tradesExecuted  uint64
	tradesRejected  uint64
	riskRejections  uint64
	idempotentHits  uint64
	eventsPublished uint64
	publishFailures uint64
	eventsFailed    uint64
	stalenessAlerts uint64

	publishLatency LatencyStats
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncTradeExecuted() { m.inc(&m.tradesExecuted) }
func (m *Metrics) IncTradeRejected() { m.inc(&m.tradesRejected) }
func (m *Metrics) IncRiskRejection() { m.inc(&m.riskRejections) }
func (m *Metrics) IncIdempotentHit() { m.inc(&m.idempotentHits) }

func (m *Metrics) IncPublishFailure() { m.inc(&m.publishFailures) }
func (m *Metrics) IncStalenessAlert() { m.inc(&m.stalenessAlerts) }

func (m *Metrics) AddEventsPublished(n int) {
	if m == nil || n <= 0 {
		return
	}
	atomic.AddUint64(&m.eventsPublished, uint64(n))
}

func (m *Metrics) AddEventsFailed(n int) {
	if m == nil || n <= 0 {
		return
	}
	atomic.AddUint64(&m.eventsFailed, uint64(n))
}

// ObservePublish records one publish round-trip to the bus.
func (m *Metrics) ObservePublish(d time.Duration) {
	if m == nil {
		return
	}
	m.publishLatency.Observe(d)
}

func (m *Metrics) inc(v *uint64) {
	if m == nil {
		return
	}
	atomic.AddUint64(v, 1)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	TradesExecuted  uint64          `json:"trades_executed"`
	TradesRejected  uint64          `json:"trades_rejected"`
	RiskRejections  uint64          `json:"risk_rejections"`
	IdempotentHits  uint64          `json:"idempotent_hits"`
	EventsPublished uint64          `json:"events_published"`
	PublishFailures uint64          `json:"publish_failures"`
	EventsFailed    uint64          `json:"events_failed"`
	StalenessAlerts uint64          `json:"staleness_alerts"`
	PublishLatency  LatencySnapshot `json:"publish_latency"`
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		TradesExecuted:  atomic.LoadUint64(&m.tradesExecuted),
		TradesRejected:  atomic.LoadUint64(&m.tradesRejected),
		RiskRejections:  atomic.LoadUint64(&m.riskRejections),
		IdempotentHits:  atomic.LoadUint64(&m.idempotentHits),
		EventsPublished: atomic.LoadUint64(&m.eventsPublished),
		PublishFailures: atomic.LoadUint64(&m.publishFailures),
		EventsFailed:    atomic.LoadUint64(&m.eventsFailed),
		StalenessAlerts: atomic.LoadUint64(&m.stalenessAlerts),
		PublishLatency:  m.publishLatency.Snapshot(),
	}
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

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

func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(atomic.LoadUint64(&l.sum) / count),
	}
}
