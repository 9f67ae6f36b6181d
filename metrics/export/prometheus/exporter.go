package prometheus

import (
	"net/http"

	"github.com/MrEthical07/sessionguard"
	"github.com/MrEthical07/sessionguard/metrics/export/internaldefs"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSource is satisfied by *sessionguard.Engine.
type MetricsSource interface {
	MetricsSnapshot() sessionguard.MetricsSnapshot
	AuditDropped() uint64
	BroadcastDropped() uint64
}

// Collector is a prometheus.Collector reading engine snapshots at scrape
// time.
type Collector struct {
	source MetricsSource

	counters         []*prom.Desc
	histograms       []*prom.Desc
	auditDropped     *prom.Desc
	broadcastDropped *prom.Desc
}

var _ prom.Collector = (*Collector)(nil)

// NewCollector returns a Collector for engine.
func NewCollector(engine *sessionguard.Engine) *Collector {
	return NewCollectorFromSource(engine)
}

// NewCollectorFromSource returns a Collector for any MetricsSource.
func NewCollectorFromSource(source MetricsSource) *Collector {
	c := &Collector{
		source:     source,
		counters:   make([]*prom.Desc, len(internaldefs.CounterDefs)),
		histograms: make([]*prom.Desc, len(internaldefs.HistogramDefs)),
		auditDropped: prom.NewDesc("sessionguard_audit_dropped_total",
			"Dropped audit events due to dispatcher backpressure.", nil, nil),
		broadcastDropped: prom.NewDesc("sessionguard_broadcast_dropped_total",
			"Broadcast events skipped for slow subscribers.", nil, nil),
	}
	for i, def := range internaldefs.CounterDefs {
		c.counters[i] = prom.NewDesc(def.Name, def.Help, nil, nil)
	}
	for i, def := range internaldefs.HistogramDefs {
		c.histograms[i] = prom.NewDesc(def.Name, def.Help, nil, nil)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prom.Desc) {
	for _, d := range c.counters {
		ch <- d
	}
	for _, d := range c.histograms {
		ch <- d
	}
	ch <- c.auditDropped
	ch <- c.broadcastDropped
}

// Collect implements prometheus.Collector. A disabled engine yields no
// series.
func (c *Collector) Collect(ch chan<- prom.Metric) {
	if c == nil || c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()
	auditDropped := c.source.AuditDropped()
	broadcastDropped := c.source.BroadcastDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && auditDropped == 0 && broadcastDropped == 0 {
		return
	}

	for i, def := range internaldefs.CounterDefs {
		ch <- prom.MustNewConstMetric(c.counters[i], prom.CounterValue, float64(snapshot.Counters[def.ID]))
	}
	for i, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBounds))
		for j, le := range internaldefs.HistogramBounds {
			buckets[le] = cumulative[j]
		}
		// The engine does not track sums.
		ch <- prom.MustNewConstHistogram(c.histograms[i], cumulative[internaldefs.BucketCount-1], 0, buckets)
	}
	ch <- prom.MustNewConstMetric(c.auditDropped, prom.CounterValue, float64(auditDropped))
	ch <- prom.MustNewConstMetric(c.broadcastDropped, prom.CounterValue, float64(broadcastDropped))
}

// Handler serves the collector from a private registry, leaving the global
// registry untouched.
func (c *Collector) Handler() http.Handler {
	reg := prom.NewRegistry()
	reg.MustRegister(c)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
