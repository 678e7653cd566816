package prometheus

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/junoyi/authkit"
	"github.com/junoyi/authkit/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() authkit.MetricsSnapshot
	AuditDropped() uint64
}

const auditDroppedName = "authkit_audit_dropped_total"

// Collector turns client snapshots into const metrics on every scrape.
type Collector struct {
	source     metricsSource
	counters   []*prom.Desc
	histograms []*prom.Desc
	dropped    *prom.Desc
}

var _ prom.Collector = (*Collector)(nil)

// NewCollector returns a Collector reading from source on every scrape.
func NewCollector(source metricsSource) *Collector {
	c := &Collector{
		source:     source,
		counters:   make([]*prom.Desc, 0, len(internaldefs.CounterDefs)),
		histograms: make([]*prom.Desc, 0, len(internaldefs.HistogramDefs)),
		dropped:    prom.NewDesc(auditDroppedName, "Dropped audit events due to dispatcher backpressure.", nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters = append(c.counters, prom.NewDesc(def.Name, def.Help, nil, nil))
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, prom.NewDesc(def.Name, def.Help, nil, nil))
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
	ch <- c.dropped
}

// Collect emits nothing while the source has metrics disabled.
func (c *Collector) Collect(ch chan<- prom.Metric) {
	if c == nil || c.source == nil {
		return
	}

	snapshot := c.source.MetricsSnapshot()
	dropped := c.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
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
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBoundValues))
		for j, bound := range internaldefs.HistogramBoundValues {
			buckets[bound] = cumulative[j]
		}
		// snapshots carry bucket counts only
		ch <- prom.MustNewConstHistogram(c.histograms[i], cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prom.MustNewConstMetric(c.dropped, prom.CounterValue, float64(dropped))
}

// Exporter serves a Collector from its own registry.
type Exporter struct {
	collector *Collector
	registry  *prom.Registry
}

// NewExporter registers a Collector for source in a fresh registry.
func NewExporter(source metricsSource) (*Exporter, error) {
	c := NewCollector(source)
	reg := prom.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return &Exporter{collector: c, registry: reg}, nil
}

// Collector returns the underlying collector.
func (e *Exporter) Collector() *Collector { return e.collector }

// Registry returns the private registry the collector is registered on.
func (e *Exporter) Registry() *prom.Registry { return e.registry }

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
