// Package metrics exposes scan and run-state counters for Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "microprobe"

// Collectors groups every microprobe metric. A nil *Collectors is valid and
// records nothing.
type Collectors struct {
	scans       *prometheus.CounterVec
	duration    prometheus.Histogram
	rows        prometheus.Counter
	adjustments *prometheus.CounterVec
	runState    *prometheus.GaugeVec
	queueItems  *prometheus.GaugeVec
}

// NewCollectors creates the collectors and registers them with reg.
func NewCollectors(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scans executed, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of executed scans including cleanup.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Raster rows swept.",
		}),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quantization_adjustments_total",
			Help:      "Planner adjustments to requested scan geometry, by axis.",
		}, []string{"axis"}),
		runState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_state",
			Help:      "1 for the current run controller state, 0 otherwise.",
		}, []string{"state"}),
		queueItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_items",
			Help:      "Queued scans, by status.",
		}, []string{"status"}),
	}
	for _, collector := range []prometheus.Collector{c.scans, c.duration, c.rows, c.adjustments, c.runState, c.queueItems} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return c, nil
}

// ObserveScan records one finished scan.
func (c *Collectors) ObserveScan(outcome string, elapsed time.Duration, rows int) {
	if c == nil {
		return
	}
	c.scans.WithLabelValues(outcome).Inc()
	c.duration.Observe(elapsed.Seconds())
	if rows > 0 {
		c.rows.Add(float64(rows))
	}
}

// Adjusted records a planner adjustment on axis.
func (c *Collectors) Adjusted(axis string) {
	if c == nil {
		return
	}
	c.adjustments.WithLabelValues(axis).Inc()
}

// SetRunState marks current as the active state among states.
func (c *Collectors) SetRunState(current string, states []string) {
	if c == nil {
		return
	}
	for _, state := range states {
		value := 0.0
		if state == current {
			value = 1
		}
		c.runState.WithLabelValues(state).Set(value)
	}
}

// SetQueue publishes per-status item counts. Statuses missing from counts
// are reported as zero.
func (c *Collectors) SetQueue(counts map[string]int, statuses []string) {
	if c == nil {
		return
	}
	for _, status := range statuses {
		c.queueItems.WithLabelValues(status).Set(float64(counts[status]))
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
