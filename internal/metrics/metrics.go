// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "custody"

// Counts are the per-unit totals reported when a unit finishes.
type Counts struct {
	Processed int
	Valid     int
	Errors    int
	Rejected  int
	Warnings  int
	Inserted  int
}

// Collector owns a private registry. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	records  *prometheus.CounterVec
	rows     *prometheus.CounterVec
	units    *prometheus.CounterVec
	running  prometheus.Gauge
	duration *prometheus.HistogramVec
}

// New registers the pipeline metrics plus the Go and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Source records seen, by source system and outcome.",
		}, []string{"source", "outcome"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_inserted_total",
			Help:      "Canonical rows written to daily partitions.",
		}, []string{"source"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Work units finished, by final state.",
		}, []string{"state"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "units_running",
			Help:      "Work units currently being processed.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_duration_seconds",
			Help:      "Wall time per work unit.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		}, []string{"source"}),
	}
	c.registry.MustRegister(
		c.records,
		c.rows,
		c.units,
		c.running,
		c.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry is the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// UnitStarted marks one more unit as running.
func (c *Collector) UnitStarted() {
	if c == nil {
		return
	}
	c.running.Inc()
}

// UnitFinished records a unit's final state and totals.
func (c *Collector) UnitFinished(source, state string, n Counts, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.running.Dec()
	c.units.WithLabelValues(state).Inc()
	c.duration.WithLabelValues(source).Observe(elapsed.Seconds())
	c.records.WithLabelValues(source, "processed").Add(float64(n.Processed))
	c.records.WithLabelValues(source, "valid").Add(float64(n.Valid))
	c.records.WithLabelValues(source, "error").Add(float64(n.Errors))
	c.records.WithLabelValues(source, "rejected").Add(float64(n.Rejected))
	c.records.WithLabelValues(source, "warning").Add(float64(n.Warnings))
	c.rows.WithLabelValues(source).Add(float64(n.Inserted))
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("metrics listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}
