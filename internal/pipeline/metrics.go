package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for staging runs.
//
// Metrics:
//   - stager_runs_total{status,code} - Count of finished runs
//   - stager_run_duration_seconds{status} - Histogram of run durations
//   - stager_run_active - 1 while a run holds the gate
//   - stager_tables - Tables in raw/csv after the last successful run
//   - stager_warehouse_rows_total - Rows written to parquet
type Metrics struct {
	RunsTotal     *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	RunActive     prometheus.Gauge
	Tables        prometheus.Gauge
	WarehouseRows prometheus.Counter
}

// NewMetrics creates the run metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stager_runs_total",
				Help: "Total number of finished staging runs",
			},
			[]string{"status", "code"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stager_run_duration_seconds",
				Help:    "Duration of staging runs in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"status"},
		),
		RunActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stager_run_active",
			Help: "Whether a staging run is in progress",
		}),
		Tables: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stager_tables",
			Help: "Number of tables staged by the last successful run",
		}),
		WarehouseRows: factory.NewCounter(prometheus.CounterOpts{
			Name: "stager_warehouse_rows_total",
			Help: "Total rows written to parquet files",
		}),
	}
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.RunActive.Set(1)
}

func (m *Metrics) finished(r *Result) {
	if m == nil {
		return
	}
	m.RunActive.Set(0)
	m.RunsTotal.WithLabelValues(r.Run.Status, r.Run.Code).Inc()
	m.RunDuration.WithLabelValues(r.Run.Status).Observe(r.Run.Duration().Seconds())
	if r.Manifest == nil {
		return
	}
	m.Tables.Set(float64(len(r.Manifest.Tables)))
	for _, o := range r.Manifest.Warehouse {
		m.WarehouseRows.Add(float64(o.Rows))
	}
}
