// Package jobmetrics instruments asynq handlers with Prometheus collectors.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Metrics holds the collectors shared by every job handler.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	stockAlerts *prometheus.CounterVec
}

var (
	fallbackOnce sync.Once
	fallback     *Metrics
)

// NewMetrics registers job collectors on registerer. A nil registerer shares one
// process-wide instance on the default Prometheus registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer != nil {
		return register(registerer)
	}
	fallbackOnce.Do(func() {
		fallback = register(prometheus.DefaultRegisterer)
	})
	return fallback
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cafepos_jobs_total",
			Help: "Job runs by task type and outcome.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cafepos_jobs_failures_total",
			Help: "Failed job runs by task type.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cafepos_job_duration_seconds",
			Help:    "Wall time of job runs.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cafepos_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per task type.",
		}, []string{"job"}),
		stockAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cafepos_low_stock_alerts_total",
			Help: "Materials flagged by low stock scans, by stock status.",
		}, []string{"status"}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.lastSuccess, m.stockAlerts)
	return m
}

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the outcome of the run and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	m := t.metrics
	m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	if err != nil {
		m.failures.WithLabelValues(t.job).Inc()
		m.runs.WithLabelValues(t.job, statusFailure).Inc()
		return err
	}
	m.runs.WithLabelValues(t.job, statusSuccess).Inc()
	m.lastSuccess.WithLabelValues(t.job).SetToCurrentTime()
	return nil
}

// AddStockAlerts counts materials a scan reported in the given stock status.
func (m *Metrics) AddStockAlerts(status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.stockAlerts.WithLabelValues(status).Add(float64(count))
}
