package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cafepos/cafepos/internal/inventory"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	deductions       *prometheus.CounterVec
	deductedLines    prometheus.Counter
	shortfalls       prometheus.Counter
	refreshDuration  prometheus.Histogram
	trackedProducts  prometheus.Gauge
	unavailableItems prometheus.Gauge
	stockLevels      *prometheus.GaugeVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cafepos_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cafepos_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	deductions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cafepos_deductions_total",
		Help: "Jumlah commit pemotongan stok berdasarkan hasil.",
	}, []string{"outcome"})
	lines := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cafepos_deduction_rows_total",
		Help: "Jumlah baris audit pemotongan yang ditulis.",
	})
	shortfalls := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cafepos_deduction_shortfalls_total",
		Help: "Bahan wajib yang stoknya tidak mencukupi saat commit.",
	})
	refresh := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cafepos_availability_refresh_seconds",
		Help:    "Durasi perhitungan ulang snapshot ketersediaan menu.",
		Buckets: prometheus.DefBuckets,
	})
	tracked := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cafepos_availability_products",
		Help: "Produk yang dipantau pada snapshot terakhir.",
	})
	unavailable := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cafepos_availability_unavailable_products",
		Help: "Produk yang tidak tersedia pada snapshot terakhir.",
	})
	levels := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cafepos_stock_materials",
		Help: "Jumlah bahan baku aktif per status stok.",
	}, []string{"status"})
	registry.MustRegister(requests, duration, deductions, lines, shortfalls, refresh, tracked, unavailable, levels)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		deductions:       deductions,
		deductedLines:    lines,
		shortfalls:       shortfalls,
		refreshDuration:  refresh,
		trackedProducts:  tracked,
		unavailableItems: unavailable,
		stockLevels:      levels,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// DeductionCommitted mencatat commit yang berhasil.
func (m *Metrics) DeductionCommitted(materials, insufficient int) {
	if m == nil {
		return
	}
	m.deductions.WithLabelValues("committed").Inc()
	m.deductedLines.Add(float64(materials))
	m.shortfalls.Add(float64(insufficient))
}

// DeductionRejected mencatat commit yang ditolak beserta alasannya.
func (m *Metrics) DeductionRejected(reason string) {
	if m == nil {
		return
	}
	m.deductions.WithLabelValues(reason).Inc()
}

// SnapshotPublished mencatat hasil broadcast ketersediaan.
func (m *Metrics) SnapshotPublished(products, unavailable int, took time.Duration) {
	if m == nil {
		return
	}
	m.trackedProducts.Set(float64(products))
	m.unavailableItems.Set(float64(unavailable))
	m.refreshDuration.Observe(took.Seconds())
}

// ObserveStock memperbarui gauge status stok dari ringkasan ledger.
func (m *Metrics) ObserveStock(s inventory.Summary) {
	if m == nil {
		return
	}
	m.stockLevels.WithLabelValues(string(inventory.StatusInStock)).Set(float64(s.InStock))
	m.stockLevels.WithLabelValues(string(inventory.StatusLowStock)).Set(float64(s.LowStock))
	m.stockLevels.WithLabelValues(string(inventory.StatusOutOfStock)).Set(float64(s.OutOfStock))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush meneruskan flush agar stream SSE tetap berjalan di balik middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
