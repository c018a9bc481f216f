package service

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/noah-isme/scorebook/internal/models"
)

// MetricsService owns a Prometheus registry for gradebook instrumentation.
// The registry is exposed for embedding; nothing here serves HTTP.
type MetricsService struct {
	registry           *prometheus.Registry
	persistDuration    *prometheus.HistogramVec
	persistTotal       *prometheus.CounterVec
	editsTotal         *prometheus.CounterVec
	completionsTotal   prometheus.Counter
	studentsGauge      prometheus.Gauge
	completedGauge     prometheus.Gauge
	persistCount       uint64
	persistFailures    uint64
	persistDurationSum uint64
}

// MetricsSnapshot is a point-in-time summary of the collected metrics.
type MetricsSnapshot struct {
	PersistOperations uint64    `json:"persist_operations"`
	PersistFailures   uint64    `json:"persist_failures"`
	AveragePersistMs  float64   `json:"average_persist_ms"`
	Goroutines        int       `json:"goroutines"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// NewMetricsService registers the gradebook collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	persistDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scorebook_persist_duration_seconds",
		Help:    "Duration of save, load, import and export operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "backend"})

	persistTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scorebook_persist_operations_total",
		Help: "Persistence operations by outcome",
	}, []string{"operation", "backend", "outcome"})

	editsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scorebook_edits_total",
		Help: "Accepted gradebook edits by kind",
	}, []string{"kind"})

	completionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scorebook_completions_total",
		Help: "Students whose grading was completed for the first time",
	})

	studentsGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scorebook_students",
		Help: "Students in the gradebook",
	})

	completedGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scorebook_students_completed",
		Help: "Students with a defined final score",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(persistDuration, persistTotal, editsTotal, completionsTotal, studentsGauge, completedGauge, goroutines)

	return &MetricsService{
		registry:         registry,
		persistDuration:  persistDuration,
		persistTotal:     persistTotal,
		editsTotal:       editsTotal,
		completionsTotal: completionsTotal,
		studentsGauge:    studentsGauge,
		completedGauge:   completedGauge,
	}
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObservePersistence records one persistence operation.
func (m *MetricsService) ObservePersistence(operation, backend string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		atomic.AddUint64(&m.persistFailures, 1)
	}
	m.persistDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
	m.persistTotal.WithLabelValues(operation, backend, outcome).Inc()
	atomic.AddUint64(&m.persistCount, 1)
	atomic.AddUint64(&m.persistDurationSum, uint64(duration.Nanoseconds()))
}

// RecordEdit counts an accepted edit.
func (m *MetricsService) RecordEdit(kind string) {
	if m == nil {
		return
	}
	m.editsTotal.WithLabelValues(kind).Inc()
}

// RecordCompletion counts a first-time completion.
func (m *MetricsService) RecordCompletion() {
	if m == nil {
		return
	}
	m.completionsTotal.Inc()
}

// SetProgress updates the student gauges.
func (m *MetricsService) SetProgress(p models.Progress) {
	if m == nil {
		return
	}
	m.studentsGauge.Set(float64(p.Total))
	m.completedGauge.Set(float64(p.Completed))
}

// Snapshot returns aggregated persistence figures.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	count := atomic.LoadUint64(&m.persistCount)
	sum := atomic.LoadUint64(&m.persistDurationSum)
	var avg float64
	if count > 0 {
		avg = float64(sum) / float64(count) / float64(time.Millisecond)
	}
	return MetricsSnapshot{
		PersistOperations: count,
		PersistFailures:   atomic.LoadUint64(&m.persistFailures),
		AveragePersistMs:  avg,
		Goroutines:        runtime.NumGoroutine(),
		GeneratedAt:       time.Now().UTC(),
	}
}
