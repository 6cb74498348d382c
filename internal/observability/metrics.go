package observability

import (
	"github.com/couchcryptid/space-weather-forecast/internal/ensemble"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "swx_forecast"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// forecasting service.
type Metrics struct {
	MessagesConsumed prometheus.Counter
	MessagesProduced prometheus.Counter
	TransformErrors  prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Engine metrics.
	ForecastsCreated   *prometheus.CounterVec   // labels: severity
	ForecastFailures   *prometheus.CounterVec   // labels: reason={no_predictors,invalid_event,cancelled,internal}
	SourceUnavailable  *prometheus.CounterVec   // labels: source, reason={timeout,declined,failed,degraded,zero_weight}
	BranchDuration     *prometheus.HistogramVec // labels: source
	ForecastConfidence prometheus.Histogram
	PhysicsCache       *prometheus.CounterVec // labels: result={hit,miss}
	PredictorsLoaded   prometheus.Gauge
	PredictorFailures  prometheus.Gauge

	// Feedback metrics.
	OutcomesRecorded *prometheus.CounterVec   // labels: source
	ArrivalError     *prometheus.HistogramVec // labels: source
	DriftAlerts      *prometheus.CounterVec   // labels: source
	TrustWeight      *prometheus.GaugeVec     // labels: source
	SourceDegraded   *prometheus.GaugeVec     // labels: source
	TrustVersion     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total event messages read from the event topic.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      "Total forecasts written to the forecast topic.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_errors_total",
			Help:      "Total events that did not produce a forecast.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-forecast-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		ForecastsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecasts_created_total",
			Help:      "Ensemble forecasts created by severity bucket.",
		}, []string{"severity"}),
		ForecastFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_failures_total",
			Help:      "Events for which no forecast was created, by reason.",
		}, []string{"reason"}),
		SourceUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_unavailable_total",
			Help:      "Source results excluded from a forecast, by source and reason.",
		}, []string{"source", "reason"}),
		BranchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "branch_duration_seconds",
			Help:      "Duration of one source evaluation within a forecast.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}, []string{"source"}),
		ForecastConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forecast_confidence",
			Help:      "Confidence of created forecasts.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		PhysicsCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "physics_cache_total",
			Help:      "Physics result cache lookups by result.",
		}, []string{"result"}),
		PredictorsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "predictors_loaded",
			Help:      "Learned predictors loaded at start-up.",
		}),
		PredictorFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "predictor_load_failures",
			Help:      "Predictor artifacts that failed to load at start-up.",
		}),
		OutcomesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_recorded_total",
			Help:      "Validated outcomes by source.",
		}, []string{"source"}),
		ArrivalError: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "arrival_error_hours",
			Help:      "Absolute arrival-time error of validated forecasts by source.",
			Buckets:   []float64{1, 3, 6, 12, 18, 24, 36, 48, 72},
		}, []string{"source"}),
		DriftAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_alerts_total",
			Help:      "Sources marked degraded by drift detection.",
		}, []string{"source"}),
		TrustWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trust_weight",
			Help:      "Current trust weight per source.",
		}, []string{"source"}),
		SourceDegraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_degraded",
			Help:      "1 when the source is excluded as degraded, 0 otherwise.",
		}, []string{"source"}),
		TrustVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trust_version",
			Help:      "Version of the trust snapshot in use.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesConsumed,
		m.MessagesProduced,
		m.TransformErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.ForecastsCreated,
		m.ForecastFailures,
		m.SourceUnavailable,
		m.BranchDuration,
		m.ForecastConfidence,
		m.PhysicsCache,
		m.PredictorsLoaded,
		m.PredictorFailures,
		m.OutcomesRecorded,
		m.ArrivalError,
		m.DriftAlerts,
		m.TrustWeight,
		m.SourceDegraded,
		m.TrustVersion,
	}
}

// OutcomeRecorded implements tracker.Observer.
func (m *Metrics) OutcomeRecorded(source string, absErrorHours float64) {
	m.OutcomesRecorded.WithLabelValues(source).Inc()
	m.ArrivalError.WithLabelValues(source).Observe(absErrorHours)
}

// DriftDetected implements tracker.Observer.
func (m *Metrics) DriftDetected(source string) {
	m.DriftAlerts.WithLabelValues(source).Inc()
}

// TrustUpdated implements tracker.Observer.
func (m *Metrics) TrustUpdated(snap *ensemble.Snapshot) {
	if snap == nil {
		return
	}
	m.TrustVersion.Set(float64(snap.Version))
	for _, source := range snap.Sources() {
		w := snap.Weight(source)
		m.TrustWeight.WithLabelValues(source).Set(w.Weight)
		degraded := 0.0
		if w.Degraded {
			degraded = 1
		}
		m.SourceDegraded.WithLabelValues(source).Set(degraded)
	}
}

// ObservePhysicsCache records one physics cache lookup.
func (m *Metrics) ObservePhysicsCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PhysicsCache.WithLabelValues(result).Inc()
}
