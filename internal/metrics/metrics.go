package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

const namespace = "bank_batch"

// Recorder exports run outcomes as Prometheus metrics. It implements
// pipeline.Observer.
type Recorder struct {
	registry *prometheus.Registry

	runs             *prometheus.CounterVec
	recordsProcessed prometheus.Counter
	recordsLoaded    prometheus.Counter
	recordsDropped   *prometheus.CounterVec
	anomalies        *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	qualityScore     *prometheus.GaugeVec
	writeAttempts    prometheus.Histogram
}

// NewRecorder registers the collectors on a fresh registry together with
// the Go and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Batch runs by terminal status.",
		}, []string{"status"}),
		recordsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Raw records read from the source.",
		}),
		recordsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_loaded_total",
			Help:      "Records rolled into persisted aggregates.",
		}),
		recordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Records dropped by the cleaner, by defect.",
		}, []string{"defect"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Detected anomalies by class and severity.",
		}, []string{"class", "severity"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of batch runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"status"}),
		qualityScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quality_score",
			Help:      "Quality score of the latest run, per bank and ALL.",
		}, []string{"bank_id"}),
		writeAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_write_attempts",
			Help:      "Attempts needed per partition write.",
			Buckets:   prometheus.LinearBuckets(1, 1, 6),
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.runs, r.recordsProcessed, r.recordsLoaded, r.recordsDropped,
		r.anomalies, r.duration, r.qualityScore, r.writeAttempts,
	)
	return r
}

// ObserveRun implements pipeline.Observer.
func (r *Recorder) ObserveRun(res *pipeline.RunResult) {
	status := string(res.Status)
	r.runs.WithLabelValues(status).Inc()
	r.duration.WithLabelValues(status).Observe(res.Duration)
	r.recordsProcessed.Add(float64(res.Counters.Processed))
	r.recordsLoaded.Add(float64(res.Counters.Loaded))
	if res.WriteAttempts > 0 {
		r.writeAttempts.Observe(float64(res.WriteAttempts))
	}
	for _, a := range res.Anomalies {
		r.anomalies.WithLabelValues(string(a.Class), string(a.Severity)).Inc()
	}
	if res.Report != nil {
		d := res.Report.Defects
		r.recordsDropped.WithLabelValues("null").Add(float64(d.Null))
		r.recordsDropped.WithLabelValues("invalid_type").Add(float64(d.InvalidType))
		r.recordsDropped.WithLabelValues("invalid_amount").Add(float64(d.InvalidAmount))
		r.recordsDropped.WithLabelValues("future_dated").Add(float64(d.FutureDated))
		r.recordsDropped.WithLabelValues("duplicate").Add(float64(d.Duplicate))
		r.qualityScore.WithLabelValues(res.Report.BankID).Set(res.Report.Score)
	}
	for _, b := range res.BankReports {
		r.qualityScore.WithLabelValues(b.BankID).Set(b.Score)
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry, for tests and extra collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

var _ pipeline.Observer = (*Recorder)(nil)
