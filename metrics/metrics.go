package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the show pipeline. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    prometheus.Counter
	errorsTotal      prometheus.Counter
	chunksProduced   prometheus.Counter
	chunksDelivered  prometheus.Counter
	bytesDelivered   prometheus.Counter
	underrunsTotal   prometheus.Counter
	stageFailures    *prometheus.CounterVec
	annotationsTotal *prometheus.CounterVec
	showsTotal       prometheus.Counter
	queueDepth       prometheus.Gauge
	micGain          prometheus.Gauge
	musicGain        prometheus.Gauge
	trackIndex       prometheus.Gauge
	showRunning      prometheus.Gauge
}

// New creates and registers Prometheus metrics for the mixer.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webradio_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webradio_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		chunksProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webradio_chunks_produced_total",
			Help: "Total number of mixed chunks pushed to the queue",
		}),
		chunksDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webradio_chunks_delivered_total",
			Help: "Total number of chunks written to both sinks",
		}),
		bytesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webradio_bytes_delivered_total",
			Help: "Total PCM bytes written to the live sink",
		}),
		underrunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webradio_underruns_total",
			Help: "Total number of queue pops that timed out while the show was playing",
		}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webradio_stage_failures_total",
			Help: "Pipeline failures that stopped a show, by stage",
		}, []string{"stage"}),
		annotationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webradio_annotations_total",
			Help: "Annotation events recorded, by kind",
		}, []string{"kind"}),
		showsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webradio_shows_started_total",
			Help: "Total number of shows started",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webradio_queue_depth",
			Help: "Chunks currently waiting in the queue",
		}),
		micGain: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webradio_mic_gain_db",
			Help: "Current live voice gain in dBFS",
		}),
		musicGain: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webradio_music_gain_db",
			Help: "Current music gain in dBFS",
		}),
		trackIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webradio_track_index",
			Help: "Index of the track being mixed",
		}),
		showRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webradio_show_running",
			Help: "1 while a show is running",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.chunksProduced,
		m.chunksDelivered,
		m.bytesDelivered,
		m.underrunsTotal,
		m.stageFailures,
		m.annotationsTotal,
		m.showsTotal,
		m.queueDepth,
		m.micGain,
		m.musicGain,
		m.trackIndex,
		m.showRunning,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// IncChunksProduced counts one chunk pushed by the mixer.
func (m *Metrics) IncChunksProduced() {
	if m == nil {
		return
	}
	m.chunksProduced.Inc()
}

// AddDelivered counts one chunk of n bytes written to the sinks.
func (m *Metrics) AddDelivered(n int) {
	if m == nil {
		return
	}
	m.chunksDelivered.Inc()
	m.bytesDelivered.Add(float64(n))
}

// IncUnderruns increments the underrun counter.
func (m *Metrics) IncUnderruns() {
	if m == nil {
		return
	}
	m.underrunsTotal.Inc()
}

// IncStageFailure records a fatal failure in stage.
func (m *Metrics) IncStageFailure(stage string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage).Inc()
}

// IncAnnotations records one annotation of kind.
func (m *Metrics) IncAnnotations(kind string) {
	if m == nil {
		return
	}
	m.annotationsTotal.WithLabelValues(kind).Inc()
}

// IncShows increments the shows started counter.
func (m *Metrics) IncShows() {
	if m == nil {
		return
	}
	m.showsTotal.Inc()
}

// SetQueueDepth sets the queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// SetGains sets both gain gauges.
func (m *Metrics) SetGains(micDB, musicDB float64) {
	if m == nil {
		return
	}
	m.micGain.Set(micDB)
	m.musicGain.Set(musicDB)
}

// SetTrackIndex sets the track index gauge.
func (m *Metrics) SetTrackIndex(i int) {
	if m == nil {
		return
	}
	m.trackIndex.Set(float64(i))
}

// SetShowRunning sets the show running gauge.
func (m *Metrics) SetShowRunning(running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.showRunning.Set(v)
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
