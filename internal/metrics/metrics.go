package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exchange modes and results.
const (
	ModeQuery  = "query"
	ModeStream = "stream"

	ResultSuccess  = "success"
	ResultFallback = "fallback"
	ResultError    = "error"
)

// Metrics holds the session service collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	exchanges         *prometheus.CounterVec
	turnsEvicted      prometheus.Counter
	tokenLimitRejects prometheus.Counter
	engineFallbacks   prometheus.Counter
	streamFragments   prometheus.Counter
	engineLatency     *prometheus.HistogramVec
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		exchanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_exchanges_total",
				Help: "Total number of question/answer exchanges",
			},
			[]string{"mode", "result"},
		),

		turnsEvicted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "session_turns_evicted_total",
				Help: "Total number of turns removed by the sliding window",
			},
		),

		tokenLimitRejects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "session_token_limit_rejections_total",
				Help: "Total number of mutations rejected by the token budget",
			},
		),

		engineFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "session_engine_fallbacks_total",
				Help: "Total number of synchronous queries answered with the fallback",
			},
		),

		streamFragments: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "session_stream_fragments_total",
				Help: "Total number of answer fragments relayed to stream clients",
			},
		),

		engineLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "session_engine_latency_seconds",
				Help:    "Answer engine call latency",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

func (m *Metrics) Exchange(mode, result string) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(mode, result).Inc()
}

func (m *Metrics) Evicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.turnsEvicted.Add(float64(n))
}

func (m *Metrics) TokenLimitRejected() {
	if m == nil {
		return
	}
	m.tokenLimitRejects.Inc()
}

func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.engineFallbacks.Inc()
}

func (m *Metrics) Fragment() {
	if m == nil {
		return
	}
	m.streamFragments.Inc()
}

func (m *Metrics) EngineLatency(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.engineLatency.WithLabelValues(mode).Observe(d.Seconds())
}
