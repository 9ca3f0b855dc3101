package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry call results.
const (
	ResultFound      = "found"
	ResultEmpty      = "empty"
	ResultBadGateway = "bad_gateway"
	ResultTransport  = "transport"
)

type Metrics struct {
	EnrichOutcomes    *prometheus.CounterVec
	RegistryCalls     *prometheus.CounterVec
	RegistryLatency   *prometheus.HistogramVec
	MarkersLinked     prometheus.Counter
	ResolveDuplicates prometheus.Counter
}

// New registers the collectors on reg; a nil reg means the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		EnrichOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medpass_enrich_outcomes_total",
			Help: "Enrichment attempts by final outcome",
		}, []string{"outcome"}),
		RegistryCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medpass_dmed_calls_total",
			Help: "DMED person lookups by region and result",
		}, []string{"region", "result"}),
		RegistryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medpass_dmed_call_seconds",
			Help:    "DMED person lookup latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8},
		}, []string{"region"}),
		MarkersLinked: f.NewCounter(prometheus.CounterOpts{
			Name: "medpass_markers_linked_total",
			Help: "Markers newly attached to persons",
		}),
		ResolveDuplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "medpass_resolve_shared_total",
			Help: "Resolve calls that joined an in-flight enrichment for the same identifier",
		}),
	}
}

// The methods below accept a nil receiver so callers may run without metrics.

func (m *Metrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.EnrichOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRegistryCall(region, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.RegistryCalls.WithLabelValues(region, result).Inc()
	m.RegistryLatency.WithLabelValues(region).Observe(d.Seconds())
}

func (m *Metrics) AddMarkersLinked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MarkersLinked.Add(float64(n))
}

func (m *Metrics) IncrementShared() {
	if m == nil {
		return
	}
	m.ResolveDuplicates.Inc()
}
