// Package metrics provides the Prometheus collectors for classification
// backend calls and the gateway.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoosieGav/PestHub/internal/classifier"
)

// Metrics holds every collector registered by PestHub.
type Metrics struct {
	BackendCalls      *prometheus.CounterVec
	BackendDuration   *prometheus.HistogramVec
	BackendResponses  *prometheus.CounterVec
	SearchCacheHits   prometheus.Counter
	SearchCacheMisses prometheus.Counter
	Verdicts          *prometheus.CounterVec
	registry          *prometheus.Registry
}

// New creates the collectors and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		BackendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pesthub_backend_calls_total",
			Help: "Classification backend calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pesthub_backend_call_duration_seconds",
			Help:    "Duration of classification backend calls.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"operation"}),
		BackendResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pesthub_backend_http_responses_total",
			Help: "HTTP responses received from the classification backend by status class.",
		}, []string{"status_class"}),
		SearchCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pesthub_search_cache_hits_total",
			Help: "Search answers served from cache.",
		}),
		SearchCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pesthub_search_cache_misses_total",
			Help: "Search answers that had to be fetched from the backend.",
		}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pesthub_classification_verdicts_total",
			Help: "Successful classifications by verdict.",
		}, []string{"verdict"}),
		registry: registry,
	}

	for _, c := range []prometheus.Collector{
		m.BackendCalls, m.BackendDuration, m.BackendResponses,
		m.SearchCacheHits, m.SearchCacheMisses, m.Verdicts,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveCall matches classifier.Observer.
func (m *Metrics) ObserveCall(op string, kind classifier.Kind, elapsed time.Duration) {
	outcome := "success"
	if kind != "" {
		outcome = string(kind)
	}
	m.BackendCalls.WithLabelValues(op, outcome).Inc()
	m.BackendDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveRoundTrip matches httpclient.AfterFunc.
func (m *Metrics) ObserveRoundTrip(_ *http.Request, resp *http.Response, err error, _ time.Duration) {
	class := "error"
	if err == nil && resp != nil {
		class = strconv.Itoa(resp.StatusCode/100) + "xx"
	}
	m.BackendResponses.WithLabelValues(class).Inc()
}

// ObserveVerdict counts a successful classification.
func (m *Metrics) ObserveVerdict(isPest bool) {
	verdict := "not_pest"
	if isPest {
		verdict = "pest"
	}
	m.Verdicts.WithLabelValues(verdict).Inc()
}

// ObserveSearchCache counts a search cache lookup.
func (m *Metrics) ObserveSearchCache(hit bool) {
	if hit {
		m.SearchCacheHits.Inc()
		return
	}
	m.SearchCacheMisses.Inc()
}
