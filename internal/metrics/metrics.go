// Package metrics exposes the Counter, Gauge and Histogram primitives used
// by the simulator, backed by an isolated Prometheus registry per instance.
package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBuckets are the histogram buckets used when none are supplied.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Labels are constant label pairs attached to one metric series.
type Labels map[string]string

// Counter is a monotonically increasing value.
type Counter interface {
	Inc()
	Add(v float64)
}

// Gauge is a value that can be set arbitrarily.
type Gauge interface {
	Set(v float64)
	Add(v float64)
}

// Histogram records observations into buckets.
type Histogram interface {
	Observe(v float64)
}

// Sink creates metric series. Repeated calls with the same name and labels
// return the same series.
type Sink interface {
	Counter(name, help string, labels Labels) Counter
	Gauge(name, help string, labels Labels) Gauge
	Histogram(name, help string, labels Labels, buckets []float64) Histogram
}

// ObserveSince records the seconds elapsed since start.
func ObserveSince(h Histogram, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Registry is a Prometheus-backed Sink.
type Registry struct {
	namespace string
	reg       *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

var _ Sink = (*Registry)(nil)

// New creates a Registry whose series are prefixed with namespace. Each
// Registry owns its own prometheus.Registry, so tests can create isolated
// instances.
func New(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	return &Registry{
		namespace:  namespace,
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// WithRuntimeCollectors registers the Go runtime and process collectors.
func (r *Registry) WithRuntimeCollectors() *Registry {
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) Counter(name, help string, labels Labels) Counter {
	keys, values := split(labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	vec, ok := r.counters[vecKey(name, keys)]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: r.namespace,
			Name:      name,
			Help:      help,
		}, keys)
		r.reg.MustRegister(vec)
		r.counters[vecKey(name, keys)] = vec
	}
	return vec.WithLabelValues(values...)
}

func (r *Registry) Gauge(name, help string, labels Labels) Gauge {
	keys, values := split(labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	vec, ok := r.gauges[vecKey(name, keys)]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: r.namespace,
			Name:      name,
			Help:      help,
		}, keys)
		r.reg.MustRegister(vec)
		r.gauges[vecKey(name, keys)] = vec
	}
	return vec.WithLabelValues(values...)
}

func (r *Registry) Histogram(name, help string, labels Labels, buckets []float64) Histogram {
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}
	keys, values := split(labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	vec, ok := r.histograms[vecKey(name, keys)]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: r.namespace,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		}, keys)
		r.reg.MustRegister(vec)
		r.histograms[vecKey(name, keys)] = vec
	}
	return vec.WithLabelValues(values...)
}

func split(labels Labels) (keys, values []string) {
	keys = make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values = make([]string, len(keys))
	for i, k := range keys {
		values[i] = labels[k]
	}
	return keys, values
}

func vecKey(name string, keys []string) string {
	return name + "|" + strings.Join(keys, ",")
}

// Nop returns a Sink that discards everything.
func Nop() Sink { return nopSink{} }

type nopSink struct{}

type nopMetric struct{}

func (nopMetric) Inc()            {}
func (nopMetric) Add(float64)     {}
func (nopMetric) Set(float64)     {}
func (nopMetric) Observe(float64) {}

func (nopSink) Counter(string, string, Labels) Counter                { return nopMetric{} }
func (nopSink) Gauge(string, string, Labels) Gauge                    { return nopMetric{} }
func (nopSink) Histogram(string, string, Labels, []float64) Histogram { return nopMetric{} }
