package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "casters"

var (
	registryOnce sync.Once
	registry     *prometheus.Registry
)

// GetRegistry returns the process-wide prometheus registry, creating it on
// first use. The /metrics endpoint serves this registry.
func GetRegistry() *prometheus.Registry {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(prometheus.NewGoCollector())
	})
	return registry
}

// CountBuckets is a shared bucket layout for small-count histograms.
var CountBuckets = []float64{1, 2, 5, 10, 25, 50, 100}

// ComponentRegistry namespaces metrics per component and registers them on
// the shared registry.
type ComponentRegistry struct {
	subsystem string
}

// NewComponentRegistry creates a registry scope for the given component.
func NewComponentRegistry(subsystem string) *ComponentRegistry {
	return &ComponentRegistry{subsystem: subsystem}
}

func (r *ComponentRegistry) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace = namespace
	opts.Subsystem = r.subsystem
	c := prometheus.NewCounter(opts)
	GetRegistry().MustRegister(c)
	return c
}

func (r *ComponentRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	opts.Namespace = namespace
	opts.Subsystem = r.subsystem
	c := prometheus.NewCounterVec(opts, labels)
	GetRegistry().MustRegister(c)
	return c
}

func (r *ComponentRegistry) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = namespace
	opts.Subsystem = r.subsystem
	g := prometheus.NewGauge(opts)
	GetRegistry().MustRegister(g)
	return g
}

func (r *ComponentRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	opts.Namespace = namespace
	opts.Subsystem = r.subsystem
	g := prometheus.NewGaugeVec(opts, labels)
	GetRegistry().MustRegister(g)
	return g
}

func (r *ComponentRegistry) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace = namespace
	opts.Subsystem = r.subsystem
	h := prometheus.NewHistogram(opts)
	GetRegistry().MustRegister(h)
	return h
}
