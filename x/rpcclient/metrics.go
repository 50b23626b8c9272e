package rpcclient

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/casters-pixels/generator/metrics"
)

// Metrics holds rpc-client metrics. Shared across client instances since
// the prometheus registry is process-wide.
type Metrics struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	Retries     prometheus.Counter
	Failures    *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	sharedMx    *Metrics
)

func newMetrics() *Metrics {
	metricsOnce.Do(func() {
		reg := metrics.NewComponentRegistry("rpc")
		sharedMx = &Metrics{
			CacheHits: reg.NewCounter(prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "RPC calls served from the result cache",
			}),
			CacheMisses: reg.NewCounter(prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "RPC calls that went to the network",
			}),
			Retries: reg.NewCounter(prometheus.CounterOpts{
				Name: "retries_total",
				Help: "Retry attempts after rate limiting or transport failure",
			}),
			Failures: reg.NewCounterVec(prometheus.CounterOpts{
				Name: "failures_total",
				Help: "RPC calls that failed after exhausting retries",
			}, []string{"method"}),
		}
	})
	return sharedMx
}
