package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/casters-pixels/generator/metrics"
)

// Metrics tracks generation lifecycle outcomes. Shared across instances
// since the prometheus registry is process-wide.
type Metrics struct {
	GenerationsStarted     prometheus.Counter
	GenerationsCompleted   *prometheus.CounterVec
	CompletionSubmissions  prometheus.Counter
	DuplicateConfirmations prometheus.Counter
	SynthesisFailures      prometheus.Counter
	DroppedTransactions    prometheus.Counter
}

var (
	metricsOnce sync.Once
	sharedMx    *Metrics
)

func getMetrics() *Metrics {
	metricsOnce.Do(func() {
		reg := metrics.NewComponentRegistry("orchestrator")
		sharedMx = &Metrics{
			GenerationsStarted: reg.NewCounter(prometheus.CounterOpts{
				Name: "generations_started_total",
				Help: "Generation requests initiated by the user",
			}),
			GenerationsCompleted: reg.NewCounterVec(prometheus.CounterOpts{
				Name: "generations_completed_total",
				Help: "Generations completed on-chain",
			}, []string{"outcome"}),
			CompletionSubmissions: reg.NewCounter(prometheus.CounterOpts{
				Name: "completion_submissions_total",
				Help: "completeGeneration transactions submitted",
			}),
			DuplicateConfirmations: reg.NewCounter(prometheus.CounterOpts{
				Name: "duplicate_confirmations_total",
				Help: "Completion confirmations discarded as already processed",
			}),
			SynthesisFailures: reg.NewCounter(prometheus.CounterOpts{
				Name: "synthesis_failures_total",
				Help: "Image rendering failures after the reward was processed",
			}),
			DroppedTransactions: reg.NewCounter(prometheus.CounterOpts{
				Name: "dropped_transactions_total",
				Help: "In-flight transactions dropped from the mempool",
			}),
		}
	})
	return sharedMx
}
