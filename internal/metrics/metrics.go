package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	GenerationsStarted   prometheus.Counter
	GenerationsCompleted prometheus.Counter
	GenerationsCancelled prometheus.Counter
	GenerationsFailed    prometheus.Counter
	FragmentsTotal       prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			GenerationsStarted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "promptlab",
				Name:      "generations_started_total",
				Help:      "Total generation attempts started",
			}),
			GenerationsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "promptlab",
				Name:      "generations_completed_total",
				Help:      "Total generation attempts that streamed to completion",
			}),
			GenerationsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "promptlab",
				Name:      "generations_cancelled_total",
				Help:      "Total generation attempts stopped by the user",
			}),
			GenerationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "promptlab",
				Name:      "generations_failed_total",
				Help:      "Total generation attempts that ended in an error",
			}),
			FragmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "promptlab",
				Name:      "fragments_total",
				Help:      "Total streamed fragments applied to conversations",
			}),
		}
		prometheus.MustRegister(
			global.GenerationsStarted,
			global.GenerationsCompleted,
			global.GenerationsCancelled,
			global.GenerationsFailed,
			global.FragmentsTotal,
		)
	})
	return global
}
