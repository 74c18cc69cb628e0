package deploy

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

type deployMetrics struct {
	steps      *prometheus.HistogramVec
	operations *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *deployMetrics
)

func newDeployMetrics() *deployMetrics {
	metricsOnce.Do(func() {
		steps := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pagesmith",
			Subsystem: "deploy",
			Name:      "step_duration_seconds",
			Help:      "Duration of deployment pipeline steps",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"step", "outcome"})
		operations := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagesmith",
			Subsystem: "deploy",
			Name:      "operations_total",
			Help:      "Deploy, rollback and undeploy operations by outcome",
		}, []string{"operation", "outcome"})

		if err := prometheus.Register(steps); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
					steps = existing
				}
			}
		}
		if err := prometheus.Register(operations); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					operations = existing
				}
			}
		}
		sharedMetrics = &deployMetrics{steps: steps, operations: operations}
	})
	return sharedMetrics
}

func (m *deployMetrics) observeStep(step string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	m.steps.WithLabelValues(step, outcome).Observe(elapsed.Seconds())
}

func (m *deployMetrics) operation(name, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(name, outcome).Inc()
}
