package llm

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess     = "success"
	outcomeRateLimited = "rate_limited"
	outcomeFallback    = "fallback"
	outcomeExhausted   = "exhausted"
	outcomeCanceled    = "canceled"
	outcomeError       = "error"
)

type clientMetrics struct {
	attempts *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *clientMetrics
)

func newClientMetrics() *clientMetrics {
	metricsOnce.Do(func() {
		attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagesmith",
			Subsystem: "llm",
			Name:      "attempts_total",
			Help:      "Model API attempts by outcome",
		}, []string{"outcome"})
		if err := prometheus.Register(attempts); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					attempts = existing
				}
			}
		}
		sharedMetrics = &clientMetrics{attempts: attempts}
	})
	return sharedMetrics
}

func (m *clientMetrics) observe(outcome string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}
