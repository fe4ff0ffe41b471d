package sweep

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates campaign counters on a private registry so several
// campaigns in one process never collide and tests can assert on a clean
// slate.
type Metrics struct {
	registry *prometheus.Registry

	PulsesFired      prometheus.Counter
	Attempts         *prometheus.CounterVec
	PointsCompleted  prometheus.Counter
	Recoveries       prometheus.Counter
	RecoveryFailures prometheus.Counter
	HardwareFaults   prometheus.Counter
}

// NewMetrics builds and registers the campaign counters.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PulsesFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emfi",
			Name:      "pulses_fired_total",
			Help:      "Pulses fired at the target, including attempts aborted by resets.",
		}),
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emfi",
			Name:      "attempts_total",
			Help:      "Classified pulse attempts by outcome.",
		}, []string{"classification"}),
		PointsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emfi",
			Name:      "points_completed_total",
			Help:      "Grid points finalized into the campaign result.",
		}),
		Recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emfi",
			Name:      "recoveries_total",
			Help:      "Successful target reset recoveries.",
		}),
		RecoveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emfi",
			Name:      "recovery_failures_total",
			Help:      "Reset recoveries that exceeded the recovery timeout.",
		}),
		HardwareFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emfi",
			Name:      "hardware_faults_total",
			Help:      "Pulse attempts aborted by generator fault flags.",
		}),
	}

	m.registry.MustRegister(
		m.PulsesFired, m.Attempts, m.PointsCompleted,
		m.Recoveries, m.RecoveryFailures, m.HardwareFaults,
	)
	return m
}

// Registry exposes the private registry for scraping or test assertions.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
