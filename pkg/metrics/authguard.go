package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SignalsTriggered counts detector triggers, labeled by signal id,
	// regardless of whether the trigger was dedup-gated from scoring.
	SignalsTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authguard",
			Name:      "signals_triggered_total",
			Help:      "Count of detector triggers, labeled by signal_id.",
		},
		[]string{"signal_id"},
	)

	// DecisionsTotal counts final decisions issued, labeled by decision.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authguard",
			Name:      "decisions_total",
			Help:      "Count of final decisions issued, labeled by decision.",
		},
		[]string{"decision"},
	)

	// EnforcementUnavailableTotal counts enforcer RPC timeouts/failures.
	EnforcementUnavailableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "authguard",
			Name:      "enforcement_unavailable_total",
			Help:      "Count of enforcer calls that fell back to a synthetic fail-open response.",
		},
	)

	// AlertsEmittedTotal counts alerts dispatched, labeled by severity.
	AlertsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authguard",
			Name:      "alerts_emitted_total",
			Help:      "Count of alerts dispatched, labeled by severity.",
		},
		[]string{"severity"},
	)

	// ActiveBlocksGauge reports the current count of active blocks.
	ActiveBlocksGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "authguard",
			Name:      "active_blocks",
			Help:      "Current number of active blocks in the block store.",
		},
	)

	registerAuthguardOnce sync.Once
)

// RegisterAuthguardMetrics registers the detection-pipeline metrics once.
func RegisterAuthguardMetrics(reg prometheus.Registerer) {
	registerAuthguardOnce.Do(func() {
		reg.MustRegister(SignalsTriggered)
		reg.MustRegister(DecisionsTotal)
		reg.MustRegister(EnforcementUnavailableTotal)
		reg.MustRegister(AlertsEmittedTotal)
		reg.MustRegister(ActiveBlocksGauge)
	})
}
