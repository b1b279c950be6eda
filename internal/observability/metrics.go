package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the detection -> safety -> snipe -> position
// pipeline. Observability only: no core decision reads these.

var (
	// PairsDiscovered counts every pair event seen, before any filtering.
	PairsDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crosshair",
			Subsystem: "detector",
			Name:      "pairs_discovered_total",
			Help:      "New pair events received from chain adapters",
		},
		[]string{"chain"},
	)

	// PairsFiltered counts events dropped before safety evaluation.
	PairsFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crosshair",
			Subsystem: "detector",
			Name:      "pairs_filtered_total",
			Help:      "Pair events dropped before safety evaluation",
		},
		[]string{"chain", "reason"},
	)

	// SafetyVerdicts counts evaluations by outcome.
	SafetyVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crosshair",
			Subsystem: "safety",
			Name:      "verdicts_total",
			Help:      "Safety verdicts by outcome",
		},
		[]string{"chain", "tradeable"},
	)

	// Snipes counts entry attempts by outcome
	// (opened|simulated|risk-rejected|execution-error|duplicate).
	Snipes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crosshair",
			Subsystem: "sniper",
			Name:      "snipes_total",
			Help:      "Snipe attempts by outcome",
		},
		[]string{"chain", "outcome"},
	)

	// PositionsOpen gauges currently active positions.
	PositionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "crosshair",
			Subsystem: "positions",
			Name:      "open",
			Help:      "Currently active positions",
		},
		[]string{"chain"},
	)

	// PositionsClosed counts closes by reason.
	PositionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crosshair",
			Subsystem: "positions",
			Name:      "closed_total",
			Help:      "Positions closed by reason",
		},
		[]string{"chain", "reason"},
	)

	// AdapterErrors counts transient chain adapter failures by operation.
	AdapterErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crosshair",
			Subsystem: "chain",
			Name:      "adapter_errors_total",
			Help:      "Chain adapter call failures",
		},
		[]string{"chain", "op"},
	)
)
