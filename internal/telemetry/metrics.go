// Package telemetry exposes prometheus instruments for the ops surface.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

type Metrics struct {
	registry *prometheus.Registry

	ReconcileRuns     *prometheus.CounterVec
	FoldMismatches    *prometheus.CounterVec
	SweepRuns         prometheus.Counter
	DispatchedEvents  *prometheus.CounterVec
	TransitionRetries prometheus.Counter
}

// New builds the prometheus registry and engine counters.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	reconcileRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mxengine_inventory_reconcile_runs_total",
		Help: "Inventory ledger reconciliation runs by outcome.",
	}, []string{"outcome"})

	foldMismatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mxengine_inventory_fold_mismatches_total",
		Help: "Stock movement folds that disagreed with the projection.",
	}, []string{"part_number"})

	sweepRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mxengine_compliance_sweep_runs_total",
		Help: "Calendar compliance sweep runs.",
	})

	dispatchedEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mxengine_dispatched_events_total",
		Help: "Engine events consumed by the dispatcher.",
	}, []string{"topic"})

	transitionRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mxengine_transition_conflicts_total",
		Help: "Optimistic-concurrency conflicts surfaced to callers.",
	})

	registry.MustRegister(reconcileRuns, foldMismatches, sweepRuns, dispatchedEvents, transitionRetries)

	return &Metrics{
		registry:          registry,
		ReconcileRuns:     reconcileRuns,
		FoldMismatches:    foldMismatches,
		SweepRuns:         sweepRuns,
		DispatchedEvents:  dispatchedEvents,
		TransitionRetries: transitionRetries,
	}
}

// Handler serves the registry for the ops server's /metrics route.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Module wires the prometheus metrics.
var Module = fx.Module("telemetry",
	fx.Provide(New),
)
