// Package metrics exposes Prometheus counters/gauges for the trigger
// sources and the scaling sequence engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TriggersReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klutch_triggers_received_total",
		Help: "Triggers received, by source",
	}, []string{"source"})

	TriggersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klutch_triggers_dropped_total",
		Help: "Triggers drained without effect because a sequence was already active",
	})

	SequencesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klutch_sequences_started_total",
		Help: "Scaling sequences started",
	})

	SequencesEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klutch_sequences_ended_total",
		Help: "Scaling sequences ended (revert completed)",
	})

	SequenceActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "klutch_sequence_active",
		Help: "1 while a scaling sequence is active, 0 otherwise",
	})

	ManagedAutoscalers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "klutch_managed_autoscalers",
		Help: "Number of autoscalers managed by the current sequence",
	})

	ScaleUpErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klutch_scale_up_errors_total",
		Help: "Scale-up failures (scaleHpa rejections and transport errors), by reason",
	}, []string{"reason"})

	ReconcileErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klutch_reconcile_errors_total",
		Help: "Errors encountered while reconciling a managed autoscaler or listing autoscalers at sequence start",
	})

	RevertErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klutch_revert_errors_total",
		Help: "Transport errors encountered while reverting a managed autoscaler",
	})

	OrphansReverted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klutch_orphans_reverted_total",
		Help: "Orphaned autoscalers reverted outside an active sequence",
	})
)

// Serve starts the /metrics endpoint on addr in the background.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(addr, mux) //nolint:errcheck
}
