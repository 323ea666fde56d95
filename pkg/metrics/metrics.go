// Package metrics defines the Prometheus collectors exported by glourbee.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "glourbee"

	fanoutOutcomesTotal = "fanout_outcomes_total"
	runTasks            = "run_tasks"
	remoteCallSeconds   = "remote_call_duration_seconds"

	// Labels
	opLabel      = "op"
	outcomeLabel = "outcome"
	stateLabel   = "state"
)

var fanoutOutcomesTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      fanoutOutcomesTotal,
		Help:      "per-item fan-out outcomes partitioned by operation and outcome",
	},
	[]string{opLabel, outcomeLabel},
)

var runTasksMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      runTasks,
		Help:      "number of tasks in each state for the most recently queried run",
	},
	[]string{stateLabel},
)

var remoteCallSecondsMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      remoteCallSeconds,
		Help:      "latency of fan-out remote calls",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60},
	},
	[]string{opLabel},
)

// IncreaseFanoutOutcome counts one per-item outcome.
func IncreaseFanoutOutcome(op, outcome string) {
	fanoutOutcomesTotalMetric.With(prometheus.Labels{
		opLabel:      op,
		outcomeLabel: outcome,
	}).Inc()
}

// UpdateRunTasks records the task count of a state.
func UpdateRunTasks(state string, count int) {
	runTasksMetric.With(prometheus.Labels{stateLabel: state}).Set(float64(count))
}

// ResetRunTasks clears every state gauge before a new snapshot is recorded.
func ResetRunTasks() {
	runTasksMetric.Reset()
}

// ObserveRemoteCall records the latency of a remote call.
func ObserveRemoteCall(op string, seconds float64) {
	remoteCallSecondsMetric.With(prometheus.Labels{opLabel: op}).Observe(seconds)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(fanoutOutcomesTotalMetric)
	prometheus.MustRegister(runTasksMetric)
	prometheus.MustRegister(remoteCallSecondsMetric)
}
