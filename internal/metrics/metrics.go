// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quiz_arena"

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Game sessions currently open.",
	})

	AnswersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "answers_total",
		Help:      "Answers accepted by sessions.",
	}, []string{"mode", "source", "correct"})

	DuplicateSubmissions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicate_submissions_total",
		Help:      "Answers rejected because the question was already answered.",
	})

	Eliminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eliminations_total",
		Help:      "Players eliminated in elimination mode.",
	}, []string{"mode"})

	HintsAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hints_added_total",
		Help:      "Collaborative hints accepted or rejected.",
	}, []string{"result"})

	ResponseWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "response_writes_total",
		Help:      "Remote response log writes by outcome.",
	}, []string{"result"})

	SnapshotOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshot_ops_total",
		Help:      "Progress snapshot operations by kind and outcome.",
	}, []string{"op", "result"})

	ContentErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "content_errors_total",
		Help:      "Sessions halted by missing or malformed questions.",
	})
)

// Result converts an error into a result label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
