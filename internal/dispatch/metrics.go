package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	linesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rulebot",
			Subsystem: "dispatch",
			Name:      "lines_total",
			Help:      "Number of parsed lines handed to the dispatcher",
		},
		[]string{"event"},
	)
	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rulebot",
			Subsystem: "dispatch",
			Name:      "executions_total",
			Help:      "Number of rule executions by outcome",
		},
		[]string{"plugin", "result"},
	)
	suppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rulebot",
			Subsystem: "dispatch",
			Name:      "suppressed_total",
			Help:      "Number of triggered rules that were not executed",
		},
		[]string{"plugin", "reason"},
	)
	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rulebot",
			Subsystem: "dispatch",
			Name:      "in_flight",
			Help:      "Number of concurrent rule executions currently running",
		},
	)
)

func init() {
	prometheus.MustRegister(linesDispatched, executions, suppressed, inFlight)
}

const (
	resultOK    = "ok"
	resultError = "error"
	resultPanic = "panic"

	reasonBlocked     = "blocked"
	reasonRateLimited = "rate_limited"
	reasonDisabled    = "disabled"
)
