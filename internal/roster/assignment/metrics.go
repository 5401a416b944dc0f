package assignment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	assignmentAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_assignment_attempts_total",
		Help: "Assign and unassign validations grouped by operation and outcome.",
	}, []string{"op", "result"})

	overAssignedDrivers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roster_over_assigned_drivers",
		Help: "Drivers whose assigned passengers exceed capacity in the last built board.",
	})
)

// Record counts an attempt outcome. result is "applied", "noop" or an error class.
func Record(op, result string) {
	assignmentAttempts.WithLabelValues(op, result).Inc()
}

// ObserveBoard publishes board-level gauges.
func ObserveBoard(b Board) {
	n := 0
	for _, d := range b.Drivers {
		if d.OverAssigned {
			n++
		}
	}
	overAssignedDrivers.Set(float64(n))
}
