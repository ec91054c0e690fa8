package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChecksTotal counts CheckSessions outcomes by result.
	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoattend_checks_total",
		Help: "Session attendance checks by outcome.",
	}, []string{"result"})

	// CheckInsTotal counts attendance writes by recorded status.
	CheckInsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoattend_checkins_total",
		Help: "Attendance records written by status.",
	}, []string{"status"})

	// BoundaryTransitions counts watcher in/out transitions.
	BoundaryTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoattend_boundary_transitions_total",
		Help: "Geofence boundary transitions by direction.",
	}, []string{"direction"})

	// AutoCheckouts counts timer-driven checkouts.
	AutoCheckouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geoattend_auto_checkouts_total",
		Help: "Auto-checkouts after the out-of-bounds grace period.",
	})

	// MonitoringActive is 1 while a boundary watcher cycle is running.
	MonitoringActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "geoattend_monitoring_active",
		Help: "Whether a monitoring cycle is currently active.",
	})
)
