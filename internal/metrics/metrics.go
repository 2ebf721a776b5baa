package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReadingsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safety",
		Name:      "readings_ingested_total",
		Help:      "Readings accepted by the normalizer.",
	}, []string{"facility"})

	ReadingsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safety",
		Name:      "readings_rejected_total",
		Help:      "Readings rejected by validation, by offending field.",
	}, []string{"field"})

	AlertTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safety",
		Name:      "alert_transitions_total",
		Help:      "Alert lifecycle transitions by category and kind.",
	}, []string{"category", "kind"})

	ActionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safety",
		Name:      "action_decisions_total",
		Help:      "Dispatcher decisions by action and outcome.",
	}, []string{"action", "outcome"})

	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safety",
		Name:      "delivery_failures_total",
		Help:      "Downstream calls that failed and were logged for retry.",
	}, []string{"target"})

	MunicipalityNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "safety",
		Name:      "municipality_notifications_total",
		Help:      "Depletion episodes that notified a municipality contact.",
	})

	TankLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "safety",
		Name:      "tank_level_pct",
		Help:      "Last reported water tank level.",
	}, []string{"tank"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safety",
		Name:      "events_dropped_total",
		Help:      "Bus events dropped because a subscriber's buffer was full.",
	}, []string{"subscriber"})
)
