// Package metrics holds the Prometheus collectors of the mission service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "travel_missions"

// Metrics holds Prometheus metrics for the service.
type Metrics struct {
	RequestCounter   *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight *prometheus.GaugeVec

	MissionsAssigned    *prometheus.CounterVec
	Transitions         *prometheus.CounterVec
	Claims              *prometheus.CounterVec
	AchievementsGranted *prometheus.CounterVec
	GeneratorFailures   *prometheus.CounterVec
	GeneratorDuration   prometheus.Histogram
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
			[]string{"method"},
		),
		MissionsAssigned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "missions_assigned_total",
				Help:      "Missions assigned to users, by source (catalog or generated)",
			},
			[]string{"source", "difficulty"},
		),
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mission_transitions_total",
				Help:      "Mission status transitions, by scope and target status",
			},
			[]string{"scope", "status", "result"},
		),
		Claims: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "group_claims_total",
				Help:      "Group mission claim attempts, by result",
			},
			[]string{"result"},
		),
		AchievementsGranted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "achievements_granted_total",
				Help:      "Achievements granted, by code",
			},
			[]string{"code"},
		),
		GeneratorFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generator_failures_total",
				Help:      "Content generator failures, by reason",
			},
			[]string{"reason"},
		),
		GeneratorDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generator_duration_seconds",
				Help:      "Content generator call duration in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
		),
	}
}

func (m *Metrics) MissionAssigned(source, difficulty string) {
	if m == nil {
		return
	}
	m.MissionsAssigned.WithLabelValues(source, difficulty).Inc()
}

func (m *Metrics) Transition(scope, status, result string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(scope, status, result).Inc()
}

func (m *Metrics) Claim(result string) {
	if m == nil {
		return
	}
	m.Claims.WithLabelValues(result).Inc()
}

func (m *Metrics) AchievementGranted(code string) {
	if m == nil {
		return
	}
	m.AchievementsGranted.WithLabelValues(code).Inc()
}

func (m *Metrics) GeneratorFailed(reason string) {
	if m == nil {
		return
	}
	m.GeneratorFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveGenerator(seconds float64) {
	if m == nil {
		return
	}
	m.GeneratorDuration.Observe(seconds)
}
