// Package metrics exposes the Prometheus instruments of the audit engine.
// All metric names carry the service prefix; every method is safe to call on
// a nil *Metrics so components can run without instrumentation in tests.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cloudaudit"

// Metrics holds the registered collectors.
type Metrics struct {
	auditsTotal   *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	checkErrors   *prometheus.CounterVec
	schedulerRuns *prometheus.CounterVec
	auditsRunning prometheus.Gauge
	alertsTotal   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// It panics if registration fails (e.g. duplicate metric names).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		auditsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_audits_total", namespace),
				Help: "Audits finished, by provider and terminal status.",
			},
			[]string{"provider", "status"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    fmt.Sprintf("%s_phase_duration_seconds", namespace),
				Help:    "Wall time of one phase run.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider", "status"},
		),
		checkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_check_errors_total", namespace),
				Help: "Check unit invocations that returned an error.",
			},
			[]string{"provider", "check_id"},
		),
		schedulerRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_scheduler_triggers_total", namespace),
				Help: "Scheduled trigger attempts, by outcome.",
			},
			[]string{"outcome"},
		),
		auditsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: fmt.Sprintf("%s_audits_in_progress", namespace),
				Help: "Audits currently running in this process.",
			},
		),
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_alerts_total", namespace),
				Help: "Alert deliveries, by channel and result.",
			},
			[]string{"channel", "result"},
		),
	}

	reg.MustRegister(
		m.auditsTotal,
		m.phaseDuration,
		m.checkErrors,
		m.schedulerRuns,
		m.auditsRunning,
		m.alertsTotal,
	)
	return m
}

// AuditStarted increments the in-progress gauge.
func (m *Metrics) AuditStarted() {
	if m == nil {
		return
	}
	m.auditsRunning.Inc()
}

// AuditFinished decrements the in-progress gauge and counts the terminal status.
func (m *Metrics) AuditFinished(provider, status string) {
	if m == nil {
		return
	}
	m.auditsRunning.Dec()
	m.auditsTotal.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) ObservePhase(provider, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(provider, status).Observe(d.Seconds())
}

func (m *Metrics) CheckError(provider, checkID string) {
	if m == nil {
		return
	}
	m.checkErrors.WithLabelValues(provider, checkID).Inc()
}

func (m *Metrics) SchedulerTrigger(outcome string) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(outcome).Inc()
}

// Alert records one delivery attempt; result is "sent", "failed" or "skipped".
func (m *Metrics) Alert(channel, result string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(channel, result).Inc()
}
