// Package metrics exposes engine counters as Prometheus collectors on a
// private registry, with a plain Stats snapshot for the status endpoint.
//
// Names use the homeguard_ prefix and the _total suffix for counters.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"homeguard/internal/model"
)

type Metrics struct {
	Registry *prometheus.Registry

	eventsReceived    *prometheus.CounterVec
	eventsDropped     prometheus.Counter
	eventsDuplicate   prometheus.Counter
	evaluations       *prometheus.CounterVec
	evaluationSeconds prometheus.Histogram
	ruleMatches       *prometheus.CounterVec
	configErrors      *prometheus.CounterVec
	actionOutcomes    *prometheus.CounterVec
	actionSeconds     *prometheus.HistogramVec
	alerts            *prometheus.CounterVec
	alertPersistFails prometheus.Counter
	queueDepth        prometheus.Gauge
	phase             *prometheus.GaugeVec
	snapshotRules     prometheus.Gauge
	snapshotDegraded  prometheus.Gauge

	received, dropped, duplicates, evaluated, degraded, matched, alerted, persistFails atomic.Uint64
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homeguard_events_received_total",
			Help: "Events accepted into the evaluation queue by source.",
		}, []string{"source"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homeguard_events_dropped_total",
			Help: "Events dropped because the evaluation queue was full.",
		}),
		eventsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homeguard_events_duplicate_total",
			Help: "Events ignored because their id was seen within the dedupe window.",
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homeguard_evaluations_total",
			Help: "Completed evaluation cycles.",
		}, []string{"degraded"}),
		evaluationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "homeguard_evaluation_duration_seconds",
			Help:    "Time from dequeue to alert write for one event.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		}),
		ruleMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homeguard_rule_matches_total",
			Help: "Rule matches by rule id.",
		}, []string{"rule_id"}),
		configErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homeguard_rule_config_errors_total",
			Help: "Rules skipped during evaluation because they are malformed.",
		}, []string{"rule_id"}),
		actionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homeguard_action_outcomes_total",
			Help: "Dispatched actions by type and status.",
		}, []string{"type", "status"}),
		actionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "homeguard_action_duration_seconds",
			Help:    "Action handler latency.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"type"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homeguard_alerts_total",
			Help: "Alerts recorded by severity.",
		}, []string{"severity"}),
		alertPersistFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homeguard_alert_persist_failures_total",
			Help: "Alert batches that could not be written durably.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homeguard_queue_depth",
			Help: "Events waiting for evaluation.",
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "homeguard_events_in_phase",
			Help: "Events currently in each evaluation phase.",
		}, []string{"phase"}),
		snapshotRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homeguard_snapshot_rules",
			Help: "Rules in the current snapshot.",
		}),
		snapshotDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homeguard_snapshot_degraded",
			Help: "1 while the rule snapshot is stale because persistence is unavailable.",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsReceived, m.eventsDropped, m.eventsDuplicate,
		m.evaluations, m.evaluationSeconds,
		m.ruleMatches, m.configErrors,
		m.actionOutcomes, m.actionSeconds,
		m.alerts, m.alertPersistFails,
		m.queueDepth, m.phase,
		m.snapshotRules, m.snapshotDegraded,
	)
	return m
}

func (m *Metrics) EventReceived(source model.Source) {
	m.eventsReceived.WithLabelValues(string(source)).Inc()
	m.received.Add(1)
}

func (m *Metrics) EventDropped() {
	m.eventsDropped.Inc()
	m.dropped.Add(1)
}

func (m *Metrics) EventDuplicate() {
	m.eventsDuplicate.Inc()
	m.duplicates.Add(1)
}

func (m *Metrics) Evaluated(degraded bool, d time.Duration) {
	label := "false"
	if degraded {
		label = "true"
		m.degraded.Add(1)
	}
	m.evaluations.WithLabelValues(label).Inc()
	m.evaluationSeconds.Observe(d.Seconds())
	m.evaluated.Add(1)
}

func (m *Metrics) RuleMatched(ruleID string) {
	m.ruleMatches.WithLabelValues(ruleID).Inc()
	m.matched.Add(1)
}

func (m *Metrics) ConfigError(ruleID string) {
	m.configErrors.WithLabelValues(ruleID).Inc()
}

func (m *Metrics) ActionOutcome(o model.ActionOutcome) {
	m.actionOutcomes.WithLabelValues(string(o.Type), string(o.Status)).Inc()
	if o.Status != model.StatusSkipped {
		m.actionSeconds.WithLabelValues(string(o.Type)).Observe(o.Duration.Seconds())
	}
}

func (m *Metrics) AlertRecorded(severity model.Severity) {
	m.alerts.WithLabelValues(string(severity)).Inc()
	m.alerted.Add(1)
}

func (m *Metrics) AlertPersistFailed() {
	m.alertPersistFails.Inc()
	m.persistFails.Add(1)
}

func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) PhaseEnter(phase string) {
	m.phase.WithLabelValues(phase).Inc()
}

func (m *Metrics) PhaseLeave(phase string) {
	m.phase.WithLabelValues(phase).Dec()
}

func (m *Metrics) Snapshot(rules int, degraded bool) {
	m.snapshotRules.Set(float64(rules))
	if degraded {
		m.snapshotDegraded.Set(1)
	} else {
		m.snapshotDegraded.Set(0)
	}
}

type Stats struct {
	EventsReceived      uint64 `json:"events_received"`
	EventsDropped       uint64 `json:"events_dropped"`
	EventsDuplicate     uint64 `json:"events_duplicate"`
	Evaluations         uint64 `json:"evaluations"`
	DegradedEvaluations uint64 `json:"degraded_evaluations"`
	RuleMatches         uint64 `json:"rule_matches"`
	Alerts              uint64 `json:"alerts"`
	AlertPersistFails   uint64 `json:"alert_persist_failures"`
}

func (m *Metrics) Stats() Stats {
	return Stats{
		EventsReceived:      m.received.Load(),
		EventsDropped:       m.dropped.Load(),
		EventsDuplicate:     m.duplicates.Load(),
		Evaluations:         m.evaluated.Load(),
		DegradedEvaluations: m.degraded.Load(),
		RuleMatches:         m.matched.Load(),
		Alerts:              m.alerted.Load(),
		AlertPersistFails:   m.persistFails.Load(),
	}
}
