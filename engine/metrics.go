package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/replyflow/metric"
)

// engineMetrics holds the engine's domain counters. A nil receiver disables
// everything, so the engine runs with or without a registry.
type engineMetrics struct {
	messagesReceived   prometheus.Counter
	rulesMatched       *prometheus.CounterVec
	eligibilityDenied  *prometheus.CounterVec
	firesSuppressed    prometheus.Counter
	jobsScheduled      prometheus.Counter
	moderationReplies  *prometheus.CounterVec
	stepsDispatched    prometheus.Counter
	sessionsFinished   *prometheus.CounterVec
	processingFailures prometheus.Counter
}

func newEngineMetrics(registrar metric.MetricsRegistrar) (*engineMetrics, error) {
	if registrar == nil {
		return nil, nil
	}

	m := &engineMetrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replyflow",
			Subsystem: "engine",
			Name:      "messages_received_total",
			Help:      "Inbound messages handed to the engine",
		}),
		rulesMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replyflow",
			Subsystem: "engine",
			Name:      "rules_matched_total",
			Help:      "Trigger matches by rule",
		}, []string{"rule_id"}),
		eligibilityDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replyflow",
			Subsystem: "engine",
			Name:      "eligibility_denied_total",
			Help:      "Matches dropped by recipient resolution, by decision",
		}, []string{"decision"}),
		firesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replyflow",
			Subsystem: "engine",
			Name:      "fires_suppressed_total",
			Help:      "Matches suppressed by the trigger gap",
		}),
		jobsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replyflow",
			Subsystem: "engine",
			Name:      "jobs_scheduled_total",
			Help:      "Primary reply jobs handed to dispatch",
		}),
		moderationReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replyflow",
			Subsystem: "engine",
			Name:      "moderation_replies_total",
			Help:      "Moderation replies sent, by sender role",
		}, []string{"role"}),
		stepsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replyflow",
			Subsystem: "engine",
			Name:      "nurture_steps_dispatched_total",
			Help:      "Nurturing steps handed to dispatch",
		}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replyflow",
			Subsystem: "engine",
			Name:      "nurture_sessions_finished_total",
			Help:      "Nurturing sessions reaching a terminal status",
		}, []string{"status"}),
		processingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replyflow",
			Subsystem: "engine",
			Name:      "processing_failures_total",
			Help:      "Inbound messages that failed processing",
		}),
	}

	registrations := []struct {
		name      string
		collector prometheus.Collector
	}{
		{"messages_received_total", m.messagesReceived},
		{"rules_matched_total", m.rulesMatched},
		{"eligibility_denied_total", m.eligibilityDenied},
		{"fires_suppressed_total", m.firesSuppressed},
		{"jobs_scheduled_total", m.jobsScheduled},
		{"moderation_replies_total", m.moderationReplies},
		{"nurture_steps_dispatched_total", m.stepsDispatched},
		{"nurture_sessions_finished_total", m.sessionsFinished},
		{"processing_failures_total", m.processingFailures},
	}
	for _, reg := range registrations {
		if err := registrar.Register("engine", reg.name, reg.collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *engineMetrics) incReceived() {
	if m != nil {
		m.messagesReceived.Inc()
	}
}

func (m *engineMetrics) incMatched(ruleID string) {
	if m != nil {
		m.rulesMatched.WithLabelValues(ruleID).Inc()
	}
}

func (m *engineMetrics) incDenied(decision string) {
	if m != nil {
		m.eligibilityDenied.WithLabelValues(decision).Inc()
	}
}

func (m *engineMetrics) incSuppressed() {
	if m != nil {
		m.firesSuppressed.Inc()
	}
}

func (m *engineMetrics) incScheduled() {
	if m != nil {
		m.jobsScheduled.Inc()
	}
}

func (m *engineMetrics) incModeration(role string) {
	if m != nil {
		m.moderationReplies.WithLabelValues(role).Inc()
	}
}

func (m *engineMetrics) incStepDispatched() {
	if m != nil {
		m.stepsDispatched.Inc()
	}
}

func (m *engineMetrics) incSessionFinished(status string) {
	if m != nil {
		m.sessionsFinished.WithLabelValues(status).Inc()
	}
}

func (m *engineMetrics) incFailure() {
	if m != nil {
		m.processingFailures.Inc()
	}
}
