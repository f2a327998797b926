package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects gateway metrics.
//
// Every recording method is safe to call on a nil *Metrics so components
// can run without instrumentation in tests.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.UpdateReceived("main")
//	metrics.AccessDenied("main", "unauthorized")
type Metrics struct {
	// UpdatesReceived counts updates pulled from the platform.
	// Labels: account
	UpdatesReceived *prometheus.CounterVec

	// AccessDenials counts updates rejected by access control.
	// Labels: account, reason (group-disabled|topic-disabled|unauthorized|policy-blocked|mention-required)
	AccessDenials *prometheus.CounterVec

	// EventsPublished counts inbound events handed to the bus.
	// Labels: account, status (ok|failed|dropped)
	EventsPublished *prometheus.CounterVec

	// QueueDepth tracks pending items across all chat lanes.
	// Labels: account
	QueueDepth *prometheus.GaugeVec

	// ProcessingDuration measures the inbound pipeline per update in seconds.
	// Labels: account
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s
	ProcessingDuration *prometheus.HistogramVec

	// Attachments counts ingested media by outcome.
	// Labels: account, type (image|document|video|audio|voice|animation), status (ok|failed)
	Attachments *prometheus.CounterVec

	// Sends counts outbound platform calls.
	// Labels: account, kind (text|media|typing_on|typing_off), status (ok|failed)
	Sends *prometheus.CounterVec

	// DraftStreams counts draft stream terminal states.
	// Labels: account, state (ended|aborted|failed)
	DraftStreams *prometheus.CounterVec

	// AccountsRunning is 1 while an account's poller is up.
	// Labels: account
	AccountsRunning *prometheus.GaugeVec
}

// NewMetrics creates all gateway metrics and registers them with reg.
// Pass a fresh prometheus.NewRegistry() in tests to avoid duplicate
// registration on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UpdatesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgate_updates_received_total",
				Help: "Total number of platform updates received per account",
			},
			[]string{"account"},
		),

		AccessDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgate_access_denials_total",
				Help: "Total number of updates dropped by access control, by reason",
			},
			[]string{"account", "reason"},
		),

		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgate_events_published_total",
				Help: "Total number of inbound events published to the bus",
			},
			[]string{"account", "status"},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tgate_queue_depth",
				Help: "Number of updates waiting or processing in conversation lanes",
			},
			[]string{"account"},
		),

		ProcessingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tgate_processing_duration_seconds",
				Help:    "Duration of the inbound pipeline per update in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"account"},
		),

		Attachments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgate_attachments_total",
				Help: "Total number of attachment ingestions by type and status",
			},
			[]string{"account", "type", "status"},
		),

		Sends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgate_sends_total",
				Help: "Total number of outbound platform calls by kind and status",
			},
			[]string{"account", "kind", "status"},
		),

		DraftStreams: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgate_draft_streams_total",
				Help: "Total number of draft streams by terminal state",
			},
			[]string{"account", "state"},
		),

		AccountsRunning: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tgate_account_running",
				Help: "Whether the account's poller is running (1) or not (0)",
			},
			[]string{"account"},
		),
	}
}

// UpdateReceived records one inbound platform update.
func (m *Metrics) UpdateReceived(account string) {
	if m == nil {
		return
	}
	m.UpdatesReceived.WithLabelValues(account).Inc()
}

// AccessDenied records a dropped update.
func (m *Metrics) AccessDenied(account, reason string) {
	if m == nil {
		return
	}
	m.AccessDenials.WithLabelValues(account, reason).Inc()
}

// EventPublished records a bus publish outcome.
func (m *Metrics) EventPublished(account, status string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(account, status).Inc()
}

// QueueDelta adjusts the queue depth gauge.
func (m *Metrics) QueueDelta(account string, delta float64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(account).Add(delta)
}

// ObserveProcessing records pipeline latency.
func (m *Metrics) ObserveProcessing(account string, seconds float64) {
	if m == nil {
		return
	}
	m.ProcessingDuration.WithLabelValues(account).Observe(seconds)
}

// AttachmentIngested records one attachment download outcome.
func (m *Metrics) AttachmentIngested(account, mediaType, status string) {
	if m == nil {
		return
	}
	m.Attachments.WithLabelValues(account, mediaType, status).Inc()
}

// RecordSend records one outbound call.
func (m *Metrics) RecordSend(account, kind, status string) {
	if m == nil {
		return
	}
	m.Sends.WithLabelValues(account, kind, status).Inc()
}

// DraftStreamFinished records a draft stream reaching a terminal state.
func (m *Metrics) DraftStreamFinished(account, state string) {
	if m == nil {
		return
	}
	m.DraftStreams.WithLabelValues(account, state).Inc()
}

// SetAccountRunning flips the running gauge for an account.
func (m *Metrics) SetAccountRunning(account string, running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.AccountsRunning.WithLabelValues(account).Set(v)
}
