package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeUnhandled = "unhandled"
	OutcomeMalformed = "malformed"
	OutcomeDropped   = "dropped"
)

// Cancellation reasons.
const (
	ReasonRemoteCancel    = "remote_cancel"
	ReasonHandlerRemoved  = "handler_removed"
	ReasonCancelPending   = "cancel_pending"
	ReasonBrowserClosed   = "browser_closed"
	ReasonProcessGone     = "process_terminated"
	ReasonNavigation      = "navigation"
	ReasonContextReleased = "context_released"
	ReasonScriptCancel    = "script_cancel"
)

// RouterMetrics tracks one router. A nil *RouterMetrics records nothing.
type RouterMetrics struct {
	Queries       *prometheus.CounterVec
	Cancellations *prometheus.CounterVec
	Messages      *prometheus.CounterVec
	Pending       prometheus.Gauge
	Handlers      prometheus.Gauge
}

// NewRouterMetrics creates router metrics on reg. side is "host" or
// "content" and becomes a constant label, so both routers may share reg.
func NewRouterMetrics(reg prometheus.Registerer, side string) *RouterMetrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"side": side}
	return &RouterMetrics{
		Queries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "queryrouter_queries_total",
				Help:        "Queries by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		Cancellations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "queryrouter_cancellations_total",
				Help:        "Canceled queries or requests by reason",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		Messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "queryrouter_messages_sent_total",
				Help:        "Outbound process messages by name and encoding",
				ConstLabels: labels,
			},
			[]string{"name", "encoding"},
		),
		Pending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "queryrouter_pending",
				Help:        "Pending queries or requests",
				ConstLabels: labels,
			},
		),
		Handlers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "queryrouter_handlers",
				Help:        "Registered query handlers",
				ConstLabels: labels,
			},
		),
	}
}

func (m *RouterMetrics) RecordQuery(outcome string) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(outcome).Inc()
}

func (m *RouterMetrics) RecordCancel(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Cancellations.WithLabelValues(reason).Add(float64(n))
}

func (m *RouterMetrics) RecordMessage(name, encoding string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(name, encoding).Inc()
}

func (m *RouterMetrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(n))
}

func (m *RouterMetrics) SetHandlers(n int) {
	if m == nil {
		return
	}
	m.Handlers.Set(float64(n))
}
