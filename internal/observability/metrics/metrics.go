package metrics

import "github.com/prometheus/client_golang/prometheus"

// CallMetrics exposes counters/gauges for the call lifecycle.
type CallMetrics struct {
	callsPlaced      *prometheus.CounterVec
	retriesScheduled *prometheus.CounterVec
	bookings         *prometheus.CounterVec
	webhookRejected  *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	bridgeSessions   prometheus.Gauge
}

func NewCallMetrics(reg prometheus.Registerer) *CallMetrics {
	m := &CallMetrics{
		callsPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callpilot",
			Subsystem: "queue",
			Name:      "calls_placed_total",
			Help:      "Outbound calls placed, by service and result",
		}, []string{"service", "result"}),
		retriesScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callpilot",
			Subsystem: "retry",
			Name:      "scheduled_total",
			Help:      "Retries scheduled, by outcome classification",
		}, []string{"outcome"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callpilot",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Appointment booking attempts, by result",
		}, []string{"result"}),
		webhookRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callpilot",
			Subsystem: "postcall",
			Name:      "webhook_rejected_total",
			Help:      "Post-call webhooks rejected, by reason",
		}, []string{"reason"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "callpilot",
			Subsystem: "queue",
			Name:      "pending_depth",
			Help:      "Pending call queue rows",
		}),
		bridgeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "callpilot",
			Subsystem: "bridge",
			Name:      "active_sessions",
			Help:      "Live media bridge sessions",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.callsPlaced, m.retriesScheduled, m.bookings,
		m.webhookRejected, m.queueDepth, m.bridgeSessions)
	return m
}

func (m *CallMetrics) ObserveCallPlaced(service, result string) {
	if m == nil {
		return
	}
	m.callsPlaced.WithLabelValues(service, result).Inc()
}

func (m *CallMetrics) ObserveRetryScheduled(outcome string) {
	if m == nil {
		return
	}
	m.retriesScheduled.WithLabelValues(outcome).Inc()
}

func (m *CallMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(result).Inc()
}

func (m *CallMetrics) ObserveWebhookRejected(reason string) {
	if m == nil {
		return
	}
	m.webhookRejected.WithLabelValues(reason).Inc()
}

func (m *CallMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *CallMetrics) BridgeSessionStarted() {
	if m == nil {
		return
	}
	m.bridgeSessions.Inc()
}

func (m *CallMetrics) BridgeSessionEnded() {
	if m == nil {
		return
	}
	m.bridgeSessions.Dec()
}
