package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts reservation lifecycle outcomes. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	holds         *prometheus.CounterVec
	confirmations *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	calendarCalls *prometheus.CounterVec
	compensations *prometheus.CounterVec
	sweepItems    *prometheus.CounterVec
	sweepDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		holds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rental",
			Subsystem: "reservation",
			Name:      "holds_total",
			Help:      "Hold creation attempts segmented by outcome.",
		}, []string{"outcome"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rental",
			Subsystem: "reservation",
			Name:      "confirmations_total",
			Help:      "Payment confirmations segmented by outcome.",
		}, []string{"outcome"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rental",
			Subsystem: "reservation",
			Name:      "cancellations_total",
			Help:      "Cancellations segmented by reason and outcome.",
		}, []string{"reason", "outcome"}),
		calendarCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rental",
			Subsystem: "calendar",
			Name:      "calls_total",
			Help:      "External calendar calls segmented by operation and outcome.",
		}, []string{"op", "outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rental",
			Subsystem: "reservation",
			Name:      "compensations_total",
			Help:      "Calendar events rolled back after a failed insert, segmented by outcome.",
		}, []string{"outcome"}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rental",
			Subsystem: "sweeper",
			Name:      "items_total",
			Help:      "Stale holds processed by the expiry sweeper, segmented by outcome.",
		}, []string{"outcome"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rental",
			Subsystem: "sweeper",
			Name:      "run_duration_seconds",
			Help:      "Duration of expiry sweeper runs.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.holds, m.confirmations, m.cancellations, m.calendarCalls, m.compensations, m.sweepItems, m.sweepDuration)
	}
	return m
}

func (m *Metrics) Hold(outcome string) {
	if m == nil {
		return
	}
	m.holds.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Confirmation(outcome string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Cancellation(reason, outcome string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(reason, outcome).Inc()
}

func (m *Metrics) CalendarCall(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.calendarCalls.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) Compensation(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.compensations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SweepItem(outcome string) {
	if m == nil {
		return
	}
	m.sweepItems.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SweepDuration(seconds float64) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(seconds)
}
