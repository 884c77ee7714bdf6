// Package metrics provides Prometheus metrics for the clinic services.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	AppointmentTransitions *prometheus.CounterVec
	SchedulingConflicts    *prometheus.CounterVec
	InvoicesCreated        prometheus.Counter
	InvoiceTotals          prometheus.Histogram
	PaymentsRecorded       *prometheus.CounterVec
	PaymentsRejected       prometheus.Counter
	AuditDropped           prometheus.Counter
	ReceivablesOutstanding prometheus.Gauge
	ReceivablesInvoices    prometheus.Gauge
	HTTPRequestDuration    *prometheus.HistogramVec
}

// New creates all metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AppointmentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_appointment_transitions_total",
			Help: "Appointment status transitions by target status",
		}, []string{"status"}),
		SchedulingConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_scheduling_conflicts_total",
			Help: "Rejected bookings by conflict source (block, appointment, lock)",
		}, []string{"source"}),
		InvoicesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_invoices_created_total",
			Help: "Total invoices created",
		}),
		InvoiceTotals: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clinic_invoice_total_amount",
			Help:    "Distribution of invoice totals",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		PaymentsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_payments_recorded_total",
			Help: "Payments recorded by method",
		}, []string{"method"}),
		PaymentsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_payments_rejected_total",
			Help: "Payments rejected for exceeding the remaining balance",
		}),
		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_audit_events_dropped_total",
			Help: "Audit events that could not be stored",
		}),
		ReceivablesOutstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clinic_receivables_outstanding",
			Help: "Sum of open balances across receivable invoices",
		}),
		ReceivablesInvoices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clinic_receivables_invoices",
			Help: "Number of invoices with an open balance",
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinic_http_request_duration_seconds",
			Help:    "HTTP request duration by route pattern and status",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.AppointmentTransitions,
			m.SchedulingConflicts,
			m.InvoicesCreated,
			m.InvoiceTotals,
			m.PaymentsRecorded,
			m.PaymentsRejected,
			m.AuditDropped,
			m.ReceivablesOutstanding,
			m.ReceivablesInvoices,
			m.HTTPRequestDuration,
		)
	}

	return m
}

func (m *Metrics) AppointmentTransition(status string) {
	if m == nil {
		return
	}
	m.AppointmentTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) SchedulingConflict(source string) {
	if m == nil {
		return
	}
	m.SchedulingConflicts.WithLabelValues(source).Inc()
}

func (m *Metrics) InvoiceCreated(total float64) {
	if m == nil {
		return
	}
	m.InvoicesCreated.Inc()
	m.InvoiceTotals.Observe(total)
}

func (m *Metrics) PaymentRecorded(method string) {
	if m == nil {
		return
	}
	m.PaymentsRecorded.WithLabelValues(method).Inc()
}

func (m *Metrics) PaymentRejected() {
	if m == nil {
		return
	}
	m.PaymentsRejected.Inc()
}

func (m *Metrics) AuditEventDropped() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}

func (m *Metrics) SetReceivables(outstanding float64, invoices int) {
	if m == nil {
		return
	}
	m.ReceivablesOutstanding.Set(outstanding)
	m.ReceivablesInvoices.Set(float64(invoices))
}

func (m *Metrics) ObserveHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}

// Handler returns the Prometheus HTTP handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
