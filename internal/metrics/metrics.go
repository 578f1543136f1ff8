// Package metrics exposes the ledger's Prometheus collectors.
//
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"bizledger/internal/apperrors"
	"bizledger/internal/money"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bizledger"

type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	invoicesCreated    prometheus.Counter
	invoiceTransitions *prometheus.CounterVec
	paymentsApplied    *prometheus.CounterVec
	paymentsVoided     prometheus.Counter
	paymentVolume      *prometheus.CounterVec
	rejections         *prometheus.CounterVec

	overdueInvoices prometheus.Gauge
	outstanding     *prometheus.GaugeVec

	jobRuns *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			},
			[]string{"method", "route"},
		),
		invoicesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "invoice",
				Name:      "created_total",
				Help:      "Total number of invoices created",
			},
		),
		invoiceTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "invoice",
				Name:      "transitions_total",
				Help:      "Invoice status changes by target status",
			},
			[]string{"status"},
		),
		paymentsApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "applied_total",
				Help:      "Payments applied by method",
			},
			[]string{"method"},
		),
		paymentsVoided: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "voided_total",
				Help:      "Payments voided",
			},
		),
		paymentVolume: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "volume_minor_units_total",
				Help:      "Sum of applied payments in minor currency units",
			},
			[]string{"currency"},
		),
		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "rejections_total",
				Help:      "Ledger operations rejected, by operation and error code",
			},
			[]string{"operation", "code"},
		),
		overdueInvoices: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "invoice",
				Name:      "overdue",
				Help:      "Invoices currently past due with a balance",
			},
		),
		outstanding: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "invoice",
				Name:      "outstanding_minor_units",
				Help:      "Unpaid balance of issued invoices in minor currency units",
			},
			[]string{"currency"},
		),
		jobRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "runs_total",
				Help:      "Background job runs by job and result",
			},
			[]string{"job", "result"},
		),
	}
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) InvoiceCreated() {
	if m == nil {
		return
	}
	m.invoicesCreated.Inc()
}

func (m *Metrics) InvoiceTransitioned(status string) {
	if m == nil {
		return
	}
	m.invoiceTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) PaymentApplied(method string, amount money.Money) {
	if m == nil {
		return
	}
	m.paymentsApplied.WithLabelValues(method).Inc()
	m.paymentVolume.WithLabelValues(amount.Currency()).Add(float64(amount.Minor()))
}

func (m *Metrics) PaymentVoided() {
	if m == nil {
		return
	}
	m.paymentsVoided.Inc()
}

// Rejected counts a failed ledger operation by its error code. Errors that are
// not ledger errors count as INTERNAL_ERROR.
func (m *Metrics) Rejected(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	code := string(apperrors.KindInternal)
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		code = string(appErr.Kind)
	}
	m.rejections.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) SetOverdue(count int) {
	if m == nil {
		return
	}
	m.overdueInvoices.Set(float64(count))
}

func (m *Metrics) SetOutstanding(amount money.Money) {
	if m == nil {
		return
	}
	m.outstanding.WithLabelValues(amount.Currency()).Set(float64(amount.Minor()))
}

func (m *Metrics) JobRun(job string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}
