package metrics

import (
	"errors"
	"testing"
	"time"

	"bizledger/internal/apperrors"
	"bizledger/internal/money"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.InvoiceCreated()
	m.InvoiceCreated()
	m.InvoiceTransitioned("sent")
	m.PaymentApplied("cash", money.FromMinor(16329, "USD"))
	m.PaymentApplied("cash", money.FromMinor(100, "USD"))
	m.PaymentVoided()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.invoicesCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invoiceTransitions.WithLabelValues("sent")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.paymentsApplied.WithLabelValues("cash")))
	assert.Equal(t, 16429.0, testutil.ToFloat64(m.paymentVolume.WithLabelValues("USD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paymentsVoided))
}

func TestMetrics_Rejected(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Rejected("apply_payment", apperrors.ErrOverpaymentRejected)
	m.Rejected("apply_payment", apperrors.ErrConflict.WithCause(errors.New("deadlock")))
	m.Rejected("apply_payment", errors.New("boom"))
	m.Rejected("apply_payment", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("apply_payment", "OVERPAYMENT_REJECTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("apply_payment", "CONFLICT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("apply_payment", "INTERNAL_ERROR")))
}

func TestMetrics_Gauges(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetOverdue(3)
	m.SetOutstanding(money.FromMinor(6329, "USD"))
	m.JobRun("overdue_sweep", nil)
	m.JobRun("overdue_sweep", errors.New("db down"))
	m.ObserveHTTP("GET", "/v1/invoices", 200, 5*time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.overdueInvoices))
	assert.Equal(t, 6329.0, testutil.ToFloat64(m.outstanding.WithLabelValues("USD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("overdue_sweep", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/v1/invoices", "200")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.InvoiceCreated()
		m.PaymentApplied("cash", money.FromMinor(1, "USD"))
		m.Rejected("op", errors.New("x"))
		m.SetOverdue(1)
		m.JobRun("job", nil)
		m.ObserveHTTP("GET", "/", 200, time.Second)
	})
}
