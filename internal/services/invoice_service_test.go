package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"bizledger/internal/apperrors"
	"bizledger/internal/caching"
	"bizledger/internal/metrics"
	"bizledger/internal/models"
	"bizledger/internal/money"
	"bizledger/internal/repositories"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

type InvoiceServiceTestSuite struct {
	suite.Suite
	store    *repositories.MemoryStore
	resolver *repositories.StaticLineItemRepo
	clock    *testClock
	service  InvoiceServiceInterface
	payments PaymentServiceInterface
	clientID uuid.UUID
}

func (suite *InvoiceServiceTestSuite) SetupTest() {
	suite.store = repositories.NewMemoryStore(models.DefaultNumberingPolicy(money.USD))
	suite.resolver = repositories.NewStaticLineItemRepo()
	suite.clock = newTestClock(testNow)
	suite.clientID = uuid.New()

	logger := zaptest.NewLogger(suite.T())
	m := metrics.New(prometheus.NewRegistry())
	opts := Options{Now: suite.clock.Now}
	suite.service = NewInvoiceService(suite.store, suite.resolver, caching.NewNoopCacheService(), m, logger, opts)
	suite.payments = NewPaymentService(suite.store, caching.NewNoopCacheService(), m, logger, opts)
}

func (suite *InvoiceServiceTestSuite) create(prices ...string) *models.Invoice {
	var items []models.LineItem
	for _, p := range prices {
		items = append(items, lineItem(p))
	}
	inv, err := suite.service.CreateInvoice(context.Background(), NewInvoiceParams{
		ClientID:  suite.clientID,
		LineItems: items,
		IssueDate: suite.clock.Now(),
	})
	suite.Require().NoError(err)
	return inv
}

func (suite *InvoiceServiceTestSuite) TestCreateInvoice_ScenarioA() {
	inv := suite.create("120.00", "30.50")

	assert.Equal(suite.T(), "INV-202501-001", inv.Number)
	assert.Equal(suite.T(), "$150.50", inv.Subtotal.String())
	assert.Equal(suite.T(), "$12.79", inv.TaxAmount.String())
	assert.Equal(suite.T(), "$163.29", inv.Total.String())
	assert.Equal(suite.T(), models.InvoiceStatusDraft, inv.Status)

	stored, err := suite.service.GetInvoice(context.Background(), inv.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), inv.Number, stored.Number)

	policy, err := suite.store.GetNumberingPolicy(context.Background())
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(2), policy.NextSequence)
}

func (suite *InvoiceServiceTestSuite) TestCreateInvoice_FailureDoesNotConsumeNumber() {
	_, err := suite.service.CreateInvoice(context.Background(), NewInvoiceParams{ClientID: suite.clientID})
	assert.ErrorIs(suite.T(), err, apperrors.ErrEmptyLineItems)

	policy, err := suite.store.GetNumberingPolicy(context.Background())
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(1), policy.NextSequence)

	assert.Equal(suite.T(), "INV-202501-001", suite.create("1.00").Number)
}

func (suite *InvoiceServiceTestSuite) TestCreateInvoice_ConcurrentNumbersAreUnique() {
	const n = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv, err := suite.service.CreateInvoice(context.Background(), NewInvoiceParams{
				ClientID:  uuid.New(),
				LineItems: []models.LineItem{lineItem("10.00")},
			})
			if !assert.NoError(suite.T(), err) {
				return
			}
			mu.Lock()
			numbers[inv.Number] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(suite.T(), numbers, n)
	policy, err := suite.store.GetNumberingPolicy(context.Background())
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(n+1), policy.NextSequence)
}

func (suite *InvoiceServiceTestSuite) TestCreateInvoiceFromAssignments() {
	first, second := lineItem("120.00"), lineItem("30.50")
	suite.resolver.Put(first, second)

	inv, err := suite.service.CreateInvoiceFromAssignments(context.Background(),
		NewInvoiceParams{ClientID: suite.clientID}, []uuid.UUID{second.ID, first.ID})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), []uuid.UUID{second.ID, first.ID}, inv.LineItemIDs)
	assert.Equal(suite.T(), int64(16329), inv.Total.Minor())

	_, err = suite.service.CreateInvoiceFromAssignments(context.Background(),
		NewInvoiceParams{ClientID: suite.clientID}, []uuid.UUID{uuid.New()})
	assert.ErrorIs(suite.T(), err, apperrors.ErrNotFound)
}

func (suite *InvoiceServiceTestSuite) TestSendAndCancel() {
	inv := suite.create("10.00")
	ctx := context.Background()

	sent, err := suite.service.SendInvoice(ctx, inv.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.InvoiceStatusSent, sent.Status)
	assert.Equal(suite.T(), inv.Version+1, sent.Version)

	_, err = suite.service.SendInvoice(ctx, inv.ID)
	assert.ErrorIs(suite.T(), err, apperrors.ErrInvalidTransition)

	cancelled, err := suite.service.CancelInvoice(ctx, inv.ID, "duplicate")
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.InvoiceStatusCancelled, cancelled.Status)
	assert.NotNil(suite.T(), cancelled.CancelledAt)

	_, _, err = suite.payments.ApplyPayment(ctx, ApplyPaymentRequest{
		InvoiceID: inv.ID, Amount: money.MustParse("1.00", money.USD), Method: models.PaymentMethodCash,
	})
	assert.ErrorIs(suite.T(), err, apperrors.ErrInvoiceClosed)

	_, err = suite.service.SendInvoice(ctx, uuid.New())
	assert.ErrorIs(suite.T(), err, apperrors.ErrNotFound)
}

func (suite *InvoiceServiceTestSuite) TestUpdateLineItems() {
	inv := suite.create("10.00")
	ctx := context.Background()
	extra := lineItem("30.50")
	suite.resolver.Put(extra)

	updated, err := suite.service.UpdateLineItems(ctx, inv.ID, LineItemsUpdate{
		LineItems:     []models.LineItem{lineItem("120.00")},
		AssignmentIDs: []uuid.UUID{extra.ID},
	})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(16329), updated.Total.Minor())
	assert.Equal(suite.T(), inv.Number, updated.Number)

	_, err = suite.service.SendInvoice(ctx, inv.ID)
	suite.Require().NoError(err)
	_, err = suite.service.UpdateLineItems(ctx, inv.ID, LineItemsUpdate{LineItems: []models.LineItem{lineItem("1.00")}})
	assert.ErrorIs(suite.T(), err, apperrors.ErrInvalidTransition)
}

func (suite *InvoiceServiceTestSuite) TestDeleteInvoice_GuardedByPayments() {
	ctx := context.Background()
	inv := suite.create("100.00")

	payment, _, err := suite.payments.ApplyPayment(ctx, ApplyPaymentRequest{
		InvoiceID: inv.ID, Amount: money.MustParse("10.00", money.USD), Method: models.PaymentMethodCheck,
	})
	suite.Require().NoError(err)

	err = suite.service.DeleteInvoice(ctx, inv.ID)
	assert.ErrorIs(suite.T(), err, apperrors.ErrHasPayments)

	_, _, err = suite.payments.VoidPayment(ctx, payment.ID, "bounced")
	suite.Require().NoError(err)

	suite.Require().NoError(suite.service.DeleteInvoice(ctx, inv.ID))
	_, err = suite.service.GetInvoice(ctx, inv.ID)
	assert.ErrorIs(suite.T(), err, apperrors.ErrNotFound)
}

func (suite *InvoiceServiceTestSuite) TestListInvoices_OverdueView() {
	ctx := context.Background()
	late := suite.create("50.00")
	_, err := suite.service.SendInvoice(ctx, late.ID)
	suite.Require().NoError(err)
	paid := suite.create("20.00")
	_, _, err = suite.payments.ApplyPayment(ctx, ApplyPaymentRequest{
		InvoiceID: paid.ID, Amount: paid.Total, Method: models.PaymentMethodCash,
	})
	suite.Require().NoError(err)

	suite.clock.Advance(31 * 24 * time.Hour)
	suite.create("5.00")

	overdue := models.InvoiceStatusOverdue
	list, err := suite.service.ListInvoices(ctx, models.InvoiceFilter{Status: &overdue})
	suite.Require().NoError(err)
	suite.Require().Len(list, 1)
	assert.Equal(suite.T(), late.ID, list[0].ID)
	assert.Equal(suite.T(), models.InvoiceStatusSent, list[0].Status)

	all, err := suite.service.ListInvoices(ctx, models.InvoiceFilter{ClientID: &suite.clientID})
	suite.Require().NoError(err)
	assert.Len(suite.T(), all, 3)

	from, to := suite.clock.Now(), testNow
	_, err = suite.service.ListInvoices(ctx, models.InvoiceFilter{IssuedFrom: &from, IssuedTo: &to})
	assert.ErrorIs(suite.T(), err, apperrors.ErrInvalidDateRange)
}

func (suite *InvoiceServiceTestSuite) TestSummary() {
	ctx := context.Background()
	sent := suite.create("100.00")
	_, err := suite.service.SendInvoice(ctx, sent.ID)
	suite.Require().NoError(err)
	_, _, err = suite.payments.ApplyPayment(ctx, ApplyPaymentRequest{
		InvoiceID: sent.ID, Amount: money.MustParse("40.00", money.USD), Method: models.PaymentMethodBankTransfer,
		PaymentDate: testNow,
	})
	suite.Require().NoError(err)
	suite.create("10.00")

	summary, err := suite.service.Summary(ctx)
	suite.Require().NoError(err)

	assert.Equal(suite.T(), 1, summary.StatusCounts[models.InvoiceStatusPartiallyPaid])
	assert.Equal(suite.T(), 1, summary.StatusCounts[models.InvoiceStatusDraft])
	// 108.50 owed, 40.00 paid
	assert.Equal(suite.T(), int64(6850), summary.Outstanding.Minor())
	assert.Equal(suite.T(), int64(4000), summary.TotalRevenue.Minor())
	assert.Equal(suite.T(), int64(4000), summary.MonthlyRevenue.Minor())

	suite.clock.Advance(40 * 24 * time.Hour)
	summary, err = suite.service.RefreshSummary(ctx)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 2, summary.StatusCounts[models.InvoiceStatusOverdue])
	assert.True(suite.T(), summary.MonthlyRevenue.IsZero())
}

func TestInvoiceServiceTestSuite(t *testing.T) {
	suite.Run(t, new(InvoiceServiceTestSuite))
}

func TestInvoiceService_SummaryCache(t *testing.T) {
	store := repositories.NewMemoryStore(models.DefaultNumberingPolicy(money.USD))
	cache := new(MockCacheService)
	svc := NewInvoiceService(store, nil, cache, nil, zaptest.NewLogger(t), Options{Now: func() time.Time { return testNow }})
	ctx := context.Background()

	cached := &models.InvoiceSummary{Outstanding: money.FromMinor(1, money.USD)}
	cache.On("GetSummary", mock.Anything, money.USD).Return(cached, nil).Once()

	got, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Same(t, cached, got)

	cache.On("GetSummary", mock.Anything, money.USD).Return(nil, nil).Once()
	cache.On("SetSummary", mock.Anything, money.USD, mock.AnythingOfType("*models.InvoiceSummary"), DefaultSummaryTTL).Return(nil).Once()

	got, err = svc.Summary(ctx)
	require.NoError(t, err)
	assert.True(t, got.Outstanding.IsZero())

	cache.On("InvalidateSummary", mock.Anything).Return(nil).Once()
	_, err = svc.CreateInvoice(ctx, NewInvoiceParams{ClientID: uuid.New(), LineItems: []models.LineItem{lineItem("1.00")}})
	require.NoError(t, err)

	cache.AssertExpectations(t)
}
