package repositories

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"bizledger/internal/apperrors"
	"bizledger/internal/models"
	"bizledger/internal/money"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var fixedNow = time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)

func testInvoice(policy models.NumberingPolicy, totalMinor int64) (*models.Invoice, models.NumberingPolicy) {
	next := policy
	next.NextSequence++
	return &models.Invoice{
		ID:             uuid.New(),
		Number:         fmt.Sprintf("%s-202501-%03d", policy.Prefix, policy.NextSequence),
		ClientID:       uuid.New(),
		LineItemIDs:    []uuid.UUID{uuid.New()},
		Currency:       policy.Currency,
		IssueDate:      fixedNow,
		DueDate:        fixedNow.AddDate(0, 0, policy.DueInDays),
		Subtotal:       money.FromMinor(totalMinor, policy.Currency),
		TaxRate:        decimal.Zero,
		TaxAmount:      money.Zero(policy.Currency),
		DiscountAmount: money.Zero(policy.Currency),
		Total:          money.FromMinor(totalMinor, policy.Currency),
		PaidAmount:     money.Zero(policy.Currency),
		Status:         models.InvoiceStatusDraft,
		Version:        1,
		CreatedAt:      fixedNow,
		UpdatedAt:      fixedNow,
	}, next
}

func paymentFor(inv *models.Invoice, minor int64) *models.Payment {
	return &models.Payment{
		ID:          uuid.New(),
		InvoiceID:   inv.ID,
		ClientID:    inv.ClientID,
		Amount:      money.FromMinor(minor, inv.Currency),
		Method:      models.PaymentMethodCash,
		PaymentDate: fixedNow,
		CreatedAt:   fixedNow,
	}
}

type MemoryStoreTestSuite struct {
	suite.Suite
	store *MemoryStore
	ctx   context.Context
}

func (suite *MemoryStoreTestSuite) SetupTest() {
	suite.store = NewMemoryStore(models.DefaultNumberingPolicy(money.USD))
	suite.ctx = context.Background()
}

func (suite *MemoryStoreTestSuite) createInvoice(totalMinor int64) *models.Invoice {
	inv, err := suite.store.CreateInvoice(suite.ctx, func(policy models.NumberingPolicy) (*models.Invoice, models.NumberingPolicy, error) {
		inv, next := testInvoice(policy, totalMinor)
		return inv, next, nil
	})
	suite.Require().NoError(err)
	return inv
}

func (suite *MemoryStoreTestSuite) TestCreateInvoice_AdvancesCounter() {
	first := suite.createInvoice(1000)
	second := suite.createInvoice(2000)

	assert.Equal(suite.T(), "INV-202501-001", first.Number)
	assert.Equal(suite.T(), "INV-202501-002", second.Number)

	policy, err := suite.store.GetNumberingPolicy(suite.ctx)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(3), policy.NextSequence)
}

func (suite *MemoryStoreTestSuite) TestCreateInvoice_BuilderErrorRollsBack() {
	_, err := suite.store.CreateInvoice(suite.ctx, func(policy models.NumberingPolicy) (*models.Invoice, models.NumberingPolicy, error) {
		return nil, policy, apperrors.ErrEmptyLineItems
	})
	assert.ErrorIs(suite.T(), err, apperrors.ErrEmptyLineItems)

	policy, err := suite.store.GetNumberingPolicy(suite.ctx)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(1), policy.NextSequence)
}

func (suite *MemoryStoreTestSuite) TestCreateInvoice_RejectsUnadvancedCounter() {
	_, err := suite.store.CreateInvoice(suite.ctx, func(policy models.NumberingPolicy) (*models.Invoice, models.NumberingPolicy, error) {
		inv, _ := testInvoice(policy, 100)
		return inv, policy, nil
	})
	assert.ErrorIs(suite.T(), err, apperrors.ErrInternal)
}

func (suite *MemoryStoreTestSuite) TestMutateInvoice_ReturnsCopies() {
	inv := suite.createInvoice(1000)

	updated, err := suite.store.MutateInvoice(suite.ctx, inv.ID, func(work *models.Invoice) error {
		work.Status = models.InvoiceStatusSent
		work.Number = "tampered"
		return nil
	})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.InvoiceStatusSent, updated.Status)
	assert.Equal(suite.T(), inv.Number, updated.Number, "number is immutable")
	assert.Equal(suite.T(), int64(2), updated.Version)

	updated.Status = models.InvoiceStatusCancelled
	stored, err := suite.store.GetInvoice(suite.ctx, inv.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.InvoiceStatusSent, stored.Status)
}

func (suite *MemoryStoreTestSuite) TestMutateInvoice_ErrorLeavesInvoiceUntouched() {
	inv := suite.createInvoice(1000)

	_, err := suite.store.MutateInvoice(suite.ctx, inv.ID, func(work *models.Invoice) error {
		work.Status = models.InvoiceStatusSent
		return apperrors.ErrInvalidTransition
	})
	assert.ErrorIs(suite.T(), err, apperrors.ErrInvalidTransition)

	stored, err := suite.store.GetInvoice(suite.ctx, inv.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.InvoiceStatusDraft, stored.Status)
	assert.Equal(suite.T(), int64(1), stored.Version)
}

func (suite *MemoryStoreTestSuite) TestMutateInvoice_RejectsBrokenInvariants() {
	inv := suite.createInvoice(1000)

	_, err := suite.store.MutateInvoice(suite.ctx, inv.ID, func(work *models.Invoice) error {
		work.PaidAmount = money.FromMinor(1001, money.USD)
		return nil
	})
	assert.ErrorIs(suite.T(), err, apperrors.ErrInternal)

	_, err = suite.store.MutateInvoice(suite.ctx, inv.ID, func(work *models.Invoice) error {
		work.Status = models.InvoiceStatusOverdue
		return nil
	})
	assert.ErrorIs(suite.T(), err, apperrors.ErrInternal)

	_, err = suite.store.MutateInvoice(suite.ctx, inv.ID, func(work *models.Invoice) error {
		work.Total = money.FromMinor(900, money.USD)
		return nil
	})
	assert.ErrorIs(suite.T(), err, apperrors.ErrInternal, "total must equal subtotal + tax - discount")

	stored, err := suite.store.GetInvoice(suite.ctx, inv.ID)
	suite.Require().NoError(err)
	suite.Equal(int64(1000), stored.Total.Minor())

	_, err = suite.store.MutateInvoice(suite.ctx, uuid.New(), func(*models.Invoice) error { return nil })
	assert.ErrorIs(suite.T(), err, apperrors.ErrNotFound)
}

func (suite *MemoryStoreTestSuite) TestRecordPayment_SerializedPerInvoice() {
	inv := suite.createInvoice(10000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = suite.store.RecordPayment(suite.ctx, inv.ID, func(work *models.Invoice) (*models.Payment, error) {
				if work.Remaining().Minor() < 1000 {
					return nil, apperrors.ErrOverpaymentRejected
				}
				work.PaidAmount = money.FromMinor(work.PaidAmount.Minor()+1000, money.USD)
				return paymentFor(work, 1000), nil
			})
		}()
	}
	wg.Wait()

	stored, err := suite.store.GetInvoice(suite.ctx, inv.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(10000), stored.PaidAmount.Minor())
	assert.Equal(suite.T(), int64(11), stored.Version)

	payments, err := suite.store.ListPayments(suite.ctx, models.PaymentFilter{InvoiceID: &inv.ID})
	suite.Require().NoError(err)
	assert.Len(suite.T(), payments, 10)
	assert.Zero(suite.T(), suite.store.lockCount(), "released locks are pruned")
}

func (suite *MemoryStoreTestSuite) TestRecordPayment_RejectsForeignInvoice() {
	inv := suite.createInvoice(1000)
	other := suite.createInvoice(1000)

	_, _, err := suite.store.RecordPayment(suite.ctx, inv.ID, func(*models.Invoice) (*models.Payment, error) {
		return paymentFor(other, 100), nil
	})
	assert.ErrorIs(suite.T(), err, apperrors.ErrInternal)
}

func (suite *MemoryStoreTestSuite) TestVoidPayment_And_Delete() {
	inv := suite.createInvoice(1000)
	payment, _, err := suite.store.RecordPayment(suite.ctx, inv.ID, func(work *models.Invoice) (*models.Payment, error) {
		work.PaidAmount = money.FromMinor(400, money.USD)
		return paymentFor(work, 400), nil
	})
	suite.Require().NoError(err)

	assert.ErrorIs(suite.T(), suite.store.DeleteInvoice(suite.ctx, inv.ID), apperrors.ErrHasPayments)

	voided, updated, err := suite.store.VoidPayment(suite.ctx, payment.ID, func(work *models.Invoice, p *models.Payment) error {
		work.PaidAmount = money.Zero(money.USD)
		p.Voided = true
		return nil
	})
	suite.Require().NoError(err)
	assert.True(suite.T(), voided.Voided)
	assert.True(suite.T(), updated.PaidAmount.IsZero())

	spent, err := suite.store.SumClientPayments(suite.ctx, inv.ClientID, money.USD)
	suite.Require().NoError(err)
	assert.True(suite.T(), spent.IsZero())

	suite.Require().NoError(suite.store.DeleteInvoice(suite.ctx, inv.ID))
	_, err = suite.store.GetPayment(suite.ctx, payment.ID)
	assert.ErrorIs(suite.T(), err, apperrors.ErrNotFound)
	assert.ErrorIs(suite.T(), suite.store.DeleteInvoice(suite.ctx, inv.ID), apperrors.ErrNotFound)
	assert.Zero(suite.T(), suite.store.lockCount(), "deleted invoices keep no mutex")
}

func (suite *MemoryStoreTestSuite) TestListInvoices_FilterAndPaginate() {
	for i := 0; i < 5; i++ {
		suite.createInvoice(int64(100 * (i + 1)))
	}
	target := suite.createInvoice(999)

	page, err := suite.store.ListInvoices(suite.ctx, models.InvoiceFilter{Limit: 2, Offset: 1})
	suite.Require().NoError(err)
	suite.Require().Len(page, 2)
	assert.Equal(suite.T(), "INV-202501-005", page[0].Number)

	byClient, err := suite.store.ListInvoices(suite.ctx, models.InvoiceFilter{ClientID: &target.ClientID})
	suite.Require().NoError(err)
	suite.Require().Len(byClient, 1)
	assert.Equal(suite.T(), target.ID, byClient[0].ID)

	late := fixedNow.AddDate(0, 2, 0)
	overdue, err := suite.store.ListInvoices(suite.ctx, models.InvoiceFilter{OverdueAsOf: &late})
	suite.Require().NoError(err)
	assert.Len(suite.T(), overdue, 6)

	empty, err := suite.store.ListInvoices(suite.ctx, models.InvoiceFilter{Offset: 100})
	suite.Require().NoError(err)
	assert.Empty(suite.T(), empty)
}

func (suite *MemoryStoreTestSuite) TestSummarizeInvoices() {
	draft := suite.createInvoice(1000)
	sent := suite.createInvoice(5000)
	_, err := suite.store.MutateInvoice(suite.ctx, sent.ID, func(work *models.Invoice) error {
		work.Status = models.InvoiceStatusSent
		return nil
	})
	suite.Require().NoError(err)

	stats, err := suite.store.SummarizeInvoices(suite.ctx, fixedNow, money.USD)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 1, stats.StatusCounts[models.InvoiceStatusDraft])
	assert.Equal(suite.T(), 1, stats.StatusCounts[models.InvoiceStatusSent])
	assert.Equal(suite.T(), int64(5000), stats.Outstanding.Minor())

	stats, err = suite.store.SummarizeInvoices(suite.ctx, draft.DueDate.Add(time.Second), money.USD)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 2, stats.StatusCounts[models.InvoiceStatusOverdue])
}

func (suite *MemoryStoreTestSuite) TestSumPayments_Window() {
	inv := suite.createInvoice(10000)
	for _, day := range []int{0, 10, 40} {
		_, _, err := suite.store.RecordPayment(suite.ctx, inv.ID, func(work *models.Invoice) (*models.Payment, error) {
			work.PaidAmount = money.FromMinor(work.PaidAmount.Minor()+100, money.USD)
			p := paymentFor(work, 100)
			p.PaymentDate = fixedNow.AddDate(0, 0, day)
			return p, nil
		})
		suite.Require().NoError(err)
	}

	all, err := suite.store.SumPayments(suite.ctx, money.USD, nil, nil)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(300), all.Minor())

	from, to := fixedNow, fixedNow.AddDate(0, 0, 30)
	window, err := suite.store.SumPayments(suite.ctx, money.USD, &from, &to)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(200), window.Minor())

	euros, err := suite.store.SumPayments(suite.ctx, money.EUR, nil, nil)
	suite.Require().NoError(err)
	assert.True(suite.T(), euros.IsZero())
}

func (suite *MemoryStoreTestSuite) TestUpdateNumberingPolicy() {
	updated, err := suite.store.UpdateNumberingPolicy(suite.ctx, func(p models.NumberingPolicy) (models.NumberingPolicy, error) {
		p.Prefix = "BILL"
		return p, nil
	})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), "BILL", updated.Prefix)
	assert.Equal(suite.T(), "BILL-202501-001", suite.createInvoice(100).Number)
}

func TestMemoryStoreTestSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreTestSuite))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore(models.DefaultNumberingPolicy(money.USD))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.CreateInvoice(ctx, func(p models.NumberingPolicy) (*models.Invoice, models.NumberingPolicy, error) {
		t.Fatal("builder must not run")
		return nil, p, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Ping(ctx), context.Canceled)
}
