package services

import (
	"context"
	"strings"
	"time"

	"bizledger/internal/apperrors"
	"bizledger/internal/caching"
	"bizledger/internal/metrics"
	"bizledger/internal/models"
	"bizledger/internal/money"
	"bizledger/internal/repositories"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentServiceInterface is the payment ledger. It is the only writer of an
// invoice's paid amount and of the payment-driven statuses.
type PaymentServiceInterface interface {
	ApplyPayment(ctx context.Context, req ApplyPaymentRequest) (*models.Payment, *models.Invoice, error)
	VoidPayment(ctx context.Context, paymentID uuid.UUID, reason string) (*models.Payment, *models.Invoice, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListPayments(ctx context.Context, filter models.PaymentFilter) ([]*models.Payment, error)
	ClientTotalSpent(ctx context.Context, clientID uuid.UUID) (money.Money, error)
}

type ApplyPaymentRequest struct {
	InvoiceID   uuid.UUID
	Amount      money.Money
	Method      models.PaymentMethod
	PaymentDate time.Time
	Reference   *string
	Notes       *string
	// IdempotencyKey, when set, rejects a repeat submission with Conflict.
	IdempotencyKey string
}

type paymentService struct {
	store   repositories.LedgerStore
	cache   caching.CacheService
	metrics *metrics.Metrics
	logger  *zap.Logger
	opts    Options
}

func NewPaymentService(store repositories.LedgerStore, cache caching.CacheService, m *metrics.Metrics, logger *zap.Logger, opts Options) PaymentServiceInterface {
	if cache == nil {
		cache = caching.NewNoopCacheService()
	}
	return &paymentService{
		store:   store,
		cache:   cache,
		metrics: m,
		logger:  logger.Named("payments"),
		opts:    opts.withDefaults(),
	}
}

// ApplyPayment records a payment and re-derives the invoice status in the same
// store transaction.
func (s *paymentService) ApplyPayment(ctx context.Context, req ApplyPaymentRequest) (*models.Payment, *models.Invoice, error) {
	if !req.Method.Valid() {
		return nil, nil, apperrors.Newf(apperrors.KindValidation, "unknown payment method %q", req.Method)
	}

	if req.IdempotencyKey != "" {
		if err := s.reserveKey(ctx, req.IdempotencyKey); err != nil {
			s.metrics.Rejected("apply_payment", err)
			return nil, nil, err
		}
	}

	var (
		payment *models.Payment
		invoice *models.Invoice
	)
	err := s.opts.retryOnConflict(ctx, func() error {
		var err error
		payment, invoice, err = s.store.RecordPayment(ctx, req.InvoiceID, func(inv *models.Invoice) (*models.Payment, error) {
			return applyPayment(inv, req, s.opts.Now())
		})
		return err
	})
	if err != nil {
		s.metrics.Rejected("apply_payment", err)
		if req.IdempotencyKey != "" {
			s.releaseKey(req.IdempotencyKey)
		}
		s.logger.Info("payment rejected",
			zap.String("invoice_id", req.InvoiceID.String()),
			zap.Stringer("amount", req.Amount),
			zap.Error(err),
		)
		return nil, nil, err
	}

	s.metrics.PaymentApplied(string(payment.Method), payment.Amount)
	s.metrics.InvoiceTransitioned(string(invoice.Status))
	s.invalidateSummary(ctx)
	s.logger.Info("payment applied",
		zap.String("payment_id", payment.ID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.Stringer("amount", payment.Amount),
		zap.Stringer("paid", invoice.PaidAmount),
		zap.String("status", string(invoice.Status)),
	)
	return payment, invoice, nil
}

func (s *paymentService) reserveKey(ctx context.Context, key string) error {
	reserved, err := s.cache.ReserveIdempotencyKey(ctx, key, s.opts.IdempotencyTTL)
	if err != nil {
		// Fail open when the cache is unavailable.
		s.logger.Warn("idempotency reservation failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !reserved {
		return apperrors.Newf(apperrors.KindDuplicateRequest, "payment with idempotency key %q was already submitted", key).
			WithDetails(map[string]interface{}{"idempotency_key": key, "duplicate": true})
	}
	return nil
}

func (s *paymentService) releaseKey(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.cache.ReleaseIdempotencyKey(ctx, key); err != nil {
		s.logger.Warn("idempotency release failed", zap.String("key", key), zap.Error(err))
	}
}

// applyPayment validates req against the locked invoice and applies it.
func applyPayment(inv *models.Invoice, req ApplyPaymentRequest, now time.Time) (*models.Payment, error) {
	if inv.Status.Terminal() {
		return nil, apperrors.Newf(apperrors.KindInvoiceClosed, "invoice %s is %s and accepts no payments", inv.Number, inv.Status).
			WithDetails(map[string]interface{}{"status": inv.Status})
	}
	if !req.Amount.IsPositive() {
		return nil, apperrors.Newf(apperrors.KindInvalidAmount, "payment amount must be positive, got %s", req.Amount)
	}
	if req.Amount.Currency() != inv.Currency {
		return nil, apperrors.Newf(apperrors.KindCurrencyMismatch, "payment in %s cannot settle an invoice in %s", req.Amount.Currency(), inv.Currency)
	}
	remaining := inv.Remaining()
	if req.Amount.Minor() > remaining.Minor() {
		return nil, apperrors.Newf(apperrors.KindOverpaymentRejected, "payment of %s exceeds remaining balance %s", req.Amount, remaining).
			WithDetails(map[string]interface{}{"remaining": remaining, "amount": req.Amount})
	}

	paid, err := inv.PaidAmount.Add(req.Amount)
	if err != nil {
		return nil, err
	}
	inv.PaidAmount = paid
	setDerivedStatus(inv, now)
	touch(inv, now)

	paymentDate := req.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = now
	}
	return &models.Payment{
		ID:          uuid.New(),
		InvoiceID:   inv.ID,
		ClientID:    inv.ClientID,
		Amount:      req.Amount,
		Method:      req.Method,
		PaymentDate: paymentDate,
		Reference:   req.Reference,
		Notes:       req.Notes,
		CreatedAt:   now,
	}, nil
}

// VoidPayment reverses a payment: the invoice's paid amount drops by the payment
// amount and its status is re-derived. The payment row is kept, flagged voided.
func (s *paymentService) VoidPayment(ctx context.Context, paymentID uuid.UUID, reason string) (*models.Payment, *models.Invoice, error) {
	var (
		payment *models.Payment
		invoice *models.Invoice
	)
	err := s.opts.retryOnConflict(ctx, func() error {
		var err error
		payment, invoice, err = s.store.VoidPayment(ctx, paymentID, func(inv *models.Invoice, p *models.Payment) error {
			return voidPayment(inv, p, reason, s.opts.Now())
		})
		return err
	})
	if err != nil {
		s.metrics.Rejected("void_payment", err)
		return nil, nil, err
	}

	s.metrics.PaymentVoided()
	s.metrics.InvoiceTransitioned(string(invoice.Status))
	s.invalidateSummary(ctx)
	s.logger.Info("payment voided",
		zap.String("payment_id", payment.ID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.Stringer("amount", payment.Amount),
		zap.String("status", string(invoice.Status)),
	)
	return payment, invoice, nil
}

func voidPayment(inv *models.Invoice, p *models.Payment, reason string, now time.Time) error {
	if p.Voided {
		return apperrors.Newf(apperrors.KindInvalidTransition, "payment %s is already voided", p.ID)
	}
	if inv.Status == models.InvoiceStatusCancelled {
		return apperrors.Newf(apperrors.KindInvoiceClosed, "invoice %s is cancelled", inv.Number)
	}
	paid, err := inv.PaidAmount.Sub(p.Amount)
	if err != nil {
		return err
	}
	if paid.IsNegative() {
		return apperrors.Newf(apperrors.KindInternal, "voiding %s would leave invoice %s with negative paid amount", p.Amount, inv.Number)
	}
	inv.PaidAmount = paid
	setDerivedStatus(inv, now)
	touch(inv, now)

	p.Voided = true
	p.VoidedAt = &now
	if reason = strings.TrimSpace(reason); reason != "" {
		p.VoidReason = &reason
	}
	return nil
}

func (s *paymentService) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return s.store.GetPayment(ctx, id)
}

func (s *paymentService) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]*models.Payment, error) {
	return s.store.ListPayments(ctx, filter)
}

// ClientTotalSpent is the sum of the client's non-voided payments in the ledger currency.
func (s *paymentService) ClientTotalSpent(ctx context.Context, clientID uuid.UUID) (money.Money, error) {
	policy, err := s.store.GetNumberingPolicy(ctx)
	if err != nil {
		return money.Money{}, err
	}
	return s.store.SumClientPayments(ctx, clientID, policy.Currency)
}

func (s *paymentService) invalidateSummary(ctx context.Context) {
	if err := s.cache.InvalidateSummary(ctx); err != nil {
		s.logger.Warn("summary cache invalidation failed", zap.Error(err))
	}
}
