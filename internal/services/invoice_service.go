package services

import (
	"context"
	"time"

	"bizledger/internal/apperrors"
	"bizledger/internal/caching"
	"bizledger/internal/metrics"
	"bizledger/internal/models"
	"bizledger/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceServiceInterface is the invoice lifecycle.
type InvoiceServiceInterface interface {
	CreateInvoice(ctx context.Context, params NewInvoiceParams) (*models.Invoice, error)
	CreateInvoiceFromAssignments(ctx context.Context, params NewInvoiceParams, assignmentIDs []uuid.UUID) (*models.Invoice, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	ListInvoices(ctx context.Context, filter models.InvoiceFilter) ([]*models.Invoice, error)
	SendInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	CancelInvoice(ctx context.Context, id uuid.UUID, reason string) (*models.Invoice, error)
	UpdateLineItems(ctx context.Context, id uuid.UUID, update LineItemsUpdate) (*models.Invoice, error)
	DeleteInvoice(ctx context.Context, id uuid.UUID) error
	Summary(ctx context.Context) (*models.InvoiceSummary, error)
	RefreshSummary(ctx context.Context) (*models.InvoiceSummary, error)
	Now() time.Time
}

// LineItemsUpdate replaces the line items of a Draft. Nil rates keep the
// invoice's current rates.
type LineItemsUpdate struct {
	LineItems     []models.LineItem
	AssignmentIDs []uuid.UUID
	TaxRate       *decimal.Decimal
	DiscountRate  *decimal.Decimal
}

type invoiceService struct {
	store    repositories.LedgerStore
	resolver repositories.LineItemRepository
	cache    caching.CacheService
	metrics  *metrics.Metrics
	logger   *zap.Logger
	opts     Options
}

// NewInvoiceService creates a new invoice service. resolver may be nil when
// invoices are only built from explicit line items.
func NewInvoiceService(store repositories.LedgerStore, resolver repositories.LineItemRepository, cache caching.CacheService, m *metrics.Metrics, logger *zap.Logger, opts Options) InvoiceServiceInterface {
	if cache == nil {
		cache = caching.NewNoopCacheService()
	}
	return &invoiceService{
		store:    store,
		resolver: resolver,
		cache:    cache,
		metrics:  m,
		logger:   logger.Named("invoices"),
		opts:     opts.withDefaults(),
	}
}

func (s *invoiceService) Now() time.Time {
	return s.opts.Now()
}

// CreateInvoice builds a Draft and allocates its number in one store transaction.
func (s *invoiceService) CreateInvoice(ctx context.Context, params NewInvoiceParams) (*models.Invoice, error) {
	var created *models.Invoice
	err := s.opts.retryOnConflict(ctx, func() error {
		var err error
		created, err = s.store.CreateInvoice(ctx, func(policy models.NumberingPolicy) (*models.Invoice, models.NumberingPolicy, error) {
			return BuildInvoice(params, policy, s.opts.Now())
		})
		return err
	})
	if err != nil {
		s.metrics.Rejected("create_invoice", err)
		return nil, err
	}

	s.metrics.InvoiceCreated()
	s.invalidateSummary(ctx)
	s.logger.Info("invoice created",
		zap.String("invoice_id", created.ID.String()),
		zap.String("number", created.Number),
		zap.String("client_id", created.ClientID.String()),
		zap.Stringer("total", created.Total),
	)
	return created, nil
}

func (s *invoiceService) CreateInvoiceFromAssignments(ctx context.Context, params NewInvoiceParams, assignmentIDs []uuid.UUID) (*models.Invoice, error) {
	items, err := s.resolveLineItems(ctx, assignmentIDs)
	if err != nil {
		return nil, err
	}
	params.LineItems = items
	return s.CreateInvoice(ctx, params)
}

func (s *invoiceService) resolveLineItems(ctx context.Context, assignmentIDs []uuid.UUID) ([]models.LineItem, error) {
	if len(assignmentIDs) == 0 {
		return nil, apperrors.ErrEmptyLineItems
	}
	if s.resolver == nil {
		return nil, apperrors.New(apperrors.KindValidation, "service assignment lookup is not available, send line items instead")
	}
	return s.resolver.ResolveLineItems(ctx, assignmentIDs)
}

func (s *invoiceService) GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return s.store.GetInvoice(ctx, id)
}

// ListInvoices lists invoices. Filtering on the overdue status selects the
// read-time overdue view rather than a stored status.
func (s *invoiceService) ListInvoices(ctx context.Context, filter models.InvoiceFilter) ([]*models.Invoice, error) {
	if filter.Status != nil && *filter.Status == models.InvoiceStatusOverdue {
		now := s.opts.Now()
		filter.Status = nil
		filter.OverdueAsOf = &now
	}
	if filter.IssuedFrom != nil && filter.IssuedTo != nil && filter.IssuedTo.Before(*filter.IssuedFrom) {
		return nil, apperrors.New(apperrors.KindInvalidDateRange, "issued_to precedes issued_from")
	}
	return s.store.ListInvoices(ctx, filter)
}

func (s *invoiceService) SendInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return s.mutate(ctx, "send_invoice", id, func(inv *models.Invoice) error {
		return sendInvoice(inv, s.opts.Now())
	})
}

func (s *invoiceService) CancelInvoice(ctx context.Context, id uuid.UUID, reason string) (*models.Invoice, error) {
	return s.mutate(ctx, "cancel_invoice", id, func(inv *models.Invoice) error {
		return cancelInvoice(inv, reason, s.opts.Now())
	})
}

func (s *invoiceService) UpdateLineItems(ctx context.Context, id uuid.UUID, update LineItemsUpdate) (*models.Invoice, error) {
	items := update.LineItems
	if len(update.AssignmentIDs) > 0 {
		resolved, err := s.resolveLineItems(ctx, update.AssignmentIDs)
		if err != nil {
			return nil, err
		}
		items = append(append([]models.LineItem(nil), items...), resolved...)
	}
	return s.mutate(ctx, "update_line_items", id, func(inv *models.Invoice) error {
		return replaceLineItems(inv, items, update.TaxRate, update.DiscountRate, s.opts.Now())
	})
}

func (s *invoiceService) mutate(ctx context.Context, op string, id uuid.UUID, fn func(inv *models.Invoice) error) (*models.Invoice, error) {
	var (
		updated *models.Invoice
		before  models.InvoiceStatus
	)
	err := s.opts.retryOnConflict(ctx, func() error {
		var err error
		updated, err = s.store.MutateInvoice(ctx, id, func(inv *models.Invoice) error {
			before = inv.Status
			return fn(inv)
		})
		return err
	})
	if err != nil {
		s.metrics.Rejected(op, err)
		return nil, err
	}

	if updated.Status != before {
		s.metrics.InvoiceTransitioned(string(updated.Status))
	}
	s.invalidateSummary(ctx)
	s.logger.Info("invoice updated",
		zap.String("op", op),
		zap.String("invoice_id", id.String()),
		zap.String("from", string(before)),
		zap.String("status", string(updated.Status)),
		zap.Int64("version", updated.Version),
	)
	return updated, nil
}

// DeleteInvoice removes an invoice that has no live payments.
func (s *invoiceService) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	err := s.opts.retryOnConflict(ctx, func() error {
		return s.store.DeleteInvoice(ctx, id)
	})
	if err != nil {
		s.metrics.Rejected("delete_invoice", err)
		return err
	}
	s.invalidateSummary(ctx)
	s.logger.Info("invoice deleted", zap.String("invoice_id", id.String()))
	return nil
}

// Summary returns the dashboard figures, from cache when fresh.
func (s *invoiceService) Summary(ctx context.Context) (*models.InvoiceSummary, error) {
	policy, err := s.store.GetNumberingPolicy(ctx)
	if err != nil {
		return nil, err
	}
	cached, err := s.cache.GetSummary(ctx, policy.Currency)
	if err != nil {
		s.logger.Warn("summary cache read failed", zap.Error(err))
	} else if cached != nil {
		return cached, nil
	}
	return s.refreshSummary(ctx, policy.Currency)
}

// RefreshSummary recomputes the dashboard figures, caches them and updates the
// overdue and outstanding gauges.
func (s *invoiceService) RefreshSummary(ctx context.Context) (*models.InvoiceSummary, error) {
	policy, err := s.store.GetNumberingPolicy(ctx)
	if err != nil {
		return nil, err
	}
	return s.refreshSummary(ctx, policy.Currency)
}

func (s *invoiceService) refreshSummary(ctx context.Context, currency string) (*models.InvoiceSummary, error) {
	now := s.opts.Now()
	stats, err := s.store.SummarizeInvoices(ctx, now, currency)
	if err != nil {
		return nil, err
	}
	total, err := s.store.SumPayments(ctx, currency, nil, nil)
	if err != nil {
		return nil, err
	}
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	monthEnd := monthStart.AddDate(0, 1, 0)
	monthly, err := s.store.SumPayments(ctx, currency, &monthStart, &monthEnd)
	if err != nil {
		return nil, err
	}

	summary := &models.InvoiceSummary{
		StatusCounts:   stats.StatusCounts,
		Outstanding:    stats.Outstanding,
		TotalRevenue:   total,
		MonthlyRevenue: monthly,
		GeneratedAt:    now,
	}
	s.metrics.SetOverdue(stats.StatusCounts[models.InvoiceStatusOverdue])
	s.metrics.SetOutstanding(stats.Outstanding)

	if err := s.cache.SetSummary(ctx, currency, summary, s.opts.SummaryTTL); err != nil {
		s.logger.Warn("summary cache write failed", zap.Error(err))
	}
	return summary, nil
}

func (s *invoiceService) invalidateSummary(ctx context.Context) {
	if err := s.cache.InvalidateSummary(ctx); err != nil {
		s.logger.Warn("summary cache invalidation failed", zap.Error(err))
	}
}
