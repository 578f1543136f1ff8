package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"bizledger/internal/apperrors"
	"bizledger/internal/models"
	"bizledger/internal/money"

	"github.com/google/uuid"
)

// MemoryStore is an in-process LedgerStore for local runs and tests.
//
// Each invoice has its own mutex held across the read-modify-write of a
// mutation; the numbering policy has one more. mu only guards the maps, so
// different invoices proceed in parallel.
type MemoryStore struct {
	mu       sync.RWMutex
	invoices map[uuid.UUID]*models.Invoice
	numbers  map[string]uuid.UUID
	payments map[uuid.UUID]*models.Payment

	locksMu sync.Mutex
	locks   map[uuid.UUID]*invoiceLock

	counterMu sync.Mutex
	policy    models.NumberingPolicy
}

// NewMemoryStore creates an empty store seeded with policy.
func NewMemoryStore(policy models.NumberingPolicy) *MemoryStore {
	return &MemoryStore{
		invoices: make(map[uuid.UUID]*models.Invoice),
		numbers:  make(map[string]uuid.UUID),
		payments: make(map[uuid.UUID]*models.Payment),
		locks:    make(map[uuid.UUID]*invoiceLock),
		policy:   policy,
	}
}

// invoiceLock is dropped from the map when its last holder or waiter leaves,
// so deleted and unknown ids do not accumulate mutexes.
type invoiceLock struct {
	mu   sync.Mutex
	refs int
}

func (s *MemoryStore) lockInvoice(id uuid.UUID) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &invoiceLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

func (s *MemoryStore) lockCount() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}

func (s *MemoryStore) CreateInvoice(ctx context.Context, build InvoiceBuilder) (*models.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	inv, next, err := build(s.policy)
	if err != nil {
		return nil, err
	}
	if err := checkInvoice(inv); err != nil {
		return nil, err
	}
	if next.NextSequence <= s.policy.NextSequence {
		return nil, apperrors.Newf(apperrors.KindInternal, "numbering sequence did not advance past %d", s.policy.NextSequence)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.invoices[inv.ID]; exists {
		return nil, apperrors.ErrConflict.WithDetails(map[string]interface{}{"invoice_id": inv.ID})
	}
	if _, exists := s.numbers[inv.Number]; exists {
		return nil, apperrors.Newf(apperrors.KindConflict, "invoice number %s already exists", inv.Number)
	}
	stored := inv.Clone()
	s.invoices[stored.ID] = stored
	s.numbers[stored.Number] = stored.ID
	s.policy = next
	return stored.Clone(), nil
}

func (s *MemoryStore) GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, apperrors.NotFound("invoice")
	}
	return inv.Clone(), nil
}

func (s *MemoryStore) ListInvoices(ctx context.Context, filter models.InvoiceFilter) ([]*models.Invoice, error) {
	s.mu.RLock()
	var result []*models.Invoice
	for _, inv := range s.invoices {
		if matchInvoice(inv, filter) {
			result = append(result, inv.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].Number > result[j].Number
	})
	return paginate(result, filter.Limit, filter.Offset), nil
}

func matchInvoice(inv *models.Invoice, f models.InvoiceFilter) bool {
	if f.ClientID != nil && inv.ClientID != *f.ClientID {
		return false
	}
	if f.Status != nil && inv.Status != *f.Status {
		return false
	}
	if f.IssuedFrom != nil && inv.IssueDate.Before(*f.IssuedFrom) {
		return false
	}
	if f.IssuedTo != nil && !inv.IssueDate.Before(*f.IssuedTo) {
		return false
	}
	if f.OverdueAsOf != nil && !inv.IsOverdue(*f.OverdueAsOf) {
		return false
	}
	return true
}

func (s *MemoryStore) MutateInvoice(ctx context.Context, id uuid.UUID, fn func(inv *models.Invoice) error) (*models.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := s.lockInvoice(id)
	defer unlock()

	current, err := s.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	work := current.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	if err := s.storeInvoice(current, work); err != nil {
		return nil, err
	}
	return work.Clone(), nil
}

// storeInvoice writes work over current. The caller holds the invoice lock.
func (s *MemoryStore) storeInvoice(current, work *models.Invoice) error {
	work.ID = current.ID
	work.Number = current.Number
	work.Version = current.Version + 1
	if err := checkInvoice(work); err != nil {
		return err
	}
	s.mu.Lock()
	s.invoices[work.ID] = work.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	unlock := s.lockInvoice(id)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return apperrors.NotFound("invoice")
	}
	for _, p := range s.payments {
		if p.InvoiceID == id && !p.Voided {
			return apperrors.ErrHasPayments.WithDetails(map[string]interface{}{"invoice_id": id})
		}
	}
	for pid, p := range s.payments {
		if p.InvoiceID == id {
			delete(s.payments, pid)
		}
	}
	delete(s.numbers, inv.Number)
	delete(s.invoices, id)
	return nil
}

func (s *MemoryStore) RecordPayment(ctx context.Context, invoiceID uuid.UUID, fn func(inv *models.Invoice) (*models.Payment, error)) (*models.Payment, *models.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	unlock := s.lockInvoice(invoiceID)
	defer unlock()

	current, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	work := current.Clone()
	payment, err := fn(work)
	if err != nil {
		return nil, nil, err
	}
	if payment.InvoiceID != invoiceID {
		return nil, nil, apperrors.Newf(apperrors.KindInternal, "payment references invoice %s, expected %s", payment.InvoiceID, invoiceID)
	}

	s.mu.RLock()
	_, dup := s.payments[payment.ID]
	s.mu.RUnlock()
	if dup {
		return nil, nil, apperrors.ErrConflict.WithDetails(map[string]interface{}{"payment_id": payment.ID})
	}
	if err := s.storeInvoice(current, work); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	s.payments[payment.ID] = payment.Clone()
	s.mu.Unlock()
	return payment.Clone(), work.Clone(), nil
}

func (s *MemoryStore) VoidPayment(ctx context.Context, paymentID uuid.UUID, fn func(inv *models.Invoice, p *models.Payment) error) (*models.Payment, *models.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	unlock := s.lockInvoice(payment.InvoiceID)
	defer unlock()

	// Re-read under the invoice lock.
	if payment, err = s.GetPayment(ctx, paymentID); err != nil {
		return nil, nil, err
	}
	current, err := s.GetInvoice(ctx, payment.InvoiceID)
	if err != nil {
		return nil, nil, err
	}
	work := current.Clone()
	if err := fn(work, payment); err != nil {
		return nil, nil, err
	}
	payment.ID = paymentID
	if err := s.storeInvoice(current, work); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	s.payments[paymentID] = payment.Clone()
	s.mu.Unlock()
	return payment.Clone(), work.Clone(), nil
}

func (s *MemoryStore) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, apperrors.NotFound("payment")
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]*models.Payment, error) {
	s.mu.RLock()
	var result []*models.Payment
	for _, p := range s.payments {
		if filter.InvoiceID != nil && p.InvoiceID != *filter.InvoiceID {
			continue
		}
		if filter.ClientID != nil && p.ClientID != *filter.ClientID {
			continue
		}
		if p.Voided && !filter.IncludeVoided {
			continue
		}
		result = append(result, p.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].PaymentDate.Equal(result[j].PaymentDate) {
			return result[i].PaymentDate.After(result[j].PaymentDate)
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return paginate(result, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) SumClientPayments(ctx context.Context, clientID uuid.UUID, currency string) (money.Money, error) {
	return s.sumPayments(currency, func(p *models.Payment) bool {
		return p.ClientID == clientID
	})
}

func (s *MemoryStore) SumPayments(ctx context.Context, currency string, from, to *time.Time) (money.Money, error) {
	return s.sumPayments(currency, func(p *models.Payment) bool {
		if from != nil && p.PaymentDate.Before(*from) {
			return false
		}
		return to == nil || p.PaymentDate.Before(*to)
	})
}

func (s *MemoryStore) sumPayments(currency string, match func(p *models.Payment) bool) (money.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := money.Zero(currency)
	for _, p := range s.payments {
		if p.Voided || p.Amount.Currency() != total.Currency() || !match(p) {
			continue
		}
		var err error
		if total, err = total.Add(p.Amount); err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}

func (s *MemoryStore) SummarizeInvoices(ctx context.Context, asOf time.Time, currency string) (InvoiceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := InvoiceStats{
		StatusCounts: make(map[models.InvoiceStatus]int),
		Outstanding:  money.Zero(currency),
	}
	for _, inv := range s.invoices {
		stats.StatusCounts[inv.EffectiveStatus(asOf)]++
		if !owes(inv) || inv.Currency != stats.Outstanding.Currency() {
			continue
		}
		var err error
		if stats.Outstanding, err = stats.Outstanding.Add(inv.Remaining()); err != nil {
			return InvoiceStats{}, err
		}
	}
	return stats, nil
}

// owes reports whether an issued invoice still carries a balance.
func owes(inv *models.Invoice) bool {
	return inv.Status == models.InvoiceStatusSent || inv.Status == models.InvoiceStatusPartiallyPaid
}

func (s *MemoryStore) GetNumberingPolicy(ctx context.Context) (models.NumberingPolicy, error) {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	return s.policy, nil
}

func (s *MemoryStore) UpdateNumberingPolicy(ctx context.Context, fn func(policy models.NumberingPolicy) (models.NumberingPolicy, error)) (models.NumberingPolicy, error) {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	updated, err := fn(s.policy)
	if err != nil {
		return models.NumberingPolicy{}, err
	}
	s.policy = updated
	return updated, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func paginate[T any](items []T, limit, offset int) []T {
	limit, offset = normalizeLimit(limit, offset)
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

var _ LedgerStore = (*MemoryStore)(nil)
