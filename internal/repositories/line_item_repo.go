package repositories

import (
	"context"
	"strings"
	"sync"

	"bizledger/internal/apperrors"
	"bizledger/internal/models"
	"bizledger/internal/money"

	"github.com/google/uuid"
)

// LineItemRepository turns scheduled service assignments into priced line items.
// The assignment and service tables belong to the scheduling module; the ledger
// only reads them.
type LineItemRepository interface {
	ResolveLineItems(ctx context.Context, assignmentIDs []uuid.UUID) ([]models.LineItem, error)
}

type lineItemRepo struct {
	db DB
}

func NewLineItemRepo(db DB) LineItemRepository {
	return &lineItemRepo{db: db}
}

// ResolveLineItems prices each assignment at its custom price, falling back to
// the service's base price. Items come back in the order requested.
func (r *lineItemRepo) ResolveLineItems(ctx context.Context, assignmentIDs []uuid.UUID) ([]models.LineItem, error) {
	if len(assignmentIDs) == 0 {
		return nil, apperrors.ErrEmptyLineItems
	}

	query := `
		SELECT sa.id, s.name, COALESCE(NULLIF(sa.custom_price_minor, 0), s.base_price_minor), s.currency
		FROM service_assignments sa
		JOIN services s ON s.id = sa.service_id
		WHERE sa.id = ANY($1)
	`
	rows, err := r.db.Query(ctx, query, assignmentIDs)
	if err != nil {
		return nil, mapError("resolve line items", err)
	}
	defer rows.Close()

	found := make(map[uuid.UUID]models.LineItem, len(assignmentIDs))
	for rows.Next() {
		var (
			item     models.LineItem
			price    int64
			currency string
		)
		if err := rows.Scan(&item.ID, &item.Description, &price, &currency); err != nil {
			return nil, mapError("scan line item", err)
		}
		if item.UnitPrice, err = money.New(price, strings.TrimSpace(currency)); err != nil {
			return nil, err
		}
		found[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("resolve line items", err)
	}

	return orderLineItems(assignmentIDs, found)
}

func orderLineItems(ids []uuid.UUID, found map[uuid.UUID]models.LineItem) ([]models.LineItem, error) {
	items := make([]models.LineItem, 0, len(ids))
	for _, id := range ids {
		item, ok := found[id]
		if !ok {
			return nil, apperrors.NotFound("service assignment").WithDetails(map[string]interface{}{"assignment_id": id})
		}
		items = append(items, item)
	}
	return items, nil
}

// StaticLineItemRepo serves line items from memory. Used with the memory store.
type StaticLineItemRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]models.LineItem
}

func NewStaticLineItemRepo(items ...models.LineItem) *StaticLineItemRepo {
	r := &StaticLineItemRepo{items: make(map[uuid.UUID]models.LineItem)}
	r.Put(items...)
	return r
}

func (r *StaticLineItemRepo) Put(items ...models.LineItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		r.items[item.ID] = item
	}
}

func (r *StaticLineItemRepo) ResolveLineItems(ctx context.Context, assignmentIDs []uuid.UUID) ([]models.LineItem, error) {
	if len(assignmentIDs) == 0 {
		return nil, apperrors.ErrEmptyLineItems
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return orderLineItems(assignmentIDs, r.items)
}
