package repositories

import (
	"context"
	"testing"

	"bizledger/internal/apperrors"
	"bizledger/internal/models"
	"bizledger/internal/money"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineItemRepo_ResolveLineItems(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	first, second := uuid.New(), uuid.New()
	mock.ExpectQuery(`COALESCE\(NULLIF\(sa.custom_price_minor, 0\), s.base_price_minor\)`).
		WithArgs([]uuid.UUID{first, second}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "price", "currency"}).
			AddRow(second, "Deep clean", int64(8000), "USD ").
			AddRow(first, "Window wash", int64(4550), "USD"))

	items, err := NewLineItemRepo(mock).ResolveLineItems(context.Background(), []uuid.UUID{first, second})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first, items[0].ID)
	assert.Equal(t, money.MustParse("45.50", "USD"), items[0].UnitPrice)
	assert.Equal(t, "Deep clean", items[1].Description)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLineItemRepo_MissingAssignment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	known, missing := uuid.New(), uuid.New()
	mock.ExpectQuery(`FROM service_assignments`).
		WithArgs([]uuid.UUID{known, missing}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "price", "currency"}).
			AddRow(known, "Deep clean", int64(8000), "USD"))

	_, err = NewLineItemRepo(mock).ResolveLineItems(context.Background(), []uuid.UUID{known, missing})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = NewLineItemRepo(mock).ResolveLineItems(context.Background(), nil)
	assert.ErrorIs(t, err, apperrors.ErrEmptyLineItems)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStaticLineItemRepo(t *testing.T) {
	item := models.LineItem{ID: uuid.New(), Description: "Consultation", UnitPrice: money.FromMinor(10000, "USD")}
	repo := NewStaticLineItemRepo(item)

	items, err := repo.ResolveLineItems(context.Background(), []uuid.UUID{item.ID, item.ID})
	require.NoError(t, err)
	assert.Equal(t, []models.LineItem{item, item}, items)

	_, err = repo.ResolveLineItems(context.Background(), []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
