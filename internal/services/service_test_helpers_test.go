package services

import (
	"context"
	"sync"
	"time"

	"bizledger/internal/models"

	"github.com/stretchr/testify/mock"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type MockCacheService struct {
	mock.Mock
}

func (m *MockCacheService) GetSummary(ctx context.Context, currency string) (*models.InvoiceSummary, error) {
	args := m.Called(ctx, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.InvoiceSummary), args.Error(1)
}

func (m *MockCacheService) SetSummary(ctx context.Context, currency string, summary *models.InvoiceSummary, ttl time.Duration) error {
	args := m.Called(ctx, currency, summary, ttl)
	return args.Error(0)
}

func (m *MockCacheService) InvalidateSummary(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCacheService) ReserveIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockCacheService) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockCacheService) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
