package services

import (
	"context"
	"strings"

	"bizledger/internal/models"
	"bizledger/internal/repositories"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type SettingsServiceInterface interface {
	GetNumberingPolicy(ctx context.Context) (models.NumberingPolicy, error)
	UpdateNumberingPolicy(ctx context.Context, update NumberingPolicyUpdate) (models.NumberingPolicy, error)
}

// NumberingPolicyUpdate carries the editable settings. Nil fields are unchanged.
type NumberingPolicyUpdate struct {
	Prefix         *string
	NextSequence   *int64
	DueInDays      *int
	DefaultTaxRate *decimal.Decimal
	Currency       *string
}

type settingsService struct {
	store  repositories.LedgerStore
	logger *zap.Logger
}

func NewSettingsService(store repositories.LedgerStore, logger *zap.Logger) SettingsServiceInterface {
	return &settingsService{store: store, logger: logger.Named("settings")}
}

func (s *settingsService) GetNumberingPolicy(ctx context.Context) (models.NumberingPolicy, error) {
	return s.store.GetNumberingPolicy(ctx)
}

func (s *settingsService) UpdateNumberingPolicy(ctx context.Context, update NumberingPolicyUpdate) (models.NumberingPolicy, error) {
	policy, err := s.store.UpdateNumberingPolicy(ctx, func(current models.NumberingPolicy) (models.NumberingPolicy, error) {
		next := current
		if update.Prefix != nil {
			next.Prefix = strings.TrimSpace(*update.Prefix)
		}
		if update.NextSequence != nil {
			next.NextSequence = *update.NextSequence
		}
		if update.DueInDays != nil {
			next.DueInDays = *update.DueInDays
		}
		if update.DefaultTaxRate != nil {
			next.DefaultTaxRate = *update.DefaultTaxRate
		}
		if update.Currency != nil {
			next.Currency = strings.ToUpper(strings.TrimSpace(*update.Currency))
		}
		if err := ValidateNumberingPolicy(current, next); err != nil {
			return current, err
		}
		return next, nil
	})
	if err != nil {
		return models.NumberingPolicy{}, err
	}
	s.logger.Info("numbering policy updated",
		zap.String("prefix", policy.Prefix),
		zap.Int64("next_sequence", policy.NextSequence),
		zap.Int("due_in_days", policy.DueInDays),
		zap.String("currency", policy.Currency),
	)
	return policy, nil
}
