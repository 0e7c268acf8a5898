package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Meter turns a successful AI call into a credit deduction.
type Meter struct {
	store  Store
	prices PriceTable
	logger *slog.Logger
}

func NewMeter(store Store, prices PriceTable, logger *slog.Logger) *Meter {
	if prices == nil {
		prices = DefaultPriceTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{
		store:  store,
		prices: prices,
		logger: logger.With("component", "credit-meter"),
	}
}

func (m *Meter) Prices() PriceTable {
	return m.prices
}

// ChargeCall charges the table price of the provider/model that served a call.
func (m *Meter) ChargeCall(ctx context.Context, account *Account, providerID, modelID string) (decimal.Decimal, error) {
	return m.Charge(ctx, account, m.prices.CostFor(providerID, modelID))
}

// Charge deducts cost unless the account is subscribed or the cost is zero.
// It returns the amount actually charged.
func (m *Meter) Charge(ctx context.Context, account *Account, cost decimal.Decimal) (decimal.Decimal, error) {
	if account.IsSubscribed() {
		return decimal.Zero, nil
	}
	if !cost.IsPositive() {
		return decimal.Zero, nil
	}
	if account.Credits.LessThan(cost) {
		return decimal.Zero, fmt.Errorf("%w: required %s, available %s", ErrInsufficientCredits, cost, account.Credits)
	}

	remaining, err := m.store.DeductCredits(ctx, account.UserID, cost)
	if err != nil {
		return decimal.Zero, err
	}
	account.Credits = remaining

	m.logger.Info("credits deducted",
		"user_id", account.UserID,
		"amount", cost.String(),
		"remaining", remaining.String(),
	)
	return cost, nil
}
