package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	balances   map[string]decimal.Decimal
	deductions int
	deductErr  error
}

func (f *fakeStore) GetAccount(ctx context.Context, userID string) (*Account, error) {
	b, ok := f.balances[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &Account{UserID: userID, Credits: b}, nil
}

func (f *fakeStore) DeductCredits(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	f.deductions++
	if f.deductErr != nil {
		return decimal.Zero, f.deductErr
	}
	b := f.balances[userID]
	if b.LessThan(amount) {
		return decimal.Zero, ErrInsufficientCredits
	}
	f.balances[userID] = b.Sub(amount)
	return f.balances[userID], nil
}

func (f *fakeStore) LogUsage(ctx context.Context, log *UsageLog) error { return nil }

func (f *fakeStore) GetUsageByUser(ctx context.Context, userID string, from, to time.Time) ([]*UsageLog, error) {
	return nil, nil
}

func (f *fakeStore) GetTotalCreditsByUser(ctx context.Context, userID string, from, to time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func TestPriceTable_CostFor(t *testing.T) {
	prices := DefaultPriceTable()

	assert.True(t, prices.CostFor("nano_api", "gemini-2.5-flash-image").Equal(decimal.RequireFromString("0.08")))
	assert.True(t, prices.CostFor("nano_api", "gemini-3-pro-image-preview").Equal(decimal.RequireFromString("0.35")))
	assert.True(t, prices.CostFor("nano_api", "unpriced-model").IsZero())
	assert.True(t, prices.CostFor("openrouter", "gemini-2.5-flash-image").IsZero())
}

func TestPriceTable_HasEnoughCredits(t *testing.T) {
	prices := DefaultPriceTable()

	assert.True(t, prices.HasEnoughCredits(decimal.RequireFromString("0.35"), "nano_api", "gemini-3-pro-image-preview"))
	assert.False(t, prices.HasEnoughCredits(decimal.RequireFromString("0.34"), "nano_api", "gemini-3-pro-image-preview"))
	assert.True(t, prices.HasEnoughCredits(decimal.Zero, "openrouter", "anything"))
}

func TestParsePriceTable(t *testing.T) {
	prices, err := ParsePriceTable(map[string]map[string]string{
		"openrouter": {"google/gemini-2.5-flash-image-preview": "0.10"},
	})
	require.NoError(t, err)
	assert.Equal(t, "0.1", prices.CostFor("openrouter", "google/gemini-2.5-flash-image-preview").String())

	_, err = ParsePriceTable(map[string]map[string]string{"x": {"m": "cheap"}})
	assert.Error(t, err)

	_, err = ParsePriceTable(map[string]map[string]string{"x": {"m": "-1"}})
	assert.Error(t, err)
}

func TestMeter_ChargesTablePrice(t *testing.T) {
	store := &fakeStore{balances: map[string]decimal.Decimal{"u1": decimal.NewFromInt(1)}}
	meter := NewMeter(store, nil, nil)

	account, err := store.GetAccount(context.Background(), "u1")
	require.NoError(t, err)

	charged, err := meter.ChargeCall(context.Background(), account, "nano_api", "gemini-2.5-flash-image")
	require.NoError(t, err)
	assert.Equal(t, "0.08", charged.String())
	assert.Equal(t, "0.92", account.Credits.String())
	assert.Equal(t, 1, store.deductions)
}

func TestMeter_FreeModelSkipsDeduction(t *testing.T) {
	store := &fakeStore{balances: map[string]decimal.Decimal{"u1": decimal.Zero}}
	meter := NewMeter(store, nil, nil)

	charged, err := meter.ChargeCall(context.Background(), &Account{UserID: "u1"}, "openrouter", "some-model")
	require.NoError(t, err)
	assert.True(t, charged.IsZero())
	assert.Equal(t, 0, store.deductions)
}

func TestMeter_SubscribedAccountsAreNotCharged(t *testing.T) {
	store := &fakeStore{balances: map[string]decimal.Decimal{"u1": decimal.Zero}}
	meter := NewMeter(store, nil, nil)

	for _, status := range []SubscriptionStatus{SubscriptionActive, SubscriptionCancelAtPeriodEnd} {
		account := &Account{UserID: "u1", SubscriptionStatus: status}
		charged, err := meter.ChargeCall(context.Background(), account, "nano_api", "gemini-3-pro-image-preview")
		require.NoError(t, err)
		assert.True(t, charged.IsZero())
	}
	assert.Equal(t, 0, store.deductions)

	pastDue := &Account{UserID: "u1", SubscriptionStatus: SubscriptionPastDue}
	_, err := meter.ChargeCall(context.Background(), pastDue, "nano_api", "gemini-3-pro-image-preview")
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestMeter_InsufficientCredits(t *testing.T) {
	store := &fakeStore{balances: map[string]decimal.Decimal{"u1": decimal.RequireFromString("0.5")}}
	meter := NewMeter(store, nil, nil)

	account := &Account{UserID: "u1", Credits: decimal.RequireFromString("0.5")}
	_, err := meter.Charge(context.Background(), account, ScheduleCost)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Contains(t, err.Error(), "required 1")
	assert.Equal(t, 0, store.deductions)
}

func TestMeter_StoreRaceReportsInsufficient(t *testing.T) {
	// Balance read earlier looked sufficient but the guarded update lost.
	store := &fakeStore{balances: map[string]decimal.Decimal{"u1": decimal.Zero}}
	meter := NewMeter(store, nil, nil)

	account := &Account{UserID: "u1", Credits: decimal.NewFromInt(5)}
	_, err := meter.Charge(context.Background(), account, ScheduleCost)
	assert.True(t, errors.Is(err, ErrInsufficientCredits))
}
