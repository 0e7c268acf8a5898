package billing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAccountNotFound     = errors.New("account not found")
)

type SubscriptionStatus string

const (
	SubscriptionActive            SubscriptionStatus = "active"
	SubscriptionCancelAtPeriodEnd SubscriptionStatus = "cancel_at_period_end"
	SubscriptionPastDue           SubscriptionStatus = "past_due"
	SubscriptionDeleted           SubscriptionStatus = "deleted"
)

type Account struct {
	UserID             string             `json:"user_id"`
	Credits            decimal.Decimal    `json:"credits"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status,omitempty"`
}

// IsSubscribed reports whether calls are covered by a subscription instead
// of credits.
func (a *Account) IsSubscribed() bool {
	return a.SubscriptionStatus == SubscriptionActive ||
		a.SubscriptionStatus == SubscriptionCancelAtPeriodEnd
}

type UsageLog struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	RequestID    string          `json:"request_id"`
	Operation    string          `json:"operation"`
	Provider     string          `json:"provider"`
	Model        string          `json:"model"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	Credits      decimal.Decimal `json:"credits"`
	LatencyMs    int64           `json:"latency_ms"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Store interface {
	GetAccount(ctx context.Context, userID string) (*Account, error)
	// DeductCredits atomically subtracts amount when the balance covers it
	// and returns the new balance, or ErrInsufficientCredits.
	DeductCredits(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	LogUsage(ctx context.Context, log *UsageLog) error
	GetUsageByUser(ctx context.Context, userID string, from, to time.Time) ([]*UsageLog, error)
	GetTotalCreditsByUser(ctx context.Context, userID string, from, to time.Time) (decimal.Decimal, error)
}
