package seeder

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/vnmchuo/banana-gateway/internal/auth"
	"github.com/vnmchuo/banana-gateway/internal/schedule"
)

const (
	TestAPIKey = "test-api-key-12345"
	TestUserID = "00000000-0000-0000-0000-000000000001"
)

// TestCredits is the starting balance of the development account.
var TestCredits = decimal.NewFromInt(10)

var sampleTasks = []string{
	"Write the quarterly report",
	"Review pull requests",
	"Prepare slides for Friday's demo",
}

type AccountCreator interface {
	CreateAccount(ctx context.Context, userID string, credits decimal.Decimal) error
}

// Seed creates a development API key, a credit account and a few tasks for
// TestUserID. Every step is best effort so reruns against a seeded database
// only log.
func Seed(ctx context.Context, keys auth.Store, accounts AccountCreator, tasks schedule.Store, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "seeder")

	apiKey := &auth.APIKey{
		UserID:    TestUserID,
		KeyHash:   auth.HashKey(TestAPIKey),
		RateLimit: 1000000,
		Active:    true,
	}
	if err := keys.Create(ctx, apiKey); err != nil {
		logger.Warn("api key may already exist, skipping", "error", err)
	} else {
		logger.Info("test api key created", "key", TestAPIKey, "user_id", TestUserID)
	}

	if err := accounts.CreateAccount(ctx, TestUserID, TestCredits); err != nil {
		logger.Warn("failed to create credit account", "error", err)
	} else {
		logger.Info("credit account ready", "user_id", TestUserID, "credits", TestCredits.String())
	}

	existing, err := tasks.ListTasks(ctx, TestUserID)
	if err != nil {
		logger.Warn("failed to list tasks", "error", err)
		return
	}
	if len(existing) > 0 {
		return
	}
	for _, desc := range sampleTasks {
		if _, err := tasks.CreateTask(ctx, TestUserID, desc); err != nil {
			logger.Warn("failed to create sample task", "description", desc, "error", err)
			return
		}
	}
	logger.Info("sample tasks created", "count", len(sampleTasks))
}
