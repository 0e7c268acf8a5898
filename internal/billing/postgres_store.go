package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*Account, error) {
	query := `
		SELECT user_id, credits, subscription_status
		FROM accounts
		WHERE user_id = $1
	`
	var a Account
	var status *string
	err := s.db.QueryRow(ctx, query, userID).Scan(&a.UserID, &a.Credits, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if status != nil {
		a.SubscriptionStatus = SubscriptionStatus(*status)
	}
	return &a, nil
}

func (s *PostgresStore) DeductCredits(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE accounts
		SET credits = credits - $2, updated_at = now()
		WHERE user_id = $1 AND credits >= $2
		RETURNING credits
	`
	var remaining decimal.Decimal
	err := s.db.QueryRow(ctx, query, userID, amount).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrInsufficientCredits
		}
		return decimal.Zero, fmt.Errorf("failed to deduct credits: %w", err)
	}
	return remaining, nil
}

func (s *PostgresStore) LogUsage(ctx context.Context, log *UsageLog) error {
	query := `
		INSERT INTO usage_logs (user_id, request_id, operation, provider, model, input_tokens, output_tokens, credits, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		log.UserID, log.RequestID, log.Operation, log.Provider, log.Model,
		log.InputTokens, log.OutputTokens, log.Credits, log.LatencyMs,
	).Scan(&log.ID, &log.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to log usage: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetUsageByUser(ctx context.Context, userID string, from, to time.Time) ([]*UsageLog, error) {
	query := `
		SELECT id, user_id, request_id, operation, provider, model, input_tokens, output_tokens, credits, latency_ms, created_at
		FROM usage_logs
		WHERE user_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage logs: %w", err)
	}
	defer rows.Close()

	var logs []*UsageLog
	for rows.Next() {
		var l UsageLog
		err := rows.Scan(
			&l.ID, &l.UserID, &l.RequestID, &l.Operation, &l.Provider, &l.Model,
			&l.InputTokens, &l.OutputTokens, &l.Credits, &l.LatencyMs, &l.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage log: %w", err)
		}
		logs = append(logs, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage logs: %w", err)
	}

	return logs, nil
}

func (s *PostgresStore) GetTotalCreditsByUser(ctx context.Context, userID string, from, to time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(credits), 0)
		FROM usage_logs
		WHERE user_id = $1 AND created_at BETWEEN $2 AND $3
	`
	var total decimal.Decimal
	err := s.db.QueryRow(ctx, query, userID, from, to).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get total credits: %w", err)
	}

	return total, nil
}

// CreateAccount inserts a credit account, leaving an existing one untouched.
func (s *PostgresStore) CreateAccount(ctx context.Context, userID string, credits decimal.Decimal) error {
	query := `
		INSERT INTO accounts (user_id, credits)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, userID, credits); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}
