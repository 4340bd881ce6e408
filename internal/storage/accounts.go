package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/product-video/internal/domain"
)

// GetOrCreateAccount returns the account, creating it on the trial plan
// when it does not exist yet.
func (s *Storage) GetOrCreateAccount(ctx context.Context, accountID string) (*domain.Account, bool, error) {
	query := `
		INSERT INTO accounts (id, plan, videos_used, billing_period_start)
		VALUES ($1, $2, 0, NOW())
		ON CONFLICT (id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, accountID, string(domain.PlanTrial))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, false, err
	}

	created := rowsAffected > 0
	if created {
		s.logger.Info("Account created",
			slog.String("account_id", accountID),
			slog.String("plan", string(account.Plan)),
		)
	}

	return account, created, nil
}

// GetAccount retrieves an account by its ID
func (s *Storage) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	var row accountRow
	if err := s.db.GetContext(ctx, &row, query, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return row.toDomain(), nil
}

// UpdatePlan switches the account's plan and starts a fresh billing period
func (s *Storage) UpdatePlan(ctx context.Context, accountID string, plan domain.Plan, periodStart time.Time) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET plan = $1,
		    videos_used = 0,
		    billing_period_start = $2,
		    updated_at = NOW()
		WHERE id = $3
		RETURNING ` + accountColumns

	var row accountRow
	if err := s.db.GetContext(ctx, &row, query, string(plan), periodStart, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}

	return row.toDomain(), nil
}

// ResetExpiredPeriods zeroes usage and restarts the billing period of every
// non-trial account whose period started at or before cutoff.
func (s *Storage) ResetExpiredPeriods(ctx context.Context, cutoff, periodStart time.Time) (int64, error) {
	query := `
		UPDATE accounts
		SET videos_used = 0,
		    billing_period_start = $1,
		    updated_at = NOW()
		WHERE plan <> $2 AND billing_period_start <= $3
	`

	result, err := s.db.ExecContext(ctx, query, periodStart, string(domain.PlanTrial), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reset billing periods: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// DeleteAccount removes the account. Its jobs go with it through the
// foreign key cascade.
func (s *Storage) DeleteAccount(ctx context.Context, accountID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrAccountNotFound
	}

	return nil
}
