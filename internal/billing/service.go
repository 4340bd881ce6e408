// Package billing manages account plans and billing periods.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/product-video/internal/domain"
)

// Defaults
const (
	DefaultPeriodDays = 30
	DefaultLockKey    = "product-video:billing:reset-sweep"
	DefaultLockTTL    = 5 * time.Minute
)

var (
	// ErrSweepInProgress is returned when another instance holds the sweep lock
	ErrSweepInProgress = errors.New("billing reset sweep already running")

	// ErrInvalidPlan is returned for plan names outside the known tiers
	ErrInvalidPlan = errors.New("invalid plan")
)

// Store is the account persistence the service needs
type Store interface {
	GetOrCreateAccount(ctx context.Context, accountID string) (*domain.Account, bool, error)
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	UpdatePlan(ctx context.Context, accountID string, plan domain.Plan, periodStart time.Time) (*domain.Account, error)
	ResetExpiredPeriods(ctx context.Context, cutoff, periodStart time.Time) (int64, error)
	DeleteAccount(ctx context.Context, accountID string) error
}

// Config holds billing configuration
type Config struct {
	PeriodDays int
	LockKey    string
	LockTTL    time.Duration
}

// Service handles account lifecycle and usage resets
type Service struct {
	store  Store
	locker Locker
	logger *slog.Logger

	periodDays int
	lockKey    string
	lockTTL    time.Duration

	now func() time.Time
}

// NewService creates a new Service. A nil locker runs sweeps unguarded.
func NewService(store Store, locker Locker, cfg Config, logger *slog.Logger) *Service {
	if cfg.PeriodDays <= 0 {
		cfg.PeriodDays = DefaultPeriodDays
	}
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultLockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}

	return &Service{
		store:      store,
		locker:     locker,
		logger:     logger,
		periodDays: cfg.PeriodDays,
		lockKey:    cfg.LockKey,
		lockTTL:    cfg.LockTTL,
		now:        time.Now,
	}
}

// ResetExpiredPeriods zeroes usage for every non-trial account whose billing
// period started periodDays or more ago and returns how many were reset.
func (s *Service) ResetExpiredPeriods(ctx context.Context) (int64, error) {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, s.lockKey, s.lockTTL)
		if err != nil {
			return 0, fmt.Errorf("failed to acquire sweep lock: %w", err)
		}
		if !ok {
			return 0, ErrSweepInProgress
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), s.lockKey, token); err != nil {
				s.logger.Warn("Failed to release sweep lock", slog.Any("error", err))
			}
		}()
	}

	now := s.now().UTC()
	cutoff := now.AddDate(0, 0, -s.periodDays)

	reset, err := s.store.ResetExpiredPeriods(ctx, cutoff, now)
	if err != nil {
		return 0, err
	}

	s.logger.Info("Billing periods reset",
		slog.Int64("accounts_reset", reset),
		slog.Time("cutoff", cutoff),
	)

	return reset, nil
}

// EnsureAccount returns the account, creating it on the trial plan first
func (s *Service) EnsureAccount(ctx context.Context, accountID string) (*domain.Account, bool, error) {
	if accountID == "" {
		return nil, false, fmt.Errorf("%w: account id is required", domain.ErrAccountNotFound)
	}
	return s.store.GetOrCreateAccount(ctx, accountID)
}

// GetAccount returns the account
func (s *Service) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

// ChangePlan moves the account to plan and starts a fresh billing period
func (s *Service) ChangePlan(ctx context.Context, accountID string, plan domain.Plan) (*domain.Account, error) {
	if !plan.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPlan, plan)
	}

	account, err := s.store.UpdatePlan(ctx, accountID, plan, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.logger.Info("Account plan changed",
		slog.String("account_id", accountID),
		slog.String("plan", string(plan)),
	)

	return account, nil
}

// DeleteAccount removes the account and all of its jobs. Operations still
// running for those jobs finish externally and their results are discarded.
func (s *Service) DeleteAccount(ctx context.Context, accountID string) error {
	if err := s.store.DeleteAccount(ctx, accountID); err != nil {
		return err
	}

	s.logger.Info("Account deleted", slog.String("account_id", accountID))
	return nil
}
