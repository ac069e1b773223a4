// Package service contains the business logic layer.
//
// This file implements the entitlement service: the engine that decides
// whether a caller may run a runway calculation and that spends credits
// when they do.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/launchpath/launchpath/internal/domain"
	"github.com/launchpath/launchpath/internal/metrics"
	"github.com/launchpath/launchpath/internal/store"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EntitlementService decides and spends calculation allowances.
//
// Check is a pure read: when a free account's weekly reset is due, the
// restored allowance is previewed in the returned decision but nothing is
// written. Consume commits a due reset as its own write first, then
// decrements. A nil account means the caller is anonymous and is judged
// from the cookie-carried usage counters instead.
type EntitlementService interface {
	// Check reports the caller's current allowance without mutating
	// anything.
	Check(ctx context.Context, account *domain.Account, usage domain.AnonymousUsage, now time.Time) (*domain.Decision, error)

	// Consume spends one calculation. On success the returned decision
	// reflects the post-decrement state. Rejections carry ELIMIT or
	// ECREDITS and leave all state untouched.
	Consume(ctx context.Context, account *domain.Account, usage domain.AnonymousUsage, now time.Time) (*ConsumeResult, error)
}

// ConsumeResult is the outcome of a successful consumption. For anonymous
// callers AnonymousCount is the new usage count the handler must write
// back into both cookies; it is zero for account-backed callers.
type ConsumeResult struct {
	Decision       domain.Decision
	AnonymousCount int64
}

// =============================================================================
// Implementation
// =============================================================================

type entitlementService struct {
	accounts store.AccountStore
	logger   *slog.Logger
}

// NewEntitlementService creates a new EntitlementService.
func NewEntitlementService(accounts store.AccountStore, logger *slog.Logger) EntitlementService {
	return &entitlementService{
		accounts: accounts,
		logger:   logger,
	}
}

// =============================================================================
// Check
// =============================================================================

func (s *entitlementService) Check(ctx context.Context, account *domain.Account, usage domain.AnonymousUsage, now time.Time) (*domain.Decision, error) {
	if account == nil {
		d := anonymousDecision(usage)
		return &d, nil
	}

	switch {
	case account.Tier == domain.TierFree:
		// Preview a due reset on a copy. The read path never persists
		// the reset; the next consume commits it.
		preview := *account
		if preview.NeedsWeeklyReset(now) {
			preview = preview.WithWeeklyReset(now)
		}
		d := freeDecision(&preview)
		return &d, nil

	case account.IsPaid():
		d := paidDecision(account)
		return &d, nil

	default:
		const op = "entitlement.check"
		return nil, domain.Invalid(op, "account has no recognized tier")
	}
}

// =============================================================================
// Consume
// =============================================================================

func (s *entitlementService) Consume(ctx context.Context, account *domain.Account, usage domain.AnonymousUsage, now time.Time) (*ConsumeResult, error) {
	if account == nil {
		return s.consumeAnonymous(usage)
	}

	switch {
	case account.Tier == domain.TierFree:
		return s.consumeFree(ctx, account, now)
	case account.IsPaid():
		return s.consumePaid(ctx, account)
	default:
		const op = "entitlement.consume"
		return nil, domain.Invalid(op, "account has no recognized tier")
	}
}

func (s *entitlementService) consumeAnonymous(usage domain.AnonymousUsage) (*ConsumeResult, error) {
	const op = "entitlement.consume_anonymous"

	effective := usage.Effective()
	if effective >= domain.AnonymousWeeklyLimit {
		return nil, domain.LimitReached(op)
	}

	newCount := effective + 1
	return &ConsumeResult{
		Decision: domain.Decision{
			UserState:    domain.UserStateAnonymous,
			Plan:         domain.TierAnonymous,
			Limit:        domain.AnonymousWeeklyLimit,
			Remaining:    domain.AnonymousWeeklyLimit - newCount,
			CanCalculate: newCount < domain.AnonymousWeeklyLimit,
		},
		AnonymousCount: newCount,
	}, nil
}

func (s *entitlementService) consumeFree(ctx context.Context, account *domain.Account, now time.Time) (*ConsumeResult, error) {
	const op = "entitlement.consume_free"

	// Commit a due reset before judging the balance. This is its own
	// write, separate from the decrement below.
	if account.NeedsWeeklyReset(now) {
		reset := account.WithWeeklyReset(now)
		if err := s.accounts.ResetWeeklyAllowance(ctx, account.ID, reset.WeeklyBalance, *reset.LastWeeklyResetAt); err != nil {
			return nil, domain.Internal(err, op, "failed to commit weekly reset")
		}
		metrics.WeeklyResets.Inc()
		s.logger.Info("Weekly allowance reset",
			"account_id", account.ID,
			"balance", reset.WeeklyBalance,
		)
		account = &reset
	}

	if account.WeeklyBalance <= 0 {
		return nil, domain.CreditsExhausted(op, "You've used all your weekly calculations. Wait for your weekly reset or upgrade for unlimited access.")
	}

	// Plain read-then-write. Concurrent consumes can lose a decrement;
	// see store.AccountStore.
	newBalance := account.WeeklyBalance - 1
	if err := s.accounts.UpdateWeeklyBalance(ctx, account.ID, newBalance); err != nil {
		return nil, domain.Internal(err, op, "failed to decrement weekly balance")
	}

	updated := *account
	updated.WeeklyBalance = newBalance
	return &ConsumeResult{Decision: freeDecision(&updated)}, nil
}

func (s *entitlementService) consumePaid(ctx context.Context, account *domain.Account) (*ConsumeResult, error) {
	const op = "entitlement.consume_paid"

	if account.Unlimited() {
		d := paidDecision(account)
		return &ConsumeResult{Decision: d}, nil
	}

	balance := *account.PersistentBalance
	if balance <= 0 {
		return nil, domain.CreditsExhausted(op, "You're out of credits. Purchase a credit pack to keep calculating.")
	}

	newBalance := balance - 1
	if err := s.accounts.UpdatePersistentBalance(ctx, account.ID, &newBalance); err != nil {
		return nil, domain.Internal(err, op, "failed to decrement credit balance")
	}

	updated := *account
	updated.PersistentBalance = &newBalance
	return &ConsumeResult{Decision: paidDecision(&updated)}, nil
}

// =============================================================================
// Decision builders
// =============================================================================

func anonymousDecision(usage domain.AnonymousUsage) domain.Decision {
	effective := usage.Effective()
	remaining := int64(domain.AnonymousWeeklyLimit) - effective
	if remaining < 0 {
		remaining = 0
	}
	return domain.Decision{
		UserState:    domain.UserStateAnonymous,
		Plan:         domain.TierAnonymous,
		Limit:        domain.AnonymousWeeklyLimit,
		Remaining:    remaining,
		CanCalculate: effective < domain.AnonymousWeeklyLimit,
	}
}

func freeDecision(account *domain.Account) domain.Decision {
	remaining := account.WeeklyBalance
	if remaining < 0 {
		remaining = 0
	}
	var resetDate *time.Time
	if next := account.NextResetAt(); !next.IsZero() {
		resetDate = &next
	}
	return domain.Decision{
		UserState:    domain.UserStateFree,
		Plan:         domain.TierFree,
		Limit:        domain.FreeWeeklyAllowance,
		Remaining:    remaining,
		CanCalculate: remaining > 0,
		ResetDate:    resetDate,
	}
}

func paidDecision(account *domain.Account) domain.Decision {
	d := domain.Decision{
		UserState: domain.UserStatePaid,
		Plan:      account.Tier,
	}
	if account.PersistentBalance == nil {
		d.Unlimited = true
		d.CanCalculate = true
		return d
	}
	remaining := *account.PersistentBalance
	if remaining < 0 {
		remaining = 0
	}
	d.Remaining = remaining
	d.CanCalculate = remaining > 0
	return d
}
