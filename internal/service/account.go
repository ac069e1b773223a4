// Package service contains the business logic layer.
//
// This file implements the account service: provisioning accounts for
// authenticated callers and applying tier and balance changes driven by
// the admin API and billing webhooks.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/launchpath/launchpath/internal/domain"
	"github.com/launchpath/launchpath/internal/identity"
	"github.com/launchpath/launchpath/internal/metrics"
	"github.com/launchpath/launchpath/internal/store"
)

// =============================================================================
// Interface Definition
// =============================================================================

// AccountService manages entitlement accounts.
type AccountService interface {
	// ResolveOrProvision looks up the account for an authenticated
	// identity, creating a free account on first contact when
	// auto-provisioning is enabled.
	ResolveOrProvision(ctx context.Context, id identity.Identity, now time.Time) (*domain.Account, error)

	// GetByID returns a single account.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)

	// GetByStripeCustomer returns the account linked to a Stripe customer.
	GetByStripeCustomer(ctx context.Context, customerID string) (*domain.Account, error)

	// List returns a page of accounts plus the total count.
	List(ctx context.Context, limit, offset int64) ([]domain.Account, int64, error)

	// SetTier moves an account to a new tier, resetting balances to that
	// tier's defaults. Used by the admin API.
	SetTier(ctx context.Context, id uuid.UUID, tier domain.Tier, now time.Time) (*domain.Account, error)

	// GrantCredits adds credits to a paid account's persistent balance.
	GrantCredits(ctx context.Context, id uuid.UUID, credits int64) (*domain.Account, error)

	// ApplySubscription upgrades an account after a successful
	// subscription checkout and records the Stripe identifiers.
	ApplySubscription(ctx context.Context, id uuid.UUID, tier domain.Tier, customerID, subscriptionID string, now time.Time) error

	// ApplyCreditPurchase tops up a persistent balance after a credit
	// pack purchase.
	ApplyCreditPurchase(ctx context.Context, id uuid.UUID, credits int64, customerID string) error

	// DowngradeToFree returns an account to the free tier with a fresh
	// weekly allowance, after a subscription is cancelled.
	DowngradeToFree(ctx context.Context, id uuid.UUID, now time.Time) error
}

// =============================================================================
// Implementation
// =============================================================================

type accountService struct {
	store         store.AccountStore
	autoProvision bool
	logger        *slog.Logger
}

// NewAccountService creates a new AccountService. When autoProvision is
// false, unknown authenticated subjects get ENOTFOUND instead of a fresh
// free account.
func NewAccountService(accounts store.AccountStore, autoProvision bool, logger *slog.Logger) AccountService {
	return &accountService{
		store:         accounts,
		autoProvision: autoProvision,
		logger:        logger,
	}
}

// =============================================================================
// ResolveOrProvision
// =============================================================================

func (s *accountService) ResolveOrProvision(ctx context.Context, id identity.Identity, now time.Time) (*domain.Account, error) {
	const op = "account.resolve"

	account, err := s.store.GetAccountBySubject(ctx, id.Subject)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, domain.Internal(err, op, "failed to look up account")
	}

	if !s.autoProvision {
		return nil, domain.NotFound(op, "account", id.Subject)
	}

	fresh := domain.NewFreeAccount(id.Subject, id.Email, now)
	if err := s.store.CreateAccount(ctx, fresh); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a provisioning race; the winner's row is ours.
			return s.store.GetAccountBySubject(ctx, id.Subject)
		}
		return nil, domain.Internal(err, op, "failed to provision account")
	}

	metrics.AccountsProvisioned.Inc()
	s.logger.Info("Provisioned free account",
		"account_id", fresh.ID,
		"subject", id.Subject,
	)
	return fresh, nil
}

// =============================================================================
// Lookups
// =============================================================================

func (s *accountService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	const op = "account.get"

	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound(op, "account", id.String())
		}
		return nil, domain.Internal(err, op, "failed to fetch account")
	}
	return account, nil
}

func (s *accountService) GetByStripeCustomer(ctx context.Context, customerID string) (*domain.Account, error) {
	const op = "account.get_by_stripe_customer"

	account, err := s.store.GetAccountByStripeCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound(op, "account", customerID)
		}
		return nil, domain.Internal(err, op, "failed to fetch account")
	}
	return account, nil
}

func (s *accountService) List(ctx context.Context, limit, offset int64) ([]domain.Account, int64, error) {
	const op = "account.list"

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	accounts, err := s.store.ListAccounts(ctx, limit, offset)
	if err != nil {
		return nil, 0, domain.Internal(err, op, "failed to list accounts")
	}
	total, err := s.store.CountAccounts(ctx)
	if err != nil {
		return nil, 0, domain.Internal(err, op, "failed to count accounts")
	}
	return accounts, total, nil
}

// =============================================================================
// Tier and balance changes
// =============================================================================

func (s *accountService) SetTier(ctx context.Context, id uuid.UUID, tier domain.Tier, now time.Time) (*domain.Account, error) {
	const op = "account.set_tier"

	if !tier.Valid() || tier == domain.TierAnonymous {
		return nil, domain.Invalid(op, "tier must be one of free, paid, enterprise")
	}

	account, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	persistent, weekly, resetAt := tierDefaults(tier, now)
	if err := s.store.UpdateTier(ctx, id, tier, persistent, weekly, resetAt); err != nil {
		return nil, domain.Internal(err, op, "failed to update tier")
	}

	s.logger.Info("Account tier changed",
		"account_id", id,
		"from", account.Tier,
		"to", tier,
	)
	return s.GetByID(ctx, id)
}

func (s *accountService) GrantCredits(ctx context.Context, id uuid.UUID, credits int64) (*domain.Account, error) {
	const op = "account.grant_credits"

	if credits <= 0 {
		return nil, domain.Invalid(op, "credits must be positive")
	}

	account, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !account.IsPaid() {
		return nil, domain.Invalid(op, "only paid and enterprise accounts carry a credit balance")
	}
	if account.PersistentBalance == nil {
		return nil, domain.Invalid(op, "account is unlimited; granting credits would cap it")
	}

	newBalance := *account.PersistentBalance + credits
	if err := s.store.UpdatePersistentBalance(ctx, id, &newBalance); err != nil {
		return nil, domain.Internal(err, op, "failed to grant credits")
	}

	s.logger.Info("Credits granted",
		"account_id", id,
		"credits", credits,
		"balance", newBalance,
	)
	return s.GetByID(ctx, id)
}

func (s *accountService) ApplySubscription(ctx context.Context, id uuid.UUID, tier domain.Tier, customerID, subscriptionID string, now time.Time) error {
	const op = "account.apply_subscription"

	if tier != domain.TierPaid && tier != domain.TierEnterprise {
		return domain.Invalid(op, "subscriptions map to the paid or enterprise tier")
	}

	persistent, weekly, resetAt := tierDefaults(tier, now)
	if err := s.store.UpdateTier(ctx, id, tier, persistent, weekly, resetAt); err != nil {
		return domain.Internal(err, op, "failed to apply subscription tier")
	}
	if customerID != "" {
		if err := s.store.UpdateStripeCustomer(ctx, id, customerID); err != nil {
			return domain.Internal(err, op, "failed to record customer id")
		}
	}
	if subscriptionID != "" {
		if err := s.store.UpdateSubscription(ctx, id, subscriptionID); err != nil {
			return domain.Internal(err, op, "failed to record subscription id")
		}
	}

	s.logger.Info("Subscription applied",
		"account_id", id,
		"tier", tier,
		"subscription_id", subscriptionID,
	)
	return nil
}

func (s *accountService) ApplyCreditPurchase(ctx context.Context, id uuid.UUID, credits int64, customerID string) error {
	const op = "account.apply_credit_purchase"

	if credits <= 0 {
		return domain.Invalid(op, "credit pack size must be positive")
	}

	account, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	// Credit packs land on the persistent balance. A free account that
	// buys a pack becomes a metered paid account.
	var newBalance int64 = credits
	if account.IsPaid() && account.PersistentBalance != nil {
		newBalance = *account.PersistentBalance + credits
	}
	if !account.IsPaid() {
		if err := s.store.UpdateTier(ctx, id, domain.TierPaid, &newBalance, 0, nil); err != nil {
			return domain.Internal(err, op, "failed to convert account to paid")
		}
	} else {
		if err := s.store.UpdatePersistentBalance(ctx, id, &newBalance); err != nil {
			return domain.Internal(err, op, "failed to top up credits")
		}
	}

	if customerID != "" && account.StripeCustomerID == "" {
		if err := s.store.UpdateStripeCustomer(ctx, id, customerID); err != nil {
			return domain.Internal(err, op, "failed to record customer id")
		}
	}

	s.logger.Info("Credit purchase applied",
		"account_id", id,
		"credits", credits,
		"balance", newBalance,
	)
	return nil
}

func (s *accountService) DowngradeToFree(ctx context.Context, id uuid.UUID, now time.Time) error {
	const op = "account.downgrade"

	persistent, weekly, resetAt := tierDefaults(domain.TierFree, now)
	if err := s.store.UpdateTier(ctx, id, domain.TierFree, persistent, weekly, resetAt); err != nil {
		return domain.Internal(err, op, "failed to downgrade account")
	}
	if err := s.store.UpdateSubscription(ctx, id, ""); err != nil {
		return domain.Internal(err, op, "failed to clear subscription id")
	}

	s.logger.Info("Account downgraded to free", "account_id", id)
	return nil
}

// tierDefaults returns the balance fields a freshly (re)assigned tier
// starts with. Paid and enterprise default to unlimited; metered balances
// come from credit purchases or admin grants.
func tierDefaults(tier domain.Tier, now time.Time) (persistent *int64, weekly int64, resetAt *time.Time) {
	switch tier {
	case domain.TierFree:
		t := now.UTC()
		return nil, domain.FreeWeeklyAllowance, &t
	default:
		return nil, 0, nil
	}
}
