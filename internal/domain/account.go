// Package domain contains core business types and interfaces.
//
// This file defines the Account domain type and the tier allowance policy
// that governs how many runway calculations a caller may perform.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tier represents an account's pricing tier.
type Tier string

const (
	TierAnonymous  Tier = "anonymous"
	TierFree       Tier = "free"
	TierPaid       Tier = "paid"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierAnonymous, TierFree, TierPaid, TierEnterprise:
		return true
	}
	return false
}

const (
	// AnonymousWeeklyLimit is the number of calculations a visitor without
	// an account may run per calendar week.
	AnonymousWeeklyLimit = 3

	// FreeWeeklyAllowance is the number of calculations a free account is
	// restored to on each weekly reset.
	FreeWeeklyAllowance = 3

	// WeeklyResetInterval is the elapsed time after which a free account's
	// allowance becomes due for a reset. The comparison uses fractional-day
	// precision, not calendar-day truncation.
	WeeklyResetInterval = 7 * 24 * time.Hour
)

// Account represents a caller's entitlement identity.
//
// Exactly one balance field is semantically active, determined by tier:
// free accounts draw from WeeklyBalance, paid/enterprise accounts from
// PersistentBalance. A nil PersistentBalance on a paid or enterprise
// account means unlimited.
type Account struct {
	ID                uuid.UUID
	Subject           string // identity provider subject, unique
	Email             string
	Tier              Tier
	PersistentBalance *int64     // paid/enterprise only; nil => unlimited
	WeeklyBalance     int64      // free only
	LastWeeklyResetAt *time.Time // free only; nil => reset never recorded
	StripeCustomerID  string
	SubscriptionID    string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewFreeAccount returns an account provisioned with the default free
// allowance. The weekly reset clock starts at provisioning time.
func NewFreeAccount(subject, email string, now time.Time) *Account {
	resetAt := now.UTC()
	return &Account{
		ID:                uuid.New(),
		Subject:           subject,
		Email:             email,
		Tier:              TierFree,
		WeeklyBalance:     FreeWeeklyAllowance,
		LastWeeklyResetAt: &resetAt,
		CreatedAt:         now.UTC(),
		UpdatedAt:         now.UTC(),
	}
}

// IsPaid reports whether the account draws from a persistent balance.
// Enterprise accounts share the paid balance semantics.
func (a *Account) IsPaid() bool {
	return a.Tier == TierPaid || a.Tier == TierEnterprise
}

// Unlimited reports whether the account has no balance ceiling.
func (a *Account) Unlimited() bool {
	return a.IsPaid() && a.PersistentBalance == nil
}

// NeedsWeeklyReset reports whether a free account's allowance is due for a
// reset at the given instant: either no reset has ever been recorded, or at
// least the full reset interval has elapsed since the last one.
func (a *Account) NeedsWeeklyReset(now time.Time) bool {
	if a.Tier != TierFree {
		return false
	}
	if a.LastWeeklyResetAt == nil {
		return true
	}
	return now.Sub(*a.LastWeeklyResetAt) >= WeeklyResetInterval
}

// WithWeeklyReset returns a copy of the account with the weekly allowance
// restored and the reset clock moved to now. It does not persist anything:
// the read path uses the copy as a preview, the write path commits it.
func (a Account) WithWeeklyReset(now time.Time) Account {
	resetAt := now.UTC()
	a.WeeklyBalance = FreeWeeklyAllowance
	a.LastWeeklyResetAt = &resetAt
	return a
}

// NextResetAt returns when the free allowance next resets, or the zero time
// if no reset has ever been recorded.
func (a *Account) NextResetAt() time.Time {
	if a.LastWeeklyResetAt == nil {
		return time.Time{}
	}
	return a.LastWeeklyResetAt.Add(WeeklyResetInterval)
}
