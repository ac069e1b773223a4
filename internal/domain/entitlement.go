// Package domain contains core business types and interfaces.
//
// This file defines the entitlement decision model: the engine's answer to
// "may this caller run a calculation, and how many are left", plus the
// anonymous usage record tracked through client cookies.
package domain

import (
	"fmt"
	"math"
	"time"
)

// UserState classifies a caller for entitlement purposes. Enterprise
// accounts report as paid; the tier itself travels in Decision.Plan.
type UserState string

const (
	UserStateAnonymous UserState = "anonymous"
	UserStateFree      UserState = "free"
	UserStatePaid      UserState = "paid"
)

// Decision is the entitlement engine's output. It is never persisted.
type Decision struct {
	UserState    UserState
	Plan         Tier
	Limit        int64 // weekly cap for anonymous/free callers; 0 when unlimited
	Remaining    int64
	CanCalculate bool
	ResetDate    *time.Time // free tier only
	Unlimited    bool       // paid/enterprise with nil persistent balance only
}

// AnonymousUsage is the rate-limit state for a caller with no account,
// scoped to a rolling calendar week. Both counters are carried in client
// cookies; the IP counter is a shadow that survives cookie clearing.
type AnonymousUsage struct {
	WeekID      string
	CookieCount int64
	IPCount     int64
}

// Effective returns the count the engine trusts: the higher of the two
// independently tracked counters.
func (u AnonymousUsage) Effective() int64 {
	if u.CookieCount > u.IPCount {
		return u.CookieCount
	}
	return u.IPCount
}

// WeekID derives the rolling week key for the given instant, formatted
// "<year>-W<n>" where n counts weeks from January 1 of that year:
// ceil((days since Jan 1 + 1) / 7), computed on fractional days in UTC.
// Two instants in the same week share the key; crossing the seven-day
// boundary produces a new key and implicitly resets anonymous counts.
func WeekID(now time.Time) string {
	now = now.UTC()
	jan1 := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	days := now.Sub(jan1).Hours() / 24
	week := int(math.Ceil((days + 1) / 7))
	return fmt.Sprintf("%d-W%d", now.Year(), week)
}
