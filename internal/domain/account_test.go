package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(n int64) *int64 { return &n }

func TestAccount_NeedsWeeklyReset(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-3 * 24 * time.Hour)
	exactlySeven := now.Add(-7 * 24 * time.Hour)
	almostSeven := now.Add(-7*24*time.Hour + time.Minute)

	tests := []struct {
		name    string
		account Account
		want    bool
	}{
		{
			name:    "no reset ever recorded",
			account: Account{Tier: TierFree},
			want:    true,
		},
		{
			name:    "reset three days ago",
			account: Account{Tier: TierFree, LastWeeklyResetAt: &recent},
			want:    false,
		},
		{
			name:    "exactly seven days is due",
			account: Account{Tier: TierFree, LastWeeklyResetAt: &exactlySeven},
			want:    true,
		},
		{
			name:    "one minute short of seven days is not due",
			account: Account{Tier: TierFree, LastWeeklyResetAt: &almostSeven},
			want:    false,
		},
		{
			name:    "paid accounts never reset",
			account: Account{Tier: TierPaid},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.account.NeedsWeeklyReset(now))
		})
	}
}

func TestAccount_WithWeeklyReset(t *testing.T) {
	old := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	original := Account{Tier: TierFree, WeeklyBalance: 0, LastWeeklyResetAt: &old}
	reset := original.WithWeeklyReset(now)

	assert.Equal(t, int64(FreeWeeklyAllowance), reset.WeeklyBalance)
	require.NotNil(t, reset.LastWeeklyResetAt)
	assert.Equal(t, now, *reset.LastWeeklyResetAt)

	// The receiver is untouched: reads preview, writes commit.
	assert.Equal(t, int64(0), original.WeeklyBalance)
	assert.Equal(t, old, *original.LastWeeklyResetAt)
}

func TestAccount_Unlimited(t *testing.T) {
	tests := []struct {
		name    string
		account Account
		want    bool
	}{
		{"paid with nil balance", Account{Tier: TierPaid}, true},
		{"enterprise with nil balance", Account{Tier: TierEnterprise}, true},
		{"paid with balance", Account{Tier: TierPaid, PersistentBalance: ptr(10)}, false},
		{"paid with zero balance", Account{Tier: TierPaid, PersistentBalance: ptr(0)}, false},
		{"free is never unlimited", Account{Tier: TierFree}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.account.Unlimited())
		})
	}
}

func TestNewFreeAccount(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	a := NewFreeAccount("auth0|abc123", "founder@example.com", now)

	assert.Equal(t, TierFree, a.Tier)
	assert.Equal(t, int64(FreeWeeklyAllowance), a.WeeklyBalance)
	require.NotNil(t, a.LastWeeklyResetAt)
	assert.Equal(t, now, *a.LastWeeklyResetAt)
	assert.Nil(t, a.PersistentBalance)
	assert.NotEqual(t, "", a.ID.String())
}
