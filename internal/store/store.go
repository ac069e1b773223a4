// Package store contains the persistence layer for accounts, export jobs,
// and recorded billing events.
//
// The interfaces here are the storage adapter the entitlement engine writes
// through. Two implementations exist: Postgres for production and an
// in-memory store used by tests.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/launchpath/launchpath/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist. Services
// translate it into a domain.ENOTFOUND error.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned when a unique constraint is violated, e.g. two
// concurrent provisions of the same subject.
var ErrDuplicate = errors.New("store: duplicate")

// AccountStore persists entitlement accounts.
//
// Balance updates are deliberately plain writes, not conditional
// decrements: two concurrent consumers can both read the same balance and
// the second write wins, losing one decrement. That matches the observed
// production behavior and is documented rather than fixed.
type AccountStore interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetAccountBySubject(ctx context.Context, subject string) (*domain.Account, error)
	GetAccountByStripeCustomer(ctx context.Context, customerID string) (*domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) error
	ListAccounts(ctx context.Context, limit, offset int64) ([]domain.Account, error)
	CountAccounts(ctx context.Context) (int64, error)

	// UpdateWeeklyBalance writes a free account's remaining weekly
	// allowance without touching the reset timestamp.
	UpdateWeeklyBalance(ctx context.Context, id uuid.UUID, balance int64) error

	// ResetWeeklyAllowance commits a weekly reset: balance and reset
	// timestamp together, as its own write, separate from any decrement.
	ResetWeeklyAllowance(ctx context.Context, id uuid.UUID, balance int64, resetAt time.Time) error

	// UpdatePersistentBalance writes a paid account's credit balance.
	// A nil balance marks the account unlimited.
	UpdatePersistentBalance(ctx context.Context, id uuid.UUID, balance *int64) error

	// UpdateTier moves an account between tiers, replacing both balance
	// fields so exactly one is active for the new tier.
	UpdateTier(ctx context.Context, id uuid.UUID, tier domain.Tier, persistentBalance *int64, weeklyBalance int64, resetAt *time.Time) error

	UpdateStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error
	UpdateSubscription(ctx context.Context, id uuid.UUID, subscriptionID string) error
}

// ExportJobStore persists admin export jobs for the background worker.
type ExportJobStore interface {
	CreateExportJob(ctx context.Context, job *domain.ExportJob) error
	GetExportJob(ctx context.Context, id uuid.UUID) (*domain.ExportJob, error)

	// ClaimNextExportJob atomically moves the oldest pending job to
	// running and returns it, or ErrNotFound when the queue is empty.
	ClaimNextExportJob(ctx context.Context, now time.Time) (*domain.ExportJob, error)

	CompleteExportJob(ctx context.Context, id uuid.UUID, objectKey string, accountCount int64, completedAt time.Time) error
	FailExportJob(ctx context.Context, id uuid.UUID, errMsg string, completedAt time.Time) error

	// RecoverStaleExportJobs resets running jobs older than the threshold
	// back to pending. Returns the number of jobs recovered.
	RecoverStaleExportJobs(ctx context.Context, olderThan time.Time) (int64, error)
}

// BillingEventStore records raw webhook payloads for auditing. Recording
// the same event ID twice is a no-op so webhook redelivery stays safe.
type BillingEventStore interface {
	RecordBillingEvent(ctx context.Context, eventID, eventType string, payload json.RawMessage) error
}

// Store bundles the three persistence concerns behind one value, the way
// the handlers and worker consume them.
type Store interface {
	AccountStore
	ExportJobStore
	BillingEventStore
}
