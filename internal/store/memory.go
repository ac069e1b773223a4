package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/launchpath/launchpath/internal/domain"
)

// Memory is a mutex-guarded in-memory Store used by tests. It mirrors the
// Postgres implementation's semantics, including plain balance writes.
type Memory struct {
	mu            sync.Mutex
	accounts      map[uuid.UUID]*domain.Account
	exportJobs    map[uuid.UUID]*domain.ExportJob
	billingEvents map[string]json.RawMessage
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:      make(map[uuid.UUID]*domain.Account),
		exportJobs:    make(map[uuid.UUID]*domain.ExportJob),
		billingEvents: make(map[string]json.RawMessage),
	}
}

var _ Store = (*Memory)(nil)

// =============================================================================
// Accounts
// =============================================================================

func (m *Memory) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAccount(a), nil
}

func (m *Memory) GetAccountBySubject(ctx context.Context, subject string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Subject == subject {
			return copyAccount(a), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetAccountByStripeCustomer(ctx context.Context, customerID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.StripeCustomerID == customerID && customerID != "" {
			return copyAccount(a), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateAccount(ctx context.Context, account *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; ok {
		return ErrDuplicate
	}
	for _, a := range m.accounts {
		if a.Subject == account.Subject {
			return ErrDuplicate
		}
	}
	m.accounts[account.ID] = copyAccount(account)
	return nil
}

func (m *Memory) ListAccounts(ctx context.Context, limit, offset int64) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*domain.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	if offset >= int64(len(all)) {
		return nil, nil
	}
	all = all[offset:]
	if limit < int64(len(all)) {
		all = all[:limit]
	}

	out := make([]domain.Account, 0, len(all))
	for _, a := range all {
		out = append(out, *copyAccount(a))
	}
	return out, nil
}

func (m *Memory) CountAccounts(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.accounts)), nil
}

func (m *Memory) UpdateWeeklyBalance(ctx context.Context, id uuid.UUID, balance int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.WeeklyBalance = balance
	a.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) ResetWeeklyAllowance(ctx context.Context, id uuid.UUID, balance int64, resetAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.WeeklyBalance = balance
	t := resetAt
	a.LastWeeklyResetAt = &t
	a.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) UpdatePersistentBalance(ctx context.Context, id uuid.UUID, balance *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.PersistentBalance = copyInt64(balance)
	a.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) UpdateTier(ctx context.Context, id uuid.UUID, tier domain.Tier, persistentBalance *int64, weeklyBalance int64, resetAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Tier = tier
	a.PersistentBalance = copyInt64(persistentBalance)
	a.WeeklyBalance = weeklyBalance
	a.LastWeeklyResetAt = copyTime(resetAt)
	a.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) UpdateStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.StripeCustomerID = customerID
	a.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) UpdateSubscription(ctx context.Context, id uuid.UUID, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.SubscriptionID = subscriptionID
	a.UpdatedAt = time.Now()
	return nil
}

// =============================================================================
// Export jobs
// =============================================================================

func (m *Memory) CreateExportJob(ctx context.Context, job *domain.ExportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exportJobs[job.ID]; ok {
		return ErrDuplicate
	}
	m.exportJobs[job.ID] = copyExportJob(job)
	return nil
}

func (m *Memory) GetExportJob(ctx context.Context, id uuid.UUID) (*domain.ExportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.exportJobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyExportJob(j), nil
}

func (m *Memory) ClaimNextExportJob(ctx context.Context, now time.Time) (*domain.ExportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *domain.ExportJob
	for _, j := range m.exportJobs {
		if j.Status != domain.ExportJobPending {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, ErrNotFound
	}
	oldest.Status = domain.ExportJobRunning
	t := now
	oldest.StartedAt = &t
	return copyExportJob(oldest), nil
}

func (m *Memory) CompleteExportJob(ctx context.Context, id uuid.UUID, objectKey string, accountCount int64, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.exportJobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = domain.ExportJobCompleted
	j.ObjectKey = objectKey
	j.AccountCount = accountCount
	t := completedAt
	j.CompletedAt = &t
	return nil
}

func (m *Memory) FailExportJob(ctx context.Context, id uuid.UUID, errMsg string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.exportJobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = domain.ExportJobFailed
	j.ErrorMessage = errMsg
	t := completedAt
	j.CompletedAt = &t
	return nil
}

func (m *Memory) RecoverStaleExportJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var recovered int64
	for _, j := range m.exportJobs {
		if j.Status == domain.ExportJobRunning && j.StartedAt != nil && j.StartedAt.Before(olderThan) {
			j.Status = domain.ExportJobPending
			j.StartedAt = nil
			recovered++
		}
	}
	return recovered, nil
}

// =============================================================================
// Billing events
// =============================================================================

func (m *Memory) RecordBillingEvent(ctx context.Context, eventID, eventType string, payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.billingEvents[eventID]; ok {
		return nil
	}
	m.billingEvents[eventID] = append(json.RawMessage(nil), payload...)
	return nil
}

// BillingEventCount reports how many distinct events have been recorded.
// Test helper.
func (m *Memory) BillingEventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.billingEvents)
}

func copyAccount(a *domain.Account) *domain.Account {
	c := *a
	c.PersistentBalance = copyInt64(a.PersistentBalance)
	c.LastWeeklyResetAt = copyTime(a.LastWeeklyResetAt)
	return &c
}

func copyExportJob(j *domain.ExportJob) *domain.ExportJob {
	c := *j
	c.StartedAt = copyTime(j.StartedAt)
	c.CompletedAt = copyTime(j.CompletedAt)
	return &c
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
