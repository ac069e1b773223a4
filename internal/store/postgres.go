package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sqlc-dev/pqtype"

	"github.com/launchpath/launchpath/internal/domain"
)

// Postgres implements Store on top of database/sql with the pgx driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

const accountColumns = `id, subject, email, tier, persistent_balance, weekly_balance,
	last_weekly_reset_at, stripe_customer_id, subscription_id, created_at, updated_at`

// =============================================================================
// Accounts
// =============================================================================

func (p *Postgres) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (p *Postgres) GetAccountBySubject(ctx context.Context, subject string) (*domain.Account, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE subject = $1`, subject)
	return scanAccount(row)
}

func (p *Postgres) GetAccountByStripeCustomer(ctx context.Context, customerID string) (*domain.Account, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = $1`, customerID)
	return scanAccount(row)
}

func (p *Postgres) CreateAccount(ctx context.Context, a *domain.Account) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO accounts (id, subject, email, tier, persistent_balance, weekly_balance,
			last_weekly_reset_at, stripe_customer_id, subscription_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.Subject, a.Email, string(a.Tier), nullInt64(a.PersistentBalance),
		a.WeeklyBalance, nullTime(a.LastWeeklyResetAt),
		a.StripeCustomerID, a.SubscriptionID, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (p *Postgres) ListAccounts(ctx context.Context, limit, offset int64) ([]domain.Account, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (p *Postgres) CountAccounts(ctx context.Context) (int64, error) {
	var count int64
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}

// UpdateWeeklyBalance is a plain write. Concurrent consumes for the same
// account can interleave read-then-write and lose a decrement.
func (p *Postgres) UpdateWeeklyBalance(ctx context.Context, id uuid.UUID, balance int64) error {
	return p.execAccountUpdate(ctx,
		`UPDATE accounts SET weekly_balance = $2, updated_at = now() WHERE id = $1`,
		id, balance)
}

func (p *Postgres) ResetWeeklyAllowance(ctx context.Context, id uuid.UUID, balance int64, resetAt time.Time) error {
	return p.execAccountUpdate(ctx,
		`UPDATE accounts SET weekly_balance = $2, last_weekly_reset_at = $3, updated_at = now() WHERE id = $1`,
		id, balance, resetAt)
}

func (p *Postgres) UpdatePersistentBalance(ctx context.Context, id uuid.UUID, balance *int64) error {
	return p.execAccountUpdate(ctx,
		`UPDATE accounts SET persistent_balance = $2, updated_at = now() WHERE id = $1`,
		id, nullInt64(balance))
}

func (p *Postgres) UpdateTier(ctx context.Context, id uuid.UUID, tier domain.Tier, persistentBalance *int64, weeklyBalance int64, resetAt *time.Time) error {
	return p.execAccountUpdate(ctx,
		`UPDATE accounts SET tier = $2, persistent_balance = $3, weekly_balance = $4,
			last_weekly_reset_at = $5, updated_at = now() WHERE id = $1`,
		id, string(tier), nullInt64(persistentBalance), weeklyBalance, nullTime(resetAt))
}

func (p *Postgres) UpdateStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error {
	return p.execAccountUpdate(ctx,
		`UPDATE accounts SET stripe_customer_id = $2, updated_at = now() WHERE id = $1`,
		id, customerID)
}

func (p *Postgres) UpdateSubscription(ctx context.Context, id uuid.UUID, subscriptionID string) error {
	return p.execAccountUpdate(ctx,
		`UPDATE accounts SET subscription_id = $2, updated_at = now() WHERE id = $1`,
		id, subscriptionID)
}

func (p *Postgres) execAccountUpdate(ctx context.Context, query string, args ...any) error {
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Export jobs
// =============================================================================

const exportJobColumns = `id, status, requested_by, object_key, account_count,
	error_message, created_at, started_at, completed_at`

func (p *Postgres) CreateExportJob(ctx context.Context, job *domain.ExportJob) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO export_jobs (id, status, requested_by, object_key, account_count,
			error_message, created_at, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, string(job.Status), job.RequestedBy, job.ObjectKey, job.AccountCount,
		job.ErrorMessage, job.CreatedAt, nullTime(job.StartedAt), nullTime(job.CompletedAt))
	if err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

func (p *Postgres) GetExportJob(ctx context.Context, id uuid.UUID) (*domain.ExportJob, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+exportJobColumns+` FROM export_jobs WHERE id = $1`, id)
	return scanExportJob(row)
}

func (p *Postgres) ClaimNextExportJob(ctx context.Context, now time.Time) (*domain.ExportJob, error) {
	// FOR UPDATE SKIP LOCKED keeps concurrent workers from claiming the
	// same job.
	row := p.db.QueryRowContext(ctx,
		`UPDATE export_jobs SET status = 'running', started_at = $1
		 WHERE id = (
			SELECT id FROM export_jobs WHERE status = 'pending'
			ORDER BY created_at LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+exportJobColumns, now)
	job, err := scanExportJob(row)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (p *Postgres) CompleteExportJob(ctx context.Context, id uuid.UUID, objectKey string, accountCount int64, completedAt time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE export_jobs SET status = 'completed', object_key = $2, account_count = $3,
			completed_at = $4 WHERE id = $1`,
		id, objectKey, accountCount, completedAt)
	if err != nil {
		return fmt.Errorf("complete export job: %w", err)
	}
	return nil
}

func (p *Postgres) FailExportJob(ctx context.Context, id uuid.UUID, errMsg string, completedAt time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE export_jobs SET status = 'failed', error_message = $2, completed_at = $3 WHERE id = $1`,
		id, errMsg, completedAt)
	if err != nil {
		return fmt.Errorf("fail export job: %w", err)
	}
	return nil
}

func (p *Postgres) RecoverStaleExportJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := p.db.ExecContext(ctx,
		`UPDATE export_jobs SET status = 'pending', started_at = NULL
		 WHERE status = 'running' AND started_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("recover stale export jobs: %w", err)
	}
	return result.RowsAffected()
}

// =============================================================================
// Billing events
// =============================================================================

func (p *Postgres) RecordBillingEvent(ctx context.Context, eventID, eventType string, payload json.RawMessage) error {
	raw := pqtype.NullRawMessage{RawMessage: payload, Valid: len(payload) > 0}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO billing_events (event_id, event_type, payload, received_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, raw)
	if err != nil {
		return fmt.Errorf("record billing event: %w", err)
	}
	return nil
}

// =============================================================================
// Scanning helpers
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		a                domain.Account
		tier             string
		persistent       sql.NullInt64
		lastReset        sql.NullTime
		stripeCustomerID sql.NullString
		subscriptionID   sql.NullString
		email            sql.NullString
	)
	err := row.Scan(&a.ID, &a.Subject, &email, &tier, &persistent, &a.WeeklyBalance,
		&lastReset, &stripeCustomerID, &subscriptionID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	a.Tier = domain.Tier(tier)
	a.Email = email.String
	a.StripeCustomerID = stripeCustomerID.String
	a.SubscriptionID = subscriptionID.String
	if persistent.Valid {
		v := persistent.Int64
		a.PersistentBalance = &v
	}
	if lastReset.Valid {
		t := lastReset.Time
		a.LastWeeklyResetAt = &t
	}
	return &a, nil
}

func scanExportJob(row rowScanner) (*domain.ExportJob, error) {
	var (
		j           domain.ExportJob
		status      string
		objectKey   sql.NullString
		errMsg      sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&j.ID, &status, &j.RequestedBy, &objectKey, &j.AccountCount,
		&errMsg, &j.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan export job: %w", err)
	}

	j.Status = domain.ExportJobStatus(status)
	j.ObjectKey = objectKey.String
	j.ErrorMessage = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
