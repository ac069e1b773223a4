package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/launchpath/launchpath/internal/domain"
	"github.com/launchpath/launchpath/internal/storage"
	"github.com/launchpath/launchpath/internal/store"
)

// exportPageSize is how many accounts are read from the store per page
// while building an archive.
const exportPageSize = 500

// Exporter builds account export archives and writes them to object
// storage. Archives are newline-delimited JSON, one account per line.
type Exporter struct {
	accounts store.AccountStore
	storage  storage.Storage
	logger   *slog.Logger
}

// NewExporter creates a new Exporter.
func NewExporter(accounts store.AccountStore, objects storage.Storage, logger *slog.Logger) *Exporter {
	return &Exporter{
		accounts: accounts,
		storage:  objects,
		logger:   logger,
	}
}

// exportRecord is one line of the archive.
type exportRecord struct {
	ID                string  `json:"id"`
	Subject           string  `json:"subject"`
	Email             string  `json:"email,omitempty"`
	Tier              string  `json:"tier"`
	PersistentBalance *int64  `json:"persistent_balance"`
	WeeklyBalance     int64   `json:"weekly_balance"`
	LastWeeklyResetAt *string `json:"last_weekly_reset_at,omitempty"`
	StripeCustomerID  string  `json:"stripe_customer_id,omitempty"`
	SubscriptionID    string  `json:"subscription_id,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

func toExportRecord(a *domain.Account) exportRecord {
	rec := exportRecord{
		ID:                a.ID.String(),
		Subject:           a.Subject,
		Email:             a.Email,
		Tier:              string(a.Tier),
		PersistentBalance: a.PersistentBalance,
		WeeklyBalance:     a.WeeklyBalance,
		StripeCustomerID:  a.StripeCustomerID,
		SubscriptionID:    a.SubscriptionID,
		CreatedAt:         a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.LastWeeklyResetAt != nil {
		s := a.LastWeeklyResetAt.UTC().Format(time.RFC3339)
		rec.LastWeeklyResetAt = &s
	}
	return rec
}

// Run builds the archive for a job and stores it.
// Returns the storage key and the number of accounts exported.
func (e *Exporter) Run(ctx context.Context, job *domain.ExportJob) (string, int64, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	var count int64
	for offset := int64(0); ; offset += exportPageSize {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}

		page, err := e.accounts.ListAccounts(ctx, exportPageSize, offset)
		if err != nil {
			return "", 0, fmt.Errorf("list accounts at offset %d: %w", offset, err)
		}
		for i := range page {
			if err := enc.Encode(toExportRecord(&page[i])); err != nil {
				return "", 0, fmt.Errorf("encode account record: %w", err)
			}
			count++
		}
		if int64(len(page)) < exportPageSize {
			break
		}
	}

	key := storage.ExportKey(job.ID, job.CreatedAt)
	err := e.storage.Put(ctx, key, &buf, storage.PutOptions{
		ContentType: storage.ContentTypeJSONLines,
		Overwrite:   true, // retried jobs reuse their key
	})
	if err != nil {
		return "", 0, fmt.Errorf("store export archive: %w", err)
	}

	e.logger.Info("export archive written",
		"job_id", job.ID,
		"key", key,
		"accounts", count,
	)

	return key, count, nil
}
