package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExportJobStatus tracks an admin data export through its lifecycle.
type ExportJobStatus string

const (
	ExportJobPending   ExportJobStatus = "pending"
	ExportJobRunning   ExportJobStatus = "running"
	ExportJobCompleted ExportJobStatus = "completed"
	ExportJobFailed    ExportJobStatus = "failed"
)

// ExportJob represents one requested account-data export. Jobs are queued
// by the admin API and drained by the background worker, which writes the
// archive through the storage adapter.
type ExportJob struct {
	ID           uuid.UUID
	Status       ExportJobStatus
	RequestedBy  string // admin key label or operator note
	ObjectKey    string // storage key of the finished archive
	AccountCount int64
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}
