// Package service contains the business logic layer.
//
// This file implements the export service: queuing account-data export
// jobs for the background worker and reporting their status.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/launchpath/launchpath/internal/domain"
	"github.com/launchpath/launchpath/internal/store"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ExportService queues and inspects account-data export jobs.
type ExportService interface {
	// Enqueue creates a pending export job for the worker to pick up.
	Enqueue(ctx context.Context, requestedBy string, now time.Time) (*domain.ExportJob, error)

	// Get returns a single export job.
	Get(ctx context.Context, id uuid.UUID) (*domain.ExportJob, error)
}

// =============================================================================
// Implementation
// =============================================================================

type exportService struct {
	jobs   store.ExportJobStore
	logger *slog.Logger
}

// NewExportService creates a new ExportService.
func NewExportService(jobs store.ExportJobStore, logger *slog.Logger) ExportService {
	return &exportService{
		jobs:   jobs,
		logger: logger,
	}
}

func (s *exportService) Enqueue(ctx context.Context, requestedBy string, now time.Time) (*domain.ExportJob, error) {
	const op = "export.enqueue"

	job := &domain.ExportJob{
		ID:          uuid.New(),
		Status:      domain.ExportJobPending,
		RequestedBy: requestedBy,
		CreatedAt:   now.UTC(),
	}
	if err := s.jobs.CreateExportJob(ctx, job); err != nil {
		return nil, domain.Internal(err, op, "failed to enqueue export job")
	}
	return job, nil
}

func (s *exportService) Get(ctx context.Context, id uuid.UUID) (*domain.ExportJob, error) {
	const op = "export.get"

	job, err := s.jobs.GetExportJob(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound(op, "export job", id.String())
		}
		return nil, domain.Internal(err, op, "failed to fetch export job")
	}
	return job, nil
}
