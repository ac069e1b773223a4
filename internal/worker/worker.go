// Package worker runs the background export queue. Workers poll the job
// store, build account export archives through the storage adapter, and
// optionally email an operator when an archive is ready.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/launchpath/launchpath/internal/domain"
	"github.com/launchpath/launchpath/internal/email"
	"github.com/launchpath/launchpath/internal/metrics"
	"github.com/launchpath/launchpath/internal/storage"
	"github.com/launchpath/launchpath/internal/store"
)

// downloadURLTTL is how long export download links stay valid.
const downloadURLTTL = 24 * time.Hour

// Worker manages background export processing with concurrent workers.
type Worker struct {
	jobs     store.ExportJobStore
	exporter *Exporter
	objects  storage.Storage
	notifier email.EmailService // optional
	notifyTo string
	config   Config
	logger   *slog.Logger

	// Synchronization
	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
// notifier may be nil when email is not configured.
func New(jobs store.ExportJobStore, exporter *Exporter, objects storage.Storage, notifier email.EmailService, notifyTo string, config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		jobs:     jobs,
		exporter: exporter,
		objects:  objects,
		notifier: notifier,
		notifyTo: notifyTo,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins processing jobs with the configured number of concurrent workers.
// It also recovers any stale jobs from previous worker crashes.
func (w *Worker) Start(ctx context.Context) {
	if err := w.recoverStaleJobs(ctx); err != nil {
		w.logger.Error("failed to recover stale jobs", "error", err)
	}

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.runWorker(ctx, i+1)
	}

	w.logger.Info("export worker started", "concurrency", w.config.Concurrency)
}

// Stop signals all workers to stop and waits for them to finish.
// It respects the configured ShutdownTimeout.
func (w *Worker) Stop() {
	w.logger.Info("stopping export worker...")
	close(w.stopCh)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("export worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("worker shutdown timeout exceeded, some jobs may still be running")
	}
}

// recoverStaleJobs resets running jobs older than the threshold back to
// pending. This handles workers that crashed mid-export.
func (w *Worker) recoverStaleJobs(ctx context.Context) error {
	cutoff := time.Now().Add(-w.config.StaleJobThreshold)
	count, err := w.jobs.RecoverStaleExportJobs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("recover stale jobs: %w", err)
	}

	if count > 0 {
		w.logger.Warn("recovered stale export jobs", "count", count, "threshold", w.config.StaleJobThreshold)
	}

	return nil
}

// runWorker is the main loop for a worker goroutine.
// It continuously polls for jobs until stopCh is closed.
func (w *Worker) runWorker(ctx context.Context, workerID int) {
	defer w.wg.Done()

	logger := w.logger.With("worker_id", workerID)
	logger.Debug("worker started")

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			logger.Debug("worker stopping")
			return
		case <-ticker.C:
			if err := w.processNextJob(ctx, logger); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					// No jobs available, this is normal
					continue
				}
				logger.Error("failed to process export job", "error", err)
			}
		}
	}
}

// processNextJob claims and executes a single job.
// Returns store.ErrNotFound if no jobs are available.
func (w *Worker) processNextJob(ctx context.Context, logger *slog.Logger) error {
	job, err := w.jobs.ClaimNextExportJob(ctx, time.Now())
	if err != nil {
		return err
	}

	logger = logger.With("job_id", job.ID)
	logger.Info("processing export job")

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	start := time.Now()
	key, count, runErr := w.exporter.Run(jobCtx, job)
	metrics.ExportJobDuration.Observe(time.Since(start).Seconds())

	if runErr != nil {
		logger.Error("export job failed", "error", runErr)
		w.markJobFailed(ctx, job, runErr)
		return fmt.Errorf("execute export: %w", runErr)
	}

	if err := w.jobs.CompleteExportJob(ctx, job.ID, key, count, time.Now()); err != nil {
		logger.Error("failed to mark export job as completed", "error", err)
		return err
	}

	metrics.ExportJobsTotal.WithLabelValues(string(domain.ExportJobCompleted)).Inc()
	logger.Info("export job completed", "key", key, "accounts", count)

	w.notifyCompleted(ctx, job, key, count, logger)
	return nil
}

// markJobFailed records the failure on the job and notifies the operator.
func (w *Worker) markJobFailed(ctx context.Context, job *domain.ExportJob, jobErr error) {
	if err := w.jobs.FailExportJob(ctx, job.ID, jobErr.Error(), time.Now()); err != nil {
		w.logger.Error("failed to mark export job as failed", "job_id", job.ID, "error", err)
	}
	metrics.ExportJobsTotal.WithLabelValues(string(domain.ExportJobFailed)).Inc()

	if w.notifier != nil && w.notifyTo != "" {
		if err := w.notifier.SendExportFailedEmail(ctx, w.notifyTo, job.ID.String(), jobErr.Error()); err != nil {
			w.logger.Error("failed to send export failure email", "job_id", job.ID, "error", err)
		}
	}
}

// notifyCompleted emails the operator a download link. Notification
// failures are logged but never fail the job.
func (w *Worker) notifyCompleted(ctx context.Context, job *domain.ExportJob, key string, count int64, logger *slog.Logger) {
	if w.notifier == nil || w.notifyTo == "" {
		return
	}

	url, err := w.objects.URL(ctx, key, downloadURLTTL)
	if err != nil {
		logger.Error("failed to generate export download URL", "error", err)
		return
	}

	if err := w.notifier.SendExportReadyEmail(ctx, w.notifyTo, url, count); err != nil {
		logger.Error("failed to send export ready email", "error", err)
	}
}
