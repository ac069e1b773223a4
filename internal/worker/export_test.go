package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchpath/launchpath/internal/domain"
	"github.com/launchpath/launchpath/internal/storage"
	"github.com/launchpath/launchpath/internal/store"
)

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewLocalStorage(storage.LocalConfig{
		BasePath: t.TempDir(),
		BaseURL:  "http://localhost:8080/files",
	}, slog.Default())
	require.NoError(t, err)
	return s
}

func seedAccounts(t *testing.T, m *store.Memory, n int) {
	t.Helper()
	base := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		a := domain.NewFreeAccount(uuid.NewString(), "", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, m.CreateAccount(context.Background(), a))
	}
}

func TestExporter_Run(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	objects := newTestStorage(t)
	seedAccounts(t, m, 7)

	exporter := NewExporter(m, objects, slog.Default())
	job := &domain.ExportJob{
		ID:        uuid.New(),
		Status:    domain.ExportJobRunning,
		CreatedAt: time.Date(2026, time.August, 31, 10, 0, 0, 0, time.UTC),
	}

	key, count, err := exporter.Run(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	assert.Equal(t, "exports/2026-08-31/"+job.ID.String()+".jsonl", key)

	rc, info, err := objects.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	assert.Greater(t, info.Size, int64(0))

	var lines int
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		assert.Equal(t, "free", rec["tier"])
		assert.NotEmpty(t, rec["id"])
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 7, lines)
}

func TestExporter_RunEmptyStore(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	objects := newTestStorage(t)

	exporter := NewExporter(m, objects, slog.Default())
	job := &domain.ExportJob{ID: uuid.New(), CreatedAt: time.Now()}

	key, count, err := exporter.Run(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// An empty archive is still written so the job can complete.
	rc, _, err := objects.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestWorker_ProcessNextJob(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	objects := newTestStorage(t)
	seedAccounts(t, m, 3)

	exporter := NewExporter(m, objects, slog.Default())
	w, err := New(m, exporter, objects, nil, "", DefaultConfig(), slog.Default())
	require.NoError(t, err)

	job := &domain.ExportJob{
		ID:        uuid.New(),
		Status:    domain.ExportJobPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, m.CreateExportJob(ctx, job))

	require.NoError(t, w.processNextJob(ctx, slog.Default()))

	got, err := m.GetExportJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExportJobCompleted, got.Status)
	assert.Equal(t, int64(3), got.AccountCount)
	assert.NotEmpty(t, got.ObjectKey)
	require.NotNil(t, got.CompletedAt)

	exists, err := objects.Exists(ctx, got.ObjectKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestWorker_ProcessNextJobNoWork(t *testing.T) {
	m := store.NewMemory()
	objects := newTestStorage(t)

	w, err := New(m, NewExporter(m, objects, slog.Default()), objects, nil, "", DefaultConfig(), slog.Default())
	require.NoError(t, err)

	err = w.processNextJob(context.Background(), slog.Default())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWorker_StartStop(t *testing.T) {
	m := store.NewMemory()
	objects := newTestStorage(t)

	cfg := DefaultConfig()
	cfg.ShutdownTimeout = time.Second
	w, err := New(m, NewExporter(m, objects, slog.Default()), objects, nil, "", cfg, slog.Default())
	require.NoError(t, err)

	w.Start(context.Background())
	w.Stop()
}
