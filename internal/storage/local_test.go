package storage

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(LocalConfig{
		BasePath: t.TempDir(),
		BaseURL:  "http://localhost:8080/files/",
	}, slog.Default())
	require.NoError(t, err)
	return s
}

func TestLocalStorage_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	err := s.Put(ctx, "exports/2026-08-31/a.jsonl", strings.NewReader("{\"id\":\"1\"}\n"), PutOptions{})
	require.NoError(t, err)

	rc, info, err := s.Get(ctx, "exports/2026-08-31/a.jsonl")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":\"1\"}\n", string(data))
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, ContentTypeJSONLines, info.ContentType)

	require.NoError(t, s.Delete(ctx, "exports/2026-08-31/a.jsonl"))

	_, _, err = s.Get(ctx, "exports/2026-08-31/a.jsonl")
	assert.True(t, IsNotFound(err))

	// Delete is idempotent
	require.NoError(t, s.Delete(ctx, "exports/2026-08-31/a.jsonl"))
}

func TestLocalStorage_OverwriteSemantics(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	require.NoError(t, s.Put(ctx, "k.jsonl", strings.NewReader("one"), PutOptions{}))

	err := s.Put(ctx, "k.jsonl", strings.NewReader("two"), PutOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyExists)

	require.NoError(t, s.Put(ctx, "k.jsonl", strings.NewReader("two"), PutOptions{Overwrite: true}))

	rc, _, err := s.Get(ctx, "k.jsonl")
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "two", string(data))
}

func TestLocalStorage_MaxSize(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	err := s.Put(ctx, "big.jsonl", strings.NewReader("0123456789"), PutOptions{MaxSize: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLarge)

	// The oversized file must not be left behind.
	exists, err := s.Exists(ctx, "big.jsonl")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStorage_RejectsPathTraversal(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	for _, key := range []string{"", "../escape", "exports/../../etc/passwd"} {
		err := s.Put(ctx, key, strings.NewReader("x"), PutOptions{})
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}

func TestLocalStorage_URL(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	url, err := s.URL(ctx, "exports/a.jsonl", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/exports/a.jsonl", url)
}

func TestExportKey(t *testing.T) {
	id := uuid.MustParse("123e4567-e89b-12d3-a456-426614174000")
	createdAt := time.Date(2026, time.August, 31, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "exports/2026-08-31/123e4567-e89b-12d3-a456-426614174000.jsonl", ExportKey(id, createdAt))
}
