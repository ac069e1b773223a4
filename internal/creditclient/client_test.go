package creditclient

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchpath/launchpath/internal/handler"
	"github.com/launchpath/launchpath/internal/service"
	"github.com/launchpath/launchpath/internal/store"
)

// newTestServer mounts the real credits handler over an in-memory store
// so client tests exercise the actual cookie round-trip.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	entitlements := service.NewEntitlementService(store.NewMemory(), slog.Default())
	credits := handler.NewCreditsHandler(entitlements, slog.Default(), false)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/credits", credits.Check)
	mux.HandleFunc("POST /api/credits/use", credits.Use)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_AnonymousFlow(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)

	c, err := New(srv.URL, "", slog.Default())
	require.NoError(t, err)

	_, ok := c.Credits()
	assert.False(t, ok, "no decision cached before first fetch")

	c.RefreshCredits(ctx)
	d, ok := c.Credits()
	require.True(t, ok)
	assert.Equal(t, "anonymous", d.UserState)
	assert.Equal(t, int64(3), d.Remaining)
	assert.True(t, d.CanCalculate)

	// The cookie jar carries the counters, so each consume sees the last.
	for want := int64(2); want >= 0; want-- {
		d, err := c.UseCredit(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, d.Remaining)
	}

	// Fourth consume hits the weekly cap.
	d, err = c.UseCredit(ctx)
	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, "limit_reached", rejection.Code)
	assert.False(t, d.CanCalculate)

	// The cache mirrors the rejection outcome but keeps the identity
	// fields from the last full decision, so a UI reading it still knows
	// who the caller is and what their cap was.
	d, ok = c.Credits()
	require.True(t, ok)
	assert.False(t, d.CanCalculate)
	assert.Equal(t, int64(0), d.Remaining)
	assert.Equal(t, "anonymous", d.UserState)
	assert.Equal(t, "anonymous", d.Plan)
	assert.Equal(t, int64(3), d.Limit)
}

func TestClient_RefreshSwallowsNetworkErrors(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)

	c, err := New(srv.URL, "", slog.Default())
	require.NoError(t, err)

	c.RefreshCredits(ctx)
	before, ok := c.Credits()
	require.True(t, ok)

	srv.Close()

	c.RefreshCredits(ctx)
	after, ok := c.Credits()
	require.True(t, ok, "cached decision survives a failed refresh")
	assert.Equal(t, before, after)
}

func TestClient_UseCreditUnavailable(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)

	c, err := New(srv.URL, "", slog.Default())
	require.NoError(t, err)
	c.RefreshCredits(ctx)
	before, _ := c.Credits()

	srv.Close()

	_, err = c.UseCredit(ctx)
	assert.True(t, errors.Is(err, ErrUnavailable))

	after, ok := c.Credits()
	require.True(t, ok)
	assert.Equal(t, before, after, "cache untouched on network failure")
}

func TestClient_RefreshKeepsCacheOnServerError(t *testing.T) {
	ctx := context.Background()

	var failing bool
	entitlements := service.NewEntitlementService(store.NewMemory(), slog.Default())
	credits := handler.NewCreditsHandler(entitlements, slog.Default(), false)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/credits", func(w http.ResponseWriter, r *http.Request) {
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		credits.Check(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL, "", slog.Default())
	require.NoError(t, err)

	c.RefreshCredits(ctx)
	before, ok := c.Credits()
	require.True(t, ok)

	failing = true
	c.RefreshCredits(ctx)
	after, ok := c.Credits()
	require.True(t, ok)
	assert.Equal(t, before, after)
}
