package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchpath/launchpath/internal/auth"
	"github.com/launchpath/launchpath/internal/domain"
	"github.com/launchpath/launchpath/internal/service"
	"github.com/launchpath/launchpath/internal/store"
)

var fixedNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newCreditsFixture(t *testing.T) (*CreditsHandler, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	h := NewCreditsHandler(service.NewEntitlementService(m, slog.Default()), slog.Default(), false)
	h.now = func() time.Time { return fixedNow }
	return h, m
}

func withAccount(r *http.Request, a *domain.Account) *http.Request {
	return r.WithContext(auth.SetAccount(r.Context(), a))
}

func addUsageCookies(r *http.Request, weekID string, cookieCount, ipCount int64, ip string) {
	r.AddCookie(&http.Cookie{
		Name:  anonCookiePrefix + weekID,
		Value: strconv.FormatInt(cookieCount, 10),
	})
	r.AddCookie(&http.Cookie{
		Name:  ipCookieName(weekID, ip),
		Value: strconv.FormatInt(ipCount, 10),
	})
}

func decodeConsume(t *testing.T, w *httptest.ResponseRecorder) consumeResponse {
	t.Helper()
	var resp consumeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeDecision(t *testing.T, w *httptest.ResponseRecorder) decisionResponse {
	t.Helper()
	var resp decisionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// =============================================================================
// GET /api/credits
// =============================================================================

func TestCheck_AnonymousFreshWeek(t *testing.T) {
	h, _ := newCreditsFixture(t)

	r := httptest.NewRequest("GET", "/api/credits", nil)
	r.RemoteAddr = "203.0.113.9:4567"
	w := httptest.NewRecorder()
	h.Check(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeDecision(t, w)
	assert.Equal(t, "anonymous", resp.UserState)
	assert.Equal(t, int64(3), resp.Remaining)
	assert.True(t, resp.CanCalculate)

	// Checks never set cookies.
	assert.Empty(t, w.Result().Cookies())
}

func TestCheck_AnonymousIPCookieDominates(t *testing.T) {
	h, _ := newCreditsFixture(t)
	weekID := domain.WeekID(fixedNow)

	// Cleared plain cookie, surviving IP cookie.
	r := httptest.NewRequest("GET", "/api/credits", nil)
	r.RemoteAddr = "203.0.113.9:4567"
	addUsageCookies(r, weekID, 0, 3, "203.0.113.9")
	w := httptest.NewRecorder()
	h.Check(w, r)

	resp := decodeDecision(t, w)
	assert.Equal(t, int64(0), resp.Remaining)
	assert.False(t, resp.CanCalculate)
}

func TestCheck_FreeAccountPreviewsReset(t *testing.T) {
	h, m := newCreditsFixture(t)
	lastReset := fixedNow.Add(-10 * 24 * time.Hour)
	a := domain.NewFreeAccount("auth0|preview", "p@example.com", lastReset)
	a.WeeklyBalance = 0
	require.NoError(t, m.CreateAccount(context.Background(), a))

	r := withAccount(httptest.NewRequest("GET", "/api/credits", nil), a)
	w := httptest.NewRecorder()
	h.Check(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeDecision(t, w)
	assert.Equal(t, "free", resp.UserState)
	assert.Equal(t, int64(3), resp.Remaining)

	// The preview must not have been committed.
	stored, err := m.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.WeeklyBalance)
	assert.Equal(t, lastReset, *stored.LastWeeklyResetAt)
}

func TestCheck_PaidUnlimited(t *testing.T) {
	h, m := newCreditsFixture(t)
	a := &domain.Account{Tier: domain.TierPaid, Subject: "auth0|unl"}
	require.NoError(t, m.CreateAccount(context.Background(), a))

	r := withAccount(httptest.NewRequest("GET", "/api/credits", nil), a)
	w := httptest.NewRecorder()
	h.Check(w, r)

	resp := decodeDecision(t, w)
	assert.Equal(t, "paid", resp.UserState)
	assert.True(t, resp.Unlimited)
	assert.True(t, resp.CanCalculate)
}

// =============================================================================
// POST /api/credits/use
// =============================================================================

func TestUse_AnonymousSetsBothCookies(t *testing.T) {
	h, _ := newCreditsFixture(t)
	weekID := domain.WeekID(fixedNow)

	r := httptest.NewRequest("POST", "/api/credits/use", nil)
	r.RemoteAddr = "203.0.113.9:4567"
	addUsageCookies(r, weekID, 1, 1, "203.0.113.9")
	w := httptest.NewRecorder()
	h.Use(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeConsume(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(1), resp.Remaining)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 2)
	byName := map[string]*http.Cookie{}
	for _, c := range cookies {
		byName[c.Name] = c
	}

	plain := byName[anonCookiePrefix+weekID]
	require.NotNil(t, plain)
	assert.Equal(t, "2", plain.Value)
	assert.True(t, plain.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, plain.SameSite)
	assert.Equal(t, anonCookieMaxAge, plain.MaxAge)

	ipCookie := byName[anonIPCookiePrefix+weekID+"_203_0_113_9"]
	require.NotNil(t, ipCookie)
	assert.Equal(t, "2", ipCookie.Value)
}

func TestUse_AnonymousAtCapRejectsWithoutCookies(t *testing.T) {
	h, _ := newCreditsFixture(t)
	weekID := domain.WeekID(fixedNow)

	r := httptest.NewRequest("POST", "/api/credits/use", nil)
	r.RemoteAddr = "203.0.113.9:4567"
	addUsageCookies(r, weekID, 3, 0, "203.0.113.9")
	w := httptest.NewRecorder()
	h.Use(w, r)

	require.Equal(t, http.StatusForbidden, w.Code)
	resp := decodeConsume(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, domain.ELIMIT, resp.Error)
	assert.NotEmpty(t, resp.Message)
	assert.Empty(t, w.Result().Cookies())
}

func TestUse_FreeCommitsResetThenDecrements(t *testing.T) {
	h, m := newCreditsFixture(t)
	lastReset := fixedNow.Add(-8 * 24 * time.Hour)
	a := domain.NewFreeAccount("auth0|expired", "e@example.com", lastReset)
	a.WeeklyBalance = 0
	require.NoError(t, m.CreateAccount(context.Background(), a))

	r := withAccount(httptest.NewRequest("POST", "/api/credits/use", nil), a)
	w := httptest.NewRecorder()
	h.Use(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeConsume(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(2), resp.Remaining)

	stored, err := m.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.WeeklyBalance)
	assert.Equal(t, fixedNow, *stored.LastWeeklyResetAt)
}

func TestUse_FreeExhaustedIncludesResetDate(t *testing.T) {
	h, m := newCreditsFixture(t)
	lastReset := fixedNow.Add(-24 * time.Hour)
	a := domain.NewFreeAccount("auth0|broke", "b@example.com", lastReset)
	a.WeeklyBalance = 0
	require.NoError(t, m.CreateAccount(context.Background(), a))

	r := withAccount(httptest.NewRequest("POST", "/api/credits/use", nil), a)
	w := httptest.NewRecorder()
	h.Use(w, r)

	require.Equal(t, http.StatusForbidden, w.Code)
	resp := decodeConsume(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, domain.ECREDITS, resp.Error)
	require.NotNil(t, resp.ResetDate)
	assert.Equal(t, lastReset.Add(7*24*time.Hour).Format(time.RFC3339), *resp.ResetDate)
}

func TestUse_PaidSingleCredit(t *testing.T) {
	h, m := newCreditsFixture(t)
	one := int64(1)
	a := &domain.Account{Tier: domain.TierPaid, Subject: "auth0|one", PersistentBalance: &one}
	require.NoError(t, m.CreateAccount(context.Background(), a))

	r := withAccount(httptest.NewRequest("POST", "/api/credits/use", nil), a)
	w := httptest.NewRecorder()
	h.Use(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeConsume(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(0), resp.Remaining)

	stored, err := m.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)

	r = withAccount(httptest.NewRequest("POST", "/api/credits/use", nil), stored)
	w = httptest.NewRecorder()
	h.Use(w, r)

	require.Equal(t, http.StatusForbidden, w.Code)
	resp = decodeConsume(t, w)
	assert.Equal(t, domain.ECREDITS, resp.Error)
}

// =============================================================================
// Helpers
// =============================================================================

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "198.51.100.7:1234",
			want:       "198.51.100.7",
		},
		{
			name:       "x-forwarded-for wins",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"},
			want:       "203.0.113.9",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Real-IP": "203.0.113.20"},
			want:       "203.0.113.20",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(r))
		})
	}
}

func TestSanitizeIPToken(t *testing.T) {
	assert.Equal(t, "203_0_113_9", sanitizeIPToken("203.0.113.9"))
	assert.Equal(t, "2001_db8__1", sanitizeIPToken("2001:db8::1"))
}
