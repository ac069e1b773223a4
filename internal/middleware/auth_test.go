package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchpath/launchpath/internal/auth"
	"github.com/launchpath/launchpath/internal/domain"
	"github.com/launchpath/launchpath/internal/identity"
	"github.com/launchpath/launchpath/internal/service"
	"github.com/launchpath/launchpath/internal/store"
)

const testSecret = "middleware-test-secret"

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub":   subject,
		"email": subject + "@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newAuthFixture(t *testing.T, autoProvision bool) (*AuthMiddleware, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	resolver := identity.NewJWTResolver(identity.Config{Secret: testSecret}, slog.Default())
	accounts := service.NewAccountService(m, autoProvision, slog.Default())
	return NewAuthMiddleware(resolver, accounts, slog.Default()), m
}

func accountCapture(captured **domain.Account) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = auth.GetAccount(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestWithAccount_ValidTokenProvisions(t *testing.T) {
	mw, m := newAuthFixture(t, true)

	var captured *domain.Account
	h := mw.WithAccount(accountCapture(&captured))

	r := httptest.NewRequest("GET", "/api/credits", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "auth0|mw-user"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "auth0|mw-user", captured.Subject)
	assert.Equal(t, domain.TierFree, captured.Tier)

	count, err := m.CountAccounts(r.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestWithAccount_NoTokenIsAnonymous(t *testing.T) {
	mw, m := newAuthFixture(t, true)

	var captured *domain.Account
	h := mw.WithAccount(accountCapture(&captured))

	r := httptest.NewRequest("GET", "/api/credits", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, captured)

	count, err := m.CountAccounts(r.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestWithAccount_BadTokenFailsOpen(t *testing.T) {
	mw, _ := newAuthFixture(t, true)

	var captured *domain.Account
	h := mw.WithAccount(accountCapture(&captured))

	r := httptest.NewRequest("GET", "/api/credits", nil)
	r.Header.Set("Authorization", "Bearer not.a.token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, captured)
}

func TestWithAccount_ProvisioningDisabledReturns404(t *testing.T) {
	mw, _ := newAuthFixture(t, false)

	h := mw.WithAccount(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	r := httptest.NewRequest("GET", "/api/credits", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "auth0|unknown"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequireAccount(t *testing.T) {
	mw, _ := newAuthFixture(t, true)

	h := mw.RequireAccount(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest("GET", "/api/export", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	account := &domain.Account{Tier: domain.TierFree}
	r = httptest.NewRequest("GET", "/api/export", nil)
	r = r.WithContext(auth.SetAccount(r.Context(), account))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStack_Order(t *testing.T) {
	var order []string
	mk := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Stack(mk("outer"), mk("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
