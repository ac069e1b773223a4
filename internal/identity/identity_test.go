package identity

import (
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, secret string, claims jwtlib.MapClaims) string {
	t.Helper()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func testResolver() Resolver {
	return NewJWTResolver(Config{Secret: testSecret}, slog.Default())
}

func TestResolve_ValidToken(t *testing.T) {
	tokenStr := signToken(t, testSecret, jwtlib.MapClaims{
		"sub":   "auth0|founder42",
		"email": "founder@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	r := httptest.NewRequest("GET", "/api/credits", nil)
	r.Header.Set("Authorization", "Bearer "+tokenStr)

	id, err := testResolver().Resolve(r)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "auth0|founder42", id.Subject)
	assert.Equal(t, "founder@example.com", id.Email)
}

func TestResolve_FailsOpen(t *testing.T) {
	expired := signToken(t, testSecret, jwtlib.MapClaims{
		"sub": "auth0|founder42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signToken(t, "some-other-secret", jwtlib.MapClaims{
		"sub": "auth0|founder42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	noSubject := signToken(t, testSecret, jwtlib.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name   string
		header string
	}{
		{"no authorization header", ""},
		{"not a bearer scheme", "Basic dXNlcjpwYXNz"},
		{"empty bearer token", "Bearer "},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired token", "Bearer " + expired},
		{"wrong signing key", "Bearer " + wrongKey},
		{"missing sub claim", "Bearer " + noSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/credits", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			id, err := testResolver().Resolve(r)
			assert.NoError(t, err)
			assert.Nil(t, id)
		})
	}
}

func TestResolve_IssuerAndAudience(t *testing.T) {
	resolver := NewJWTResolver(Config{
		Secret:   testSecret,
		Issuer:   "https://auth.example.com/",
		Audience: "launchpath-api",
	}, slog.Default())

	good := signToken(t, testSecret, jwtlib.MapClaims{
		"sub": "auth0|founder42",
		"iss": "https://auth.example.com/",
		"aud": "launchpath-api",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	badIssuer := signToken(t, testSecret, jwtlib.MapClaims{
		"sub": "auth0|founder42",
		"iss": "https://evil.example.com/",
		"aud": "launchpath-api",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	r := httptest.NewRequest("GET", "/api/credits", nil)
	r.Header.Set("Authorization", "Bearer "+good)
	id, err := resolver.Resolve(r)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "auth0|founder42", id.Subject)

	r = httptest.NewRequest("GET", "/api/credits", nil)
	r.Header.Set("Authorization", "Bearer "+badIssuer)
	id, err = resolver.Resolve(r)
	assert.NoError(t, err)
	assert.Nil(t, id)
}
