// Package middleware contains HTTP middleware for the LaunchPath API.
//
// Middleware functions follow the standard Go pattern of wrapping
// http.Handler and are composed with Stack.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/launchpath/launchpath/internal/auth"
	"github.com/launchpath/launchpath/internal/handler"
	"github.com/launchpath/launchpath/internal/identity"
	"github.com/launchpath/launchpath/internal/service"
)

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware resolves bearer tokens into accounts.
type AuthMiddleware struct {
	resolver identity.Resolver
	accounts service.AccountService
	logger   *slog.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware instance.
func NewAuthMiddleware(resolver identity.Resolver, accounts service.AccountService, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		resolver: resolver,
		accounts: accounts,
		logger:   logger,
	}
}

// WithAccount attempts to resolve the caller's bearer token into an
// account and stores it in the request context. Credential problems
// (missing, malformed, expired tokens) downgrade the caller to anonymous
// and the request proceeds; storage failures and unknown subjects with
// auto-provisioning disabled surface as errors.
//
// Handlers retrieve the account with:
//
//	account := auth.GetAccount(r.Context())
func (m *AuthMiddleware) WithAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.resolver.Resolve(r)
		if err != nil || id == nil {
			// Anonymous caller
			next.ServeHTTP(w, r)
			return
		}

		account, err := m.accounts.ResolveOrProvision(r.Context(), *id, time.Now())
		if err != nil {
			handler.ErrorResponse(w, r, m.logger, err)
			return
		}

		ctx := auth.SetAccount(r.Context(), account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAccount rejects anonymous callers with 401. Must run after
// WithAccount.
func (m *AuthMiddleware) RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetAccount(r.Context()) == nil {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first
// middleware in the slice is the outermost (runs first on request, last
// on response).
//
// Example:
//
//	stack := Stack(loggingMw, authMw.WithAccount)
//	mux.Handle("GET /api/credits", stack(creditsHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
