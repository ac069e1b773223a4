// Package auth provides authentication context helpers.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"

	"github.com/launchpath/launchpath/internal/domain"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// accountContextKey is the key used to store the resolved account in context.
	accountContextKey contextKey = "account"
)

// GetAccount retrieves the resolved account from the context.
//
// Returns nil for anonymous callers.
//
// Usage:
//
//	account := auth.GetAccount(r.Context())
//	if account == nil {
//	    // Anonymous caller: judge entitlement from cookies
//	}
func GetAccount(ctx context.Context) *domain.Account {
	account, ok := ctx.Value(accountContextKey).(*domain.Account)
	if !ok {
		return nil
	}
	return account
}

// GetAccountFromRequest retrieves the resolved account from the request context.
//
// This is a convenience wrapper around GetAccount that takes the request directly.
func GetAccountFromRequest(r *http.Request) *domain.Account {
	return GetAccount(r.Context())
}

// SetAccount stores an account in the context.
//
// This is typically called by the auth middleware after resolving a
// bearer token to an account.
func SetAccount(ctx context.Context, account *domain.Account) context.Context {
	return context.WithValue(ctx, accountContextKey, account)
}
