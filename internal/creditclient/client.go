// Package creditclient is a Go client for the credits API. UI callers
// keep one Client per session: it caches the latest entitlement decision,
// refreshes it on demand, and carries a cookie jar so anonymous usage
// counters round-trip across requests.
package creditclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
)

// ErrUnavailable is returned when the credits API cannot be reached.
// Callers keep working off the cached decision.
var ErrUnavailable = errors.New("credit service unavailable")

// Decision is the client-side view of an entitlement decision.
type Decision struct {
	UserState    string
	Plan         string
	Limit        int64
	Remaining    int64
	CanCalculate bool
	ResetDate    *time.Time
	Unlimited    bool
}

// RejectionError carries a structured consume rejection.
type RejectionError struct {
	Code      string // "limit_reached" or "credits_exhausted"
	Message   string
	ResetDate *time.Time
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("consume rejected (%s): %s", e.Code, e.Message)
}

// Client talks to the credits API and caches the last known decision.
// It is safe for concurrent use.
type Client struct {
	baseURL string
	token   string // optional bearer token
	http    *http.Client
	logger  *slog.Logger

	mu     sync.RWMutex
	cached *Decision
}

// New creates a Client for the credits API at baseURL.
// token may be empty for anonymous callers.
func New(baseURL, token string, logger *slog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}, nil
}

// Credits returns the cached decision and whether one has been fetched yet.
func (c *Client) Credits() (Decision, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cached == nil {
		return Decision{}, false
	}
	return *c.cached, true
}

// RefreshCredits re-reads the decision from the server. Network and
// server failures are swallowed: they are logged and the previous cached
// state is retained.
func (c *Client) RefreshCredits(ctx context.Context) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/credits")
	if err != nil {
		c.logger.Error("failed to build credits request", "error", err)
		return
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("credits refresh failed, keeping cached state", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("credits refresh returned unexpected status, keeping cached state",
			"status", resp.StatusCode)
		return
	}

	var wire decisionWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		c.logger.Warn("failed to decode credits response, keeping cached state", "error", err)
		return
	}

	decision := wire.toDecision()
	c.mu.Lock()
	c.cached = &decision
	c.mu.Unlock()
}

// UseCredit consumes one calculation. On success the cached decision is
// overwritten with the server's response. On rejection a *RejectionError
// is returned and the cached remaining/can_calculate/reset_date are
// updated while the identity fields (state, plan, limit) are kept, since
// rejection bodies don't carry them. On network failure ErrUnavailable
// is returned and the cache is left alone.
func (c *Client) UseCredit(ctx context.Context) (Decision, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/credits/use")
	if err != nil {
		return Decision{}, fmt.Errorf("build consume request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("consume request failed", "error", err)
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var wire consumeWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Decision{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	decision := wire.toDecision()
	c.mu.Lock()
	if !wire.Success && c.cached != nil {
		decision.UserState = c.cached.UserState
		decision.Plan = c.cached.Plan
		decision.Limit = c.cached.Limit
		decision.Unlimited = c.cached.Unlimited
		if decision.ResetDate == nil {
			decision.ResetDate = c.cached.ResetDate
		}
	}
	c.cached = &decision
	c.mu.Unlock()

	if !wire.Success {
		return decision, &RejectionError{
			Code:      wire.Error,
			Message:   wire.Message,
			ResetDate: decision.ResetDate,
		}
	}

	return decision, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// =============================================================================
// Wire types
// =============================================================================

type decisionWire struct {
	UserState    string  `json:"user_state"`
	Plan         string  `json:"plan"`
	Limit        int64   `json:"limit"`
	Remaining    int64   `json:"remaining"`
	CanCalculate bool    `json:"can_calculate"`
	ResetDate    *string `json:"reset_date"`
	Unlimited    bool    `json:"unlimited"`
}

type consumeWire struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	decisionWire
}

func (w decisionWire) toDecision() Decision {
	d := Decision{
		UserState:    w.UserState,
		Plan:         w.Plan,
		Limit:        w.Limit,
		Remaining:    w.Remaining,
		CanCalculate: w.CanCalculate,
		Unlimited:    w.Unlimited,
	}
	if w.ResetDate != nil {
		if t, err := time.Parse(time.RFC3339, *w.ResetDate); err == nil {
			d.ResetDate = &t
		}
	}
	return d
}
