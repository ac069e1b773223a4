// Package handler contains the HTTP layer.
//
// This file implements the credit endpoints: checking the caller's
// remaining runway calculations and spending one. Anonymous callers are
// tracked through a pair of week-scoped cookies; account-backed callers
// through their stored balances.
package handler

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/launchpath/launchpath/internal/auth"
	"github.com/launchpath/launchpath/internal/domain"
	"github.com/launchpath/launchpath/internal/metrics"
	"github.com/launchpath/launchpath/internal/service"
)

// =============================================================================
// Cookie Configuration
// =============================================================================

const (
	// anonCookiePrefix scopes the plain usage cookie to a week, e.g.
	// "lp_calc_2026-W36".
	anonCookiePrefix = "lp_calc_"

	// anonIPCookiePrefix scopes the shadow cookie to a week and the
	// caller's IP, e.g. "lp_calc_ip_2026-W36_203_0_113_9". The IP copy
	// survives the plain cookie being cleared.
	anonIPCookiePrefix = "lp_calc_ip_"

	// anonCookieMaxAge expires the counters naturally after a week.
	// 7 days = 604800 seconds
	anonCookieMaxAge = 7 * 24 * 60 * 60
)

// =============================================================================
// Handler
// =============================================================================

// CreditsHandler serves the credit check and consume endpoints.
type CreditsHandler struct {
	entitlements service.EntitlementService
	logger       *slog.Logger
	isSecure     bool
	now          func() time.Time
}

// NewCreditsHandler creates a new CreditsHandler. Set isSecure in
// production so the usage cookies are HTTPS-only.
func NewCreditsHandler(entitlements service.EntitlementService, logger *slog.Logger, isSecure bool) *CreditsHandler {
	return &CreditsHandler{
		entitlements: entitlements,
		logger:       logger,
		isSecure:     isSecure,
		now:          time.Now,
	}
}

// decisionResponse is the JSON shape of an entitlement decision.
type decisionResponse struct {
	UserState    string  `json:"user_state"`
	Plan         string  `json:"plan"`
	Limit        int64   `json:"limit"`
	Remaining    int64   `json:"remaining"`
	CanCalculate bool    `json:"can_calculate"`
	ResetDate    *string `json:"reset_date,omitempty"`
	Unlimited    bool    `json:"unlimited,omitempty"`
}

func toDecisionResponse(d *domain.Decision) decisionResponse {
	resp := decisionResponse{
		UserState:    string(d.UserState),
		Plan:         string(d.Plan),
		Limit:        d.Limit,
		Remaining:    d.Remaining,
		CanCalculate: d.CanCalculate,
		Unlimited:    d.Unlimited,
	}
	if d.ResetDate != nil {
		s := d.ResetDate.UTC().Format(time.RFC3339)
		resp.ResetDate = &s
	}
	return resp
}

// =============================================================================
// GET /api/credits
// =============================================================================

// Check reports the caller's current allowance. This is a pure read: a
// due weekly reset shows up in the response but nothing is persisted and
// no cookies change.
func (h *CreditsHandler) Check(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	account := auth.GetAccount(r.Context())
	usage := h.readAnonymousUsage(r, now)

	decision, err := h.entitlements.Check(r.Context(), account, usage, now)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	metrics.EntitlementChecks.WithLabelValues(string(decision.UserState)).Inc()
	writeJSON(w, http.StatusOK, toDecisionResponse(decision))
}

// =============================================================================
// POST /api/credits/use
// =============================================================================

// consumeResponse is the JSON shape of a consumption outcome. On
// rejection Error carries the machine-readable kind and Message the
// user-facing explanation.
type consumeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	decisionResponse
}

// Use spends one calculation. For anonymous callers both usage cookies
// are rewritten with the incremented count; a caller at the cap is
// rejected without any mutation.
func (h *CreditsHandler) Use(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	account := auth.GetAccount(r.Context())
	usage := h.readAnonymousUsage(r, now)

	result, err := h.entitlements.Consume(r.Context(), account, usage, now)
	if err != nil {
		h.rejectConsume(w, r, account, err, now)
		return
	}

	if account == nil {
		h.writeAnonymousCookies(w, r, usage.WeekID, result.AnonymousCount)
	}

	metrics.CalculationsConsumed.WithLabelValues(string(result.Decision.UserState)).Inc()
	writeJSON(w, http.StatusOK, consumeResponse{
		Success:          true,
		decisionResponse: toDecisionResponse(&result.Decision),
	})
}

// rejectConsume writes the structured rejection body for entitlement
// errors and falls back to the generic error response for everything
// else.
func (h *CreditsHandler) rejectConsume(w http.ResponseWriter, r *http.Request, account *domain.Account, err error, now time.Time) {
	code := domain.ErrorCode(err)
	if code != domain.ELIMIT && code != domain.ECREDITS {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	metrics.EntitlementRejections.WithLabelValues(code).Inc()
	h.logger.Info("calculation rejected",
		"reason", code,
		"path", r.URL.Path,
	)

	resp := consumeResponse{
		Success: false,
		Error:   code,
		Message: domain.ErrorMessage(err),
	}
	// A free account at zero learns when its allowance comes back.
	if account != nil && account.Tier == domain.TierFree {
		if next := account.NextResetAt(); !next.IsZero() {
			s := next.UTC().Format(time.RFC3339)
			resp.ResetDate = &s
		}
	}
	writeJSON(w, http.StatusForbidden, resp)
}

// =============================================================================
// Anonymous usage cookies
// =============================================================================

// readAnonymousUsage assembles the caller's anonymous usage counters for
// the current week. Missing or unparseable cookies count as zero, which
// is also how a new week starts: last week's cookies have different
// names and are simply never read again.
func (h *CreditsHandler) readAnonymousUsage(r *http.Request, now time.Time) domain.AnonymousUsage {
	weekID := domain.WeekID(now)
	return domain.AnonymousUsage{
		WeekID:      weekID,
		CookieCount: readCountCookie(r, anonCookiePrefix+weekID),
		IPCount:     readCountCookie(r, ipCookieName(weekID, clientIP(r))),
	}
}

// writeAnonymousCookies persists the incremented count into both the
// plain and the IP-scoped cookie.
func (h *CreditsHandler) writeAnonymousCookies(w http.ResponseWriter, r *http.Request, weekID string, count int64) {
	value := strconv.FormatInt(count, 10)
	for _, name := range []string{anonCookiePrefix + weekID, ipCookieName(weekID, clientIP(r))} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/",
			MaxAge:   anonCookieMaxAge,
			HttpOnly: true,
			Secure:   h.isSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func readCountCookie(r *http.Request, name string) int64 {
	cookie, err := r.Cookie(name)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(cookie.Value, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ipCookieName builds the IP-scoped cookie name. Dots and colons are not
// valid in cookie names, so the IP is sanitized into a token first.
func ipCookieName(weekID, ip string) string {
	return anonIPCookiePrefix + weekID + "_" + sanitizeIPToken(ip)
}

func sanitizeIPToken(ip string) string {
	replacer := strings.NewReplacer(".", "_", ":", "_")
	return replacer.Replace(ip)
}

// clientIP extracts the caller's IP, trusting proxy headers first:
// X-Forwarded-For (first hop), then X-Real-IP, then the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
