// Package handler contains the HTTP layer.
//
// This file implements the admin API: account inspection, tier changes,
// credit grants, and account-data exports. All routes sit behind the
// admin key middleware.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/launchpath/launchpath/internal/domain"
	"github.com/launchpath/launchpath/internal/service"
)

// AdminHandler serves the admin API.
type AdminHandler struct {
	accounts service.AccountService
	exports  service.ExportService
	logger   *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(accounts service.AccountService, exports service.ExportService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		accounts: accounts,
		exports:  exports,
		logger:   logger,
	}
}

// titleCaser renders tier names for display, e.g. "enterprise" -> "Enterprise".
var titleCaser = cases.Title(language.English)

// accountResponse is the admin-facing JSON shape of an account.
type accountResponse struct {
	ID                string  `json:"id"`
	Subject           string  `json:"subject"`
	Email             string  `json:"email,omitempty"`
	Tier              string  `json:"tier"`
	PlanDisplayName   string  `json:"plan_display_name"`
	PersistentBalance *int64  `json:"persistent_balance"`
	WeeklyBalance     int64   `json:"weekly_balance"`
	LastWeeklyResetAt *string `json:"last_weekly_reset_at,omitempty"`
	StripeCustomerID  string  `json:"stripe_customer_id,omitempty"`
	SubscriptionID    string  `json:"subscription_id,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

func toAccountResponse(a *domain.Account) accountResponse {
	resp := accountResponse{
		ID:                a.ID.String(),
		Subject:           a.Subject,
		Email:             a.Email,
		Tier:              string(a.Tier),
		PlanDisplayName:   titleCaser.String(string(a.Tier)),
		PersistentBalance: a.PersistentBalance,
		WeeklyBalance:     a.WeeklyBalance,
		StripeCustomerID:  a.StripeCustomerID,
		SubscriptionID:    a.SubscriptionID,
		CreatedAt:         a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.LastWeeklyResetAt != nil {
		s := a.LastWeeklyResetAt.UTC().Format(time.RFC3339)
		resp.LastWeeklyResetAt = &s
	}
	return resp
}

// =============================================================================
// GET /admin/accounts
// =============================================================================

// ListAccounts returns a page of accounts.
//
// Query parameters: limit (default 50, max 100), offset.
func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt64(r, "limit", 50)
	offset := queryInt64(r, "offset", 0)

	accounts, total, err := h.accounts.List(r.Context(), limit, offset)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	items := make([]accountResponse, 0, len(accounts))
	for i := range accounts {
		items = append(items, toAccountResponse(&accounts[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": items,
		"total":    total,
	})
}

// =============================================================================
// GET /admin/accounts/{id}
// =============================================================================

func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("admin.get_account", "invalid account id"))
		return
	}

	account, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// =============================================================================
// PUT /admin/accounts/{id}/tier
// =============================================================================

func (h *AdminHandler) SetTier(w http.ResponseWriter, r *http.Request) {
	const op = "admin.set_tier"

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid account id"))
		return
	}

	var req struct {
		Tier string `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid request body"))
		return
	}

	account, err := h.accounts.SetTier(r.Context(), id, domain.Tier(req.Tier), time.Now())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// =============================================================================
// POST /admin/accounts/{id}/credits
// =============================================================================

func (h *AdminHandler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	const op = "admin.grant_credits"

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid account id"))
		return
	}

	var req struct {
		Credits int64 `json:"credits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid request body"))
		return
	}

	account, err := h.accounts.GrantCredits(r.Context(), id, req.Credits)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// =============================================================================
// POST /admin/exports
// =============================================================================

func (h *AdminHandler) TriggerExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestedBy string `json:"requested_by"`
	}
	// Body is optional
	_ = json.NewDecoder(r.Body).Decode(&req)

	job, err := h.exports.Enqueue(r.Context(), req.RequestedBy, time.Now())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.logger.Info("export job enqueued", "job_id", job.ID, "requested_by", req.RequestedBy)
	writeJSON(w, http.StatusAccepted, toExportJobResponse(job))
}

// =============================================================================
// GET /admin/exports/{id}
// =============================================================================

func (h *AdminHandler) GetExport(w http.ResponseWriter, r *http.Request) {
	const op = "admin.get_export"

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid export job id"))
		return
	}

	job, err := h.exports.Get(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toExportJobResponse(job))
}

// exportJobResponse is the admin-facing JSON shape of an export job.
type exportJobResponse struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	RequestedBy  string  `json:"requested_by,omitempty"`
	ObjectKey    string  `json:"object_key,omitempty"`
	AccountCount int64   `json:"account_count"`
	ErrorMessage string  `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
}

func toExportJobResponse(j *domain.ExportJob) exportJobResponse {
	resp := exportJobResponse{
		ID:           j.ID.String(),
		Status:       string(j.Status),
		RequestedBy:  j.RequestedBy,
		ObjectKey:    j.ObjectKey,
		AccountCount: j.AccountCount,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt.UTC().Format(time.RFC3339),
	}
	if j.CompletedAt != nil {
		s := j.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	return resp
}

// queryInt64 parses an integer query parameter with a default.
func queryInt64(r *http.Request, name string, def int64) int64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
