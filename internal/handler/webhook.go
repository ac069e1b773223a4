// Package handler contains the HTTP layer.
//
// This file implements the Stripe webhook handler that drives tier and
// credit changes from billing events.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it
// directly. Authentication is via the Stripe webhook signature.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"

	"github.com/launchpath/launchpath/internal/billing"
	"github.com/launchpath/launchpath/internal/domain"
	"github.com/launchpath/launchpath/internal/metrics"
	"github.com/launchpath/launchpath/internal/service"
	"github.com/launchpath/launchpath/internal/store"
)

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing  billing.Service
	accounts service.AccountService
	events   store.BillingEventStore
	logger   *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, accounts service.AccountService, events store.BillingEventStore, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:  billingService,
		accounts: accounts,
		events:   events,
		logger:   logger,
	}
}

// HandleStripeWebhook processes incoming Stripe webhook events.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Read body (limit to 64KB)
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	// Audit trail; redelivery of the same event ID is a no-op.
	if err := h.events.RecordBillingEvent(r.Context(), event.ID, string(event.Type), json.RawMessage(event.Data.Raw)); err != nil {
		h.logger.Error("failed to record billing event", "error", err, "event_id", event.ID)
	}

	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(event)
	case "customer.subscription.created", "customer.subscription.updated":
		h.handleSubscriptionChanged(event)
	case "customer.subscription.deleted":
		h.handleSubscriptionDeleted(event)
	case "invoice.payment_failed":
		h.handlePaymentFailed(event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
	}

	metrics.WebhookEvents.WithLabelValues(string(event.Type), "processed").Inc()
	w.WriteHeader(http.StatusOK)
}

// handleCheckoutCompleted applies one-time credit pack purchases. The
// frontend sets the account ID as the checkout's client reference.
// Subscription checkouts are handled by the subscription events instead.
func (h *WebhookHandler) handleCheckoutCompleted(event stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.logger.Error("failed to parse checkout session", "error", err)
		return
	}

	if session.Mode != stripe.CheckoutSessionModePayment {
		return
	}

	var credits int64
	if session.LineItems != nil {
		for _, item := range session.LineItems.Data {
			if item.Price != nil {
				credits += h.billing.CreditsForPriceID(item.Price.ID)
			}
		}
	}
	if credits == 0 {
		h.logger.Debug("checkout completed without credit pack items", "session_id", session.ID)
		return
	}

	account, err := h.accountForCheckout(&session)
	if err != nil {
		h.logger.Warn("no account for credit pack checkout",
			"session_id", session.ID,
			"error", err,
		)
		return
	}

	customerID := ""
	if session.Customer != nil {
		customerID = session.Customer.ID
	}
	if err := h.accounts.ApplyCreditPurchase(webhookCtx(), account.ID, credits, customerID); err != nil {
		h.logger.Error("failed to apply credit purchase",
			"error", err,
			"account_id", account.ID,
			"credits", credits,
		)
		return
	}

	h.logger.Info("credit pack applied", "account_id", account.ID, "credits", credits)
}

func (h *WebhookHandler) handleSubscriptionChanged(event stripe.Event) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription event", "error", err)
		return
	}

	if sub.Customer == nil {
		h.logger.Warn("subscription event missing customer", "subscription_id", sub.ID)
		return
	}

	account, err := h.accounts.GetByStripeCustomer(webhookCtx(), sub.Customer.ID)
	if err != nil {
		h.logger.Warn("account not found for subscription event",
			"customer_id", sub.Customer.ID,
			"subscription_id", sub.ID,
		)
		return
	}

	var tier domain.Tier
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		tier = h.billing.TierForPriceID(sub.Items.Data[0].Price.ID)
	}
	if tier == "" {
		h.logger.Warn("subscription price maps to no tier", "subscription_id", sub.ID)
		return
	}

	if sub.Status != stripe.SubscriptionStatusActive && sub.Status != stripe.SubscriptionStatusTrialing {
		h.logger.Info("subscription not active, leaving tier unchanged",
			"subscription_id", sub.ID,
			"status", sub.Status,
		)
		return
	}

	if err := h.accounts.ApplySubscription(webhookCtx(), account.ID, tier, sub.Customer.ID, sub.ID, time.Now()); err != nil {
		h.logger.Error("failed to apply subscription",
			"error", err,
			"account_id", account.ID,
		)
		return
	}

	h.logger.Info("subscription applied",
		"account_id", account.ID,
		"tier", tier,
		"status", sub.Status,
	)
}

func (h *WebhookHandler) handleSubscriptionDeleted(event stripe.Event) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription deleted event", "error", err)
		return
	}

	if sub.Customer == nil {
		h.logger.Warn("subscription deleted event missing customer", "subscription_id", sub.ID)
		return
	}

	account, err := h.accounts.GetByStripeCustomer(webhookCtx(), sub.Customer.ID)
	if err != nil {
		h.logger.Warn("account not found for subscription deletion", "customer_id", sub.Customer.ID)
		return
	}

	if err := h.accounts.DowngradeToFree(webhookCtx(), account.ID, time.Now()); err != nil {
		h.logger.Error("failed to downgrade account", "error", err, "account_id", account.ID)
		return
	}

	h.logger.Info("subscription deleted, account downgraded", "account_id", account.ID)
}

// handlePaymentFailed downgrades an account to the free tier when its
// invoice fails. Stripe retries invoices before firing this, so a single
// event is already a decisive failure.
func (h *WebhookHandler) handlePaymentFailed(event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error("failed to parse invoice event", "error", err)
		return
	}

	if invoice.Customer == nil {
		h.logger.Warn("payment failed event missing customer", "invoice_id", invoice.ID)
		return
	}

	account, err := h.accounts.GetByStripeCustomer(webhookCtx(), invoice.Customer.ID)
	if err != nil {
		h.logger.Warn("account not found for failed payment", "customer_id", invoice.Customer.ID)
		return
	}

	if err := h.accounts.DowngradeToFree(webhookCtx(), account.ID, time.Now()); err != nil {
		h.logger.Error("failed to downgrade account after payment failure",
			"error", err,
			"account_id", account.ID,
		)
		return
	}

	h.logger.Info("payment failed, account downgraded", "account_id", account.ID)
}

// accountForCheckout resolves the account a checkout belongs to: the
// client reference ID carries our account UUID, with the Stripe customer
// link as fallback for repeat buyers.
func (h *WebhookHandler) accountForCheckout(session *stripe.CheckoutSession) (*domain.Account, error) {
	if session.ClientReferenceID != "" {
		if id, parseErr := uuid.Parse(session.ClientReferenceID); parseErr == nil {
			if a, err := h.accounts.GetByID(webhookCtx(), id); err == nil {
				return a, nil
			}
		}
	}
	if session.Customer != nil {
		if a, err := h.accounts.GetByStripeCustomer(webhookCtx(), session.Customer.ID); err == nil {
			return a, nil
		}
	}
	return nil, errors.New("checkout session references no known account")
}

// webhookCtx returns a background context for webhook processing.
// Webhooks are async events and don't carry a user request context.
func webhookCtx() context.Context {
	return context.Background()
}
