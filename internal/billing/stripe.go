// Package billing provides Stripe billing integration. The checkout and
// portal flows live in the web frontend; this service verifies incoming
// webhook events and maps Stripe price IDs onto tiers and credit packs.
package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/launchpath/launchpath/internal/domain"
)

// Service defines the interface for billing operations.
type Service interface {
	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// TierForPriceID returns the subscription tier for a given Stripe
	// price ID, or the empty tier when the price is unknown.
	TierForPriceID(priceID string) domain.Tier

	// CreditsForPriceID returns the credit pack size for a given Stripe
	// price ID, or 0 when the price is not a credit pack.
	CreditsForPriceID(priceID string) int64
}

// PriceConfig holds the Stripe price IDs for each plan and the one-time
// credit pack.
type PriceConfig struct {
	PaidMonthlyPriceID       string
	PaidYearlyPriceID        string
	EnterpriseMonthlyPriceID string
	EnterpriseYearlyPriceID  string
	CreditPackPriceID        string
	CreditPackSize           int64
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
	prices        PriceConfig
	priceToTier   map[string]domain.Tier
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey authenticates Stripe API calls. The webhookSecret
// verifies incoming webhook signatures.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey

	priceToTier := make(map[string]domain.Tier)
	for _, p := range []struct {
		id   string
		tier domain.Tier
	}{
		{prices.PaidMonthlyPriceID, domain.TierPaid},
		{prices.PaidYearlyPriceID, domain.TierPaid},
		{prices.EnterpriseMonthlyPriceID, domain.TierEnterprise},
		{prices.EnterpriseYearlyPriceID, domain.TierEnterprise},
	} {
		if p.id != "" {
			priceToTier[p.id] = p.tier
		}
	}

	return &stripeService{
		webhookSecret: webhookSecret,
		prices:        prices,
		priceToTier:   priceToTier,
	}
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) TierForPriceID(priceID string) domain.Tier {
	return s.priceToTier[priceID]
}

func (s *stripeService) CreditsForPriceID(priceID string) int64 {
	if priceID != "" && priceID == s.prices.CreditPackPriceID {
		return s.prices.CreditPackSize
	}
	return 0
}
