/**
 * @description
 * Checkout session issuer. Validates eligibility in a fixed order (each a
 * distinct failure mode), lazily creates or reuses the processor customer
 * record, and requests an embedded checkout session tagged with the metadata
 * the payment event handler later correlates on.
 */
package app

import (
	"context"
	"errors"

	"github.com/ampel/onboarding-service/internal/domain"
)

// CheckoutResult is returned to the authenticated caller. The server secret
// never leaves this service; only the session's client secret is exposed.
type CheckoutResult struct {
	ClientSecret string `json:"clientSecret"`
	CustomerID   string `json:"customerId"`
	SessionID    string `json:"sessionId"`
}

// CreateCheckoutSession validates the caller's eligibility and opens an
// embedded checkout session. Precondition order: price allow-list, tier
// selected, KYC approved.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID, priceID string) (*CheckoutResult, error) {
	tier, allowed := s.priceTiers[priceID]
	if !allowed {
		return nil, ErrUnknownPrice
	}

	profile, err := s.repo.GetProfileByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile.SelectedTier == "" {
		return nil, ErrTierNotSelected
	}
	if profile.KYCStatus != domain.KYCApproved {
		return nil, ErrKYCNotApproved
	}
	if tier != profile.SelectedTier {
		// Not a hard failure: the session metadata carries the tier actually
		// being purchased, which is what the grant logic uses.
		s.logger.Warn("checkout price tier differs from selected tier",
			"user_id", userID, "price_tier", tier, "selected_tier", profile.SelectedTier)
	}

	customerID, err := s.ensureBillingCustomer(ctx, profile)
	if err != nil {
		return nil, err
	}

	session, err := s.billing.CreateCheckoutSession(ctx, CheckoutSessionParams{
		CustomerID: customerID,
		PriceID:    priceID,
		UserID:     userID,
		Tier:       tier,
		ReturnURL:  s.returnURL,
	})
	if err != nil {
		return nil, err
	}

	return &CheckoutResult{
		ClientSecret: session.ClientSecret,
		CustomerID:   customerID,
		SessionID:    session.ID,
	}, nil
}

// ensureBillingCustomer reuses the stored processor customer after verifying
// it still resolves upstream, creating a fresh one otherwise. The user id is
// stored in the customer metadata for later webhook correlation.
func (s *Service) ensureBillingCustomer(ctx context.Context, profile *domain.UserProfile) (string, error) {
	if profile.BillingCustomerID != nil && *profile.BillingCustomerID != "" {
		exists, err := s.billing.CustomerExists(ctx, *profile.BillingCustomerID)
		if err != nil {
			return "", err
		}
		if exists {
			return *profile.BillingCustomerID, nil
		}
		s.logger.Warn("stored billing customer no longer resolves upstream, recreating",
			"user_id", profile.ID, "customer_id", *profile.BillingCustomerID)
	}

	customerID, err := s.billing.CreateCustomer(ctx, profile.ID, "")
	if err != nil {
		return "", err
	}
	if err := s.repo.SetBillingCustomer(ctx, profile.ID, customerID); err != nil {
		return "", err
	}
	return customerID, nil
}

// IsEligibilityError reports whether err is one of the checkout precondition
// failures, letting the HTTP layer map each to its own status code.
func IsEligibilityError(err error) bool {
	return errors.Is(err, ErrUnknownPrice) ||
		errors.Is(err, ErrTierNotSelected) ||
		errors.Is(err, ErrKYCNotApproved)
}
