/**
 * @description
 * This file defines the core domain models for the onboarding-service.
 * The UserProfile struct mirrors the profiles table and carries every field
 * the onboarding pipeline reads or writes. Enum-like string types keep the
 * persisted vocabularies in one place.
 */
package domain

import "time"

// SubscriptionTier is the plan a user selected during onboarding.
type SubscriptionTier string

const (
	TierStarter SubscriptionTier = "starter"
	TierPlus    SubscriptionTier = "plus"
	TierPro     SubscriptionTier = "pro"
	TierMax     SubscriptionTier = "max"
)

// ValidTier reports whether t is one of the four sellable tiers.
func ValidTier(t SubscriptionTier) bool {
	switch t {
	case TierStarter, TierPlus, TierPro, TierMax:
		return true
	}
	return false
}

// SubscriptionShares returns the recurring share grant for a tier.
// Unknown tiers grant nothing.
func SubscriptionShares(t SubscriptionTier) int64 {
	switch t {
	case TierStarter:
		return 5
	case TierPlus:
		return 10
	case TierPro:
		return 20
	case TierMax:
		return 40
	}
	return 0
}

// KYCStatus is the internal identity-verification state. It is written only
// by the identity-verification event handler.
type KYCStatus string

const (
	KYCNotStarted  KYCStatus = "not_started"
	KYCPending     KYCStatus = "pending"
	KYCApproved    KYCStatus = "approved"
	KYCDeclined    KYCStatus = "declined"
	KYCNeedsReview KYCStatus = "needs_review"
)

// SubscriptionStatus is the internal billing state. It is written only by the
// payment and subscription lifecycle handlers.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionPending   SubscriptionStatus = "pending"
)

// UserProfile represents one authenticated user's onboarding state.
//
// OnboardingCompletedAt is write-once and webhook-only: it is the single
// authoritative completion flag, set by the payment event handler through an
// atomic conditional update and never cleared.
type UserProfile struct {
	ID                    string             `json:"id"`
	SelectedTier          SubscriptionTier   `json:"selected_subscription_tier"` // empty string means not selected
	DisclosuresAcceptedAt *time.Time         `json:"disclosures_accepted_at"`
	KYCStatus             KYCStatus          `json:"kyc_status"`
	KYCInquiryID          *string            `json:"kyc_inquiry_id"`
	KYCAccountID          *string            `json:"kyc_account_id"`
	KYCApprovedAt         *time.Time         `json:"kyc_approved_at"`
	KYCDeclinedReason     *string            `json:"kyc_declined_reason"`
	BillingCustomerID     *string            `json:"billing_customer_id"`
	BillingSubscriptionID *string            `json:"billing_subscription_id"`
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`
	SubscriptionPeriodEnd *time.Time         `json:"subscription_period_end"`
	OnboardingCompletedAt *time.Time         `json:"onboarding_completed_at"`
	SharesBalance         int64              `json:"shares_balance"` // derived from the ledger, never written directly
	PendingReferralCode   *string            `json:"pending_referral_code"`
	ReferralCode          string             `json:"referral_code"`
}

// OnboardingComplete reports whether the completion flag has been stamped.
func (p *UserProfile) OnboardingComplete() bool {
	return p != nil && p.OnboardingCompletedAt != nil
}
