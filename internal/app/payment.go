/**
 * @description
 * Payment event handler and subscription lifecycle handler.
 *
 * ProcessCheckoutCompleted is the commit point of the whole onboarding
 * pipeline: it claims the write-once completion flag with an atomic
 * conditional update, then grants equity shares. Because the processor
 * delivers webhooks at least once, every side effect here must be idempotent
 * or gated behind the completion claim.
 *
 * The lifecycle handlers are pure overwrites of subscription state and never
 * touch the ledger or the completion flag.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ampel/onboarding-service/internal/domain"
	"github.com/ampel/onboarding-service/internal/store"
)

// WebhookResult is the structured acknowledgement returned to the webhook
// endpoint. The endpoint always responds 200 with this body so the sender
// never retries a permanently-failing event.
type WebhookResult struct {
	Received  bool   `json:"received"`
	Event     string `json:"event,omitempty"`
	Processed bool   `json:"processed,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProcessCheckoutCompleted handles a verified checkout.session.completed
// delivery. Validation failures are logged and acknowledged, never retried.
func (s *Service) ProcessCheckoutCompleted(ctx context.Context, ev domain.CheckoutCompletedEvent) WebhookResult {
	result := WebhookResult{Received: true, Event: "checkout.session.completed"}

	userID := ev.Metadata["user_id"]
	tier := domain.SubscriptionTier(ev.Metadata["tier"])
	if userID == "" || !domain.ValidTier(tier) {
		s.logger.Error("checkout session missing or invalid metadata",
			"event_id", ev.EventID, "session_id", ev.SessionID, "user_id", userID, "tier", tier)
		result.Error = "missing or invalid session metadata"
		return result
	}
	result.UserID = userID

	if _, err := s.repo.GetProfileByID(ctx, userID); err != nil {
		s.logger.Error("profile not found for completed checkout",
			"event_id", ev.EventID, "user_id", userID, "error", err)
		result.Error = "profile not found"
		return result
	}

	// Fetch the live subscription for the authoritative billing-period end.
	// Local state is not trusted; an unreachable processor degrades to a nil
	// period end rather than aborting the handler.
	var periodEnd *time.Time
	if ev.SubscriptionID != "" && s.billing != nil {
		sub, err := s.billing.GetSubscription(ctx, ev.SubscriptionID)
		if err != nil {
			s.logger.Warn("could not fetch live subscription, continuing with partial information",
				"event_id", ev.EventID, "subscription_id", ev.SubscriptionID, "error", err)
		} else if !sub.PeriodEnd.IsZero() {
			end := sub.PeriodEnd
			periodEnd = &end
		}
	}

	// Idempotency gate: one atomic conditional update claims the write-once
	// completion flag. A duplicate delivery sees claimed=false and stops.
	claimed, err := s.repo.CompleteOnboarding(ctx, userID, ev.SubscriptionID, periodEnd)
	if err != nil {
		s.logger.Error("failed to complete onboarding",
			"event_id", ev.EventID, "user_id", userID, "error", err)
		result.Error = "failed to update profile"
		return result
	}
	if !claimed {
		s.logger.Info("onboarding already completed, skipping reprocessing",
			"event_id", ev.EventID, "user_id", userID)
		return result
	}

	s.grantShares(ctx, userID, tier, ev.EventID)

	s.publish(ctx, domain.ProfileEvent{
		Type:               domain.EventOnboardingCompleted,
		UserID:             userID,
		SubscriptionStatus: domain.SubscriptionActive,
	})

	result.Processed = true
	return result
}

// grantShares runs the three grant operations in order. Each is independent:
// a failure in one must not prevent the others from being attempted. Failures
// are logged with enough context for manual reconciliation and the
// reconciliation job repairs missing subscription grants later.
func (s *Service) grantShares(ctx context.Context, userID string, tier domain.SubscriptionTier, eventID string) {
	if err := s.grantSignupBonus(ctx, userID, eventID); err != nil {
		s.logger.Error("signup bonus grant failed", "event_id", eventID, "user_id", userID, "error", err)
	}
	if err := s.grantSubscriptionShares(ctx, userID, tier, eventID, false); err != nil {
		s.logger.Error("subscription grant failed", "event_id", eventID, "user_id", userID, "tier", tier, "error", err)
	}
	if err := s.grantReferralPair(ctx, userID, eventID); err != nil {
		s.logger.Error("referral grant failed", "event_id", eventID, "user_id", userID, "error", err)
	}
}

// grantSignupBonus credits the fixed signup bonus exactly once per user: only
// when no prior signup grant exists in the ledger.
func (s *Service) grantSignupBonus(ctx context.Context, userID, eventID string) error {
	granted, err := s.repo.HasLedgerEntry(ctx, userID, domain.LedgerSignup)
	if err != nil {
		return err
	}
	if granted {
		return nil
	}
	return s.repo.InsertLedgerEntry(ctx, &domain.EquityLedgerEntry{
		UserID:      userID,
		Type:        domain.LedgerSignup,
		Amount:      domain.SignupBonusShares,
		Description: "Signup bonus",
		Metadata:    domain.GrantMetadata{EventID: eventID, GrantedAt: time.Now().UTC()},
	})
}

// grantSubscriptionShares credits the recurring tier-based grant.
func (s *Service) grantSubscriptionShares(ctx context.Context, userID string, tier domain.SubscriptionTier, eventID string, byJob bool) error {
	amount := domain.SubscriptionShares(tier)
	if amount == 0 {
		return fmt.Errorf("no share amount defined for tier %q", tier)
	}
	return s.repo.InsertLedgerEntry(ctx, &domain.EquityLedgerEntry{
		UserID:      userID,
		Type:        domain.LedgerSubscription,
		Amount:      amount,
		Description: fmt.Sprintf("Subscription shares (%s tier)", tier),
		Metadata: domain.GrantMetadata{
			EventID:         eventID,
			Tier:            tier,
			GrantedAt:       time.Now().UTC(),
			ReconciledByJob: byJob,
		},
	})
}

// grantReferralPair resolves the pending referral code, credits the new user
// and the referrer, and consumes the code. An unresolvable code is logged and
// skipped without failing the handler.
func (s *Service) grantReferralPair(ctx context.Context, userID, eventID string) error {
	profile, err := s.repo.GetProfileByID(ctx, userID)
	if err != nil {
		return err
	}
	if profile.PendingReferralCode == nil || *profile.PendingReferralCode == "" {
		return nil
	}
	code := *profile.PendingReferralCode

	referrerID, err := s.repo.FindUserIDByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrReferralCodeNotFound) {
			s.logger.Warn("pending referral code does not resolve, skipping",
				"event_id", eventID, "user_id", userID, "code", code)
			return nil
		}
		return err
	}

	now := time.Now().UTC()
	if err := s.repo.InsertLedgerEntry(ctx, &domain.EquityLedgerEntry{
		UserID:      userID,
		Type:        domain.LedgerReferralReceived,
		Amount:      domain.ReferralReceivedShares,
		Description: "Referral bonus",
		Metadata:    domain.GrantMetadata{EventID: eventID, CounterpartUser: referrerID, GrantedAt: now},
	}); err != nil {
		return err
	}
	if err := s.repo.InsertLedgerEntry(ctx, &domain.EquityLedgerEntry{
		UserID:      referrerID,
		Type:        domain.LedgerReferralGiven,
		Amount:      domain.ReferralGivenShares,
		Description: "Referral reward",
		Metadata:    domain.GrantMetadata{EventID: eventID, CounterpartUser: userID, GrantedAt: now},
	}); err != nil {
		return err
	}

	return s.repo.ClearPendingReferralCode(ctx, userID)
}

// mapProcessorStatus maps the processor's status vocabulary onto the internal
// one. The second return is false for statuses outside the known vocabulary.
func mapProcessorStatus(status string) (domain.SubscriptionStatus, bool) {
	switch status {
	case "active", "trialing":
		return domain.SubscriptionActive, true
	case "past_due", "unpaid":
		return domain.SubscriptionPastDue, true
	case "canceled", "incomplete_expired":
		return domain.SubscriptionCancelled, true
	case "incomplete":
		return domain.SubscriptionPending, true
	}
	return "", false
}

// ProcessSubscriptionUpdated handles a recurring subscription state
// transition. It refreshes status and period end without re-granting shares.
func (s *Service) ProcessSubscriptionUpdated(ctx context.Context, ev domain.SubscriptionLifecycleEvent) WebhookResult {
	result := WebhookResult{Received: true, Event: "customer.subscription.updated"}

	if !s.markEventProcessed(ctx, "stripe:"+ev.EventID) {
		s.logger.Info("duplicate subscription event ignored", "event_id", ev.EventID)
		return result
	}

	profile, err := s.repo.FindProfileByBillingCustomerID(ctx, ev.CustomerID)
	if err != nil {
		s.logger.Error("no profile for subscription update",
			"event_id", ev.EventID, "customer_id", ev.CustomerID, "error", err)
		result.Error = "profile not found"
		return result
	}
	result.UserID = profile.ID

	status, ok := mapProcessorStatus(ev.Status)
	if !ok {
		s.logger.Warn("unknown subscription status, ignoring",
			"event_id", ev.EventID, "status", ev.Status, "user_id", profile.ID)
		result.Error = "unknown subscription status"
		return result
	}

	var periodEnd *time.Time
	if !ev.PeriodEnd.IsZero() {
		end := ev.PeriodEnd
		periodEnd = &end
	}
	if err := s.repo.UpdateSubscriptionState(ctx, profile.ID, status, periodEnd); err != nil {
		s.logger.Error("failed to update subscription state",
			"event_id", ev.EventID, "user_id", profile.ID, "error", err)
		result.Error = "failed to update subscription state"
		return result
	}

	s.publish(ctx, domain.ProfileEvent{
		Type:               domain.EventSubscriptionChanged,
		UserID:             profile.ID,
		SubscriptionStatus: status,
	})

	result.Processed = true
	return result
}

// ProcessSubscriptionDeleted marks the subscription cancelled. Shares already
// granted are never revoked.
func (s *Service) ProcessSubscriptionDeleted(ctx context.Context, ev domain.SubscriptionLifecycleEvent) WebhookResult {
	result := WebhookResult{Received: true, Event: "customer.subscription.deleted"}

	if !s.markEventProcessed(ctx, "stripe:"+ev.EventID) {
		s.logger.Info("duplicate subscription event ignored", "event_id", ev.EventID)
		return result
	}

	profile, err := s.repo.FindProfileByBillingCustomerID(ctx, ev.CustomerID)
	if err != nil {
		s.logger.Error("no profile for subscription deletion",
			"event_id", ev.EventID, "customer_id", ev.CustomerID, "error", err)
		result.Error = "profile not found"
		return result
	}
	result.UserID = profile.ID

	if err := s.repo.UpdateSubscriptionState(ctx, profile.ID, domain.SubscriptionCancelled, nil); err != nil {
		s.logger.Error("failed to cancel subscription state",
			"event_id", ev.EventID, "user_id", profile.ID, "error", err)
		result.Error = "failed to update subscription state"
		return result
	}

	s.publish(ctx, domain.ProfileEvent{
		Type:               domain.EventSubscriptionChanged,
		UserID:             profile.ID,
		SubscriptionStatus: domain.SubscriptionCancelled,
	})

	result.Processed = true
	return result
}
