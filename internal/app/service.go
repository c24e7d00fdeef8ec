/**
 * @description
 * Core business logic for the onboarding-service. The Service orchestrates the
 * repository, the payment processor client, the identity vendor client, and
 * the internal event producer. Webhook handlers and the interactive API both
 * call into this layer.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ampel/onboarding-service/internal/domain"
)

var (
	ErrUnknownPrice    = errors.New("price id is not in the allow-list")
	ErrTierNotSelected = errors.New("subscription tier not selected")
	ErrKYCNotApproved  = errors.New("kyc not approved")
)

// Repository defines the database operations the service needs.
type Repository interface {
	GetProfileByID(ctx context.Context, userID string) (*domain.UserProfile, error)
	FindProfileByKYCReference(ctx context.Context, referenceID string) (*domain.UserProfile, error)
	FindProfileByBillingCustomerID(ctx context.Context, customerID string) (*domain.UserProfile, error)
	SetKYCInquiry(ctx context.Context, userID, inquiryID string) error
	UpdateKYCStatus(ctx context.Context, userID string, status domain.KYCStatus, inquiryID string, accountID, reason *string) error
	SetBillingCustomer(ctx context.Context, userID, customerID string) error
	CompleteOnboarding(ctx context.Context, userID, subscriptionID string, periodEnd *time.Time) (bool, error)
	UpdateSubscriptionState(ctx context.Context, userID string, status domain.SubscriptionStatus, periodEnd *time.Time) error
	InsertLedgerEntry(ctx context.Context, entry *domain.EquityLedgerEntry) error
	HasLedgerEntry(ctx context.Context, userID string, entryType domain.LedgerEntryType) (bool, error)
	SharesBalance(ctx context.Context, userID string) (int64, error)
	FindUserIDByReferralCode(ctx context.Context, code string) (string, error)
	ClearPendingReferralCode(ctx context.Context, userID string) error
	EnsureReferralCode(ctx context.Context, userID string) (string, error)
	ProfilesMissingSubscriptionGrant(ctx context.Context, limit int) ([]domain.UserProfile, error)
}

// BillingSubscription is the slice of the processor's subscription resource
// the service cares about.
type BillingSubscription struct {
	ID        string
	Status    string
	PeriodEnd time.Time
}

// CheckoutSessionParams describes the embedded checkout session to create.
// UserID and Tier become session metadata: the payment event handler has no
// other reliable way to find the profile.
type CheckoutSessionParams struct {
	CustomerID string
	PriceID    string
	UserID     string
	Tier       domain.SubscriptionTier
	ReturnURL  string
}

// CheckoutSession is the created session. Only the client secret ever reaches
// the browser.
type CheckoutSession struct {
	ID           string
	ClientSecret string
}

// BillingClient is the payment processor API surface the service needs.
type BillingClient interface {
	CustomerExists(ctx context.Context, customerID string) (bool, error)
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*BillingSubscription, error)
}

// IdentityClient is the identity vendor API surface the service needs.
type IdentityClient interface {
	CreateInquiry(ctx context.Context, referenceID string) (inquiryID, sessionToken string, err error)
}

// EventPublisher fans profile mutations out to the internal event stream.
type EventPublisher interface {
	PublishProfileEvent(ctx context.Context, event domain.ProfileEvent) error
}

// EventCache is a best-effort webhook replay guard keyed by event id.
// MarkProcessed returns true the first time an id is seen.
type EventCache interface {
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}

// Service provides the business logic for the onboarding pipeline.
type Service struct {
	repo       Repository
	billing    BillingClient
	identity   IdentityClient
	publisher  EventPublisher
	eventCache EventCache // optional; nil disables the replay cache
	priceTiers map[string]domain.SubscriptionTier
	returnURL  string
	logger     *slog.Logger
}

// NewService creates the onboarding service.
func NewService(
	repo Repository,
	billing BillingClient,
	identity IdentityClient,
	publisher EventPublisher,
	eventCache EventCache,
	priceTiers map[string]string,
	returnURL string,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	tiers := make(map[string]domain.SubscriptionTier, len(priceTiers))
	for priceID, tier := range priceTiers {
		tiers[priceID] = domain.SubscriptionTier(tier)
	}
	return &Service{
		repo:       repo,
		billing:    billing,
		identity:   identity,
		publisher:  publisher,
		eventCache: eventCache,
		priceTiers: tiers,
		returnURL:  returnURL,
		logger:     logger,
	}
}

// Profile returns the user's profile, assigning their shareable referral code
// on first read if signup did not generate one.
func (s *Service) Profile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	profile, err := s.repo.GetProfileByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile.ReferralCode == "" {
		code, err := s.repo.EnsureReferralCode(ctx, userID)
		if err != nil {
			s.logger.Warn("failed to assign referral code", "user_id", userID, "error", err)
		} else {
			profile.ReferralCode = code
		}
	}
	balance, err := s.repo.SharesBalance(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to load shares balance", "user_id", userID, "error", err)
	} else {
		profile.SharesBalance = balance
	}
	return profile, nil
}

// publish sends a profile event, logging instead of failing the caller: the
// event stream is a notification channel, not part of the commit.
func (s *Service) publish(ctx context.Context, event domain.ProfileEvent) {
	if s.publisher == nil {
		return
	}
	event.OccurredAt = time.Now().UTC()
	if err := s.publisher.PublishProfileEvent(ctx, event); err != nil {
		s.logger.Warn("failed to publish profile event", "type", event.Type, "user_id", event.UserID, "error", err)
	}
}

// markEventProcessed consults the optional replay cache. Cache errors are
// treated as first delivery: the structural idempotency gates stay
// authoritative.
func (s *Service) markEventProcessed(ctx context.Context, eventID string) bool {
	if s.eventCache == nil || eventID == "" {
		return true
	}
	first, err := s.eventCache.MarkProcessed(ctx, eventID)
	if err != nil {
		s.logger.Warn("event replay cache unavailable", "event_id", eventID, "error", err)
		return true
	}
	return first
}
