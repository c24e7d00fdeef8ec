/**
 * @description
 * Internal event types published to RabbitMQ when webhook processing mutates
 * a profile. The client-side watcher consumes this stream as its push channel;
 * the routing key namespace mirrors the event type.
 */
package domain

import "time"

// ProfileEventType identifies which profile field group changed.
type ProfileEventType string

const (
	EventKYCStatusChanged    ProfileEventType = "profile.kyc_status"
	EventOnboardingCompleted ProfileEventType = "profile.onboarding_completed"
	EventSubscriptionChanged ProfileEventType = "profile.subscription"
)

// ProfileEvent is the typed notification emitted after a profile mutation.
// Vendor webhook callbacks never drive navigation directly; they emit these
// and the onboarding state machine reacts.
type ProfileEvent struct {
	Type               ProfileEventType   `json:"type"`
	UserID             string             `json:"user_id"`
	KYCStatus          KYCStatus          `json:"kyc_status,omitempty"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status,omitempty"`
	OccurredAt         time.Time          `json:"occurred_at"`
}

// RoutingKey returns the RabbitMQ routing key for the event.
func (e ProfileEvent) RoutingKey() string {
	return string(e.Type)
}

// CheckoutCompletedEvent is the normalized form of the payment processor's
// checkout.session.completed delivery, after signature verification.
type CheckoutCompletedEvent struct {
	EventID        string
	SessionID      string
	CustomerID     string
	SubscriptionID string
	Metadata       map[string]string
}

// SubscriptionLifecycleEvent is the normalized form of the processor's
// subscription.updated / subscription.deleted deliveries.
type SubscriptionLifecycleEvent struct {
	EventID        string
	SubscriptionID string
	CustomerID     string
	Status         string // processor vocabulary, mapped by the lifecycle handler
	PeriodEnd      time.Time
}

// InquiryEvent is the normalized form of the identity vendor's inquiry
// lifecycle deliveries.
type InquiryEvent struct {
	Name        string
	InquiryID   string
	ReferenceID string
	AccountID   string
	Reason      string
}
