/**
 * @description
 * Onboarding route state machine. NextRoute is a pure function of the
 * profile fields: given the same inputs it always computes the same single
 * required route, with no hidden state. Route guards evaluate it on every
 * protected-route entry and redirect accordingly.
 */
package onboarding

import "github.com/ampel/onboarding-service/internal/domain"

// Route identifies the screen a user must be on.
type Route string

const (
	RouteLogin         Route = "login"
	RoutePlanSelection Route = "plan-selection"
	RouteDisclosures   Route = "disclosures"
	RouteKYCVerify     Route = "kyc-verify"
	RouteKYCPending    Route = "kyc-pending"
	RouteKYCDeclined   Route = "kyc-declined"
	RouteCheckout      Route = "checkout"
	RouteMainApp       Route = "main-app"
)

// NextRoute computes the single required route for a profile state.
func NextRoute(p *domain.UserProfile, hasSession bool) Route {
	if !hasSession || p == nil {
		return RouteLogin
	}
	if p.SelectedTier == "" {
		return RoutePlanSelection
	}
	if p.DisclosuresAcceptedAt == nil {
		return RouteDisclosures
	}
	if p.OnboardingCompletedAt != nil {
		return RouteMainApp
	}
	switch p.KYCStatus {
	case domain.KYCApproved:
		return RouteCheckout
	case domain.KYCNotStarted:
		return RouteKYCVerify
	case domain.KYCPending:
		return RouteKYCPending
	default:
		// declined and needs_review both land on the declined screen; the
		// user can retry from there.
		return RouteKYCDeclined
	}
}

// GuardRoute is NextRoute with the checkout special case: once the user is on
// the checkout screen with approved KYC, a transient profile-fetch race must
// not redirect them away mid-payment.
func GuardRoute(p *domain.UserProfile, hasSession, onCheckout bool) Route {
	if onCheckout && hasSession {
		if p == nil {
			return RouteCheckout
		}
		if p.KYCStatus == domain.KYCApproved && p.OnboardingCompletedAt == nil {
			return RouteCheckout
		}
	}
	return NextRoute(p, hasSession)
}
