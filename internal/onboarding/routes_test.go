package onboarding

import (
	"testing"
	"time"

	"github.com/ampel/onboarding-service/internal/domain"
)

func TestNextRoute(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		profile    *domain.UserProfile
		hasSession bool
		want       Route
	}{
		{
			name:       "no session",
			profile:    &domain.UserProfile{ID: "u"},
			hasSession: false,
			want:       RouteLogin,
		},
		{
			name:       "session but profile not loaded",
			profile:    nil,
			hasSession: true,
			want:       RouteLogin,
		},
		{
			name:       "no tier selected",
			profile:    &domain.UserProfile{ID: "u"},
			hasSession: true,
			want:       RoutePlanSelection,
		},
		{
			name: "tier selected, disclosures pending",
			profile: &domain.UserProfile{
				ID:           "u",
				SelectedTier: domain.TierPro,
			},
			hasSession: true,
			want:       RouteDisclosures,
		},
		{
			name: "disclosures accepted, kyc not started",
			profile: &domain.UserProfile{
				ID:                    "u",
				SelectedTier:          domain.TierPro,
				DisclosuresAcceptedAt: &now,
				KYCStatus:             domain.KYCNotStarted,
			},
			hasSession: true,
			want:       RouteKYCVerify,
		},
		{
			name: "kyc pending",
			profile: &domain.UserProfile{
				ID:                    "u",
				SelectedTier:          domain.TierPro,
				DisclosuresAcceptedAt: &now,
				KYCStatus:             domain.KYCPending,
			},
			hasSession: true,
			want:       RouteKYCPending,
		},
		{
			name: "kyc declined",
			profile: &domain.UserProfile{
				ID:                    "u",
				SelectedTier:          domain.TierPro,
				DisclosuresAcceptedAt: &now,
				KYCStatus:             domain.KYCDeclined,
			},
			hasSession: true,
			want:       RouteKYCDeclined,
		},
		{
			name: "kyc needs review lands on declined screen",
			profile: &domain.UserProfile{
				ID:                    "u",
				SelectedTier:          domain.TierPro,
				DisclosuresAcceptedAt: &now,
				KYCStatus:             domain.KYCNeedsReview,
			},
			hasSession: true,
			want:       RouteKYCDeclined,
		},
		{
			name: "kyc approved, payment outstanding",
			profile: &domain.UserProfile{
				ID:                    "u",
				SelectedTier:          domain.TierPro,
				DisclosuresAcceptedAt: &now,
				KYCStatus:             domain.KYCApproved,
			},
			hasSession: true,
			want:       RouteCheckout,
		},
		{
			name: "onboarding complete",
			profile: &domain.UserProfile{
				ID:                    "u",
				SelectedTier:          domain.TierPro,
				DisclosuresAcceptedAt: &now,
				KYCStatus:             domain.KYCApproved,
				OnboardingCompletedAt: &now,
			},
			hasSession: true,
			want:       RouteMainApp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextRoute(tt.profile, tt.hasSession); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestNextRoute_Deterministic(t *testing.T) {
	now := time.Now()
	p := &domain.UserProfile{
		ID:                    "u",
		SelectedTier:          domain.TierMax,
		DisclosuresAcceptedAt: &now,
		KYCStatus:             domain.KYCApproved,
	}
	first := NextRoute(p, true)
	for i := 0; i < 10; i++ {
		if got := NextRoute(p, true); got != first {
			t.Fatalf("route changed between evaluations: %s vs %s", first, got)
		}
	}
}

func TestGuardRoute_CheckoutSticksThroughProfileRace(t *testing.T) {
	now := time.Now()
	approved := &domain.UserProfile{
		ID:                    "u",
		SelectedTier:          domain.TierPro,
		DisclosuresAcceptedAt: &now,
		KYCStatus:             domain.KYCApproved,
	}

	if got := GuardRoute(nil, true, true); got != RouteCheckout {
		t.Fatalf("transient nil profile on checkout must not redirect, got %s", got)
	}
	if got := GuardRoute(approved, true, true); got != RouteCheckout {
		t.Fatalf("approved incomplete profile stays on checkout, got %s", got)
	}

	completed := *approved
	completed.OnboardingCompletedAt = &now
	if got := GuardRoute(&completed, true, true); got != RouteMainApp {
		t.Fatalf("completion moves the user off checkout, got %s", got)
	}

	declined := *approved
	declined.KYCStatus = domain.KYCDeclined
	if got := GuardRoute(&declined, true, true); got != RouteKYCDeclined {
		t.Fatalf("a real state change still redirects, got %s", got)
	}

	if got := GuardRoute(approved, false, true); got != RouteLogin {
		t.Fatalf("stickiness never overrides a lost session, got %s", got)
	}
}
