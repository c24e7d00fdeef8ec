/**
 * @description
 * Identity-verification event handler. Maps the vendor's inquiry lifecycle
 * events onto the internal kyc_status state machine:
 *
 *   not_started --(inquiry submitted)--> pending
 *   pending --(approved)--> approved            [terminal]
 *   pending --(declined)--> declined            [terminal, user may retry]
 *   pending --(marked for review)--> needs_review
 *
 * Unknown event names are logged and ignored for forward compatibility.
 */
package app

import (
	"context"

	"github.com/ampel/onboarding-service/internal/domain"
)

// KYCResult is the acknowledgement body for the identity vendor's webhook.
type KYCResult struct {
	Success   bool   `json:"success"`
	Event     string `json:"event,omitempty"`
	InquiryID string `json:"inquiry_id,omitempty"`
}

// inquiryEventStatus maps vendor event names to the internal status.
var inquiryEventStatus = map[string]domain.KYCStatus{
	"inquiry.created":           domain.KYCPending,
	"inquiry.started":           domain.KYCPending,
	"inquiry.completed":         domain.KYCPending,
	"inquiry.approved":          domain.KYCApproved,
	"inquiry.declined":          domain.KYCDeclined,
	"inquiry.failed":            domain.KYCDeclined,
	"inquiry.marked-for-review": domain.KYCNeedsReview,
}

// terminalKYCStatus reports whether automation considers the status final.
func terminalKYCStatus(status domain.KYCStatus) bool {
	switch status {
	case domain.KYCApproved, domain.KYCDeclined, domain.KYCNeedsReview:
		return true
	}
	return false
}

// ProcessInquiryEvent handles a verified inquiry lifecycle event. A missing
// profile is reported through the result but is not fatal to the HTTP
// response; the sender must not retry it.
func (s *Service) ProcessInquiryEvent(ctx context.Context, ev domain.InquiryEvent) KYCResult {
	result := KYCResult{Success: true, Event: ev.Name, InquiryID: ev.InquiryID}

	status, known := inquiryEventStatus[ev.Name]
	if !known {
		s.logger.Info("unhandled inquiry event, ignoring", "event", ev.Name, "inquiry_id", ev.InquiryID)
		return result
	}

	profile, err := s.repo.FindProfileByKYCReference(ctx, ev.ReferenceID)
	if err != nil {
		s.logger.Error("no profile for inquiry reference",
			"event", ev.Name, "inquiry_id", ev.InquiryID, "reference_id", ev.ReferenceID, "error", err)
		return result
	}

	// A submission event must not downgrade a decision already recorded; the
	// vendor delivers events out of order under retry.
	if status == domain.KYCPending && terminalKYCStatus(profile.KYCStatus) {
		s.logger.Info("ignoring stale inquiry submission after terminal status",
			"event", ev.Name, "user_id", profile.ID, "kyc_status", profile.KYCStatus)
		return result
	}

	var accountID *string
	if ev.AccountID != "" {
		accountID = &ev.AccountID
	}
	var reason *string
	if status == domain.KYCDeclined && ev.Reason != "" {
		reason = &ev.Reason
	}

	if err := s.repo.UpdateKYCStatus(ctx, profile.ID, status, ev.InquiryID, accountID, reason); err != nil {
		s.logger.Error("failed to update kyc status",
			"event", ev.Name, "user_id", profile.ID, "status", status, "error", err)
		return result
	}

	s.publish(ctx, domain.ProfileEvent{
		Type:      domain.EventKYCStatusChanged,
		UserID:    profile.ID,
		KYCStatus: status,
	})

	return result
}

// VerificationSession is the client-facing result of creating an inquiry.
type VerificationSession struct {
	InquiryID    string `json:"inquiryId"`
	SessionToken string `json:"sessionToken"`
}

// CreateVerificationSession opens a vendor inquiry for the user, using the
// user id as the reference id so later webhook events correlate back to the
// profile.
func (s *Service) CreateVerificationSession(ctx context.Context, userID string) (*VerificationSession, error) {
	if _, err := s.repo.GetProfileByID(ctx, userID); err != nil {
		return nil, err
	}

	inquiryID, sessionToken, err := s.identity.CreateInquiry(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SetKYCInquiry(ctx, userID, inquiryID); err != nil {
		s.logger.Error("failed to store inquiry id", "user_id", userID, "inquiry_id", inquiryID, "error", err)
		return nil, err
	}

	return &VerificationSession{InquiryID: inquiryID, SessionToken: sessionToken}, nil
}
