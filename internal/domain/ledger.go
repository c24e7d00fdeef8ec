/**
 * @description
 * Equity ledger domain model. The ledger is append-only: entries are created
 * by grant operations and never mutated or deleted. A user's shares balance
 * is the sum of their entries; corrections are new entries.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntryType categorizes a share grant.
type LedgerEntryType string

const (
	LedgerSignup           LedgerEntryType = "signup"
	LedgerSubscription     LedgerEntryType = "subscription"
	LedgerReferralReceived LedgerEntryType = "referral_received"
	LedgerReferralGiven    LedgerEntryType = "referral_given"
)

// Fixed grant amounts. Tier-based subscription amounts live in
// SubscriptionShares on the tier type.
const (
	SignupBonusShares      int64 = 100
	ReferralReceivedShares int64 = 25
	ReferralGivenShares    int64 = 50
)

// GrantMetadata is the structured metadata stored alongside a ledger entry,
// enough to reconcile a grant back to the webhook delivery that caused it.
type GrantMetadata struct {
	EventID         string           `json:"event_id,omitempty"`
	Tier            SubscriptionTier `json:"tier,omitempty"`
	CounterpartUser string           `json:"counterpart_user_id,omitempty"`
	GrantedAt       time.Time        `json:"granted_at"`
	ReconciledByJob bool             `json:"reconciled_by_job,omitempty"`
}

// EquityLedgerEntry is one append-only share grant record.
type EquityLedgerEntry struct {
	ID          uuid.UUID       `json:"id"`
	UserID      string          `json:"user_id"`
	Type        LedgerEntryType `json:"transaction_type"`
	Amount      int64           `json:"amount"` // positive share count
	Description string          `json:"description"`
	Metadata    GrantMetadata   `json:"metadata"`
	CreatedAt   time.Time       `json:"created_at"`
}
