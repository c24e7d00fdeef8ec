/**
 * @description
 * PostgreSQL data access layer for the onboarding-service. All SQL for the
 * profiles table and the append-only equity ledger lives here.
 *
 * The onboarding completion flag is claimed with a single atomic conditional
 * UPDATE so that concurrent duplicate webhook deliveries cannot both pass the
 * idempotency gate: exactly one delivery observes an affected row.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/domain: Domain models.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ampel/onboarding-service/internal/domain"
)

var (
	ErrProfileNotFound      = errors.New("profile not found")
	ErrReferralCodeNotFound = errors.New("referral code not found")
)

const profileColumns = `
	id, COALESCE(selected_subscription_tier, ''), disclosures_accepted_at,
	kyc_status, kyc_inquiry_id, kyc_account_id, kyc_approved_at, kyc_declined_reason,
	billing_customer_id, billing_subscription_id, subscription_status, subscription_period_end,
	onboarding_completed_at, shares_balance, pending_referral_code, COALESCE(referral_code, '')`

// PostgresRepository is the concrete pgx-backed repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) scanProfile(row pgx.Row) (*domain.UserProfile, error) {
	var p domain.UserProfile
	err := row.Scan(
		&p.ID,
		&p.SelectedTier,
		&p.DisclosuresAcceptedAt,
		&p.KYCStatus,
		&p.KYCInquiryID,
		&p.KYCAccountID,
		&p.KYCApprovedAt,
		&p.KYCDeclinedReason,
		&p.BillingCustomerID,
		&p.BillingSubscriptionID,
		&p.SubscriptionStatus,
		&p.SubscriptionPeriodEnd,
		&p.OnboardingCompletedAt,
		&p.SharesBalance,
		&p.PendingReferralCode,
		&p.ReferralCode,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetProfileByID retrieves a user's profile.
func (r *PostgresRepository) GetProfileByID(ctx context.Context, userID string) (*domain.UserProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	return r.scanProfile(r.db.QueryRow(ctx, query, userID))
}

// FindProfileByKYCReference resolves the profile a vendor inquiry event refers
// to. The reference id supplied at inquiry creation is the user id.
func (r *PostgresRepository) FindProfileByKYCReference(ctx context.Context, referenceID string) (*domain.UserProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id::text = $1`
	return r.scanProfile(r.db.QueryRow(ctx, query, referenceID))
}

// FindProfileByBillingCustomerID resolves a profile from a processor customer id.
func (r *PostgresRepository) FindProfileByBillingCustomerID(ctx context.Context, customerID string) (*domain.UserProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE billing_customer_id = $1`
	return r.scanProfile(r.db.QueryRow(ctx, query, customerID))
}

// SetKYCInquiry stores the vendor-assigned inquiry id. The column is set once;
// a second verification session for the same user overwrites only if the
// previous inquiry reached a terminal declined state.
func (r *PostgresRepository) SetKYCInquiry(ctx context.Context, userID, inquiryID string) error {
	query := `
		UPDATE profiles
		SET kyc_inquiry_id = $2,
		    kyc_status = CASE WHEN kyc_status = 'not_started' THEN 'pending' ELSE kyc_status END,
		    updated_at = NOW()
		WHERE id = $1 AND (kyc_inquiry_id IS NULL OR kyc_status = 'declined')
	`
	tag, err := r.db.Exec(ctx, query, userID, inquiryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the profile does not exist or an inquiry is already attached.
		if _, err := r.GetProfileByID(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

// UpdateKYCStatus persists a KYC state transition. Approval stamps the
// completion timestamp; decline stores the human-readable reason.
func (r *PostgresRepository) UpdateKYCStatus(ctx context.Context, userID string, status domain.KYCStatus, inquiryID string, accountID, reason *string) error {
	query := `
		UPDATE profiles
		SET kyc_status = $2,
		    kyc_inquiry_id = COALESCE(kyc_inquiry_id, $3),
		    kyc_account_id = COALESCE(kyc_account_id, $4),
		    kyc_approved_at = CASE WHEN $2 = 'approved' THEN NOW() ELSE kyc_approved_at END,
		    kyc_declined_reason = CASE WHEN $2 = 'declined' THEN $5 ELSE kyc_declined_reason END,
		    updated_at = NOW()
		WHERE id = $1
	`
	var inquiry *string
	if inquiryID != "" {
		inquiry = &inquiryID
	}
	tag, err := r.db.Exec(ctx, query, userID, status, inquiry, accountID, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// SetBillingCustomer stores the processor customer id, created lazily by the
// checkout session issuer and reused thereafter.
func (r *PostgresRepository) SetBillingCustomer(ctx context.Context, userID, customerID string) error {
	query := `UPDATE profiles SET billing_customer_id = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, userID, customerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// CompleteOnboarding claims the write-once completion flag and stores the
// subscription state in the same statement. It returns true only when this
// call actually set the flag; a duplicate delivery sees false and must not
// re-grant shares. This is the idempotency gate.
func (r *PostgresRepository) CompleteOnboarding(ctx context.Context, userID, subscriptionID string, periodEnd *time.Time) (bool, error) {
	query := `
		UPDATE profiles
		SET billing_subscription_id = $2,
		    subscription_status = 'active',
		    subscription_period_end = COALESCE($3, subscription_period_end),
		    onboarding_completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND onboarding_completed_at IS NULL
	`
	tag, err := r.db.Exec(ctx, query, userID, subscriptionID, periodEnd)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateSubscriptionState overwrites the recurring subscription state. A nil
// period end leaves the stored value untouched. Never touches the ledger or
// the completion flag.
func (r *PostgresRepository) UpdateSubscriptionState(ctx context.Context, userID string, status domain.SubscriptionStatus, periodEnd *time.Time) error {
	query := `
		UPDATE profiles
		SET subscription_status = $2,
		    subscription_period_end = COALESCE($3, subscription_period_end),
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, userID, status, periodEnd)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// InsertLedgerEntry appends a grant to the equity ledger. A database trigger
// keeps profiles.shares_balance equal to the sum of a user's entries.
func (r *PostgresRepository) InsertLedgerEntry(ctx context.Context, entry *domain.EquityLedgerEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO equity_ledger (id, user_id, transaction_type, amount, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.Exec(ctx, query, entry.ID, entry.UserID, entry.Type, entry.Amount, entry.Description, metadata)
	return err
}

// HasLedgerEntry reports whether the user already holds a grant of the given
// type. The payment handler uses this for signup-bonus exclusivity.
func (r *PostgresRepository) HasLedgerEntry(ctx context.Context, userID string, entryType domain.LedgerEntryType) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM equity_ledger WHERE user_id = $1 AND transaction_type = $2)`
	if err := r.db.QueryRow(ctx, query, userID, entryType).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// SharesBalance derives the balance from the ledger. The profiles column is a
// trigger-maintained mirror; the ledger sum is authoritative.
func (r *PostgresRepository) SharesBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	query := `SELECT COALESCE(SUM(amount), 0) FROM equity_ledger WHERE user_id = $1`
	if err := r.db.QueryRow(ctx, query, userID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// FindUserIDByReferralCode resolves a referral code to its owner.
func (r *PostgresRepository) FindUserIDByReferralCode(ctx context.Context, code string) (string, error) {
	var id string
	query := `SELECT id FROM profiles WHERE upper(btrim(referral_code)) = upper(btrim($1))`
	err := r.db.QueryRow(ctx, query, code).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrReferralCodeNotFound
		}
		return "", err
	}
	return id, nil
}

// ClearPendingReferralCode consumes a referral code after the referral pair
// has been granted.
func (r *PostgresRepository) ClearPendingReferralCode(ctx context.Context, userID string) error {
	query := `UPDATE profiles SET pending_referral_code = NULL, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, userID)
	return err
}

// EnsureReferralCode assigns the user's own shareable code if one has not been
// generated yet, and returns the stored code either way.
func (r *PostgresRepository) EnsureReferralCode(ctx context.Context, userID string) (string, error) {
	code := newReferralCode()
	query := `
		UPDATE profiles
		SET referral_code = COALESCE(NULLIF(referral_code, ''), $2), updated_at = NOW()
		WHERE id = $1
		RETURNING referral_code
	`
	var stored string
	err := r.db.QueryRow(ctx, query, userID, code).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrProfileNotFound
		}
		return "", err
	}
	return stored, nil
}

// ProfilesMissingSubscriptionGrant returns users marked onboarding-complete
// whose ledger has no tier subscription grant. These are the partial-failure
// cases the reconciliation job repairs.
func (r *PostgresRepository) ProfilesMissingSubscriptionGrant(ctx context.Context, limit int) ([]domain.UserProfile, error) {
	query := `
		SELECT ` + profileColumns + `
		FROM profiles p
		WHERE p.onboarding_completed_at IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM equity_ledger l
			WHERE l.user_id = p.id AND l.transaction_type = 'subscription'
		  )
		ORDER BY p.onboarding_completed_at
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []domain.UserProfile
	for rows.Next() {
		p, err := r.scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// newReferralCode derives a short, shareable uppercase code.
func newReferralCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:8])
}
