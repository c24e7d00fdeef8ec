package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/ampel/onboarding-service/internal/domain"
	"github.com/ampel/onboarding-service/internal/store"
)

// fakeRepo is an in-memory Repository for service tests.
type fakeRepo struct {
	profiles        map[string]*domain.UserProfile
	ledger          []domain.EquityLedgerEntry
	failInsertTypes map[domain.LedgerEntryType]bool
	completeCalls   int
}

func newFakeRepo(profiles ...*domain.UserProfile) *fakeRepo {
	r := &fakeRepo{profiles: make(map[string]*domain.UserProfile)}
	for _, p := range profiles {
		r.profiles[p.ID] = p
	}
	return r
}

func (r *fakeRepo) GetProfileByID(_ context.Context, userID string) (*domain.UserProfile, error) {
	p, ok := r.profiles[userID]
	if !ok {
		return nil, store.ErrProfileNotFound
	}
	copied := *p
	return &copied, nil
}

func (r *fakeRepo) FindProfileByKYCReference(ctx context.Context, referenceID string) (*domain.UserProfile, error) {
	return r.GetProfileByID(ctx, referenceID)
}

func (r *fakeRepo) FindProfileByBillingCustomerID(_ context.Context, customerID string) (*domain.UserProfile, error) {
	for _, p := range r.profiles {
		if p.BillingCustomerID != nil && *p.BillingCustomerID == customerID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, store.ErrProfileNotFound
}

func (r *fakeRepo) SetKYCInquiry(_ context.Context, userID, inquiryID string) error {
	p, ok := r.profiles[userID]
	if !ok {
		return store.ErrProfileNotFound
	}
	p.KYCInquiryID = &inquiryID
	if p.KYCStatus == domain.KYCNotStarted {
		p.KYCStatus = domain.KYCPending
	}
	return nil
}

func (r *fakeRepo) UpdateKYCStatus(_ context.Context, userID string, status domain.KYCStatus, inquiryID string, accountID, reason *string) error {
	p, ok := r.profiles[userID]
	if !ok {
		return store.ErrProfileNotFound
	}
	p.KYCStatus = status
	if inquiryID != "" && p.KYCInquiryID == nil {
		p.KYCInquiryID = &inquiryID
	}
	if accountID != nil && p.KYCAccountID == nil {
		p.KYCAccountID = accountID
	}
	if status == domain.KYCApproved {
		now := time.Now()
		p.KYCApprovedAt = &now
	}
	if status == domain.KYCDeclined {
		p.KYCDeclinedReason = reason
	}
	return nil
}

func (r *fakeRepo) SetBillingCustomer(_ context.Context, userID, customerID string) error {
	p, ok := r.profiles[userID]
	if !ok {
		return store.ErrProfileNotFound
	}
	p.BillingCustomerID = &customerID
	return nil
}

func (r *fakeRepo) CompleteOnboarding(_ context.Context, userID, subscriptionID string, periodEnd *time.Time) (bool, error) {
	r.completeCalls++
	p, ok := r.profiles[userID]
	if !ok {
		return false, store.ErrProfileNotFound
	}
	if p.OnboardingCompletedAt != nil {
		return false, nil
	}
	now := time.Now()
	p.OnboardingCompletedAt = &now
	if subscriptionID != "" {
		p.BillingSubscriptionID = &subscriptionID
	}
	p.SubscriptionStatus = domain.SubscriptionActive
	if periodEnd != nil {
		p.SubscriptionPeriodEnd = periodEnd
	}
	return true, nil
}

func (r *fakeRepo) UpdateSubscriptionState(_ context.Context, userID string, status domain.SubscriptionStatus, periodEnd *time.Time) error {
	p, ok := r.profiles[userID]
	if !ok {
		return store.ErrProfileNotFound
	}
	p.SubscriptionStatus = status
	if periodEnd != nil {
		p.SubscriptionPeriodEnd = periodEnd
	}
	return nil
}

func (r *fakeRepo) InsertLedgerEntry(_ context.Context, entry *domain.EquityLedgerEntry) error {
	if r.failInsertTypes[entry.Type] {
		return errors.New("simulated insert failure")
	}
	entry.CreatedAt = time.Now()
	r.ledger = append(r.ledger, *entry)
	return nil
}

func (r *fakeRepo) HasLedgerEntry(_ context.Context, userID string, entryType domain.LedgerEntryType) (bool, error) {
	for _, e := range r.ledger {
		if e.UserID == userID && e.Type == entryType {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) SharesBalance(_ context.Context, userID string) (int64, error) {
	var sum int64
	for _, e := range r.ledger {
		if e.UserID == userID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (r *fakeRepo) FindUserIDByReferralCode(_ context.Context, code string) (string, error) {
	for _, p := range r.profiles {
		if p.ReferralCode != "" && p.ReferralCode == code {
			return p.ID, nil
		}
	}
	return "", store.ErrReferralCodeNotFound
}

func (r *fakeRepo) ClearPendingReferralCode(_ context.Context, userID string) error {
	p, ok := r.profiles[userID]
	if !ok {
		return store.ErrProfileNotFound
	}
	p.PendingReferralCode = nil
	return nil
}

func (r *fakeRepo) EnsureReferralCode(_ context.Context, userID string) (string, error) {
	p, ok := r.profiles[userID]
	if !ok {
		return "", store.ErrProfileNotFound
	}
	if p.ReferralCode == "" {
		p.ReferralCode = "TESTCODE"
	}
	return p.ReferralCode, nil
}

func (r *fakeRepo) ProfilesMissingSubscriptionGrant(_ context.Context, limit int) ([]domain.UserProfile, error) {
	var missing []domain.UserProfile
	for _, p := range r.profiles {
		if p.OnboardingCompletedAt == nil {
			continue
		}
		has, _ := r.HasLedgerEntry(context.Background(), p.ID, domain.LedgerSubscription)
		if !has && len(missing) < limit {
			missing = append(missing, *p)
		}
	}
	return missing, nil
}

func (r *fakeRepo) entriesOfType(userID string, entryType domain.LedgerEntryType) []domain.EquityLedgerEntry {
	var out []domain.EquityLedgerEntry
	for _, e := range r.ledger {
		if e.UserID == userID && e.Type == entryType {
			out = append(out, e)
		}
	}
	return out
}

// fakeBilling is an in-memory BillingClient.
type fakeBilling struct {
	subscription  *BillingSubscription
	subErr        error
	existing      map[string]bool
	createdIDs    []string
	nextCustomer  string
	sessionSecret string
}

func (b *fakeBilling) CustomerExists(_ context.Context, customerID string) (bool, error) {
	return b.existing[customerID], nil
}

func (b *fakeBilling) CreateCustomer(_ context.Context, userID, _ string) (string, error) {
	id := b.nextCustomer
	if id == "" {
		id = "cus_" + userID
	}
	b.createdIDs = append(b.createdIDs, id)
	return id, nil
}

func (b *fakeBilling) CreateCheckoutSession(_ context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	secret := b.sessionSecret
	if secret == "" {
		secret = "cs_secret"
	}
	return &CheckoutSession{ID: "cs_" + params.UserID, ClientSecret: secret}, nil
}

func (b *fakeBilling) GetSubscription(_ context.Context, subscriptionID string) (*BillingSubscription, error) {
	if b.subErr != nil {
		return nil, b.subErr
	}
	if b.subscription != nil {
		return b.subscription, nil
	}
	return &BillingSubscription{ID: subscriptionID, Status: "active", PeriodEnd: time.Now().AddDate(0, 1, 0)}, nil
}

// fakeIdentity is an in-memory IdentityClient.
type fakeIdentity struct {
	inquiryID    string
	sessionToken string
	err          error
}

func (i *fakeIdentity) CreateInquiry(_ context.Context, referenceID string) (string, string, error) {
	if i.err != nil {
		return "", "", i.err
	}
	if i.inquiryID == "" {
		return "inq_" + referenceID, "tok_" + referenceID, nil
	}
	return i.inquiryID, i.sessionToken, nil
}

// fakePublisher records published profile events.
type fakePublisher struct {
	events []domain.ProfileEvent
}

func (p *fakePublisher) PublishProfileEvent(_ context.Context, event domain.ProfileEvent) error {
	p.events = append(p.events, event)
	return nil
}

func testPriceTiers() map[string]string {
	return map[string]string{
		"price_starter": "starter",
		"price_plus":    "plus",
		"price_pro":     "pro",
		"price_max":     "max",
	}
}

func newTestService(repo *fakeRepo, billing *fakeBilling) (*Service, *fakePublisher) {
	publisher := &fakePublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, billing, &fakeIdentity{}, publisher, nil, testPriceTiers(), "https://app.example.com/return", logger)
	return svc, publisher
}
