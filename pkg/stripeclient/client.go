/**
 * @description
 * Payment processor client backed by the official Stripe SDK. Implements the
 * billing surface the application service needs: customer management,
 * embedded checkout session creation, and subscription lookup.
 *
 * Customers and checkout sessions are tagged with the internal user id in
 * metadata; the webhook handlers have no other reliable way to correlate a
 * delivery back to a profile.
 *
 * @dependencies
 * - github.com/stripe/stripe-go/v82: Official Stripe SDK.
 */
package stripeclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	session "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/ampel/onboarding-service/internal/app"
)

// Client talks to the Stripe API.
type Client struct{}

// New configures the SDK with the account secret key and returns a client.
func New(secretKey string) (*Client, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	stripe.Key = secretKey
	return &Client{}, nil
}

// CustomerExists reports whether the customer id still resolves upstream and
// has not been deleted. A stale id must not be reused for a checkout session.
func (c *Client) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cus, err := customer.Get(customerID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up customer %s: %w", customerID, err)
	}
	return !cus.Deleted, nil
}

// CreateCustomer creates a processor customer tagged with the user id.
func (c *Client) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata("user_id", userID)

	cus, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create customer for user %s: %w", userID, err)
	}
	return cus.ID, nil
}

// CreateCheckoutSession opens an embedded-mode subscription checkout session.
// Only the client secret is meant to reach the browser.
func (c *Client) CreateCheckoutSession(ctx context.Context, p app.CheckoutSessionParams) (*app.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(p.CustomerID),
		UIMode:   stripe.String(string(stripe.CheckoutSessionUIModeEmbedded)),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ReturnURL: stripe.String(p.ReturnURL),
	}
	params.Context = ctx
	params.AddMetadata("user_id", p.UserID)
	params.AddMetadata("tier", string(p.Tier))

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session for user %s: %w", p.UserID, err)
	}
	return &app.CheckoutSession{ID: sess.ID, ClientSecret: sess.ClientSecret}, nil
}

// GetSubscription fetches the live subscription. The billing-period end lives
// on the subscription items; the latest item period end is authoritative.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*app.BillingSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscription %s: %w", subscriptionID, err)
	}

	var periodEnd time.Time
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.CurrentPeriodEnd == 0 {
				continue
			}
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			if end.After(periodEnd) {
				periodEnd = end
			}
		}
	}

	return &app.BillingSubscription{
		ID:        sub.ID,
		Status:    string(sub.Status),
		PeriodEnd: periodEnd,
	}, nil
}
