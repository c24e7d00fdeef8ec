/**
 * @description
 * Webhook endpoints for the payment processor and the identity vendor. Both
 * verify an HMAC signature over the byte-exact raw body before any parsing,
 * and both acknowledge business-logic failures with HTTP 200 so the sender
 * never retries a permanently-failing event. Only a signature failure earns
 * a 401.
 *
 * @dependencies
 * - encoding/json, io, net/http, time: Standard Go libraries.
 * - internal/domain: Normalized event types handed to the service layer.
 * - pkg/webhooksig: Raw-body HMAC verification for both vendors.
 */
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ampel/onboarding-service/internal/app"
	"github.com/ampel/onboarding-service/internal/domain"
	"github.com/ampel/onboarding-service/pkg/webhooksig"
)

// maxWebhookBody bounds webhook payloads well above any real event size.
const maxWebhookBody = 1 << 16

// stripeEvent is the envelope of a payment-processor delivery. Only the
// fields the handlers read are declared; the raw object is decoded per
// event type.
type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeCheckoutSession struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type stripeSubscription struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
}

// handleStripeWebhook verifies and routes payment-processor deliveries.
func (h *Handler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		respondWithJSON(w, http.StatusOK, app.WebhookResult{Error: "unreadable body"})
		return
	}

	if !webhooksig.VerifyStripe(body, r.Header.Get("Stripe-Signature"), h.stripeSecret) {
		h.logger.Warn("stripe webhook signature verification failed")
		respondWithError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var event stripeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("malformed stripe webhook payload", "error", err)
		respondWithJSON(w, http.StatusOK, app.WebhookResult{Received: true, Error: "malformed payload"})
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripeCheckoutSession
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			h.logger.Error("malformed checkout session object", "event_id", event.ID, "error", err)
			respondWithJSON(w, http.StatusOK, app.WebhookResult{Received: true, Error: "malformed payload"})
			return
		}
		result := h.service.ProcessCheckoutCompleted(r.Context(), domain.CheckoutCompletedEvent{
			EventID:        event.ID,
			SessionID:      session.ID,
			CustomerID:     session.Customer,
			SubscriptionID: session.Subscription,
			Metadata:       session.Metadata,
		})
		respondWithJSON(w, http.StatusOK, result)

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			h.logger.Error("malformed subscription object", "event_id", event.ID, "error", err)
			respondWithJSON(w, http.StatusOK, app.WebhookResult{Received: true, Error: "malformed payload"})
			return
		}
		lifecycle := domain.SubscriptionLifecycleEvent{
			EventID:        event.ID,
			SubscriptionID: sub.ID,
			CustomerID:     sub.Customer,
			Status:         sub.Status,
		}
		if sub.CurrentPeriodEnd > 0 {
			lifecycle.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		}
		if event.Type == "customer.subscription.deleted" {
			respondWithJSON(w, http.StatusOK, h.service.ProcessSubscriptionDeleted(r.Context(), lifecycle))
		} else {
			respondWithJSON(w, http.StatusOK, h.service.ProcessSubscriptionUpdated(r.Context(), lifecycle))
		}

	default:
		h.logger.Info("unhandled stripe event type, acknowledging", "event_id", event.ID, "type", event.Type)
		respondWithJSON(w, http.StatusOK, app.WebhookResult{Received: true})
	}
}

// personaWebhook mirrors the identity vendor's nested delivery shape.
type personaWebhook struct {
	Data struct {
		Attributes struct {
			Name    string `json:"name"`
			Payload struct {
				Data struct {
					ID         string `json:"id"`
					Attributes struct {
						Status        string `json:"status"`
						ReferenceID   string `json:"reference-id"`
						DeclineReason string `json:"decline-reason"`
					} `json:"attributes"`
					Relationships struct {
						Account struct {
							Data struct {
								ID string `json:"id"`
							} `json:"data"`
						} `json:"account"`
					} `json:"relationships"`
				} `json:"data"`
			} `json:"payload"`
		} `json:"attributes"`
	} `json:"data"`
}

// handlePersonaWebhook verifies and routes identity-vendor deliveries.
// Malformed payloads are the one webhook case that earns a 400: the vendor
// signs the body it sent, so an unparseable body means a contract change
// worth surfacing rather than silently acknowledging.
func (h *Handler) handlePersonaWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		respondWithError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if !webhooksig.VerifyPersona(body, r.Header.Get("Persona-Signature"), h.personaSecret) {
		h.logger.Warn("persona webhook signature verification failed")
		respondWithError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var hook personaWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		h.logger.Error("malformed persona webhook payload", "error", err)
		respondWithError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	inquiry := hook.Data.Attributes.Payload.Data
	if hook.Data.Attributes.Name == "" || inquiry.ID == "" {
		h.logger.Error("persona webhook missing event name or inquiry id")
		respondWithError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	result := h.service.ProcessInquiryEvent(r.Context(), domain.InquiryEvent{
		Name:        hook.Data.Attributes.Name,
		InquiryID:   inquiry.ID,
		ReferenceID: inquiry.Attributes.ReferenceID,
		AccountID:   inquiry.Relationships.Account.Data.ID,
		Reason:      inquiry.Attributes.DeclineReason,
	})
	respondWithJSON(w, http.StatusOK, result)
}
