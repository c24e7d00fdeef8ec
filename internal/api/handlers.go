/**
 * @description
 * This file contains the HTTP handlers for the interactive (authenticated)
 * API endpoints. Handlers parse incoming requests, call the application
 * service, and translate service errors to HTTP status codes. Webhook
 * endpoints live in webhooks.go.
 *
 * @dependencies
 * - encoding/json, errors, net/http: Standard Go libraries.
 * - internal/app, internal/onboarding, internal/store: Service logic, route
 *   computation, and custom errors.
 */
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ampel/onboarding-service/internal/app"
	"github.com/ampel/onboarding-service/internal/onboarding"
	"github.com/ampel/onboarding-service/internal/store"
)

// Handler holds the application service and webhook secrets the endpoints use.
type Handler struct {
	service       *app.Service
	stripeSecret  string
	personaSecret string
	logger        *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(service *app.Service, stripeSecret, personaSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		service:       service,
		stripeSecret:  stripeSecret,
		personaSecret: personaSecret,
		logger:        logger,
	}
}

// handleCreateCheckoutSession opens an embedded checkout session for the
// authenticated user. Only the client secret crosses back to the caller.
func (h *Handler) handleCreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		PriceID string `json:"priceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PriceID == "" {
		respondWithError(w, http.StatusBadRequest, "priceId is required")
		return
	}

	result, err := h.service.CreateCheckoutSession(r.Context(), userID, req.PriceID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUnknownPrice), errors.Is(err, app.ErrTierNotSelected):
			respondWithError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrKYCNotApproved):
			respondWithError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, store.ErrProfileNotFound):
			respondWithError(w, http.StatusNotFound, "profile not found")
		default:
			h.logger.Error("checkout session creation failed", "user_id", userID, "error", err)
			respondWithError(w, http.StatusInternalServerError, "could not create checkout session, please try again")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// handleCreateVerificationSession opens an identity-verification inquiry for
// the authenticated user.
func (h *Handler) handleCreateVerificationSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	session, err := h.service.CreateVerificationSession(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			respondWithError(w, http.StatusNotFound, "profile not found")
			return
		}
		h.logger.Error("verification session creation failed", "user_id", userID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "could not start verification, please try again")
		return
	}

	respondWithJSON(w, http.StatusOK, session)
}

// profileResponse wraps the profile with the route the client must be on.
type profileResponse struct {
	Profile   json.RawMessage  `json:"profile"`
	NextRoute onboarding.Route `json:"next_route"`
}

// handleGetProfile returns the authenticated user's profile together with the
// computed onboarding route.
func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	profile, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			respondWithError(w, http.StatusNotFound, "profile not found")
			return
		}
		h.logger.Error("profile fetch failed", "user_id", userID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "could not load profile")
		return
	}

	raw, err := json.Marshal(profile)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "could not load profile")
		return
	}
	respondWithJSON(w, http.StatusOK, profileResponse{
		Profile:   raw,
		NextRoute: onboarding.NextRoute(profile, true),
	})
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithError writes a JSON error body with the given status code.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
