/**
 * @description
 * This package provides a client for the Persona identity-verification API.
 * It encapsulates the logic for making authenticated HTTP requests, handling
 * request/response bodies, and managing errors from the API.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 *
 * @notes
 * - It includes a default HTTP client with a timeout to prevent requests from hanging indefinitely.
 * - Error handling returns a formatted error string that includes the status
 *   code and response body for easier debugging.
 */
package personaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://withpersona.com"

// Client is a client for interacting with the Persona API.
type Client struct {
	BaseURL    string
	APIKey     string
	TemplateID string
	httpClient *http.Client
}

// NewClient creates a new Persona API client. baseURL may be empty to use the
// production API.
func NewClient(baseURL, apiKey, templateID string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		TemplateID: templateID,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// createInquiryRequest is the Persona inquiry creation payload. The reference
// id correlates later webhook events back to a user profile.
type createInquiryRequest struct {
	Data struct {
		Attributes struct {
			InquiryTemplateID string `json:"inquiry-template-id"`
			ReferenceID       string `json:"reference-id"`
		} `json:"attributes"`
	} `json:"data"`
}

type createInquiryResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	Meta struct {
		SessionToken string `json:"session-token"`
	} `json:"meta"`
}

// CreateInquiry opens a new verification inquiry and returns its id and a
// one-time session token for the client-side flow.
func (c *Client) CreateInquiry(ctx context.Context, referenceID string) (string, string, error) {
	var req createInquiryRequest
	req.Data.Attributes.InquiryTemplateID = c.TemplateID
	req.Data.Attributes.ReferenceID = referenceID

	body, err := json.Marshal(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal inquiry request body: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/inquiries", c.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return "", "", fmt.Errorf("failed to create inquiry http request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", "", fmt.Errorf("failed to send inquiry request to Persona: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", "", c.handleErrorResponse(resp)
	}

	var inquiryResp createInquiryResponse
	if err := json.NewDecoder(resp.Body).Decode(&inquiryResp); err != nil {
		return "", "", fmt.Errorf("failed to decode successful response: %w", err)
	}
	if inquiryResp.Data.ID == "" {
		return "", "", fmt.Errorf("persona response missing inquiry id")
	}

	return inquiryResp.Data.ID, inquiryResp.Meta.SessionToken, nil
}

// setHeaders adds the necessary authentication and content-type headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Persona-Version", "2023-01-05")
}

// handleErrorResponse reads the body of a failed API call and returns a
// formatted error.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("persona API error with status %d, but failed to read response body", resp.StatusCode)
	}
	return fmt.Errorf("persona API request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
}
