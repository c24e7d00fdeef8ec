package personaclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCreateInquiry(t *testing.T) {
	var gotAuth, gotTemplate, gotReference string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/inquiries" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		var req createInquiryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("invalid request body: %v", err)
		}
		gotTemplate = req.Data.Attributes.InquiryTemplateID
		gotReference = req.Data.Attributes.ReferenceID

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data": {"id": "inq_abc"}, "meta": {"session-token": "tok_xyz"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "persona_key", "itmpl_1")
	inquiryID, sessionToken, err := client.CreateInquiry(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inquiryID != "inq_abc" || sessionToken != "tok_xyz" {
		t.Fatalf("unexpected result: %q %q", inquiryID, sessionToken)
	}
	if gotAuth != "Bearer persona_key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotTemplate != "itmpl_1" || gotReference != "user-1" {
		t.Fatalf("unexpected request fields: template=%q reference=%q", gotTemplate, gotReference)
	}
}

func TestCreateInquiry_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors": [{"title": "Record invalid"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "persona_key", "itmpl_1")
	_, _, err := client.CreateInquiry(context.Background(), "user-1")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected status code in error, got %v", err)
	}
}

func TestCreateInquiry_MissingInquiryID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "persona_key", "itmpl_1")
	_, _, err := client.CreateInquiry(context.Background(), "user-1")
	if err == nil {
		t.Fatal("expected an error for a response without an inquiry id")
	}
}
