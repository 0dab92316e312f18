package actionboardsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/sessions/s-1/actions/toggle" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
			"code":    "constraint_violation",
			"message": "category Teamwork requires at least 3 selected actions",
			"details": map[string]any{"category_id": "teamwork"},
		}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.ToggleAction(context.Background(), "s-1", "teamwork", "tw-1")
	if !IsCode(err, "constraint_violation") {
		t.Fatalf("expected constraint_violation, got %v", err)
	}
	apiErr := err.(*APIError)
	if apiErr.StatusCode != http.StatusConflict || apiErr.Details["category_id"] != "teamwork" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if apiErr.Retryable() {
		t.Fatalf("constraint violations are not retryable")
	}
}

func TestSubmitUnwrapsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v0/sessions/s-1/submit" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"snapshot": map[string]any{},
			"session":  map[string]any{"session_id": "s-1", "step": "summary", "committed_at": "2024-01-01T00:00:00Z"},
		})
	}))
	defer srv.Close()

	s, err := New(srv.URL).Submit(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if s.SessionID != "s-1" || s.CommittedAt == "" {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestRetryableDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"code":"remote_sync_failed","message":"commit failed","details":{"retryable":true}}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Submit(context.Background(), "s-1")
	apiErr, ok := err.(*APIError)
	if !ok || !apiErr.Retryable() {
		t.Fatalf("expected retryable api error, got %v", err)
	}
}
