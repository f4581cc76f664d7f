package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"applytrack/internal/services"
)

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat["type"] != "json_object" {
			t.Errorf("expected json mode, got %v", req.ResponseFormat)
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCompleteJSONReturnsContent(t *testing.T) {
	server := chatServer(t, http.StatusOK, "```json\n{\"title\":\"Engineer\"}\n```")
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo"})

	content, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	var parsed struct {
		Title string `json:"title"`
	}
	if err := DecodeJSON(content, &parsed); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if parsed.Title != "Engineer" {
		t.Fatalf("unexpected title %q", parsed.Title)
	}
}

func TestCompleteJSONClassifiesStatus(t *testing.T) {
	cases := []struct {
		status int
		marker error
	}{
		{http.StatusUnauthorized, services.ErrConfiguration},
		{http.StatusTooManyRequests, services.ErrTransient},
		{http.StatusBadGateway, services.ErrTransient},
		{http.StatusBadRequest, services.ErrExternalTool},
	}
	for _, tc := range cases {
		server := chatServer(t, tc.status, "{}")
		client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
		_, err := client.CompleteJSON(context.Background(), "system", "user")
		if !errors.Is(err, tc.marker) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.marker, err)
		}
		var statusErr *StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != tc.status {
			t.Fatalf("status %d: expected StatusError, got %v", tc.status, err)
		}
	}
}

func TestCompleteJSONRequiresKey(t *testing.T) {
	client := NewClient(Config{})
	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestDecodeJSONWithProse(t *testing.T) {
	var parsed map[string]string
	if err := DecodeJSON(`Sure! {"company":"Acme"} hope that helps`, &parsed); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if parsed["company"] != "Acme" {
		t.Fatalf("unexpected result %v", parsed)
	}
	if err := DecodeJSON("no json here", &parsed); err == nil {
		t.Fatal("expected error")
	}
}
