package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"applytrack/internal/services"
)

func TestClientRoundTrip(t *testing.T) {
	triggered := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/health":
			_, _ = w.Write([]byte(`{"status":"ok","version":"1.2.0"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/maintenance":
			triggered = true
			_, _ = w.Write([]byte(`{"success":true,"message":"pruned 3"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/maintenance/stats":
			_, _ = w.Write([]byte(`{"staleListings":4}`))
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", time.Second, nil)
	ctx := context.Background()

	health, err := client.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !health.Healthy() || health.Version != "1.2.0" {
		t.Fatalf("unexpected health %+v", health)
	}

	result, err := client.TriggerMaintenance(ctx)
	if err != nil {
		t.Fatalf("TriggerMaintenance: %v", err)
	}
	if !triggered || result.Message != "pruned 3" {
		t.Fatalf("unexpected result %+v", result)
	}

	stats, err := client.MaintenanceStats(ctx)
	if err != nil {
		t.Fatalf("MaintenanceStats: %v", err)
	}
	if stats["staleListings"] != float64(4) {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/maintenance":
			_, _ = w.Write([]byte(`{"success":false,"message":"database locked"}`))
		case "/health":
			http.Error(w, "down", http.StatusServiceUnavailable)
		case "/maintenance/stats":
			time.Sleep(200 * time.Millisecond)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, 50*time.Millisecond, nil)
	ctx := context.Background()

	if _, err := client.Health(ctx); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if _, err := client.TriggerMaintenance(ctx); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if _, err := client.MaintenanceStats(ctx); services.Category(err) != "timeout" {
		t.Fatalf("expected timeout, got %v", err)
	}
	if _, err := NewClient("", time.Second, nil).Health(ctx); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
