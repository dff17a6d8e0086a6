package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"orgline/internal/domain"
)

func TestRulesApprovalLimits(t *testing.T) {
	r := DefaultRules()
	ctx := context.Background()
	d, err := r.Decide(ctx, Request{Role: domain.RoleCFO, Kind: KindApproval, Context: map[string]any{"amount": 5000.0}})
	if err != nil || d.Content["approved"] != true {
		t.Fatalf("small amount should pass: %+v %v", d, err)
	}
	d, _ = r.Decide(ctx, Request{Role: domain.RoleCFO, Kind: KindApproval, Context: map[string]any{"budget": "250000"}})
	if d.Content["approved"] != false {
		t.Fatalf("large budget should fail: %+v", d)
	}
	d, _ = r.Decide(ctx, Request{Role: domain.RoleRD, Kind: KindApproval, Context: map[string]any{"amount": 1}})
	if d.Content["approved"] != false {
		t.Fatalf("roles without a limit never approve: %+v", d)
	}
}

func TestRulesHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := DefaultRules().Decide(ctx, Request{Kind: KindTask}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClientDecide(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/decide" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(Decision{Summary: "ok", Content: map[string]any{"approved": true}})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{URL: srv.URL + "/", Token: "tok", Timeout: time.Second})
	d, err := c.Decide(context.Background(), Request{Role: domain.RoleCFO, Kind: KindApproval, Prompt: "approve?"})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.Content["approved"] != true || got.Role != domain.RoleCFO || got.Prompt != "approve?" {
		t.Fatalf("decision = %+v request = %+v", d, got)
	}
}

func TestClientFailuresAreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	_, err := NewClient(ClientConfig{URL: srv.URL}).Decide(context.Background(), Request{Kind: KindTask})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected StatusError, got %v", err)
	}
}

func TestClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewClient(ClientConfig{URL: srv.URL}).Decide(ctx, Request{Kind: KindTask})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ORGLINE_REASONER_URL", "http://reasoner.internal")
	t.Setenv("ORGLINE_REASONER_TIMEOUT", "2s")
	cfg, err := ConfigFromEnv(ClientConfig{URL: "http://from-file", Token: "file-token"})
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	if cfg.URL != "http://reasoner.internal" || cfg.Timeout != 2*time.Second || cfg.Token != "file-token" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
