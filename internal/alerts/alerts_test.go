package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"orgline/internal/domain"
	"orgline/internal/isolation"
)

func testAlert() domain.Alert {
	return domain.NewAlert("high_workload", "cto overloaded", domain.PriorityHigh, "cto", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestWebhookSinkPostsAlert(t *testing.T) {
	var got webhookAlert
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := testAlert()
	sink := &WebhookSink{ID: "ops", URL: srv.URL, Secret: "s3cret", Company: "acme"}
	if err := sink.Notify(context.Background(), a); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.ID != a.ID || got.AlertType != "high_workload" || got.CompanyID != "acme" || got.DetectedAt != "2025-01-01T00:00:00Z" {
		t.Fatalf("payload = %+v", got)
	}
	if headers.Get("X-Orgline-Alert") != "high_workload" || headers.Get("X-Orgline-Delivery") != a.ID || headers.Get("X-Orgline-Secret") != "s3cret" {
		t.Fatalf("headers = %v", headers)
	}
	if sink.Name() != "webhook:ops" {
		t.Fatalf("name = %s", sink.Name())
	}
}

func TestWebhookSinkFiltersTypes(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()
	sink := &WebhookSink{URL: srv.URL, Types: []string{"status_escalation", " "}}
	if err := sink.Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("filtered alert was delivered")
	}
}

func TestFanoutOpensBreakerForFailingSink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	breakers := isolation.NewBreakers(isolation.BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour}, nil, nil)
	f := Fanout{
		Sinks:    []Sink{LogSink{Logger: logger}, &WebhookSink{ID: "down", URL: srv.URL}},
		Breakers: breakers,
		Logger:   logger,
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := f.Notify(ctx, testAlert())
		if err == nil || len(res.Failed) != 1 || len(res.Delivered) != 1 {
			t.Fatalf("attempt %d: res = %+v err = %v", i, res, err)
		}
	}
	res, err := f.Notify(ctx, testAlert())
	if err != nil {
		t.Fatalf("open breaker should skip, not fail: %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "webhook:down" || len(res.Delivered) != 1 {
		t.Fatalf("res = %+v", res)
	}
	if breakers.Get(BreakerKey("webhook:down")).State() != isolation.StateOpen {
		t.Fatalf("breaker should be open")
	}
	if !strings.Contains(buf.String(), "alert_type=high_workload") {
		t.Fatalf("log sink output = %q", buf.String())
	}
}

func TestFanoutWithoutBreakers(t *testing.T) {
	boom := errors.New("boom")
	f := Fanout{Sinks: []Sink{failingSink{err: boom}}}
	if _, err := f.Notify(context.Background(), testAlert()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

type failingSink struct{ err error }

func (failingSink) Name() string                                 { return "failing" }
func (s failingSink) Notify(context.Context, domain.Alert) error { return s.err }
